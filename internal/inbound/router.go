// Package inbound records messages received on any session into the
// conversation registry.
package inbound

import (
	"context"
	"strconv"
	"time"

	"bulkbot/internal/conversation"
	"bulkbot/internal/eventbus"
	"bulkbot/internal/session"
	"bulkbot/internal/storage"
	"bulkbot/internal/transport"
	"bulkbot/pkg/logx"

	"github.com/jonboulle/clockwork"
)

const (
	defaultDedupeTTL  = 10 * time.Minute
	defaultDedupeSize = 4096
)

type Option func(*Router)

func WithClock(c clockwork.Clock) Option { return func(r *Router) { r.clock = c } }

func WithBus(b eventbus.Bus) Option { return func(r *Router) { r.bus = b } }

func WithLogger(l logx.Logger) Option { return func(r *Router) { r.log = l } }

func WithAuditor(a storage.Auditor) Option { return func(r *Router) { r.audit = a } }

// WithDedupe overrides the replay window and capacity of the message id cache.
func WithDedupe(ttl time.Duration, size int) Option {
	return func(r *Router) {
		r.dedupeTTL = ttl
		r.dedupeSize = size
	}
}

type Router struct {
	registry *conversation.Registry
	clock    clockwork.Clock
	bus      eventbus.Bus
	log      logx.Logger
	audit    storage.Auditor

	dedupeTTL  time.Duration
	dedupeSize int
	seen       *seenCache
}

func NewRouter(registry *conversation.Registry, opts ...Option) *Router {
	r := &Router{
		registry:   registry,
		clock:      clockwork.NewRealClock(),
		bus:        eventbus.Nop{},
		audit:      storage.Nop{},
		dedupeTTL:  defaultDedupeTTL,
		dedupeSize: defaultDedupeSize,
	}
	for _, o := range opts {
		o(r)
	}
	r.seen = newSeenCache(r.clock, r.dedupeTTL, r.dedupeSize)
	return r
}

// Attach installs the router as the inbound handler of every ready session.
func (r *Router) Attach(p *session.Pool) {
	p.ForEach(func(s *session.Session) { s.OnInbound(r.Handle) })
}

// Handle records one inbound message. Non-text messages and replays of an
// already handled message id are ignored.
func (r *Router) Handle(s *session.Session, msg transport.Message) {
	if msg.Kind != transport.MessageText {
		r.log.Debug("inbound ignored; not text", logx.Int("session", s.Index()), logx.String("from", msg.From))
		return
	}
	// Message ids are only unique within one account.
	if msg.ID != "" && r.seen.checkAndMark(strconv.Itoa(s.Index())+"/"+msg.ID) {
		r.log.Debug("inbound ignored; replayed", logx.Int("session", s.Index()), logx.String("id", msg.ID))
		return
	}
	r.Record(s.Index(), s.Identity(), msg.From, msg.Body)
}

// Record appends a Received entry to the conversation with from, creating
// it on the given session when it does not exist yet.
func (r *Router) Record(sessionIndex int, identity, from, body string) *conversation.Conversation {
	c, created := r.registry.GetOrCreate(from, sessionIndex, identity)
	now := r.clock.Now()
	c.Append(conversation.Received, body, now)

	if err := r.audit.AppendAudit(context.Background(), storage.Entry{
		Kind:           storage.KindInbound,
		Session:        sessionIndex,
		Address:        from,
		ConversationID: c.ID,
		OK:             true,
	}); err != nil {
		r.log.Debug("audit append failed", logx.Err(err))
	}

	r.log.Info("message received",
		logx.Int("conversation", c.ID),
		logx.Int("session", sessionIndex),
		logx.String("from", from),
		logx.Bool("new", created),
	)
	r.bus.Publish(eventbus.Event{Type: conversation.TopicUpdated, Time: now, Data: c.Snapshot()})
	return c
}
