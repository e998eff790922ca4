// Package reply sends operator replies to selected conversations, staggered
// by the bulk send interval.
package reply

import (
	"context"
	"errors"
	"sync"
	"time"

	"bulkbot/internal/conversation"
	"bulkbot/internal/storage"
	"bulkbot/pkg/logx"

	"github.com/jonboulle/clockwork"
)

// ErrLookupMiss means none of the requested ids matched a conversation.
var ErrLookupMiss = errors.New("reply: no conversations found for the given ids")

// Deliverer is the shared delivery path of the dispatch scheduler.
type Deliverer interface {
	Deliver(ctx context.Context, session int, addr, body string, kind storage.Kind) (*conversation.Conversation, error)
}

type Option func(*Coordinator)

func WithClock(c clockwork.Clock) Option { return func(r *Coordinator) { r.clock = c } }

func WithLogger(l logx.Logger) Option { return func(r *Coordinator) { r.log = l } }

// Coordinator schedules one delivery per selected conversation. Replies are
// not serialized against each other or against bulk jobs on the same session.
type Coordinator struct {
	registry *conversation.Registry
	deliver  Deliverer
	interval time.Duration
	clock    clockwork.Clock
	log      logx.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[clockwork.Timer]struct{}
}

func New(registry *conversation.Registry, d Deliverer, interval time.Duration, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		registry: registry,
		deliver:  d,
		interval: interval,
		clock:    clockwork.NewRealClock(),
		ctx:      ctx,
		cancel:   cancel,
		pending:  map[clockwork.Timer]struct{}{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ProcessReply looks up ids and schedules body for each match: the k-th
// conversation (0-based) is sent k intervals from now. It returns the number
// of replies scheduled, or ErrLookupMiss when nothing matched. Sends outlive
// ctx; only Stop cancels them.
func (c *Coordinator) ProcessReply(ctx context.Context, ids []int, body string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	convs := c.registry.LookupMany(ids)
	if len(convs) == 0 {
		c.log.Info("reply skipped; no matching conversations", logx.Ints("ids", ids))
		return 0, ErrLookupMiss
	}

	for k, conv := range convs {
		conv := conv
		delay := time.Duration(k) * c.interval
		c.wg.Add(1)
		if delay <= 0 {
			go func() {
				defer c.wg.Done()
				c.send(conv, body)
			}()
			continue
		}

		c.mu.Lock()
		var t clockwork.Timer
		t = c.clock.AfterFunc(delay, func() {
			defer c.wg.Done()
			c.mu.Lock()
			delete(c.pending, t)
			c.mu.Unlock()
			c.send(conv, body)
		})
		c.pending[t] = struct{}{}
		c.mu.Unlock()
	}
	c.log.Info("replies scheduled", logx.Int("count", len(convs)), logx.Duration("interval", c.interval))
	return len(convs), nil
}

func (c *Coordinator) send(conv *conversation.Conversation, body string) {
	if c.ctx.Err() != nil {
		return
	}
	if _, err := c.deliver.Deliver(c.ctx, conv.SessionIndex, conv.RemoteAddress, body, storage.KindReply); err != nil {
		return
	}
	c.log.Info("reply sent",
		logx.Int("conversation", conv.ID),
		logx.String("to", conv.RemoteAddress),
		logx.Int("session", conv.SessionIndex),
	)
}

// Pending returns how many staggered replies have not fired yet.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Stop drops replies that have not fired and waits for in-flight sends.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.cancel()
	c.mu.Lock()
	for t := range c.pending {
		if t.Stop() {
			c.wg.Done()
		}
		delete(c.pending, t)
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
