package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"bulkbot/internal/conversation"
	"bulkbot/internal/eventbus"
	"bulkbot/internal/storage"
	"bulkbot/pkg/logx"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

type Option func(*Scheduler)

func WithClock(c clockwork.Clock) Option { return func(s *Scheduler) { s.clock = c } }

func WithBus(b eventbus.Bus) Option { return func(s *Scheduler) { s.bus = b } }

func WithLogger(l logx.Logger) Option { return func(s *Scheduler) { s.log = l } }

func WithAuditor(a storage.Auditor) Option { return func(s *Scheduler) { s.audit = a } }

// Scheduler runs at most one job per session. Jobs on different sessions
// share nothing but the registry.
type Scheduler struct {
	sender   Sender
	registry *conversation.Registry
	cfg      Settings

	clock clockwork.Clock
	bus   eventbus.Bus
	log   logx.Logger
	audit storage.Auditor

	mu     sync.Mutex
	jobs   map[int]*tracked
	cancel context.CancelFunc

	// running counts live job loops; idle is closed when it drops to zero
	// and replaced by the next Start that launches a loop.
	running int
	idle    chan struct{}
}

type tracked struct {
	job       *Job
	total     int
	startedAt time.Time
	doneAt    time.Time
}

func New(sender Sender, registry *conversation.Registry, cfg Settings, opts ...Option) *Scheduler {
	s := &Scheduler{
		sender:   sender,
		registry: registry,
		cfg:      cfg,
		clock:    clockwork.NewRealClock(),
		bus:      eventbus.Nop{},
		audit:    storage.Nop{},
		jobs:     map[int]*tracked{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Scheduler) Settings() Settings { return s.cfg }

// Start launches one job per partition; partition i is sent through session
// i. Jobs run until exhausted or until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context, partitions [][]string, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range partitions {
		if _, ok := s.jobs[i]; ok {
			return fmt.Errorf("%w: %d", ErrJobExists, i)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	prev := s.cancel
	s.cancel = func() {
		if prev != nil {
			prev()
		}
		cancel()
	}

	if s.running == 0 && len(partitions) > 0 {
		s.idle = make(chan struct{})
	}
	now := s.clock.Now()
	for i, addrs := range partitions {
		job := newJob(uuid.NewString(), i, addrs, body)
		s.jobs[i] = &tracked{job: job, total: len(addrs), startedAt: now}
		s.running++
		go func() {
			defer s.exited()
			s.run(runCtx, job)
		}()
	}
	s.log.Info("dispatch started",
		logx.Int("sessions", len(partitions)),
		logx.Duration("delay", s.cfg.Delay),
		logx.Int("messages_before_pause", s.cfg.MessagesBeforePause),
		logx.Duration("pause", s.cfg.Pause),
	)
	return nil
}

func (s *Scheduler) run(ctx context.Context, job *Job) {
	log := s.log.With(logx.Int("session", job.SessionIndex), logx.String("job", job.ID))
	for {
		if !s.sendPhase(ctx, job, log) {
			return
		}

		resume := s.clock.Now().Add(s.cfg.Pause)
		s.setState(job, StateCooling, resume)
		log.Info("quota reached; cooling down",
			logx.Int("sent", job.Sent+job.Failed),
			logx.Int("remaining", job.Remaining()),
			logx.Duration("pause", s.cfg.Pause),
		)
		if s.cfg.Pause > 0 {
			timer := s.clock.NewTimer(s.cfg.Pause)
			s.publish(TopicCooldown, s.status(job.SessionIndex))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.Chan():
			}
		} else {
			s.publish(TopicCooldown, s.status(job.SessionIndex))
		}

		next := job.Continue()
		s.mu.Lock()
		s.jobs[job.SessionIndex].job = next
		s.mu.Unlock()
		job = next
		log.Info("cooldown over; resuming", logx.Int("generation", job.Generation), logx.Int("remaining", job.Remaining()))
	}
}

// sendPhase sends one message per tick. It returns true when the quota was
// reached with recipients left, false when the job finished or ctx ended.
func (s *Scheduler) sendPhase(ctx context.Context, job *Job, log logx.Logger) bool {
	var tick <-chan time.Time
	if s.cfg.Delay > 0 {
		t := s.clock.NewTicker(s.cfg.Delay)
		defer t.Stop()
		tick = t.Chan()
	}
	s.setState(job, StateSending, time.Time{})
	s.publish(TopicSending, s.status(job.SessionIndex))

	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return false
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return false
		}

		if job.Exhausted() {
			s.finish(job, log)
			return false
		}

		_, err := s.Deliver(ctx, job.SessionIndex, job.Next(), job.Body, storage.KindBulk)
		s.mu.Lock()
		cool := job.Advance(err == nil, s.cfg.MessagesBeforePause)
		s.mu.Unlock()

		if cool {
			if job.Exhausted() {
				s.finish(job, log)
				return false
			}
			return true
		}
	}
}

func (s *Scheduler) finish(job *Job, log logx.Logger) {
	s.mu.Lock()
	job.State = StateDone
	job.ResumeAt = time.Time{}
	if tr := s.jobs[job.SessionIndex]; tr != nil {
		tr.doneAt = s.clock.Now()
	}
	s.mu.Unlock()

	st := s.status(job.SessionIndex)
	fields := []logx.Field{logx.Int("sent", st.Sent), logx.Int("failed", st.Failed), logx.Int("total", st.Total)}
	if st.Failed > 0 {
		log.Warn("dispatch job finished with failures", fields...)
	} else {
		log.Info("dispatch job finished", fields...)
	}
	s.publish(TopicDone, st)
}

// Deliver sends body to addr through session and, on success, appends a Sent
// entry to the address's conversation and surfaces it. A failure is logged,
// audited and returned as *SendFailure; no conversation is created for it.
// Bulk jobs and replies share this path.
func (s *Scheduler) Deliver(ctx context.Context, session int, addr, body string, kind storage.Kind) (*conversation.Conversation, error) {
	start := s.clock.Now()
	identity, err := s.sender.SendText(ctx, session, addr, body)
	took := s.clock.Since(start)

	entry := storage.Entry{Kind: kind, Session: session, Address: addr, TookMS: took.Milliseconds()}
	if err != nil {
		sf := &SendFailure{Session: session, Address: addr, Err: err}
		s.log.Warn("send failed", logx.String("kind", string(kind)), logx.Err(sf))
		entry.Error = err.Error()
		s.appendAudit(ctx, entry)
		s.publish(TopicFailed, Delivery{Session: session, Address: addr, Err: sf})
		return nil, sf
	}

	c, _ := s.registry.GetOrCreate(addr, session, identity)
	c.Append(conversation.Sent, body, s.clock.Now())

	entry.OK = true
	entry.ConversationID = c.ID
	s.appendAudit(ctx, entry)

	s.log.Debug("message sent",
		logx.String("kind", string(kind)),
		logx.Int("session", session),
		logx.String("to", addr),
		logx.Int("conversation", c.ID),
		logx.Duration("took", took),
	)
	s.publish(conversation.TopicUpdated, c.Snapshot())
	s.publish(TopicSent, Delivery{Session: session, Address: addr, ConversationID: c.ID})
	return c, nil
}

func (s *Scheduler) appendAudit(ctx context.Context, e storage.Entry) {
	if err := s.audit.AppendAudit(context.WithoutCancel(ctx), e); err != nil {
		s.log.Debug("audit append failed", logx.Err(err))
	}
}

func (s *Scheduler) setState(job *Job, st State, resumeAt time.Time) {
	s.mu.Lock()
	job.State = st
	job.ResumeAt = resumeAt
	s.mu.Unlock()
}

func (s *Scheduler) publish(typ string, data any) {
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clock.Now(), Data: data})
}

func (s *Scheduler) status(session int) JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked(session)
}

func (s *Scheduler) statusLocked(session int) JobStatus {
	tr := s.jobs[session]
	if tr == nil {
		return JobStatus{Session: session}
	}
	j := tr.job
	return JobStatus{
		ID:         j.ID,
		Session:    j.SessionIndex,
		State:      j.State,
		Generation: j.Generation,
		Total:      tr.total,
		Sent:       j.Sent,
		Failed:     j.Failed,
		Remaining:  j.Remaining(),
		ResumeAt:   j.ResumeAt,
		StartedAt:  tr.startedAt,
		DoneAt:     tr.doneAt,
	}
}

// Jobs returns a snapshot of every job ordered by session.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for session := range s.jobs {
		out = append(out, s.statusLocked(session))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Session < out[j].Session })
	return out
}

func (s *Scheduler) exited() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running--
	if s.running == 0 {
		close(s.idle)
	}
}

// Wait blocks until every job loop started so far has exited or ctx is
// done. With no loop running it returns nil at once.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	if s.running == 0 {
		s.mu.Unlock()
		return nil
	}
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels every job and waits for the loops to exit.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return s.Wait(ctx)
}
