package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"bulkbot/internal/eventbus"
	"bulkbot/internal/runtime/supervisor"
	"bulkbot/internal/transport"
	"bulkbot/pkg/logx"
)

const (
	TopicReady     = "session.ready"
	TopicLifecycle = "session.lifecycle"
)

// ErrNoSession is returned when addressing an index outside the pool.
var ErrNoSession = errors.New("session: no such session")

// Pool brings sessions up one at a time and routes their events.
type Pool struct {
	factory transport.Factory
	sup     *supervisor.Supervisor
	bus     eventbus.Bus
	log     logx.Logger

	mu       sync.RWMutex
	sessions []*Session // ready, in index order
	opened   []*Session // every transport started, for Stop
}

func NewPool(factory transport.Factory, sup *supervisor.Supervisor, bus eventbus.Bus, log logx.Logger) *Pool {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Pool{factory: factory, sup: sup, bus: bus, log: log}
}

// Initialize creates sessions 0..n-1 in order. Each session must report
// ready before the next is opened. There is no bring-up timeout: a session
// that never becomes ready blocks until ctx is cancelled. Transports run
// under the supervisor context, so ctx only bounds the waiting.
func (p *Pool) Initialize(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		tr, err := p.factory.Open(i)
		if err != nil {
			return fmt.Errorf("session %d: open: %w", i, err)
		}
		s := &Session{index: i, tr: tr, state: StateStarting}

		events := make(chan transport.Event, 64)
		ready := make(chan struct{})
		p.sup.Go0("session."+strconv.Itoa(i)+".events", func(ctx context.Context) {
			p.pump(ctx, s, events, ready)
		})

		p.mu.Lock()
		p.opened = append(p.opened, s)
		p.mu.Unlock()

		p.log.Info("session starting", logx.Int("session", i))
		if err := tr.Start(p.sup.Context(), events); err != nil {
			return fmt.Errorf("session %d: start: %w", i, err)
		}

		select {
		case <-ready:
		case <-ctx.Done():
			return fmt.Errorf("session %d: waiting for ready: %w", i, ctx.Err())
		}

		p.mu.Lock()
		p.sessions = append(p.sessions, s)
		p.mu.Unlock()
		p.log.Info("session ready", logx.Int("session", i), logx.String("identity", s.Identity()))
	}
	return nil
}

func (p *Pool) pump(ctx context.Context, s *Session, events <-chan transport.Event, ready chan struct{}) {
	var readyOnce sync.Once
	log := p.log.With(logx.Int("session", s.index))
	for {
		var ev transport.Event
		select {
		case <-ctx.Done():
			return
		case ev = <-events:
		}

		switch ev.Kind {
		case transport.EventReady:
			s.markReady(s.tr.Identity())
			readyOnce.Do(func() { close(ready) })
			p.bus.Publish(eventbus.Event{Type: TopicReady, Data: s.index})

		case transport.EventDisconnected, transport.EventAuthFailure:
			if ev.Kind == transport.EventAuthFailure {
				s.setState(StateAuthFailed)
			} else {
				s.setState(StateDisconnected)
			}
			lerr := &LifecycleError{Session: s.index, Kind: ev.Kind, Reason: ev.Reason}
			log.Warn("session lifecycle error", logx.Err(lerr))
			p.bus.Publish(eventbus.Event{Type: TopicLifecycle, Data: lerr})

		case transport.EventMessage:
			if ev.Message == nil {
				continue
			}
			h := s.inbound()
			if h == nil {
				log.Debug("inbound dropped; no handler", logx.String("from", ev.Message.From))
				continue
			}
			h(s, *ev.Message)
		}
	}
}

// Sessions returns the ready sessions in index order.
func (p *Pool) Sessions() []*Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*Session(nil), p.sessions...)
}

// Session returns the ready session at index.
func (p *Pool) Session(index int) (*Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if index < 0 || index >= len(p.sessions) {
		return nil, false
	}
	return p.sessions[index], true
}

// ForEach calls fn for every ready session in index order.
func (p *Pool) ForEach(fn func(s *Session)) {
	for _, s := range p.Sessions() {
		fn(s)
	}
}

func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}

// SendText sends through session index and returns that session's identity.
func (p *Pool) SendText(ctx context.Context, index int, to, body string) (string, error) {
	s, ok := p.Session(index)
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrNoSession, index)
	}
	return s.Identity(), s.SendText(ctx, to, body)
}

// Stop stops every started transport, including one still coming up.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.RLock()
	opened := append([]*Session(nil), p.opened...)
	p.mu.RUnlock()

	var errs []error
	for _, s := range opened {
		start := time.Now()
		if err := s.tr.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("session %d: %w", s.index, err))
			continue
		}
		p.log.Debug("session stopped", logx.Int("session", s.index), logx.Duration("took", time.Since(start)))
	}
	return errors.Join(errs...)
}
