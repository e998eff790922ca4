// Package session owns the transport sessions of a run: one per configured
// account, brought up in order and kept registered for the process lifetime.
package session

import (
	"context"
	"fmt"
	"sync"

	"bulkbot/internal/transport"
)

type State string

const (
	StateStarting     State = "starting"
	StateReady        State = "ready"
	StateDisconnected State = "disconnected"
	StateAuthFailed   State = "auth_failed"
)

// Handler receives inbound messages for one session. It runs on that
// session's event goroutine.
type Handler func(s *Session, msg transport.Message)

// LifecycleError reports a disconnect or authentication failure. The
// session stays registered; sends through it fail until it recovers.
type LifecycleError struct {
	Session int
	Kind    transport.EventKind
	Reason  string
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("session %d: %s: %s", e.Session, e.Kind, e.Reason)
}

type Session struct {
	index int
	tr    transport.Transport

	mu       sync.Mutex
	state    State
	identity string
	handler  Handler
}

func (s *Session) Index() int { return s.index }

// Identity is the session's own address, recorded when it became ready.
func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnInbound installs the inbound handler, replacing any previous one.
func (s *Session) OnInbound(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *Session) inbound() Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler
}

// SendText sends through the session's transport.
func (s *Session) SendText(ctx context.Context, to, body string) error {
	return s.tr.SendText(ctx, to, body)
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) markReady(identity string) {
	s.mu.Lock()
	s.state = StateReady
	s.identity = identity
	s.mu.Unlock()
}
