// Package transport defines the capability a messaging backend offers to the
// session pool. Drivers live in sub-packages.
package transport

import (
	"context"
	"errors"
)

type EventKind string

const (
	EventReady        EventKind = "ready"
	EventDisconnected EventKind = "disconnected"
	EventAuthFailure  EventKind = "auth_failure"
	EventMessage      EventKind = "message"
)

type MessageKind string

const (
	MessageText  MessageKind = "text"
	MessageOther MessageKind = "other"
)

// Event is one lifecycle signal or inbound message from a transport.
type Event struct {
	Kind    EventKind
	Reason  string   // disconnected / auth_failure
	Message *Message // message
}

// Message is an inbound message. ID is the backend's message id when it has
// one, used to drop replays after a reconnect.
type Message struct {
	Kind MessageKind
	ID   string
	From string
	Body string
}

var (
	ErrNotReady = errors.New("transport: not ready")
	ErrStopped  = errors.New("transport: stopped")
)

// Transport is one authenticated account on a messaging backend.
type Transport interface {
	// Start connects and begins emitting events on out. It returns once the
	// background work is running; events stop after ctx is done or Stop.
	Start(ctx context.Context, out chan<- Event) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to, body string) error
	// Identity is the account's own address. Valid after EventReady.
	Identity() string
}

// Factory opens the transport for session index.
type Factory interface {
	Open(index int) (Transport, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(index int) (Transport, error)

func (f FactoryFunc) Open(index int) (Transport, error) { return f(index) }

// Emit delivers ev unless ctx is done first. Drivers use it so a stalled
// consumer never wedges shutdown.
func Emit(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
