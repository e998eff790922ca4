// Package memory is an in-process transport. Every session shares one
// Network that records outbound deliveries and lets callers inject inbound
// messages and lifecycle signals. The binary uses it for dry runs; tests use
// it as the fake backend.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"bulkbot/internal/transport"

	"github.com/jonboulle/clockwork"
)

// Delivery is one recorded outbound send.
type Delivery struct {
	Session int
	From    string
	To      string
	Body    string
	At      time.Time
}

type Option func(*Network)

// WithClock stamps deliveries with c instead of the wall clock.
func WithClock(c clockwork.Clock) Option {
	return func(n *Network) { n.clock = c }
}

// WithHeldReady keeps the listed sessions from reporting ready until Release.
func WithHeldReady(indexes ...int) Option {
	return func(n *Network) {
		for _, i := range indexes {
			n.held[i] = true
		}
	}
}

type Network struct {
	clock clockwork.Clock

	mu        sync.Mutex
	sent      []Delivery
	failures  map[string]error
	held      map[int]bool
	endpoints map[int]*Transport
	onSend    []func(Delivery)
}

func NewNetwork(opts ...Option) *Network {
	n := &Network{
		clock:     clockwork.NewRealClock(),
		failures:  map[string]error{},
		held:      map[int]bool{},
		endpoints: map[int]*Transport{},
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Factory opens one Transport per session index. identities[i] names session
// i; missing entries default to "memory-<i+1>".
func (n *Network) Factory(identities ...string) transport.Factory {
	return transport.FactoryFunc(func(index int) (transport.Transport, error) {
		if index < 0 {
			return nil, fmt.Errorf("memory: invalid session index %d", index)
		}
		id := fmt.Sprintf("memory-%d", index+1)
		if index < len(identities) && identities[index] != "" {
			id = identities[index]
		}
		t := &Transport{net: n, index: index, identity: id}
		n.mu.Lock()
		n.endpoints[index] = t
		n.mu.Unlock()
		return t, nil
	})
}

// FailAddress makes every send to addr fail with err. A nil err clears it.
func (n *Network) FailAddress(addr string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err == nil {
		delete(n.failures, addr)
		return
	}
	n.failures[addr] = err
}

// OnSend registers fn to run after every successful delivery.
func (n *Network) OnSend(fn func(Delivery)) {
	n.mu.Lock()
	n.onSend = append(n.onSend, fn)
	n.mu.Unlock()
}

// Sent returns all recorded deliveries in send order.
func (n *Network) Sent() []Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Delivery(nil), n.sent...)
}

// SentBy returns the deliveries made through session index.
func (n *Network) SentBy(index int) []Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Delivery
	for _, d := range n.sent {
		if d.Session == index {
			out = append(out, d)
		}
	}
	return out
}

// Release lets a held session report ready.
func (n *Network) Release(index int) {
	n.mu.Lock()
	delete(n.held, index)
	t := n.endpoints[index]
	n.mu.Unlock()
	if t != nil {
		t.becomeReady()
	}
}

// Inject emits an inbound message on session index.
func (n *Network) Inject(index int, msg transport.Message) error {
	t, err := n.endpoint(index)
	if err != nil {
		return err
	}
	return t.emit(transport.Event{Kind: transport.EventMessage, Message: &msg})
}

// Disconnect marks session index disconnected; later sends fail.
func (n *Network) Disconnect(index int, reason string) error {
	return n.breakSession(index, transport.EventDisconnected, reason)
}

// FailAuth marks session index unauthenticated; later sends fail.
func (n *Network) FailAuth(index int, reason string) error {
	return n.breakSession(index, transport.EventAuthFailure, reason)
}

func (n *Network) breakSession(index int, kind transport.EventKind, reason string) error {
	t, err := n.endpoint(index)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.broken = fmt.Errorf("memory: session %d %s: %s", index, kind, reason)
	t.mu.Unlock()
	return t.emit(transport.Event{Kind: kind, Reason: reason})
}

func (n *Network) endpoint(index int) (*Transport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.endpoints[index]
	if !ok {
		return nil, fmt.Errorf("memory: no session %d", index)
	}
	return t, nil
}

func (n *Network) record(d Delivery) error {
	n.mu.Lock()
	if err, ok := n.failures[d.To]; ok {
		n.mu.Unlock()
		return err
	}
	d.At = n.clock.Now()
	n.sent = append(n.sent, d)
	hooks := slices.Clone(n.onSend)
	n.mu.Unlock()
	for _, fn := range hooks {
		fn(d)
	}
	return nil
}

// Transport is one session on a Network.
type Transport struct {
	net      *Network
	index    int
	identity string

	mu      sync.Mutex
	ctx     context.Context
	out     chan<- transport.Event
	started bool
	ready   bool
	stopped bool
	broken  error
}

var errNotStarted = errors.New("memory: not started")

func (t *Transport) Start(ctx context.Context, out chan<- transport.Event) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	t.ctx = ctx
	t.out = out
	t.mu.Unlock()

	t.net.mu.Lock()
	held := t.net.held[t.index]
	t.net.mu.Unlock()
	if !held {
		go t.becomeReady()
	}
	return nil
}

func (t *Transport) becomeReady() {
	t.mu.Lock()
	if !t.started || t.ready || t.stopped {
		t.mu.Unlock()
		return
	}
	t.ready = true
	t.mu.Unlock()
	_ = t.emit(transport.Event{Kind: transport.EventReady})
}

func (t *Transport) emit(ev transport.Event) error {
	t.mu.Lock()
	ctx, out, started, stopped := t.ctx, t.out, t.started, t.stopped
	t.mu.Unlock()
	if !started {
		return errNotStarted
	}
	if stopped {
		return transport.ErrStopped
	}
	if !transport.Emit(ctx, out, ev) {
		return ctx.Err()
	}
	return nil
}

func (t *Transport) Stop(context.Context) error {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	return nil
}

func (t *Transport) SendText(ctx context.Context, to, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	ready, stopped, broken := t.ready, t.stopped, t.broken
	t.mu.Unlock()
	switch {
	case stopped:
		return transport.ErrStopped
	case broken != nil:
		return broken
	case !ready:
		return transport.ErrNotReady
	}
	return t.net.record(Delivery{Session: t.index, From: t.identity, To: to, Body: body})
}

func (t *Transport) Identity() string { return t.identity }
