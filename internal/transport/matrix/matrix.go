// Package matrix runs one Matrix account per session. Addresses are room ids;
// an inbound message is attributed to the room it arrived in so a reply goes
// back to the same room.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"bulkbot/internal/transport"
	"bulkbot/pkg/logx"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const (
	resyncBackoffMin = time.Second
	resyncBackoffMax = 30 * time.Second
)

type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
}

// Factory opens accounts[index] for each session.
type Factory struct {
	Accounts []Config
	Log      logx.Logger
}

func (f Factory) Open(index int) (transport.Transport, error) {
	if index < 0 || index >= len(f.Accounts) {
		return nil, fmt.Errorf("matrix: no account configured for session %d", index)
	}
	return New(f.Accounts[index], f.Log.With(logx.Int("session", index)))
}

type Transport struct {
	cfg    Config
	log    logx.Logger
	client *mautrix.Client

	mu        sync.Mutex
	identity  string
	ready     bool
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
}

func New(cfg Config, log logx.Logger) (*Transport, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	return &Transport{cfg: cfg, log: log, client: client}, nil
}

func (t *Transport) Start(ctx context.Context, out chan<- transport.Event) error {
	t.mu.Lock()
	if t.runCancel != nil {
		t.mu.Unlock()
		return nil
	}
	rctx, cancel := context.WithCancel(ctx)
	t.runCancel = cancel
	t.mu.Unlock()

	syncer, ok := t.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		cancel()
		return fmt.Errorf("unexpected syncer type: %T", t.client.Syncer)
	}
	// The first sync replays recent room history; only events newer than
	// startup are inbound messages.
	startedAt := time.Now().UnixMilli()
	syncer.OnEventType(event.EventMessage, func(_ context.Context, evt *event.Event) {
		if evt.Timestamp < startedAt || evt.Sender == t.client.UserID {
			return
		}
		msg := &transport.Message{
			Kind: transport.MessageOther,
			ID:   evt.ID.String(),
			From: evt.RoomID.String(),
		}
		if content, ok := evt.Content.Parsed.(*event.MessageEventContent); ok && content.MsgType == event.MsgText {
			msg.Kind = transport.MessageText
			msg.Body = content.Body
		}
		transport.Emit(rctx, out, transport.Event{Kind: transport.EventMessage, Message: msg})
	})

	t.runWG.Add(1)
	go func() {
		defer t.runWG.Done()
		t.run(rctx, out)
	}()
	return nil
}

// run authenticates, then syncs until ctx is done. A sync failure is
// reported as a disconnect and retried with backoff; a rejected token ends
// the loop.
func (t *Transport) run(ctx context.Context, out chan<- transport.Event) {
	backoff := resyncBackoffMin
	for ctx.Err() == nil {
		who, err := t.client.Whoami(ctx)
		if err == nil {
			t.mu.Lock()
			t.identity = who.UserID.String()
			t.ready = true
			t.mu.Unlock()
			transport.Emit(ctx, out, transport.Event{Kind: transport.EventReady})
			err = t.client.SyncWithContext(ctx)
		}
		if ctx.Err() != nil {
			return
		}

		t.mu.Lock()
		t.ready = false
		t.mu.Unlock()
		if errors.Is(err, mautrix.MUnknownToken) {
			transport.Emit(ctx, out, transport.Event{Kind: transport.EventAuthFailure, Reason: err.Error()})
			return
		}
		reason := "sync stopped"
		if err != nil {
			reason = err.Error()
		}
		transport.Emit(ctx, out, transport.Event{Kind: transport.EventDisconnected, Reason: reason})

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, resyncBackoffMax)
	}
}

func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	cancel := t.runCancel
	t.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	t.client.StopSync()

	done := make(chan struct{})
	go func() {
		t.runWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) SendText(ctx context.Context, to, body string) error {
	t.mu.Lock()
	ready := t.ready
	t.mu.Unlock()
	if !ready {
		return transport.ErrNotReady
	}
	if _, err := t.client.SendText(ctx, id.RoomID(strings.TrimSpace(to)), body); err != nil {
		return fmt.Errorf("matrix: send to %s: %w", to, err)
	}
	return nil
}

func (t *Transport) Identity() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.identity == "" {
		return t.cfg.UserID
	}
	return t.identity
}
