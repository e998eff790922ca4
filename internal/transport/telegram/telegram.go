// Package telegram runs one bot account per session over the Telegram Bot
// API. Addresses are chat ids in decimal form.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"bulkbot/internal/transport"
	"bulkbot/pkg/logx"

	tele "gopkg.in/telebot.v4"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Factory opens accounts[index] for each session.
type Factory struct {
	Accounts []Config
	Log      logx.Logger
}

func (f Factory) Open(index int) (transport.Transport, error) {
	if index < 0 || index >= len(f.Accounts) {
		return nil, fmt.Errorf("telegram: no account configured for session %d", index)
	}
	return New(f.Accounts[index], f.Log.With(logx.Int("session", index)))
}

type Transport struct {
	cfg Config
	log logx.Logger

	mu        sync.Mutex
	bot       *tele.Bot
	identity  string
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
	running   bool
}

func New(cfg Config, log logx.Logger) (*Transport, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	return &Transport{cfg: cfg, log: log}, nil
}

// Start authenticates the bot and begins long polling. An authentication
// failure is reported as an event rather than an error so the session stays
// registered.
func (t *Transport) Start(ctx context.Context, out chan<- transport.Event) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = true
	rctx, cancel := context.WithCancel(ctx)
	t.runCancel = cancel
	t.mu.Unlock()

	b, err := tele.NewBot(tele.Settings{
		Token:  t.cfg.Token,
		Poller: &tele.LongPoller{Timeout: t.cfg.PollTimeout},
		OnError: func(err error, _ tele.Context) {
			if isUnauthorized(err) {
				transport.Emit(rctx, out, transport.Event{Kind: transport.EventAuthFailure, Reason: err.Error()})
				return
			}
			t.log.Warn("telegram error", logx.Err(err))
		},
	})
	if err != nil {
		if isUnauthorized(err) {
			transport.Emit(rctx, out, transport.Event{Kind: transport.EventAuthFailure, Reason: err.Error()})
			return nil
		}
		cancel()
		return fmt.Errorf("telegram: connect: %w", err)
	}

	t.mu.Lock()
	t.bot = b
	if b.Me != nil {
		t.identity = "@" + b.Me.Username
	}
	t.mu.Unlock()

	b.Handle(tele.OnText, func(c tele.Context) error {
		return t.forward(rctx, out, c, transport.MessageText)
	})
	for _, ep := range []string{tele.OnPhoto, tele.OnVideo, tele.OnVoice, tele.OnAudio, tele.OnDocument, tele.OnSticker, tele.OnLocation, tele.OnContact} {
		b.Handle(ep, func(c tele.Context) error {
			return t.forward(rctx, out, c, transport.MessageOther)
		})
	}

	t.runWG.Add(1)
	go func() {
		defer t.runWG.Done()
		go func() {
			<-rctx.Done()
			b.Stop()
		}()
		t.log.Info("polling started", logx.String("identity", t.Identity()))
		b.Start() // blocks until Stop
	}()

	transport.Emit(rctx, out, transport.Event{Kind: transport.EventReady})
	return nil
}

func (t *Transport) forward(ctx context.Context, out chan<- transport.Event, c tele.Context, kind transport.MessageKind) error {
	m := c.Message()
	if m == nil || m.Chat == nil {
		return nil
	}
	chat := strconv.FormatInt(m.Chat.ID, 10)
	transport.Emit(ctx, out, transport.Event{
		Kind: transport.EventMessage,
		Message: &transport.Message{
			Kind: kind,
			ID:   chat + ":" + strconv.Itoa(m.ID),
			From: chat,
			Body: m.Text,
		},
	})
	return nil
}

// Stop ends polling. The getUpdates long poll may still be waiting, so the
// wait is capped at a short grace window.
func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	cancel := t.runCancel
	t.runCancel = nil
	wasRunning := t.running
	t.running = false
	t.mu.Unlock()

	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		t.runWG.Wait()
		close(done)
	}()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		t.log.Info("polling stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		t.log.Warn("telegram stop grace elapsed; continuing shutdown")
		return nil
	}
}

func (t *Transport) SendText(ctx context.Context, to, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	b := t.bot
	running := t.running
	t.mu.Unlock()
	if !running {
		return transport.ErrStopped
	}
	if b == nil {
		return transport.ErrNotReady
	}
	if _, err := b.Send(recipient(strings.TrimSpace(to)), body); err != nil {
		return fmt.Errorf("telegram: send to %s: %w", to, err)
	}
	return nil
}

func (t *Transport) Identity() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.identity
}

// recipient is a chat id or @channel username.
type recipient string

func (r recipient) Recipient() string { return string(r) }

func isUnauthorized(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unauthorized")
}
