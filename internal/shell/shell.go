// Package shell is the interactive operator console: it surfaces transcripts
// as they change and lets the operator reply to selected conversations.
package shell

import (
	"context"
	"errors"
	"io"

	"bulkbot/internal/conversation"
	"bulkbot/internal/dispatch"
	"bulkbot/internal/eventbus"
	"bulkbot/internal/session"
	"bulkbot/pkg/logx"

	tea "github.com/charmbracelet/bubbletea"
)

// Core is what the shell drives.
type Core interface {
	ListConversations() []conversation.Summary
	SubmitReply(ctx context.Context, ids []int, body string) (int, error)
	Jobs() []dispatch.JobStatus
}

type Option func(*Shell)

func WithInput(r io.Reader) Option { return func(s *Shell) { s.in = r } }

func WithOutput(w io.Writer) Option { return func(s *Shell) { s.out = w } }

func WithLogger(l logx.Logger) Option { return func(s *Shell) { s.log = l } }

type Shell struct {
	core Core
	bus  eventbus.Bus
	log  logx.Logger
	in   io.Reader
	out  io.Writer
}

func New(core Core, bus eventbus.Bus, opts ...Option) *Shell {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	s := &Shell{core: core, bus: bus}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run blocks until the operator exits or ctx is cancelled. Both return nil.
func (s *Shell) Run(ctx context.Context) error {
	events, unsub := s.bus.Subscribe(128, conversation.TopicUpdated, session.TopicLifecycle)
	defer unsub()

	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if s.in != nil {
		opts = append(opts, tea.WithInput(s.in))
	}
	if s.out != nil {
		opts = append(opts, tea.WithOutput(s.out))
	}
	p := tea.NewProgram(newModel(ctx, s.core), opts...)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if msg := toMsg(ev); msg != nil {
					p.Send(msg)
				}
			}
		}
	}()

	_, err := p.Run()
	close(done)
	if err != nil {
		// Cancelling ctx kills the program; that is a normal shutdown.
		if ctx.Err() != nil && (errors.Is(err, tea.ErrProgramKilled) || errors.Is(err, context.Canceled)) {
			return nil
		}
		return err
	}
	s.log.Debug("shell exited")
	return nil
}

func toMsg(ev eventbus.Event) tea.Msg {
	switch d := ev.Data.(type) {
	case conversation.Snapshot:
		return transcriptMsg(d)
	case *session.LifecycleError:
		return lifecycleMsg{err: d}
	}
	return nil
}
