package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Bus topics. Each is published after the matching timer is armed, so a
// subscriber that sees the event can advance a fake clock safely.
const (
	TopicSending  = "dispatch.sending"
	TopicCooldown = "dispatch.cooldown"
	TopicDone     = "dispatch.done"
	TopicSent     = "dispatch.sent"
	TopicFailed   = "dispatch.failed"
)

var ErrJobExists = errors.New("dispatch: session already has a job")

// Sender sends through the session at index and reports that session's own
// identity. The session pool implements it.
type Sender interface {
	SendText(ctx context.Context, session int, to, body string) (identity string, err error)
}

// Settings is the fixed-window pacing policy.
type Settings struct {
	Delay               time.Duration
	MessagesBeforePause int
	Pause               time.Duration
}

// SendFailure is a transport error for one recipient. It is logged and the
// recipient is skipped.
type SendFailure struct {
	Session int
	Address string
	Err     error
}

func (e *SendFailure) Error() string {
	return fmt.Sprintf("send to %s via session %d: %v", e.Address, e.Session, e.Err)
}

func (e *SendFailure) Unwrap() error { return e.Err }

// JobStatus is a snapshot of one session's job.
type JobStatus struct {
	ID         string    `json:"id"`
	Session    int       `json:"session"`
	State      State     `json:"state"`
	Generation int       `json:"generation"`
	Total      int       `json:"total"`
	Sent       int       `json:"sent"`
	Failed     int       `json:"failed"`
	Remaining  int       `json:"remaining"`
	ResumeAt   time.Time `json:"resume_at,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DoneAt     time.Time `json:"done_at,omitempty"`
}

// Delivery is the payload of TopicSent and TopicFailed.
type Delivery struct {
	Session        int
	Address        string
	ConversationID int
	Err            error
}
