package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage: closed")

// Config configures storage. A Driver of "" or "none" disables auditing.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

type Kind string

const (
	KindBulk    Kind = "bulk"
	KindReply   Kind = "reply"
	KindInbound Kind = "inbound"
)

// Entry is one audited event. Keep it compact and schema-stable.
type Entry struct {
	At             time.Time `json:"at"`
	RunID          string    `json:"run_id"`
	Kind           Kind      `json:"kind"`
	Session        int       `json:"session"`
	Address        string    `json:"address"`
	ConversationID int       `json:"conversation_id,omitempty"`
	OK             bool      `json:"ok"`
	Error          string    `json:"error,omitempty"`
	TookMS         int64     `json:"took_ms"`
}

// Auditor is the write side consumed by the dispatch and inbound paths.
type Auditor interface {
	AppendAudit(ctx context.Context, e Entry) error
}

type Store interface {
	Auditor
	Close() error
}

// Nop discards every entry.
type Nop struct{}

func (Nop) AppendAudit(context.Context, Entry) error { return nil }
func (Nop) Close() error                             { return nil }

// Stamped fills RunID and At on every entry before forwarding it.
type Stamped struct {
	Store Auditor
	RunID string
	Now   func() time.Time
}

func (s Stamped) AppendAudit(ctx context.Context, e Entry) error {
	if e.RunID == "" {
		e.RunID = s.RunID
	}
	if e.At.IsZero() {
		if s.Now != nil {
			e.At = s.Now()
		} else {
			e.At = time.Now()
		}
	}
	return s.Store.AppendAudit(ctx, e)
}
