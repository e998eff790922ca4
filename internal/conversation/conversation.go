// Package conversation correlates remote addresses with the conversation that
// first touched them, outbound or inbound.
package conversation

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// TopicUpdated is published on the event bus with a Snapshot payload whenever
// a transcript grows.
const TopicUpdated = "conversation.updated"

type Direction int

const (
	Sent Direction = iota + 1
	Received
)

func (d Direction) String() string {
	switch d {
	case Sent:
		return "sent"
	case Received:
		return "received"
	default:
		return "unknown"
	}
}

type Entry struct {
	Direction Direction `json:"direction"`
	Body      string    `json:"body"`
	At        time.Time `json:"at"`
}

// Conversation is created once per remote address and never removed. The
// identifying fields are immutable after creation; the transcript is
// append-only and guarded by its own mutex.
type Conversation struct {
	ID            int
	SessionIndex  int
	OwnIdentity   string
	RemoteAddress string

	mu         sync.Mutex
	transcript []Entry
}

// Append adds an entry to the transcript.
func (c *Conversation) Append(dir Direction, body string, at time.Time) {
	c.mu.Lock()
	c.transcript = append(c.transcript, Entry{Direction: dir, Body: body, At: at})
	c.mu.Unlock()
}

// Transcript returns a copy of the entries in append order.
func (c *Conversation) Transcript() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.transcript...)
}

// Summary is the operator-facing listing row.
type Summary struct {
	ID              int    `json:"id"`
	SessionIndex    int    `json:"session_index"`
	SessionIdentity string `json:"session_identity"`
	RemoteAddress   string `json:"remote_address"`
}

func (c *Conversation) Summary() Summary {
	return Summary{
		ID:              c.ID,
		SessionIndex:    c.SessionIndex,
		SessionIdentity: c.OwnIdentity,
		RemoteAddress:   c.RemoteAddress,
	}
}

// Snapshot is a point-in-time copy of a conversation.
type Snapshot struct {
	Summary
	Entries []Entry `json:"entries"`
}

func (c *Conversation) Snapshot() Snapshot {
	return Snapshot{Summary: c.Summary(), Entries: c.Transcript()}
}

// Label renders the heading used when a transcript is shown.
func (s Summary) Label() string {
	return fmt.Sprintf("Conversation ID %d (account: %s, recipient: %s)", s.ID, s.SessionIdentity, s.RemoteAddress)
}

// Render formats the heading followed by one line per entry.
func (s Snapshot) Render() string {
	var b strings.Builder
	b.WriteString(s.Label())
	for _, e := range s.Entries {
		b.WriteString("\n  ")
		if e.Direction == Sent {
			b.WriteString("> ")
		} else {
			b.WriteString("< ")
		}
		b.WriteString(e.Body)
	}
	return b.String()
}
