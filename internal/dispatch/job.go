// Package dispatch paces bulk sends per session: one send per tick until a
// quota is reached, then a cooldown, then a continuation over the remaining
// recipients.
package dispatch

import (
	"fmt"
	"time"
)

type State string

const (
	StateSending State = "sending"
	StateCooling State = "cooling"
	StateDone    State = "done"
)

// Job is the send state of one session. A cooldown ends the job and a
// continuation over Addresses[Cursor:] takes its place; the ID and the
// running totals carry over, Generation counts the continuations.
type Job struct {
	ID           string
	SessionIndex int
	Addresses    []string
	Body         string

	Cursor            int
	SentSinceCooldown int

	State      State
	Generation int
	Sent       int
	Failed     int
	ResumeAt   time.Time
}

func newJob(id string, session int, addresses []string, body string) *Job {
	return &Job{
		ID:           id,
		SessionIndex: session,
		Addresses:    append([]string(nil), addresses...),
		Body:         body,
		State:        StateSending,
	}
}

// Exhausted reports whether every address has been attempted.
func (j *Job) Exhausted() bool { return j.Cursor >= len(j.Addresses) }

func (j *Job) Remaining() int { return len(j.Addresses) - j.Cursor }

// Next is the address the next tick sends to. Call only when not exhausted.
func (j *Job) Next() string { return j.Addresses[j.Cursor] }

// Advance records one attempt. Failures advance the cursor and count toward
// the quota exactly like successes; the recipient is never retried.
// It returns true when the quota is reached, resetting the counter.
func (j *Job) Advance(ok bool, quota int) (coolDown bool) {
	j.Cursor++
	j.SentSinceCooldown++
	if ok {
		j.Sent++
	} else {
		j.Failed++
	}
	if quota > 0 && j.SentSinceCooldown >= quota {
		j.SentSinceCooldown = 0
		return true
	}
	return false
}

// Continue returns the continuation job over the unsent addresses.
func (j *Job) Continue() *Job {
	return &Job{
		ID:           j.ID,
		SessionIndex: j.SessionIndex,
		Addresses:    append([]string(nil), j.Addresses[j.Cursor:]...),
		Body:         j.Body,
		State:        StateSending,
		Generation:   j.Generation + 1,
		Sent:         j.Sent,
		Failed:       j.Failed,
	}
}

func (j *Job) String() string {
	return fmt.Sprintf("job %s session=%d gen=%d state=%s cursor=%d/%d", j.ID, j.SessionIndex, j.Generation, j.State, j.Cursor, len(j.Addresses))
}
