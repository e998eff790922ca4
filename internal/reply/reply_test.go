package reply

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bulkbot/internal/conversation"
	"bulkbot/internal/storage"
	"bulkbot/pkg/logx"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type delivery struct {
	session int
	addr    string
	body    string
	kind    storage.Kind
	at      time.Time
}

type fakeDeliverer struct {
	clock    clockwork.Clock
	registry *conversation.Registry
	fail     map[string]bool
	out      chan delivery
}

func (f *fakeDeliverer) Deliver(_ context.Context, session int, addr, body string, kind storage.Kind) (*conversation.Conversation, error) {
	if f.fail[addr] {
		return nil, errors.New("send failed")
	}
	c, _ := f.registry.GetOrCreate(addr, session, "me")
	c.Append(conversation.Sent, body, f.clock.Now())
	f.out <- delivery{session: session, addr: addr, body: body, kind: kind, at: f.clock.Now()}
	return c, nil
}

func recv(t *testing.T, ch <-chan delivery) delivery {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return delivery{}
	}
}

func setup(t *testing.T, interval time.Duration) (*Coordinator, *clockwork.FakeClock, *conversation.Registry, *fakeDeliverer) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	reg := conversation.NewRegistry()
	d := &fakeDeliverer{clock: clock, registry: reg, fail: map[string]bool{}, out: make(chan delivery, 16)}
	c := New(reg, d, interval, WithClock(clock), WithLogger(logx.Nop()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = c.Stop(ctx)
	})
	return c, clock, reg, d
}

func TestRepliesAreStaggered(t *testing.T) {
	t.Parallel()
	const interval = 1500 * time.Millisecond
	c, clock, reg, d := setup(t, interval)
	reg.GetOrCreate("a", 0, "me0")
	reg.GetOrCreate("b", 1, "me1")
	reg.GetOrCreate("c", 0, "me0")
	submitted := clock.Now()

	n, err := c.ProcessReply(context.Background(), []int{3, 1, 2}, "hi")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	first := recv(t, d.out)
	assert.Equal(t, "c", first.addr)
	assert.Equal(t, storage.KindReply, first.kind)
	assert.Equal(t, 2, c.Pending())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 2))

	clock.Advance(interval - time.Millisecond)
	select {
	case got := <-d.out:
		t.Fatalf("reply to %s fired early", got.addr)
	case <-time.After(20 * time.Millisecond):
	}

	clock.Advance(time.Millisecond)
	second := recv(t, d.out)
	assert.Equal(t, "a", second.addr)
	assert.Equal(t, 0, second.session)
	assert.False(t, second.at.Before(submitted.Add(interval)))

	clock.Advance(interval)
	third := recv(t, d.out)
	assert.Equal(t, "b", third.addr)
	assert.Equal(t, 1, third.session, "reply goes through the conversation's own session")
	assert.False(t, third.at.Before(submitted.Add(2*interval)))
	assert.Zero(t, c.Pending())
}

func TestLookupMissIsANoop(t *testing.T) {
	t.Parallel()
	c, _, _, d := setup(t, time.Second)

	n, err := c.ProcessReply(context.Background(), []int{999}, "hi")
	require.ErrorIs(t, err, ErrLookupMiss)
	assert.Zero(t, n)
	select {
	case got := <-d.out:
		t.Fatalf("unexpected send to %s", got.addr)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestInboundThenReplyTranscript(t *testing.T) {
	t.Parallel()
	c, _, reg, d := setup(t, time.Second)

	conv, _ := reg.GetOrCreate("x", 1, "me1")
	conv.Append(conversation.Received, "hello?", time.Now())

	_, err := c.ProcessReply(context.Background(), []int{conv.ID}, "hi")
	require.NoError(t, err)
	recv(t, d.out)

	tr := conv.Transcript()
	require.Len(t, tr, 2)
	assert.Equal(t, conversation.Received, tr[0].Direction)
	assert.Equal(t, conversation.Sent, tr[1].Direction)
	assert.Equal(t, "hi", tr[1].Body)
}

func TestStopDropsPendingReplies(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	reg := conversation.NewRegistry()
	reg.GetOrCreate("a", 0, "me")
	reg.GetOrCreate("b", 0, "me")
	d := &fakeDeliverer{clock: clock, registry: reg, fail: map[string]bool{}, out: make(chan delivery, 4)}
	c := New(reg, d, time.Minute, WithClock(clock))

	_, err := c.ProcessReply(context.Background(), []int{1, 2}, "hi")
	require.NoError(t, err)
	recv(t, d.out)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
	assert.Zero(t, c.Pending())

	clock.Advance(time.Hour)
	select {
	case got := <-d.out:
		t.Fatalf("reply to %s fired after Stop", got.addr)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestConcurrentSubmits(t *testing.T) {
	t.Parallel()
	c, _, reg, d := setup(t, 0)
	for _, a := range []string{"a", "b", "c", "d"} {
		reg.GetOrCreate(a, 0, "me")
	}

	var wg sync.WaitGroup
	for i := 1; i <= 4; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, _ = c.ProcessReply(context.Background(), []int{id}, "hi")
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		seen[recv(t, d.out).addr] = true
	}
	assert.Len(t, seen, 4)
}
