package inbound

import (
	"context"
	"testing"
	"time"

	"bulkbot/internal/conversation"
	"bulkbot/internal/eventbus"
	"bulkbot/internal/runtime/supervisor"
	"bulkbot/internal/session"
	"bulkbot/internal/transport"
	"bulkbot/internal/transport/memory"
	"bulkbot/pkg/logx"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeenCache(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	c := newSeenCache(clock, time.Minute, 2)

	assert.False(t, c.checkAndMark("a"))
	assert.True(t, c.checkAndMark("a"))

	clock.Advance(time.Minute)
	assert.False(t, c.checkAndMark("a"), "expired ids are new again")

	assert.False(t, c.checkAndMark("b"))
	assert.False(t, c.checkAndMark("c"))
	assert.Equal(t, 2, c.len())
	assert.False(t, c.checkAndMark("a"), "oldest id is evicted at capacity")
}

func TestRecordCreatesOnReceivingSession(t *testing.T) {
	t.Parallel()
	reg := conversation.NewRegistry()
	bus := eventbus.New()
	updates, unsub := bus.Subscribe(4, conversation.TopicUpdated)
	defer unsub()
	r := NewRouter(reg, WithBus(bus), WithClock(clockwork.NewFakeClock()))

	c := r.Record(1, "me1", "x", "hello?")
	assert.Equal(t, 1, c.ID)
	assert.Equal(t, 1, c.SessionIndex)
	assert.Equal(t, "me1", c.OwnIdentity)

	// A later message on another session keeps the original owner.
	again := r.Record(0, "me0", "x", "still there?")
	assert.Same(t, c, again)
	assert.Equal(t, 1, again.SessionIndex)

	tr := c.Transcript()
	require.Len(t, tr, 2)
	assert.Equal(t, conversation.Received, tr[0].Direction)
	assert.Equal(t, "still there?", tr[1].Body)

	ev := <-updates
	snap := ev.Data.(conversation.Snapshot)
	assert.Equal(t, "x", snap.RemoteAddress)
}

func TestHandleThroughPool(t *testing.T) {
	t.Parallel()
	net := memory.NewNetwork()
	sup := supervisor.New(context.Background())
	pool := session.NewPool(net.Factory("me0", "me1"), sup, nil, logx.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
		_ = sup.Stop(ctx)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, pool.Initialize(ctx, 2))

	reg := conversation.NewRegistry()
	NewRouter(reg).Attach(pool)

	require.NoError(t, net.Inject(1, transport.Message{Kind: transport.MessageOther, From: "x", ID: "m0"}))
	require.NoError(t, net.Inject(1, transport.Message{Kind: transport.MessageText, From: "x", Body: "hi", ID: "m1"}))
	require.NoError(t, net.Inject(1, transport.Message{Kind: transport.MessageText, From: "x", Body: "hi", ID: "m1"}))
	require.NoError(t, net.Inject(1, transport.Message{Kind: transport.MessageText, From: "x", Body: "again"}))

	require.Eventually(t, func() bool {
		c, ok := reg.Get("x")
		return ok && len(c.Transcript()) == 2
	}, 2*time.Second, 5*time.Millisecond)

	c, _ := reg.Get("x")
	assert.Equal(t, 1, c.SessionIndex)
	assert.Equal(t, "me1", c.OwnIdentity)
	tr := c.Transcript()
	assert.Equal(t, "hi", tr[0].Body)
	assert.Equal(t, "again", tr[1].Body)
	assert.Equal(t, 1, reg.Len())
}

func TestSameMessageIDOnTwoSessions(t *testing.T) {
	t.Parallel()
	net := memory.NewNetwork()
	sup := supervisor.New(context.Background())
	pool := session.NewPool(net.Factory("me0", "me1"), sup, nil, logx.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
		_ = sup.Stop(ctx)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, pool.Initialize(ctx, 2))

	reg := conversation.NewRegistry()
	NewRouter(reg).Attach(pool)

	require.NoError(t, net.Inject(0, transport.Message{Kind: transport.MessageText, From: "42", Body: "hi bot A", ID: "42:7"}))
	require.NoError(t, net.Inject(1, transport.Message{Kind: transport.MessageText, From: "42", Body: "hi bot B", ID: "42:7"}))

	require.Eventually(t, func() bool {
		c, ok := reg.Get("42")
		return ok && len(c.Transcript()) == 2
	}, 2*time.Second, 5*time.Millisecond)

	c, _ := reg.Get("42")
	var bodies []string
	for _, e := range c.Transcript() {
		bodies = append(bodies, e.Body)
	}
	assert.ElementsMatch(t, []string{"hi bot A", "hi bot B"}, bodies)
}
