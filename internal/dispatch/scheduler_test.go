package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bulkbot/internal/conversation"
	"bulkbot/internal/eventbus"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	session int
	to      string
	body    string
	at      time.Time
}

type fakeSender struct {
	clock clockwork.Clock

	mu    sync.Mutex
	sent  []sent
	fails map[string]error
}

func (f *fakeSender) SendText(_ context.Context, session int, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fails[to]; err != nil {
		return "", err
	}
	f.sent = append(f.sent, sent{session: session, to: to, body: body, at: f.clock.Now()})
	return "me" + string(rune('0'+session)), nil
}

func (f *fakeSender) snapshot() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

type harness struct {
	clock  *clockwork.FakeClock
	sender *fakeSender
	reg    *conversation.Registry
	sched  *Scheduler
	events <-chan eventbus.Event
}

func newHarness(t *testing.T, cfg Settings) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	bus := eventbus.New()
	events, unsub := bus.Subscribe(256, "dispatch.")
	sender := &fakeSender{clock: clock, fails: map[string]error{}}
	reg := conversation.NewRegistry()
	s := New(sender, reg, cfg, WithClock(clock), WithBus(bus))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
		unsub()
	})
	return &harness{clock: clock, sender: sender, reg: reg, sched: s, events: events}
}

// next waits for the next event of type typ, skipping others.
func (h *harness) next(t *testing.T, typ string) eventbus.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-h.events:
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
			return eventbus.Event{}
		}
	}
}

func (h *harness) tick(t *testing.T, d time.Duration, typ string) eventbus.Event {
	t.Helper()
	h.clock.Advance(d)
	return h.next(t, typ)
}

func addressesOf(ss []sent) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		out = append(out, s.to)
	}
	return out
}

func TestCooldownThenContinuation(t *testing.T) {
	t.Parallel()
	const (
		delay = time.Second
		pause = time.Minute
	)
	h := newHarness(t, Settings{Delay: delay, MessagesBeforePause: 2, Pause: pause})
	start := h.clock.Now()

	require.NoError(t, h.sched.Start(context.Background(), [][]string{{"a", "b", "c"}}, "hello"))
	h.next(t, TopicSending)

	h.tick(t, delay, TopicSent)
	h.tick(t, delay, TopicSent)
	ev := h.next(t, TopicCooldown)
	st := ev.Data.(JobStatus)
	assert.Equal(t, StateCooling, st.State)
	assert.Equal(t, 1, st.Remaining)
	assert.Equal(t, start.Add(2*delay+pause), st.ResumeAt)
	assert.Equal(t, []string{"a", "b"}, addressesOf(h.sender.snapshot()))

	// Nothing is sent while cooling, however many tick intervals pass.
	for i := 0; i < 5; i++ {
		h.clock.Advance(delay)
	}
	assert.Len(t, h.sender.snapshot(), 2)

	h.tick(t, pause-5*delay, TopicSending)
	st = h.sched.Jobs()[0]
	assert.Equal(t, 1, st.Generation)
	assert.Equal(t, StateSending, st.State)

	h.tick(t, delay, TopicSent)
	got := h.sender.snapshot()
	require.Equal(t, []string{"a", "b", "c"}, addressesOf(got))
	assert.False(t, got[2].at.Before(start.Add(2*delay+pause+delay)))

	// Exhaustion is noticed on the following tick.
	done := h.tick(t, delay, TopicDone).Data.(JobStatus)
	assert.Equal(t, StateDone, done.State)
	assert.Equal(t, 3, done.Sent)
	assert.Equal(t, 3, done.Total)
	assert.Zero(t, done.Remaining)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.sched.Wait(ctx))
}

func TestQuotaOnLastRecipientFinishesWithoutCooldown(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Settings{Delay: time.Second, MessagesBeforePause: 2, Pause: time.Hour})
	require.NoError(t, h.sched.Start(context.Background(), [][]string{{"a", "b"}}, "m"))
	h.next(t, TopicSending)
	h.tick(t, time.Second, TopicSent)
	h.clock.Advance(time.Second)

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-h.events:
			require.NotEqual(t, TopicCooldown, ev.Type)
			if ev.Type == TopicDone {
				assert.Equal(t, 2, ev.Data.(JobStatus).Sent)
				return
			}
		case <-timeout:
			t.Fatal("job did not finish")
		}
	}
}

func TestSendFailureSkipsRecipient(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Settings{Delay: time.Second, MessagesBeforePause: 10})
	boom := errors.New("not on network")
	h.sender.fails["b"] = boom

	require.NoError(t, h.sched.Start(context.Background(), [][]string{{"a", "b", "c"}}, "m"))
	h.next(t, TopicSending)
	h.tick(t, time.Second, TopicSent)

	failed := h.tick(t, time.Second, TopicFailed).Data.(Delivery)
	var sf *SendFailure
	require.ErrorAs(t, failed.Err, &sf)
	assert.Equal(t, "b", sf.Address)
	assert.ErrorIs(t, failed.Err, boom)

	h.tick(t, time.Second, TopicSent)
	done := h.tick(t, time.Second, TopicDone).Data.(JobStatus)
	assert.Equal(t, 2, done.Sent)
	assert.Equal(t, 1, done.Failed)

	_, ok := h.reg.Get("b")
	assert.False(t, ok, "failed send must not create a conversation")
	c, ok := h.reg.Get("c")
	require.True(t, ok)
	assert.Equal(t, 2, c.ID)
	tr := c.Transcript()
	require.Len(t, tr, 1)
	assert.Equal(t, conversation.Sent, tr[0].Direction)
	assert.Equal(t, "m", tr[0].Body)
	assert.Equal(t, "me0", c.OwnIdentity)
}

func TestFailuresCountTowardQuota(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Settings{Delay: time.Second, MessagesBeforePause: 2, Pause: time.Minute})
	h.sender.fails["a"] = errors.New("x")
	h.sender.fails["b"] = errors.New("x")

	require.NoError(t, h.sched.Start(context.Background(), [][]string{{"a", "b", "c"}}, "m"))
	h.next(t, TopicSending)
	h.tick(t, time.Second, TopicFailed)
	h.tick(t, time.Second, TopicFailed)
	st := h.next(t, TopicCooldown).Data.(JobStatus)
	assert.Equal(t, 2, st.Failed)
	assert.Zero(t, st.Sent)
}

func TestSessionsRunIndependently(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Settings{Delay: time.Second, MessagesBeforePause: 1, Pause: time.Minute})
	require.NoError(t, h.sched.Start(context.Background(), [][]string{{"a", "b"}, {"d"}}, "m"))
	h.next(t, TopicSending)
	h.next(t, TopicSending)

	h.clock.Advance(time.Second)
	h.next(t, TopicSent)
	h.next(t, TopicSent)

	sessions := map[int]string{}
	for _, s := range h.sender.snapshot() {
		sessions[s.session] = s.to
	}
	assert.Equal(t, map[int]string{0: "a", 1: "d"}, sessions)

	// Session 1 hit its quota on its last recipient and is done; session 0 cools.
	require.Len(t, h.sched.Jobs(), 2)
	require.Eventually(t, func() bool {
		jobs := h.sched.Jobs()
		return jobs[0].State == StateCooling && jobs[1].State == StateDone
	}, 2*time.Second, 5*time.Millisecond)

	c, ok := h.reg.Get("d")
	require.True(t, ok)
	assert.Equal(t, 1, c.SessionIndex)
	assert.Equal(t, "me1", c.OwnIdentity)
}

func TestZeroDelayAndPauseSendBackToBack(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Settings{MessagesBeforePause: 1})
	require.NoError(t, h.sched.Start(context.Background(), [][]string{{"a", "b", "c"}}, "m"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.sched.Wait(ctx))
	assert.Equal(t, []string{"a", "b", "c"}, addressesOf(h.sender.snapshot()))

	st := h.sched.Jobs()[0]
	assert.Equal(t, StateDone, st.State)
	assert.Equal(t, 2, st.Generation)
}

func TestEmptyPartitionFinishesOnFirstTick(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Settings{Delay: time.Second, MessagesBeforePause: 1})
	require.NoError(t, h.sched.Start(context.Background(), [][]string{{}}, "m"))
	h.next(t, TopicSending)
	st := h.tick(t, time.Second, TopicDone).Data.(JobStatus)
	assert.Zero(t, st.Total)
	assert.Empty(t, h.sender.snapshot())
}

func TestStartRejectsSecondJobForSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Settings{Delay: time.Second, MessagesBeforePause: 1})
	require.NoError(t, h.sched.Start(context.Background(), [][]string{{"a"}}, "m"))
	err := h.sched.Start(context.Background(), [][]string{{"b"}}, "m")
	assert.ErrorIs(t, err, ErrJobExists)
}

func TestWaitBeforeStartDoesNotLatch(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Settings{Delay: time.Second, MessagesBeforePause: 5})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, h.sched.Wait(ctx))

	require.NoError(t, h.sched.Start(context.Background(), [][]string{{"a", "b"}}, "m"))
	h.next(t, TopicSending)

	short, cancelShort := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancelShort()
	assert.ErrorIs(t, h.sched.Wait(short), context.DeadlineExceeded)
	assert.Equal(t, StateSending, h.sched.Jobs()[0].State)

	h.tick(t, time.Second, TopicSent)
	h.tick(t, time.Second, TopicSent)
	h.tick(t, time.Second, TopicDone)

	done, cancelDone := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelDone()
	require.NoError(t, h.sched.Wait(done))
	assert.Equal(t, []string{"a", "b"}, addressesOf(h.sender.snapshot()))
}

func TestStartWithNoPartitions(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Settings{Delay: time.Second, MessagesBeforePause: 1})
	require.NoError(t, h.sched.Start(context.Background(), nil, "m"))
	assert.Empty(t, h.sched.Jobs())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, h.sched.Wait(ctx))

	require.NoError(t, h.sched.Start(context.Background(), [][]string{{"a"}}, "m"))
	h.next(t, TopicSending)
	h.tick(t, time.Second, TopicSent)
	h.next(t, TopicDone)

	done, cancelDone := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelDone()
	require.NoError(t, h.sched.Wait(done))
}

func TestStopWhileCooling(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Settings{Delay: time.Second, MessagesBeforePause: 1, Pause: time.Hour})
	require.NoError(t, h.sched.Start(context.Background(), [][]string{{"a", "b"}}, "m"))
	h.next(t, TopicSending)
	h.tick(t, time.Second, TopicCooldown)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.sched.Stop(ctx))
	assert.Len(t, h.sender.snapshot(), 1)
}

func TestDeliverSurfacesConversation(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	bus := eventbus.New()
	updates, unsub := bus.Subscribe(4, conversation.TopicUpdated)
	defer unsub()

	reg := conversation.NewRegistry()
	s := New(&fakeSender{clock: clock, fails: map[string]error{}}, reg, Settings{}, WithClock(clock), WithBus(bus))
	c, err := s.Deliver(context.Background(), 2, "x", "hi", "reply")
	require.NoError(t, err)
	assert.Equal(t, 1, c.ID)

	select {
	case ev := <-updates:
		snap := ev.Data.(conversation.Snapshot)
		assert.Equal(t, "x", snap.RemoteAddress)
		assert.Equal(t, "me2", snap.SessionIdentity)
		require.Len(t, snap.Entries, 1)
	case <-time.After(time.Second):
		t.Fatal("no conversation.updated event")
	}
}
