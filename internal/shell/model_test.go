package shell

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"bulkbot/internal/conversation"
	"bulkbot/internal/dispatch"
	"bulkbot/internal/eventbus"
	"bulkbot/internal/reply"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCore struct {
	mu    sync.Mutex
	convs []conversation.Summary
	jobs  []dispatch.JobStatus
	calls [][]int
	body  string
	err   error
}

func (f *fakeCore) ListConversations() []conversation.Summary { return f.convs }
func (f *fakeCore) Jobs() []dispatch.JobStatus                { return f.jobs }

func (f *fakeCore) SubmitReply(_ context.Context, ids []int, body string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ids)
	f.body = body
	if f.err != nil {
		return 0, f.err
	}
	return len(ids), nil
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "space":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(t *testing.T, m model, keys ...string) (model, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, k := range keys {
		var next tea.Model
		next, cmd = m.Update(key(k))
		m = next.(model)
	}
	return m, cmd
}

func twoConversations() *fakeCore {
	return &fakeCore{convs: []conversation.Summary{
		{ID: 1, SessionIdentity: "me0", RemoteAddress: "a"},
		{ID: 2, SessionIdentity: "me1", RemoteAddress: "b"},
	}}
}

func TestReplyWithNoConversations(t *testing.T) {
	t.Parallel()
	m := newModel(context.Background(), &fakeCore{})
	m, _ = press(t, m, "enter")
	assert.Equal(t, modeMenu, m.mode)
	assert.Equal(t, noticeNoConversations, m.status)
	assert.Contains(t, m.View(), noticeNoConversations)
}

func TestSelectRequiresAtLeastOne(t *testing.T) {
	t.Parallel()
	m := newModel(context.Background(), twoConversations())
	m, _ = press(t, m, "enter")
	require.Equal(t, modeSelect, m.mode)

	m, _ = press(t, m, "enter")
	assert.Equal(t, modeSelect, m.mode)
	assert.Equal(t, noticeSelectOne, m.status)
}

func TestReplyFlow(t *testing.T) {
	t.Parallel()
	core := twoConversations()
	m := newModel(context.Background(), core)

	m, _ = press(t, m, "enter", "down", "space", "enter")
	require.Equal(t, modeCompose, m.mode)
	assert.Contains(t, m.View(), "Reply to 1 conversation")

	// Blank input is refused.
	m, _ = press(t, m, " ", "enter")
	assert.Equal(t, modeCompose, m.mode)
	assert.Equal(t, noticeEmptyReply, m.status)

	m, _ = press(t, m, "thanks")
	m, cmd := press(t, m, "enter")
	assert.Equal(t, modeMenu, m.mode)
	require.NotNil(t, cmd)

	msg := cmd()
	next, _ := m.Update(msg)
	m = next.(model)
	assert.Equal(t, [][]int{{2}}, core.calls)
	assert.Equal(t, "thanks", core.body)
	assert.Equal(t, "Scheduled 1 reply.", m.status)
}

func TestSelectAllKeepsListingOrder(t *testing.T) {
	t.Parallel()
	core := twoConversations()
	m := newModel(context.Background(), core)
	m, _ = press(t, m, "enter", "a", "enter", "hi")
	_, cmd := press(t, m, "enter")
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, [][]int{{1, 2}}, core.calls)
}

func TestLookupMissIsReported(t *testing.T) {
	t.Parallel()
	m := newModel(context.Background(), &fakeCore{})
	next, _ := m.Update(replyDoneMsg{err: reply.ErrLookupMiss})
	m = next.(model)
	assert.True(t, m.warn)
	assert.Contains(t, m.status, "No conversations found")
}

func TestEscReturnsToMenu(t *testing.T) {
	t.Parallel()
	m := newModel(context.Background(), twoConversations())
	m, _ = press(t, m, "enter", "space", "enter", "draft", "esc")
	assert.Equal(t, modeMenu, m.mode)
	assert.Empty(t, m.input.Value())
}

func TestMenuNavigationWraps(t *testing.T) {
	t.Parallel()
	m := newModel(context.Background(), &fakeCore{})
	m, _ = press(t, m, "up")
	assert.Equal(t, itemExit, m.cursor)
	m, _ = press(t, m, "down")
	assert.Equal(t, itemReply, m.cursor)
}

func TestExitQuits(t *testing.T) {
	t.Parallel()
	m := newModel(context.Background(), &fakeCore{})
	m, cmd := press(t, m, "4")
	require.NotNil(t, cmd)
	assert.True(t, m.quitting)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestRenderTranscript(t *testing.T) {
	t.Parallel()
	m := newModel(context.Background(), &fakeCore{})
	out := m.renderTranscript(conversation.Snapshot{
		Summary: conversation.Summary{ID: 3, SessionIdentity: "me1", RemoteAddress: "x"},
		Entries: []conversation.Entry{
			{Direction: conversation.Received, Body: "hello?"},
			{Direction: conversation.Sent, Body: "hi"},
		},
	})
	assert.Contains(t, out, "Conversation ID 3 (account: me1, recipient: x)")
	assert.Less(t, strings.Index(out, "< hello?"), strings.Index(out, "> hi"))
}

func TestRunStopsWithContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	var out bytes.Buffer
	s := New(&fakeCore{}, eventbus.New(), WithInput(strings.NewReader("")), WithOutput(&out))

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("shell did not stop")
	}
}
