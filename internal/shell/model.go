package shell

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"bulkbot/internal/conversation"
	"bulkbot/internal/reply"
	"bulkbot/internal/session"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

type mode int

const (
	modeMenu mode = iota
	modeSelect
	modeCompose
)

const (
	itemReply = iota
	itemList
	itemJobs
	itemExit
)

var menuItems = []string{"Send reply", "List conversations", "Job status", "Exit"}

const (
	noticeNoConversations = "No conversations yet."
	noticeSelectOne       = "Select at least one conversation."
	noticeEmptyReply      = "Reply cannot be empty."
)

type (
	transcriptMsg conversation.Snapshot
	lifecycleMsg  struct{ err *session.LifecycleError }
	replyDoneMsg  struct {
		n   int
		err error
	}
)

type model struct {
	ctx    context.Context
	core   Core
	styles styles

	mode     mode
	cursor   int
	convs    []conversation.Summary
	selected map[int]bool // index into convs
	input    textinput.Model
	status   string
	warn     bool
	quitting bool
}

func newModel(ctx context.Context, core Core) model {
	in := textinput.New()
	in.Prompt = "reply> "
	in.Placeholder = "message to send"
	in.CharLimit = 4096
	return model{
		ctx:      ctx,
		core:     core,
		styles:   newStyles(),
		selected: map[int]bool{},
		input:    in,
	}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case transcriptMsg:
		return m, tea.Println(m.renderTranscript(conversation.Snapshot(msg)))

	case lifecycleMsg:
		return m, tea.Println(m.styles.warning.Render(msg.err.Error()))

	case replyDoneMsg:
		switch {
		case errors.Is(msg.err, reply.ErrLookupMiss):
			m.setWarn("No conversations found for the selected ids.")
		case msg.err != nil:
			m.setWarn("Reply failed: " + msg.err.Error())
		default:
			m.setNotice(fmt.Sprintf("Scheduled %d %s.", msg.n, plural(msg.n, "reply", "replies")))
		}
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}
		switch m.mode {
		case modeMenu:
			return m.updateMenu(msg)
		case modeSelect:
			return m.updateSelect(msg)
		case modeCompose:
			return m.updateCompose(msg)
		}
	}
	return m, nil
}

func (m model) updateMenu(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		m.cursor = (m.cursor + len(menuItems) - 1) % len(menuItems)
	case "down", "j":
		m.cursor = (m.cursor + 1) % len(menuItems)
	case "q":
		m.quitting = true
		return m, tea.Quit
	case "enter":
		return m.choose(m.cursor)
	default:
		if n, err := strconv.Atoi(msg.String()); err == nil && n >= 1 && n <= len(menuItems) {
			m.cursor = n - 1
			return m.choose(m.cursor)
		}
	}
	return m, nil
}

func (m model) choose(item int) (tea.Model, tea.Cmd) {
	m.status = ""
	switch item {
	case itemReply:
		m.convs = m.core.ListConversations()
		if len(m.convs) == 0 {
			m.setNotice(noticeNoConversations)
			return m, nil
		}
		m.mode = modeSelect
		m.cursor = 0
		m.selected = map[int]bool{}
	case itemList:
		convs := m.core.ListConversations()
		if len(convs) == 0 {
			m.setNotice(noticeNoConversations)
			return m, nil
		}
		lines := make([]string, 0, len(convs)+1)
		lines = append(lines, m.styles.header.Render("Conversations"))
		for _, c := range convs {
			lines = append(lines, "  "+c.Label())
		}
		return m, tea.Println(strings.Join(lines, "\n"))
	case itemJobs:
		jobs := m.core.Jobs()
		if len(jobs) == 0 {
			m.setNotice("No dispatch jobs.")
			return m, nil
		}
		lines := []string{m.styles.header.Render("Jobs")}
		for _, j := range jobs {
			line := fmt.Sprintf("  session %d: %s, sent %d, failed %d, remaining %d", j.Session, j.State, j.Sent, j.Failed, j.Remaining)
			if !j.ResumeAt.IsZero() {
				line += ", resumes " + j.ResumeAt.Format("15:04:05")
			}
			lines = append(lines, line)
		}
		return m, tea.Println(strings.Join(lines, "\n"))
	case itemExit:
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

func (m model) updateSelect(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		m.cursor = (m.cursor + len(m.convs) - 1) % len(m.convs)
	case "down", "j":
		m.cursor = (m.cursor + 1) % len(m.convs)
	case " ", "space", "x":
		if m.selected[m.cursor] {
			delete(m.selected, m.cursor)
		} else {
			m.selected[m.cursor] = true
		}
	case "a":
		if len(m.selected) == len(m.convs) {
			m.selected = map[int]bool{}
		} else {
			for i := range m.convs {
				m.selected[i] = true
			}
		}
	case "esc":
		m.backToMenu()
	case "enter":
		if len(m.selected) == 0 {
			m.setWarn(noticeSelectOne)
			return m, nil
		}
		m.status = ""
		m.mode = modeCompose
		m.input.SetValue("")
		return m, m.input.Focus()
	}
	return m, nil
}

func (m model) updateCompose(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.backToMenu()
		return m, nil
	case "enter":
		body := strings.TrimSpace(m.input.Value())
		if body == "" {
			m.setWarn(noticeEmptyReply)
			return m, nil
		}
		ids := m.selectedIDs()
		m.backToMenu()
		return m, m.submit(ids, body)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) submit(ids []int, body string) tea.Cmd {
	ctx, core := m.ctx, m.core
	return func() tea.Msg {
		n, err := core.SubmitReply(ctx, ids, body)
		return replyDoneMsg{n: n, err: err}
	}
}

// selectedIDs returns the chosen conversation ids in listing order.
func (m model) selectedIDs() []int {
	ids := make([]int, 0, len(m.selected))
	for i, c := range m.convs {
		if m.selected[i] {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

func (m *model) backToMenu() {
	m.mode = modeMenu
	m.cursor = 0
	m.input.Blur()
	m.input.SetValue("")
}

func (m *model) setNotice(s string) { m.status, m.warn = s, false }
func (m *model) setWarn(s string)   { m.status, m.warn = s, true }

func (m model) renderTranscript(s conversation.Snapshot) string {
	var b strings.Builder
	b.WriteString(m.styles.header.Render(s.Label()))
	for _, e := range s.Entries {
		b.WriteString("\n  ")
		if e.Direction == conversation.Sent {
			b.WriteString(m.styles.sent.Render("> " + e.Body))
		} else {
			b.WriteString(m.styles.received.Render("< " + e.Body))
		}
	}
	return b.String()
}

func (m model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	switch m.mode {
	case modeMenu:
		b.WriteString(m.styles.title.Render("What would you like to do?"))
		b.WriteString("\n")
		for i, it := range menuItems {
			b.WriteString(m.line(i == m.cursor, fmt.Sprintf("%d. %s", i+1, it)))
		}
		b.WriteString(m.styles.hint.Render("↑/↓ move · enter select · q quit"))
	case modeSelect:
		b.WriteString(m.styles.title.Render("Select conversations to reply to"))
		b.WriteString("\n")
		for i, c := range m.convs {
			box := "[ ] "
			if m.selected[i] {
				box = m.styles.checked.Render("[x] ")
			}
			b.WriteString(m.line(i == m.cursor, box+c.Label()))
		}
		b.WriteString(m.styles.hint.Render("space toggle · a all · enter continue · esc back"))
	case modeCompose:
		b.WriteString(m.styles.title.Render(fmt.Sprintf("Reply to %d %s", len(m.selected), plural(len(m.selected), "conversation", "conversations"))))
		b.WriteString("\n")
		b.WriteString(m.input.View())
		b.WriteString("\n")
		b.WriteString(m.styles.hint.Render("enter send · esc cancel"))
	}
	if m.status != "" {
		b.WriteString("\n")
		if m.warn {
			b.WriteString(m.styles.warning.Render(m.status))
		} else {
			b.WriteString(m.styles.notice.Render(m.status))
		}
	}
	b.WriteString("\n")
	return b.String()
}

func (m model) line(active bool, text string) string {
	if active {
		return m.styles.cursor.Render("> "+text) + "\n"
	}
	return m.styles.item.Render("  "+text) + "\n"
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
