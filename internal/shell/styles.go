package shell

import "github.com/charmbracelet/lipgloss"

type styles struct {
	title    lipgloss.Style
	cursor   lipgloss.Style
	item     lipgloss.Style
	checked  lipgloss.Style
	hint     lipgloss.Style
	notice   lipgloss.Style
	warning  lipgloss.Style
	header   lipgloss.Style
	sent     lipgloss.Style
	received lipgloss.Style
}

func newStyles() styles {
	accent := lipgloss.Color("#7D56F4")
	muted := lipgloss.Color("241")
	return styles{
		title:    lipgloss.NewStyle().Bold(true).Foreground(accent),
		cursor:   lipgloss.NewStyle().Foreground(accent).Bold(true),
		item:     lipgloss.NewStyle(),
		checked:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		hint:     lipgloss.NewStyle().Foreground(muted),
		notice:   lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		warning:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		header:   lipgloss.NewStyle().Bold(true).Underline(true),
		sent:     lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		received: lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
	}
}
