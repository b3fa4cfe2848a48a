package ui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	colorAccent  = lipgloss.Color("#7c4dff")
	colorBorder  = lipgloss.Color("#3a3a3a")
	colorSuccess = lipgloss.Color("#30d158")
	colorWarning = lipgloss.Color("#ffd60a")
	colorError   = lipgloss.Color("#ff453a")
	colorInfo    = lipgloss.Color("#64d2ff")
	colorMuted   = lipgloss.Color("#808080")
)

// theme holds the styles of one renderer, so output written to a
// non-terminal carries no escape codes.
type theme struct {
	title    lipgloss.Style
	subtitle lipgloss.Style
	section  lipgloss.Style
	label    lipgloss.Style
	muted    lipgloss.Style
	success  lipgloss.Style
	warning  lipgloss.Style
	err      lipgloss.Style
	info     lipgloss.Style
	number   lipgloss.Style
	panel    lipgloss.Style
	header   lipgloss.Style
	cell     lipgloss.Style
}

func newTheme(r *lipgloss.Renderer) theme {
	return theme{
		title:    r.NewStyle().Bold(true).Foreground(colorAccent),
		subtitle: r.NewStyle().Foreground(colorMuted).Italic(true),
		section:  r.NewStyle().Bold(true).Foreground(colorInfo).MarginTop(1),
		label:    r.NewStyle().Bold(true),
		muted:    r.NewStyle().Foreground(colorMuted),
		success:  r.NewStyle().Foreground(colorSuccess),
		warning:  r.NewStyle().Foreground(colorWarning),
		err:      r.NewStyle().Foreground(colorError).Bold(true),
		info:     r.NewStyle().Foreground(colorInfo),
		number:   r.NewStyle().Foreground(colorAccent).Bold(true),
		panel: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1),
		header: r.NewStyle().Bold(true).Foreground(colorAccent).Padding(0, 1),
		cell:   r.NewStyle().Padding(0, 1),
	}
}
