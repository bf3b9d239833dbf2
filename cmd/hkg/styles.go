package main

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	ColorPrimary   = lipgloss.Color("#7C3AED") // Purple
	ColorMuted     = lipgloss.Color("#6B7280") // Gray
	ColorSuccess   = lipgloss.Color("#10B981") // Green
	ColorError     = lipgloss.Color("#EF4444") // Red
	ColorWarning   = lipgloss.Color("#F59E0B") // Amber
	ColorHighlight = lipgloss.Color("#3B82F6") // Blue
)

// styles renders output for one writer. Colors are dropped when the writer
// is not a terminal.
type styles struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Success   lipgloss.Style
	Error     lipgloss.Style
	Warning   lipgloss.Style
	Muted     lipgloss.Style
	Highlight lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		Title:     r.NewStyle().Bold(true).Foreground(ColorPrimary),
		Subtitle:  r.NewStyle().Foreground(ColorMuted).Italic(true),
		Success:   r.NewStyle().Foreground(ColorSuccess),
		Error:     r.NewStyle().Foreground(ColorError).Bold(true),
		Warning:   r.NewStyle().Foreground(ColorWarning),
		Muted:     r.NewStyle().Foreground(ColorMuted),
		Highlight: r.NewStyle().Foreground(ColorHighlight).Bold(true),
	}
}
