package output

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Styles holds the lipgloss styles used by the CLI.
type Styles struct {
	Header1 lipgloss.Style
	Header2 lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Info    lipgloss.Style
	ID      lipgloss.Style
}

// NewStyles builds styles bound to a lipgloss renderer so colour output
// follows the destination's terminal profile.
func NewStyles(r *lipgloss.Renderer) *Styles {
	return &Styles{
		Header1: r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Underline(true),
		Header2: r.NewStyle().Bold(true).Foreground(lipgloss.Color("14")),
		Bold:    r.NewStyle().Bold(true),
		Muted:   r.NewStyle().Foreground(lipgloss.Color("8")),
		Success: r.NewStyle().Foreground(lipgloss.Color("10")),
		Warning: r.NewStyle().Foreground(lipgloss.Color("11")),
		Error:   r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		Info:    r.NewStyle().Foreground(lipgloss.Color("12")),
		ID:      r.NewStyle().Foreground(lipgloss.Color("13")),
	}
}

// Status maps a task, rule or run status to an icon and style.
func (s *Styles) Status(status string) (string, lipgloss.Style) {
	switch strings.ToLower(status) {
	case "success", "pass", "passed", "committed":
		return "✓", s.Success
	case "fail", "failed", "error", "aborted":
		return "✗", s.Error
	case "skipped":
		return "-", s.Muted
	case "running", "pending":
		return "…", s.Info
	default:
		return "•", s.Warning
	}
}

// FormatHeader formats a markdown header.
func FormatHeader(level int, text string) string {
	if level < 1 {
		level = 1
	}
	return strings.Repeat("#", level) + " " + text
}

// FormatKeyValue formats a markdown list item with a bold key.
func FormatKeyValue(key string, value any) string {
	return fmt.Sprintf("- **%s**: %v", key, value)
}
