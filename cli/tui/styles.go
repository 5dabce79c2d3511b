// Package tui provides a read-only Bubble Tea dashboard for a single Oneshot
// task: it tails the task's context file and activity log and renders
// state, iteration count, and last-activity age. It never writes to either
// file and is never imported by the engine — an external consumer of the
// same event stream, per the observability boundary the task record and
// activity log define.
package tui

import "github.com/charmbracelet/lipgloss"

var (
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
)

var (
	// TitleStyle for the dashboard header.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	// LabelStyle for field labels.
	LabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(18)

	// ValueStyle for field values.
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	// SuccessStyle for terminal-success states.
	SuccessStyle = lipgloss.NewStyle().Foreground(successColor)

	// WarningStyle for in-progress states.
	WarningStyle = lipgloss.NewStyle().Foreground(warningColor)

	// ErrorStyle for terminal-failure states and corruption warnings.
	ErrorStyle = lipgloss.NewStyle().Foreground(errorColor)

	// BoxStyle frames the whole dashboard.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(1, 2)

	// HelpStyle for the footer.
	HelpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)
)

// StateStyle colors a task.State's string form: green once completed,
// amber while still running, red for any other terminal state.
func StateStyle(state string) lipgloss.Style {
	switch state {
	case "COMPLETED":
		return SuccessStyle
	case "REJECTED", "FAILED", "INTERRUPTED":
		return ErrorStyle
	case "":
		return ValueStyle
	default:
		return WarningStyle
	}
}
