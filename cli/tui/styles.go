// Package tui renders test progress with Bubble Tea.
//
// The live view is opt-in (--tui) and shows the same events the plain
// progress output prints.
package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/buildlink/types"
)

var (
	primaryColor   = lipgloss.Color("#7C3AED")
	successColor   = lipgloss.Color("#10B981")
	warningColor   = lipgloss.Color("#F59E0B")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")
	highlightColor = lipgloss.Color("#3B82F6")
)

// Styles shared by the TUI and the plain progress writer.
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	SuccessStyle = lipgloss.NewStyle().Foreground(successColor)
	WarningStyle = lipgloss.NewStyle().Foreground(warningColor)
	ErrorStyle   = lipgloss.NewStyle().Foreground(errorColor)
	MutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)

	HelpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)

	StatBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlightColor).
			Padding(0, 2).
			Width(16).
			Align(lipgloss.Center)

	StatLabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Align(lipgloss.Center)

	StatValueStyle = lipgloss.NewStyle().
			Bold(true).
			Align(lipgloss.Center)
)

// OutcomeStyle returns the style of a progress outcome.
func OutcomeStyle(o types.Outcome) lipgloss.Style {
	switch o {
	case types.OutcomeSucceeded:
		return SuccessStyle
	case types.OutcomeSkipped:
		return WarningStyle
	case types.OutcomeFailed:
		return ErrorStyle
	default:
		return MutedStyle
	}
}

// OutcomeSymbol returns the one-character marker of a progress outcome.
func OutcomeSymbol(o types.Outcome) string {
	switch o {
	case types.OutcomeSucceeded:
		return "✓"
	case types.OutcomeSkipped:
		return "-"
	case types.OutcomeFailed:
		return "✗"
	default:
		return "·"
	}
}

// DisplayName is "Class > name" when the descriptor has a class, else the name.
func DisplayName(d types.TestDescriptorV1) string {
	if d.ClassName != nil && *d.ClassName != "" && *d.ClassName != d.Name {
		return *d.ClassName + " > " + d.Name
	}
	return d.Name
}

// statBox renders one labelled counter.
func statBox(label string, value any, color lipgloss.Color) string {
	content := lipgloss.JoinVertical(lipgloss.Center,
		StatValueStyle.Foreground(color).Render(fmt.Sprint(value)),
		StatLabelStyle.Render(label),
	)
	return StatBoxStyle.BorderForeground(color).Render(content)
}
