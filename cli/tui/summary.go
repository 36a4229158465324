package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/buildlink/types"
)

// SummaryModel shows one archived request summary.
type SummaryModel struct {
	requestID string
	summary   *types.RequestSummary
	quitting  bool
}

// NewSummaryModel returns the view of summary.
func NewSummaryModel(requestID string, summary *types.RequestSummary) SummaryModel {
	return SummaryModel{requestID: requestID, summary: summary}
}

// Init implements tea.Model.
func (m SummaryModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m SummaryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, keys.Quit) {
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

// View implements tea.Model.
func (m SummaryModel) View() string {
	if m.quitting {
		return ""
	}
	s := m.summary
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Request " + m.requestID))
	b.WriteString("\n")

	color := successColor
	switch s.Outcome {
	case types.RequestFailed:
		color = errorColor
	case types.RequestCancelled:
		color = warningColor
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		statBox("Outcome", s.Outcome, color),
		statBox("Duration", time.Duration(s.DurationMs)*time.Millisecond, highlightColor),
		statBox("Events", s.Events, highlightColor),
	))
	b.WriteString("\n")

	target := string(s.Action)
	if s.Model != "" {
		target += " " + s.Model
	}
	if len(s.Tasks) > 0 {
		target += " [" + strings.Join(s.Tasks, " ") + "]"
	}
	b.WriteString(MutedStyle.Render(target) + "\n")
	if s.Message != "" {
		b.WriteString(ErrorStyle.Render(fmt.Sprintf("%s: %s", s.ErrorKind, s.Message)) + "\n")
	}
	b.WriteString(HelpStyle.Render("Press q or Ctrl+C to quit"))
	return b.String()
}

// RunSummary shows summary until the user quits.
func RunSummary(requestID string, summary *types.RequestSummary) error {
	_, err := tea.NewProgram(NewSummaryModel(requestID, summary), tea.WithAltScreen()).Run()
	return err
}
