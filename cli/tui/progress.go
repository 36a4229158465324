package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/buildlink/types"
)

// ErrInterrupted is returned by Progress.Run when the user quits the view
// before the request finished.
var ErrInterrupted = errors.New("interrupted")

// recentLimit bounds the finished tests shown under the counters.
const recentLimit = 10

type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// EventMsg delivers one progress event to the model.
type EventMsg types.TestProgressEventV1

// DoneMsg ends the view once the request has finished.
type DoneMsg struct {
	Err error
}

// Model is the live test progress view.
type Model struct {
	title   string
	spinner spinner.Model
	started time.Time
	now     func() time.Time

	running  map[string]string
	counts   map[types.Outcome]int
	recent   []string
	failures []string

	done        bool
	err         error
	interrupted bool
}

// NewModel returns a model titled title.
func NewModel(title string) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(primaryColor)
	return Model{
		title:   title,
		spinner: s,
		started: time.Now(),
		now:     time.Now,
		running: make(map[string]string),
		counts:  make(map[types.Outcome]int),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			if !m.done {
				m.interrupted = true
			}
			return m, tea.Quit
		}
	case EventMsg:
		m.apply(types.TestProgressEventV1(msg))
		return m, nil
	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) apply(ev types.TestProgressEventV1) {
	if ev.Structure != types.StructureAtomic {
		return
	}
	name := DisplayName(ev.Descriptor)
	if ev.Outcome == types.OutcomeStarted {
		m.running[ev.Descriptor.ID] = name
		return
	}
	delete(m.running, ev.Descriptor.ID)
	m.counts[ev.Outcome]++

	line := OutcomeStyle(ev.Outcome).Render(OutcomeSymbol(ev.Outcome) + " " + name)
	m.recent = append(m.recent, line)
	if len(m.recent) > recentLimit {
		m.recent = m.recent[len(m.recent)-recentLimit:]
	}
	if ev.Outcome == types.OutcomeFailed {
		msg := name
		if ev.Result != nil && len(ev.Result.Failures) > 0 {
			msg += ": " + ev.Result.Failures[0].Message
		}
		m.failures = append(m.failures, msg)
	}
}

// Counts returns the finished atomic tests per outcome.
func (m Model) Counts() map[types.Outcome]int {
	return m.counts
}

// Running returns the number of atomic tests started but not finished.
func (m Model) Running() int {
	return len(m.running)
}

// Interrupted reports whether the user quit before the request finished.
func (m Model) Interrupted() bool {
	return m.interrupted
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	header := m.spinner.View() + " " + m.title
	if m.done {
		header = OutcomeSymbol(types.OutcomeSucceeded) + " " + m.title
		if m.err != nil {
			header = ErrorStyle.Render(OutcomeSymbol(types.OutcomeFailed) + " " + m.title)
		}
	}
	b.WriteString(TitleStyle.Render(header))
	b.WriteString("\n")

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		statBox("Running", len(m.running), highlightColor),
		statBox("Passed", m.counts[types.OutcomeSucceeded], successColor),
		statBox("Failed", m.counts[types.OutcomeFailed], errorColor),
		statBox("Skipped", m.counts[types.OutcomeSkipped], warningColor),
	))
	b.WriteString("\n")

	for _, line := range m.recent {
		b.WriteString("  " + line + "\n")
	}
	if len(m.failures) > 0 {
		b.WriteString("\n" + ErrorStyle.Bold(true).Render("Failures") + "\n")
		for _, f := range m.failures {
			b.WriteString("  " + f + "\n")
		}
	}
	elapsed := m.now().Sub(m.started).Round(time.Second)
	b.WriteString(HelpStyle.Render(fmt.Sprintf("%s elapsed  •  q to quit", elapsed)))
	return b.String() + "\n"
}

// Progress is a types.ProgressListener driving a live Model.
type Progress struct {
	program *tea.Program
}

// NewProgress returns an unstarted live view.
func NewProgress(title string, opts ...tea.ProgramOption) *Progress {
	return &Progress{program: tea.NewProgram(NewModel(title), opts...)}
}

// OnEvent implements types.ProgressListener.
func (p *Progress) OnEvent(ev types.TestProgressEventV1) {
	p.program.Send(EventMsg(ev))
}

// SubscribedEvents implements types.ProgressListener.
func (p *Progress) SubscribedEvents() []types.EventKind {
	return []types.EventKind{types.EventKindTestProgress}
}

// Done ends the view with the request's error.
func (p *Progress) Done(err error) {
	p.program.Send(DoneMsg{Err: err})
}

// Run blocks until Done or the user quits. It returns ErrInterrupted when the
// user quit first.
func (p *Progress) Run() error {
	final, err := p.program.Run()
	if err != nil {
		return err
	}
	if m, ok := final.(Model); ok && m.Interrupted() {
		return ErrInterrupted
	}
	return nil
}

var _ types.ProgressListener = (*Progress)(nil)
