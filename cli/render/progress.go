package render

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/buildlink/cli/tui"
	"github.com/pithecene-io/buildlink/types"
)

// ProgressWriter prints one line per finished test. Started events print
// only for suites. Safe for concurrent use.
type ProgressWriter struct {
	mu      sync.Mutex
	out     io.Writer
	noColor bool
	counts  map[types.Outcome]int
}

// NewProgressWriter returns a listener printing to out.
func NewProgressWriter(out io.Writer, noColor bool) *ProgressWriter {
	return &ProgressWriter{out: out, noColor: noColor, counts: make(map[types.Outcome]int)}
}

// OnEvent implements types.ProgressListener.
func (p *ProgressWriter) OnEvent(ev types.TestProgressEventV1) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ev.Outcome == types.OutcomeStarted {
		if ev.Structure == types.StructureSuite {
			fmt.Fprintln(p.out, p.style(tui.TitleStyle.UnsetMarginBottom(), tui.DisplayName(ev.Descriptor)))
		}
		return
	}
	if ev.Structure == types.StructureAtomic {
		p.counts[ev.Outcome]++
	}
	line := fmt.Sprintf("  %s %s", tui.OutcomeSymbol(ev.Outcome), tui.DisplayName(ev.Descriptor))
	if ev.Result != nil {
		line += fmt.Sprintf(" (%dms)", ev.Result.EndTime-ev.Result.StartTime)
	}
	fmt.Fprintln(p.out, p.style(tui.OutcomeStyle(ev.Outcome), line))
	if ev.Outcome == types.OutcomeFailed && ev.Result != nil {
		for _, f := range ev.Result.Failures {
			for c := &f; c != nil; c = c.Cause {
				fmt.Fprintln(p.out, p.style(tui.HelpStyle.UnsetMarginTop(), "      "+c.Message))
			}
		}
	}
}

// SubscribedEvents implements types.ProgressListener.
func (p *ProgressWriter) SubscribedEvents() []types.EventKind {
	return []types.EventKind{types.EventKindTestProgress}
}

// Summary returns the atomic test counts seen so far.
func (p *ProgressWriter) Summary() (succeeded, failed, skipped int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[types.OutcomeSucceeded], p.counts[types.OutcomeFailed], p.counts[types.OutcomeSkipped]
}

func (p *ProgressWriter) style(s lipgloss.Style, text string) string {
	if p.noColor {
		return text
	}
	return s.Render(text)
}
