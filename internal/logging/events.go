// Package logging renders the fuzzer loop's state-machine transitions and
// periodic stats as a small bubbletea/lipgloss terminal program, adapted
// from the teacher's internal/ui dashboard, and rate-limits how often the
// loop may push a repaint so a tight inner loop can't flood the terminal.
package logging

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/time/rate"
)

var (
	colorRunning = lipgloss.Color("#00FF00")
	colorCrashed = lipgloss.Color("#FF0055")
	colorStopped = lipgloss.Color("#FFFF00")
	colorDim     = lipgloss.Color("#666666")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00FFFF"))

	runningStyle = lipgloss.NewStyle().Bold(true).Foreground(colorRunning)
	crashedStyle = lipgloss.NewStyle().Bold(true).Foreground(colorCrashed)
	stoppedStyle = lipgloss.NewStyle().Bold(true).Foreground(colorStopped)
	labelStyle   = lipgloss.NewStyle().Foreground(colorDim)
)

// Phase mirrors the fuzzer loop's state machine for display purposes.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseReadingCorpus
	PhaseRunning
	PhaseRecording
	PhaseAnalysing
	PhaseStopped
	PhaseCrashed
	PhaseTestFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseReadingCorpus:
		return "reading corpus"
	case PhaseRunning:
		return "running"
	case PhaseRecording:
		return "recording"
	case PhaseAnalysing:
		return "analysing"
	case PhaseStopped:
		return "stopped"
	case PhaseCrashed:
		return "crashed"
	case PhaseTestFailed:
		return "test failed"
	default:
		return "unknown"
	}
}

// Stats is the snapshot the fuzzer loop pushes on every tick.
type Stats struct {
	Phase         Phase
	Iterations    int64
	ExecsPerSec   float64
	CorpusSize    int
	FailureCount  int
	CoverageRatio float64
	LastEvent     string
}

// tickMsg drives the periodic repaint.
type tickMsg time.Time

// statsMsg carries a fresh Stats snapshot into the bubbletea loop.
type statsMsg Stats

// Reporter is the external sink the fuzzer loop pushes stats/events into.
// It rate-limits forwarded updates so a target executing thousands of
// iterations per second doesn't starve the terminal's repaint.
type Reporter struct {
	limiter *rate.Limiter
	program *tea.Program
}

// NewReporter starts a terminal dashboard program, forwarding at most
// maxHz stats updates per second.
func NewReporter(maxHz float64) *Reporter {
	if maxHz <= 0 {
		maxHz = 10
	}
	m := &model{}
	p := tea.NewProgram(m, tea.WithAltScreen())
	return &Reporter{
		limiter: rate.NewLimiter(rate.Limit(maxHz), 1),
		program: p,
	}
}

// Run blocks running the terminal program; call it from its own
// goroutine and Stop() to end it.
func (r *Reporter) Run() error {
	_, err := r.program.Run()
	return err
}

// Stop ends the terminal program.
func (r *Reporter) Stop() { r.program.Quit() }

// Push forwards a stats snapshot, dropped silently if it arrives faster
// than the configured rate.
func (r *Reporter) Push(s Stats) {
	if !r.limiter.Allow() {
		return
	}
	r.program.Send(statsMsg(s))
}

// Event forwards a one-off event line (e.g. "new coverage", "crash
// found") regardless of the stats rate limit, since these are rare and
// operator-relevant.
func (r *Reporter) Event(line string) {
	r.program.Send(statsMsg{LastEvent: line})
}

type model struct {
	width, height int
	stats         Stats
}

func (m *model) Init() tea.Cmd { return tickCmd() }

func tickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
	case statsMsg:
		if msg.Phase != 0 || msg.Iterations != 0 || msg.CorpusSize != 0 {
			m.stats = Stats(msg)
		} else if msg.LastEvent != "" {
			m.stats.LastEvent = msg.LastEvent
		}
	case tickMsg:
		return m, tickCmd()
	}
	return m, nil
}

func (m *model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("corefuzz"))
	b.WriteString("  ")
	b.WriteString(phaseStyle(m.stats.Phase).Render(m.stats.Phase.String()))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "%s %d\n", labelStyle.Render("iterations:"), m.stats.Iterations)
	fmt.Fprintf(&b, "%s %.1f/s\n", labelStyle.Render("execs:"), m.stats.ExecsPerSec)
	fmt.Fprintf(&b, "%s %d\n", labelStyle.Render("corpus:"), m.stats.CorpusSize)
	fmt.Fprintf(&b, "%s %d\n", labelStyle.Render("failures:"), m.stats.FailureCount)
	fmt.Fprintf(&b, "%s %.2f%%\n", labelStyle.Render("coverage:"), m.stats.CoverageRatio*100)

	if m.stats.LastEvent != "" {
		b.WriteString("\n")
		b.WriteString(labelStyle.Render(m.stats.LastEvent))
	}

	b.WriteString("\n\n")
	b.WriteString(labelStyle.Render("q: quit"))
	return b.String()
}

func phaseStyle(p Phase) lipgloss.Style {
	switch p {
	case PhaseRunning, PhaseRecording, PhaseAnalysing:
		return runningStyle
	case PhaseCrashed, PhaseTestFailed:
		return crashedStyle
	case PhaseStopped:
		return stoppedStyle
	default:
		return labelStyle
	}
}
