package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/mcrun/internal/completion"
	"github.com/san-kum/mcrun/internal/run"
)

var (
	cyan    = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white   = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim     = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	dimmer  = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	green   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	red     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	magenta = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
)

const (
	historyLen   = 60
	pollInterval = 2 * time.Second
)

type statusMsg struct {
	status *run.Status
	err    error
}

type changedMsg struct{}

type tickMsg time.Time

// Monitor is a bubbletea model showing the progress recorded in a method-log
// status file. It reloads the file on every change notification and on a
// slow poll.
type Monitor struct {
	path    string
	changes <-chan struct{}

	status  *run.Status
	err     error
	runID   string
	history map[string][]float64

	width  int
	height int
}

// NewMonitor returns a monitor for the status file at path. changes may be
// nil, in which case the file is only polled.
func NewMonitor(path string, changes <-chan struct{}) Monitor {
	return Monitor{
		path:    path,
		changes: changes,
		history: make(map[string][]float64),
		width:   80,
		height:  24,
	}
}

func (m Monitor) Init() tea.Cmd {
	return tea.Batch(load(m.path), waitForChange(m.changes), tick())
}

func load(path string) tea.Cmd {
	return func() tea.Msg {
		s, err := run.ReadStatus(path)
		return statusMsg{status: s, err: err}
	}
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return changedMsg{}
	}
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, load(m.path)
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case statusMsg:
		m.apply(msg)
	case changedMsg:
		return m, tea.Batch(load(m.path), waitForChange(m.changes))
	case tickMsg:
		return m, tea.Batch(load(m.path), tick())
	}
	return m, nil
}

func (m *Monitor) apply(msg statusMsg) {
	m.err = msg.err
	if msg.err != nil || msg.status == nil {
		return
	}
	if msg.status.RunID != m.runID {
		m.runID = msg.status.RunID
		m.history = make(map[string][]float64)
	}
	if m.status != nil && m.status.RunID == msg.status.RunID && !msg.status.UpdatedAt.After(m.status.UpdatedAt) {
		return
	}
	m.status = msg.status
	for _, f := range msg.status.Fixtures {
		for _, o := range f.Observables {
			key := historyKey(f.Label, o)
			h := append(m.history[key], o.Estimate.HalfWidth)
			if len(h) > historyLen {
				h = h[len(h)-historyLen:]
			}
			m.history[key] = h
		}
	}
}

func historyKey(label string, o completion.ObservableReport) string {
	return label + "/" + o.Name + ":" + o.Component
}

func (m Monitor) View() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(dimmer.Render("   ╺━━━━━━━━━━━━━━━━━━━━━━━━╸") + "\n")
	b.WriteString("            " + cyan.Render("m c r u n") + "\n")
	b.WriteString(dimmer.Render("   ╺━━━━━━━━━━━━━━━━━━━━━━━━╸") + "\n\n")

	if m.status == nil {
		if m.err != nil {
			b.WriteString("   " + yellow.Render("waiting for ") + dim.Render(m.path) + "\n")
			b.WriteString("   " + dimmer.Render(m.err.Error()) + "\n")
		} else {
			b.WriteString("   " + dim.Render("loading "+m.path) + "\n")
		}
		b.WriteString("\n" + dim.Render("   r reload  q quit") + "\n")
		return b.String()
	}

	s := m.status
	b.WriteString(fmt.Sprintf("   %s run %s  %s  %s\n",
		phaseIcon(s.Phase), white.Render(fmt.Sprint(s.RunIndex)), dim.Render(shortID(s.RunID)), phaseText(s.Phase)))
	b.WriteString("   " + conditionsLine(s) + "\n")
	b.WriteString(fmt.Sprintf("   %s %d  %s %d  %s %.2f  %s %.1fs\n\n",
		dim.Render("step"), s.Step, dim.Render("pass"), s.Pass,
		dim.Render("time"), s.Time, dim.Render("clock"), s.Clocktime))

	for _, f := range s.Fixtures {
		b.WriteString(fmt.Sprintf("   %s  %s %d  %s %d  %s\n",
			cyan.Render(f.Label), dim.Render("count"), f.Count, dim.Render("samples"), f.NSamples, completionText(f)))
		for _, o := range f.Observables {
			mark := yellow.Render("○")
			if o.Converged {
				mark = green.Render("●")
			}
			b.WriteString(fmt.Sprintf("     %s %-28s %s ± %s  %s  %s\n",
				mark,
				o.Name+":"+o.Component,
				white.Render(fmt.Sprintf("%12.6g", o.Estimate.Mean)),
				magenta.Render(fmt.Sprintf("%-10.3g", o.Estimate.HalfWidth)),
				dim.Render(precisionText(o.Precision)),
				cyan.Render(sparkline(m.history[historyKey(f.Label, o)], 20))))
		}
		b.WriteString("\n")
	}

	if m.err != nil {
		b.WriteString("   " + red.Render(m.err.Error()) + "\n")
	}
	b.WriteString(dim.Render(fmt.Sprintf("   updated %s", s.UpdatedAt.Local().Format(time.TimeOnly))) + "\n")
	b.WriteString("\n" + dim.Render("   r reload  q quit") + "\n")
	return b.String()
}

func phaseIcon(p run.Phase) string {
	switch p {
	case run.PhaseRunning:
		return green.Render("●")
	case run.PhaseAborted:
		return red.Render("✕")
	default:
		return cyan.Render("○")
	}
}

func phaseText(p run.Phase) string {
	switch p {
	case run.PhaseRunning:
		return green.Render(string(p))
	case run.PhaseAborted:
		return red.Render(string(p))
	default:
		return cyan.Render(string(p))
	}
}

func completionText(f run.FixtureStatus) string {
	switch f.Completion {
	case completion.StatusConverged:
		return green.Render("converged")
	case completion.StatusCutoff:
		return yellow.Render("forced by " + f.ForcedBy)
	case "":
		return ""
	default:
		return dim.Render(string(f.Completion))
	}
}

func precisionText(p completion.Precision) string {
	var parts []string
	if p.Abs != nil {
		parts = append(parts, fmt.Sprintf("abs %.3g", *p.Abs))
	}
	if p.Rel != nil {
		parts = append(parts, fmt.Sprintf("rel %.3g", *p.Rel))
	}
	return strings.Join(parts, " ")
}

func conditionsLine(s *run.Status) string {
	names, values := s.Conditions.Flatten()
	parts := make([]string, len(names))
	for i := range names {
		parts[i] = dim.Render(names[i]+"=") + white.Render(fmt.Sprintf("%.4g", values[i]))
	}
	return strings.Join(parts, "  ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func sparkline(data []float64, width int) string {
	if len(data) == 0 {
		return ""
	}
	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}
	minVal, maxVal := data[0], data[0]
	for _, v := range data {
		minVal = min(minVal, v)
		maxVal = max(maxVal, v)
	}
	rang := maxVal - minVal
	if rang == 0 {
		rang = 1
	}
	if len(data) > width {
		data = data[len(data)-width:]
	}
	var sb strings.Builder
	for _, v := range data {
		idx := int((v - minVal) / rang * 7)
		sb.WriteRune(chars[max(0, min(idx, 7))])
	}
	return sb.String()
}

// Run shows the monitor for the status file at path until the user quits or
// ctx is done.
func Run(ctx context.Context, path string) error {
	w, err := NewWatcher(path)
	if err != nil {
		return err
	}
	defer w.Close()

	p := tea.NewProgram(NewMonitor(path, w.Changes()), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	return err
}
