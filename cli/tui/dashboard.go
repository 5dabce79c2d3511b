package tui

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/justapithecus/oneshot/pipeline"
	"github.com/justapithecus/oneshot/task"
)

// pollInterval is how often the dashboard re-reads the context file and
// activity log while a task is still running.
const pollInterval = 500 * time.Millisecond

// Snapshot is one read of a task's on-disk state, everything the dashboard
// needs to render a frame.
type Snapshot struct {
	Record         task.Record
	ActivityLines  int
	LogCorrupted   bool
	LogBadLine     int
	LastActivityAt time.Time
	ReadAt         time.Time
}

// ReadSnapshot loads the current context file and activity log without
// holding either open, so it never contends with the engine process
// actually writing them.
func ReadSnapshot(contextPath, activityLogPath string, now func() time.Time) (Snapshot, error) {
	data, err := os.ReadFile(contextPath)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read context: %w", err)
	}
	var rec task.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Snapshot{}, fmt.Errorf("parse context: %w", err)
	}

	snap := Snapshot{Record: rec, LastActivityAt: rec.UpdatedAt, ReadAt: now()}

	logData, err := os.ReadFile(activityLogPath)
	if err != nil {
		if os.IsNotExist(err) {
			return snap, nil
		}
		return Snapshot{}, fmt.Errorf("read activity log: %w", err)
	}
	snap.ActivityLines = countNonBlankLines(logData)
	if ok, bad := pipeline.ValidateNDJSON(logData); !ok {
		snap.LogCorrupted = true
		snap.LogBadLine = bad
	}

	return snap, nil
}

func countNonBlankLines(data []byte) int {
	n := 0
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

type tickMsg time.Time

type snapshotMsg struct {
	snapshot Snapshot
	err      error
}

// Model is the Bubble Tea model for the dashboard: it owns nothing but file
// paths and the last successful read, polling on a fixed interval.
type Model struct {
	contextPath     string
	activityLogPath string
	now             func() time.Time

	snapshot Snapshot
	err      error
	width    int
	height   int
	quitting bool
}

// NewModel builds a dashboard Model for one task's on-disk files.
func NewModel(contextPath, activityLogPath string) Model {
	return Model{contextPath: contextPath, activityLogPath: activityLogPath, now: time.Now}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) refresh() tea.Cmd {
	return func() tea.Msg {
		snap, err := ReadSnapshot(m.contextPath, m.activityLogPath, m.now)
		return snapshotMsg{snapshot: snap, err: err}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case tickMsg:
		if m.snapshot.Record.State.Terminal() {
			return m, nil
		}
		return m, tea.Batch(m.refresh(), tickCmd())

	case snapshotMsg:
		m.snapshot = msg.snapshot
		m.err = msg.err
		return m, nil
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return BoxStyle.Render(ErrorStyle.Render(fmt.Sprintf("error reading task state: %v", m.err)))
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Oneshot Task"))
	b.WriteString("\n\n")

	rec := m.snapshot.Record
	rows := [][2]string{
		{"Oneshot ID", rec.OneshotID},
		{"State", string(rec.State)},
		{"Iteration", fmt.Sprintf("%d / %d", rec.IterationCount, rec.MaxIterations)},
		{"Last Activity", formatElapsed(m.snapshot.LastActivityAt, m.snapshot.ReadAt)},
		{"Activity Lines", fmt.Sprintf("%d", m.snapshot.ActivityLines)},
	}
	for _, row := range rows {
		label := LabelStyle.Render(row[0] + ":")
		value := ValueStyle.Render(row[1])
		if row[0] == "State" {
			value = StateStyle(row[1]).Render(row[1])
		}
		b.WriteString(fmt.Sprintf("%s %s\n", label, value))
	}

	if rec.WorkerResult != nil {
		b.WriteString(fmt.Sprintf("\n%s\n%s\n", LabelStyle.Render("Worker result:"), ValueStyle.Render(*rec.WorkerResult)))
	}
	if rec.AuditorResult != nil {
		b.WriteString(fmt.Sprintf("\n%s\n%s\n", LabelStyle.Render("Auditor result:"), ValueStyle.Render(*rec.AuditorResult)))
	}
	if m.snapshot.LogCorrupted {
		b.WriteString("\n")
		b.WriteString(ErrorStyle.Render(fmt.Sprintf("activity log is malformed at line %d", m.snapshot.LogBadLine)))
		b.WriteString("\n")
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return BoxStyle.Render(b.String()) + "\n" + help
}

// formatElapsed renders how long ago ts was, relative to now, or "never" for
// a zero timestamp.
func formatElapsed(ts, now time.Time) string {
	if ts.IsZero() {
		return "never"
	}
	d := now.Sub(ts).Round(time.Second)
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%s ago", d)
}

// Run starts the dashboard's Bubble Tea program against the given context
// and activity log files, blocking until the user quits.
func Run(contextPath, activityLogPath string) error {
	p := tea.NewProgram(NewModel(contextPath, activityLogPath), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
