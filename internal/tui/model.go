// Package tui renders a running removal as a full-screen terminal view.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"

	"github.com/Dicklesworthstone/licrm/internal/events"
	lprogress "github.com/Dicklesworthstone/licrm/internal/progress"
	"github.com/Dicklesworthstone/licrm/internal/scheduler"
)

// DefaultLogLines is how many recent event lines the view keeps.
const DefaultLogLines = 8

// EventMsg carries a loop event into the program.
type EventMsg events.Event

type keyMap struct {
	Quit key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c", "esc"),
			key.WithHelp("q", "stop"),
		),
	}
}

// Model is the bubbletea model for a run.
type Model struct {
	keys     keyMap
	bar      progress.Model
	spinner  spinner.Model
	cancel   func()
	now      func() time.Time
	loc      *time.Location
	width    int
	maxLines int

	removed     int
	total       int
	pending     int
	recent      int
	overall     float64
	eta         time.Time
	cooldownEnd time.Time
	abandoned   []string

	lines    []styledLine
	done     bool
	canceled bool
}

type styledLine struct {
	sev  events.Severity
	text string
}

// New creates a model for a run of total licenses. cancel is called when the
// user quits before the queue drains.
func New(total int, cancel func()) *Model {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = statusStyle

	return &Model{
		keys:     defaultKeyMap(),
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		spinner:  sp,
		cancel:   cancel,
		now:      time.Now,
		loc:      time.Local,
		width:    80,
		maxLines: DefaultLogLines,
		total:    total,
		pending:  total,
	}
}

// Done reports whether the queue drained.
func (m *Model) Done() bool { return m.done }

// Canceled reports whether the user stopped the run.
func (m *Model) Canceled() bool { return m.canceled }

// Init implements tea.Model
func (m *Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		w := msg.Width - 16
		if w > 60 {
			w = 60
		}
		if w < 10 {
			w = 10
		}
		m.bar.Width = w
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			if !m.done {
				m.canceled = true
				if m.cancel != nil {
					m.cancel()
				}
			}
			return m, tea.Quit
		}
		return m, nil

	case EventMsg:
		return m, m.apply(events.Event(msg))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) apply(e events.Event) tea.Cmd {
	m.removed = e.Removed
	if e.Total > 0 {
		m.total = e.Total
	}
	m.pending = e.Pending

	switch e.Kind {
	case events.KindSuccess:
		m.recent = e.RecentRate
		m.overall = e.OverallRate
		m.eta = e.ETA
	case events.KindCooldownStart, events.KindCooldownTick:
		m.cooldownEnd = e.Time.Add(e.CooldownRemaining)
	case events.KindCooldownEnd:
		m.cooldownEnd = time.Time{}
	case events.KindDrained:
		m.abandoned = e.Abandoned
		m.done = true
	}

	// Ticks only refresh the countdown; they would flood the log.
	if e.Kind != events.KindCooldownTick {
		m.lines = append(m.lines, styledLine{sev: e.Kind.Severity(), text: lprogress.FormatIn(e, m.loc)})
		if len(m.lines) > m.maxLines {
			m.lines = m.lines[len(m.lines)-m.maxLines:]
		}
	}

	if m.done {
		return tea.Quit
	}
	return nil
}

func (m *Model) cooling() (time.Duration, bool) {
	if m.cooldownEnd.IsZero() {
		return 0, false
	}
	left := m.cooldownEnd.Sub(m.now())
	if left < 0 {
		left = 0
	}
	return left, true
}

// View implements tea.Model
func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("licrm"))
	b.WriteString("  ")
	switch left, cooling := m.cooling(); {
	case m.done:
		b.WriteString(doneStyle.Render("Finished"))
	case m.canceled:
		b.WriteString(warnStyle.Render("Stopping..."))
	case cooling:
		b.WriteString(m.spinner.View() + " " + coolStyle.Render("Cooling down: "+scheduler.FormatCountdown(left)+" remaining"))
	default:
		b.WriteString(m.spinner.View() + " " + statusStyle.Render("Removing licenses"))
	}
	b.WriteString("\n\n")

	pct := 0.0
	if m.total > 0 {
		pct = float64(m.removed) / float64(m.total)
	}
	b.WriteString(m.bar.ViewAs(pct))
	fmt.Fprintf(&b, "  %d/%d\n", m.removed, m.total)

	stats := fmt.Sprintf("Rate: %d/hour (last hour), %g/hour (overall)", m.recent, m.overall)
	if !m.eta.IsZero() && !m.done {
		stats += "  ETA: " + m.eta.In(m.loc).Format(time.TimeOnly)
	}
	if len(m.abandoned) > 0 {
		stats += fmt.Sprintf("  Abandoned: %d", len(m.abandoned))
	}
	b.WriteString(dimStyle.Render(stats))
	b.WriteString("\n\n")

	width := m.width
	if width <= 0 {
		width = 80
	}
	for _, l := range m.lines {
		text := truncate.StringWithTail(l.text, uint(width), "…")
		b.WriteString(lineStyle(l.sev).Render(text))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	help := m.keys.Quit.Help()
	b.WriteString(dimStyle.Render(help.Key + " " + help.Desc))
	b.WriteString("\n")
	return b.String()
}

func lineStyle(sev events.Severity) lipgloss.Style {
	switch sev {
	case events.SeverityError:
		return errorStyle
	case events.SeverityWarning:
		return warnStyle
	case events.SeveritySuccess:
		return okStyle
	default:
		return dimStyle
	}
}
