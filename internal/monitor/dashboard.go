// Package monitor renders a live terminal dashboard of one change set's
// review: gate states, retry budgets, the routing decision and hop
// activity.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/reviewd/internal/ledger"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	evidenceWidth   = 48
	fetchTimeout    = 5 * time.Second
)

// Model is the bubbletea model of the dashboard.
type Model struct {
	source     Source
	key        ledger.Key
	interval   time.Duration
	lastUpdate time.Time
	snap       ledger.Snapshot
	loaded     bool
	err        error
	quitting   bool
	now        func() time.Time

	// activity holds hops appended per refresh.
	activity []float64
	settled  progress.Model
}

// k9s-like palette.
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard polling source for key every interval.
func NewModel(source Source, key ledger.Key, interval time.Duration) Model {
	return Model{
		source:   source,
		key:      key,
		interval: interval,
		now:      time.Now,
		activity: make([]float64, 0, historySize),
		settled: progress.New(
			progress.WithGradient("#00ffff", "#00ff00"),
			progress.WithWidth(40),
		),
	}
}

type tickMsg time.Time
type snapshotMsg ledger.Snapshot
type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }

// Init starts polling.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(m.interval), fetch(m.source, m.key))
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetch(source Source, key ledger.Key) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		snap, err := source.Snapshot(ctx, key)
		if err != nil {
			return errMsg{err}
		}
		return snapshotMsg(snap)
	}
}

// Update handles key presses, ticks and fetch results.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetch(m.source, m.key)
		}

	case tickMsg:
		if m.loaded && m.snap.Archived {
			// Archived ledgers no longer change.
			return m, nil
		}
		return m, tea.Batch(tick(m.interval), fetch(m.source, m.key))

	case snapshotMsg:
		snap := ledger.Snapshot(msg)
		var delta float64
		if m.loaded && snap.LastSeq > m.snap.LastSeq {
			delta = float64(snap.LastSeq - m.snap.LastSeq)
		}
		m.activity = appendToHistory(m.activity, delta)
		m.snap = snap
		m.loaded = true
		m.lastUpdate = m.now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = msg.err
		return m, nil
	}
	return m, nil
}

func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}
	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()
	return sparklineStyle.Render(spark.View())
}

// decisionBadge summarizes the change set's routing decision.
func decisionBadge(snap ledger.Snapshot) string {
	switch {
	case snap.Archived:
		return dimStyle.Render("■ ARCHIVED")
	case snap.Decision.State == ledger.DecisionPromote:
		return healthyStyle.Render("✓ READY")
	case snap.Decision.State == ledger.DecisionBlock:
		return errorStyle.Render("✗ BLOCKED")
	}
	return warningStyle.Render("● REVIEWING")
}

func gateBadge(g ledger.Gate) string {
	switch g.Status {
	case ledger.StatusPass:
		return healthyStyle.Render("[✓]")
	case ledger.StatusFail:
		return errorStyle.Render("[✗]")
	case ledger.StatusSkipped:
		return dimStyle.Render("[-]")
	case ledger.StatusRunning:
		return warningStyle.Render("[▶]")
	}
	if g.AwaitingSpecialist {
		return warningStyle.Render("[⚑]")
	}
	return dimStyle.Render("[ ]")
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// settledRatio is the share of gates with a result.
func settledRatio(gates []ledger.Gate) float64 {
	if len(gates) == 0 {
		return 0
	}
	var n int
	for _, g := range gates {
		if g.Status.Settled() {
			n++
		}
	}
	return float64(n) / float64(len(gates))
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil && !m.loaded {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(" reviewd watch ") + "\n\n")
	b.WriteString(errorStyle.Render("⚠ Cannot load "+m.key.String()) + "\n\n")
	b.WriteString(dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n")
	b.WriteString(footerStyle.Render("[q] quit  [r] retry") + "\n")
	return containerStyle.Render(b.String())
}

func (m Model) renderDashboard() string {
	var b strings.Builder
	snap := m.snap

	b.WriteString(headerStyle.Render(" reviewd · "+m.key.String()+" ") + "\n")
	fmt.Fprintf(&b, "%s   %s %s   %s %s\n",
		decisionBadge(snap),
		dimStyle.Render("Revision:"), valueStyle.Render(shortRevision(snap.Revision)),
		dimStyle.Render("Updated:"), dimStyle.Render(FormatAge(m.lastUpdate, m.now())+" ago"))
	if m.err != nil {
		b.WriteString(warningStyle.Render("⚠ refresh failed: "+m.err.Error()) + "\n")
	}

	b.WriteString("\n" + sectionStyle.Render("┃ Gates") + "\n")
	for _, g := range snap.Gates {
		req := dimStyle.Render("optional")
		if g.Required {
			req = labelStyle.Render("required")
		}
		line := fmt.Sprintf("  %s %-16s %s  %s", gateBadge(g), g.Name, req,
			valueStyle.Render(FormatAttempts(g.Attempts, g.MaxAttempts)))
		if g.Escalated {
			line += " " + warningStyle.Render("↑"+g.Specialist)
		}
		if g.Evidence != "" {
			line += "  " + dimStyle.Render(Truncate(g.Evidence, evidenceWidth))
		}
		b.WriteString(line + "\n")
		for _, q := range g.Quarantines {
			b.WriteString("      " + dimStyle.Render("quarantined "+q.SubCheck+" → "+q.Reference) + "\n")
		}
	}
	ratio := settledRatio(snap.Gates)
	b.WriteString(labelStyle.Render("  Settled: ") + m.settled.ViewAs(ratio) +
		" " + dimStyle.Render(fmt.Sprintf("%.0f%%", ratio*100)) + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Decision") + "\n")
	state := string(snap.Decision.State)
	if state == "" {
		state = "none"
	}
	b.WriteString(labelStyle.Render("  State: ") + valueStyle.Render(state) + "\n")
	if snap.Decision.Why != "" {
		b.WriteString(labelStyle.Render("  Why: ") + snap.Decision.Why + "\n")
	}
	if snap.Decision.Next != "" {
		b.WriteString(labelStyle.Render("  Next: ") + snap.Decision.Next + "\n")
	}
	if snap.Archived {
		b.WriteString(labelStyle.Render("  Archived: ") + snap.ArchiveReason + "\n")
	}

	b.WriteString("\n" + sectionStyle.Render("┃ Activity") + "\n")
	b.WriteString(labelStyle.Render("  Hops: ") + valueStyle.Render(fmt.Sprintf("%d", snap.LastSeq)) +
		"   " + createSparkline(m.activity) + "\n")

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))
	b.WriteString("\n" + footer)

	return containerStyle.Render(b.String())
}
