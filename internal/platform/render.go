package platform

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/reviewd/internal/ledger"
)

// StatusMarker identifies the status comment so it can be edited in place.
const StatusMarker = "<!-- reviewd:ledger -->"

var statusIcons = map[ledger.Status]string{
	ledger.StatusPending: "⏳",
	ledger.StatusRunning: "🔄",
	ledger.StatusPass:    "✅",
	ledger.StatusFail:    "❌",
	ledger.StatusSkipped: "⏭️",
}

// RenderStatus renders the status comment body. It is a pure function of
// the snapshot.
func RenderStatus(snap ledger.Snapshot) string {
	var b strings.Builder
	b.WriteString(StatusMarker + "\n")
	b.WriteString("## Review gates\n\n")

	if snap.Revision != "" {
		fmt.Fprintf(&b, "Revision `%s`", shortSHA(snap.Revision))
	}
	switch snap.Decision.State {
	case ledger.DecisionPromote:
		b.WriteString(" · **ready to merge**\n\n")
	case ledger.DecisionBlock:
		b.WriteString(" · **blocked**\n\n")
	case "":
		b.WriteString(" · not evaluated yet\n\n")
	default:
		fmt.Fprintf(&b, " · in progress (%s)\n\n", snap.Decision.State)
	}

	b.WriteString("| Gate | Required | Status | Attempts | Evidence |\n")
	b.WriteString("|------|----------|--------|----------|----------|\n")
	for _, g := range snap.Gates {
		required := ""
		if g.Required {
			required = "yes"
		}
		attempts := fmt.Sprintf("%d / %d", g.Attempts, g.MaxAttempts+1)
		if g.Escalated {
			attempts += " ↗"
		}
		fmt.Fprintf(&b, "| `%s` | %s | %s %s | %s | %s |\n",
			g.Name, required, statusIcons[g.Status], g.Status, attempts, cell(g.Evidence))
	}

	if snap.Decision.Why != "" || snap.Decision.Next != "" {
		b.WriteString("\n### Decision\n\n")
		if snap.Decision.Next != "" {
			fmt.Fprintf(&b, "Next: `%s`\n\n", snap.Decision.Next)
		}
		for _, reason := range strings.Split(snap.Decision.Why, "; ") {
			if reason != "" {
				fmt.Fprintf(&b, "- %s\n", reason)
			}
		}
	}

	if qs := snap.Quarantines(); len(qs) > 0 {
		b.WriteString("\n### Quarantines\n\n")
		for _, q := range qs {
			name := q.Gate
			if q.SubCheck != "" {
				name += "/" + q.SubCheck
			}
			ref := q.Reference
			if ref == "" {
				ref = "**missing reference**"
			}
			fmt.Fprintf(&b, "- `%s`: %s (%s)\n", name, q.Reason, ref)
		}
	}

	if snap.Archived {
		fmt.Fprintf(&b, "\n_Archived: %s_\n", snap.ArchiveReason)
	}
	fmt.Fprintf(&b, "\n<sub>ledger seq %d</sub>\n", snap.LastSeq)
	return b.String()
}

// RenderProgress renders one progress note.
func RenderProgress(snap ledger.Snapshot, runID string) string {
	counts := snap.Counts()
	var b strings.Builder
	fmt.Fprintf(&b, "**Review run** `%s` on `%s`: %s\n\n", runID, shortSHA(snap.Revision), verdictWord(snap.Decision.State))
	fmt.Fprintf(&b, "%d passed · %d failed · %d skipped · %d pending\n",
		counts[ledger.StatusPass], counts[ledger.StatusFail], counts[ledger.StatusSkipped],
		counts[ledger.StatusPending]+counts[ledger.StatusRunning])
	if snap.Decision.Why != "" {
		fmt.Fprintf(&b, "\n%s\n", snap.Decision.Why)
	}
	return b.String()
}

func verdictWord(s ledger.DecisionState) string {
	switch s {
	case ledger.DecisionPromote:
		return "ready"
	case ledger.DecisionBlock:
		return "blocked"
	case "":
		return "no decision"
	}
	return string(s)
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}

func shortSHA(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
