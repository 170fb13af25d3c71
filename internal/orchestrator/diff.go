package orchestrator

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fyrsmithlabs/reviewd/internal/ledger"
)

// StatusChange is a gate whose status differs from the baseline.
// Regression marks pass -> fail.
type StatusChange struct {
	Gate       string        `json:"gate"`
	From       ledger.Status `json:"from"`
	To         ledger.Status `json:"to"`
	Regression bool          `json:"regression,omitempty"`
}

// ReceiptDiff compares a receipt with a baseline receipt.
type ReceiptDiff struct {
	BaselineRevision string         `json:"baseline_revision"`
	Revision         string         `json:"revision"`
	GatesAdded       []string       `json:"gates_added,omitempty"`
	GatesRemoved     []string       `json:"gates_removed,omitempty"`
	StatusChanges    []StatusChange `json:"status_changes,omitempty"`
	Regression       bool           `json:"regression"`
}

// Regressions lists the gates that went from pass to fail.
func (d ReceiptDiff) Regressions() []string {
	var out []string
	for _, c := range d.StatusChanges {
		if c.Regression {
			out = append(out, c.Gate)
		}
	}
	return out
}

// Empty reports whether nothing changed between the receipts.
func (d ReceiptDiff) Empty() bool {
	return len(d.GatesAdded) == 0 && len(d.GatesRemoved) == 0 && len(d.StatusChanges) == 0
}

// DiffReceipts compares current against baseline. Added gates and status
// changes follow current's gate order, removed gates follow baseline's.
func DiffReceipts(baseline, current *Receipt) ReceiptDiff {
	d := ReceiptDiff{BaselineRevision: baseline.Revision, Revision: current.Revision}

	before := make(map[string]GateReceipt, len(baseline.Gates))
	for _, g := range baseline.Gates {
		before[g.Name] = g
	}
	seen := make(map[string]bool, len(current.Gates))
	for _, g := range current.Gates {
		seen[g.Name] = true
		old, ok := before[g.Name]
		if !ok {
			d.GatesAdded = append(d.GatesAdded, g.Name)
			continue
		}
		if old.Status == g.Status {
			continue
		}
		c := StatusChange{
			Gate:       g.Name,
			From:       old.Status,
			To:         g.Status,
			Regression: old.Status == ledger.StatusPass && g.Status == ledger.StatusFail,
		}
		d.Regression = d.Regression || c.Regression
		d.StatusChanges = append(d.StatusChanges, c)
	}
	for _, g := range baseline.Gates {
		if !seen[g.Name] {
			d.GatesRemoved = append(d.GatesRemoved, g.Name)
		}
	}
	return d
}

// ReadReceipt decodes a JSON receipt, as written by `reviewd run --json`.
func ReadReceipt(r io.Reader) (*Receipt, error) {
	var rc Receipt
	if err := json.NewDecoder(r).Decode(&rc); err != nil {
		return nil, fmt.Errorf("decoding receipt: %w", err)
	}
	if rc.Revision == "" {
		return nil, fmt.Errorf("decoding receipt: missing revision")
	}
	return &rc, nil
}

// String renders the diff as one line per change.
func (d ReceiptDiff) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "compared with %s:", d.BaselineRevision)
	if d.Empty() {
		b.WriteString(" no changes")
		return b.String()
	}
	for _, name := range d.GatesAdded {
		fmt.Fprintf(&b, "\n  + %s", name)
	}
	for _, name := range d.GatesRemoved {
		fmt.Fprintf(&b, "\n  - %s", name)
	}
	for _, c := range d.StatusChanges {
		fmt.Fprintf(&b, "\n  ~ %s: %s -> %s", c.Gate, c.From, c.To)
		if c.Regression {
			b.WriteString(" (regression)")
		}
	}
	return b.String()
}
