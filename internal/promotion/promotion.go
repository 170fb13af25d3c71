// Package promotion decides whether a change set is ready for human review.
package promotion

import (
	"fmt"

	"github.com/fyrsmithlabs/reviewd/internal/gate"
	"github.com/fyrsmithlabs/reviewd/internal/ledger"
)

// Verdict is the outcome of IsReady. Reasons is empty iff Ready.
type Verdict struct {
	Ready   bool     `json:"ready"`
	Reasons []string `json:"reasons,omitempty"`
}

// Evaluator applies the promotion predicate.
type Evaluator struct {
	registry *gate.Registry
}

// New returns an Evaluator over the gates of registry.
func New(registry *gate.Registry) *Evaluator {
	return &Evaluator{registry: registry}
}

// IsReady reports whether every required gate passed, no required gate is
// still in flight, and every quarantine is backed by a reference.
func (e *Evaluator) IsReady(snap ledger.Snapshot) Verdict {
	var reasons []string
	seen := make(map[string]bool)
	add := func(r string) {
		if !seen[r] {
			seen[r] = true
			reasons = append(reasons, r)
		}
	}

	for _, name := range e.registry.Names() {
		def, _ := e.registry.Get(name)
		g, ok := snap.Gate(name)
		if !ok {
			if def.Required {
				add(fmt.Sprintf("%s: missing from ledger", name))
			}
			continue
		}

		if g.Required || def.Required {
			switch g.Status {
			case ledger.StatusPass:
			case ledger.StatusPending, ledger.StatusRunning:
				add(fmt.Sprintf("%s: %s", name, g.Status))
			case ledger.StatusFail:
				add(failReason(g))
			case ledger.StatusSkipped:
				add(fmt.Sprintf("%s: skipped", name))
			default:
				add(fmt.Sprintf("%s: unknown status %q", name, g.Status))
			}
		}

		if g.Status == ledger.StatusSkipped && def.QuarantineOnSkip && !hasResolvedQuarantine(g) {
			add("unresolved quarantine: " + name)
		}
	}

	// Gates in the ledger but outside the registry still count when required.
	for _, g := range snap.Gates {
		if e.registry.Has(g.Name) {
			continue
		}
		if g.Required && g.Status != ledger.StatusPass {
			add(fmt.Sprintf("%s: %s", g.Name, g.Status))
		}
	}

	for _, q := range snap.Quarantines() {
		if !q.Resolved() {
			add("unresolved quarantine: " + q.Gate)
		}
	}

	return Verdict{Ready: len(reasons) == 0, Reasons: reasons}
}

func failReason(g ledger.Gate) string {
	if g.Evidence == "" {
		return g.Name + ": failed"
	}
	return fmt.Sprintf("%s: failed: %s", g.Name, g.Evidence)
}

func hasResolvedQuarantine(g ledger.Gate) bool {
	for _, q := range g.Quarantines {
		if q.Resolved() {
			return true
		}
	}
	return false
}
