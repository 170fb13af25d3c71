// Package budget bounds how often a gate may be retried.
package budget

import (
	"fmt"

	"github.com/fyrsmithlabs/reviewd/internal/ledger"
)

// Tracker owns every retry-count decision. It is stateless: the counts
// live in the ledger.
type Tracker struct{}

// New returns a Tracker.
func New() *Tracker {
	return &Tracker{}
}

// MayRetry reports whether a failed gate may run again. The first attempt
// is free; MaxAttempts bounds the retries after it, so a gate runs at most
// MaxAttempts+1 times.
func (t *Tracker) MayRetry(g ledger.Gate) bool {
	return g.Status == ledger.StatusFail && g.Attempts-1 < g.MaxAttempts
}

// Exhausted reports whether a failed gate has no retries left.
func (t *Tracker) Exhausted(g ledger.Gate) bool {
	return g.Status == ledger.StatusFail && !t.MayRetry(g)
}

// Remaining returns the retries left for a gate.
func (t *Tracker) Remaining(g ledger.Gate) int {
	used := g.Attempts - 1
	if used < 0 {
		used = 0
	}
	if r := g.MaxAttempts - used; r > 0 {
		return r
	}
	return 0
}

// Explain renders the budget state for decision reasons.
func (t *Tracker) Explain(g ledger.Gate) string {
	return fmt.Sprintf("%s used %d of %d attempts", g.Name, g.Attempts, g.MaxAttempts+1)
}
