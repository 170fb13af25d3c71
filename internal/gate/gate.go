// Package gate holds the immutable catalog of review gates.
//
// A Registry is built once at startup, from the built-in catalog or a
// policy file, and never changes while the process runs.
package gate

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownGate is returned for names the registry does not know.
var ErrUnknownGate = errors.New("unknown gate")

// Tier groups gates by when they run. Higher tiers include lower ones.
type Tier string

const (
	TierPRFast    Tier = "pr_fast"
	TierMergeGate Tier = "merge_gate"
	TierNightly   Tier = "nightly"
	TierAll       Tier = "all"
)

func (t Tier) rank() int {
	switch t {
	case TierPRFast:
		return 1
	case TierMergeGate:
		return 2
	case TierNightly:
		return 3
	case TierAll:
		return 4
	default:
		return 0
	}
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t.rank() > 0
}

// Includes reports whether a run at tier t runs gates declared at other.
func (t Tier) Includes(other Tier) bool {
	return other.rank() > 0 && other.rank() <= t.rank()
}

// ParseTier parses a tier name.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

// PolicyQuarantine marks a gate as deliberately skipped until a tracked
// follow-up lands.
type PolicyQuarantine struct {
	Reason    string    `json:"reason"`
	Reference string    `json:"reference"`
	Since     time.Time `json:"since,omitempty"`
}

// Definition describes one gate.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Tier        Tier   `json:"tier"`
	Required    bool   `json:"required"`
	// MaxAttempts is the retry budget after the first attempt.
	MaxAttempts   int           `json:"max_attempts"`
	Timeout       time.Duration `json:"timeout,omitempty"`
	Prerequisites []string      `json:"prerequisites,omitempty"`
	Worker        string        `json:"worker"`
	Specialist    string        `json:"specialist,omitempty"`
	// QuarantineOnSkip requires a referenced quarantine whenever the gate
	// ends skipped.
	QuarantineOnSkip bool              `json:"quarantine_on_skip,omitempty"`
	Quarantine       *PolicyQuarantine `json:"quarantine,omitempty"`
}

// Quarantined reports whether the policy quarantines this gate.
func (d Definition) Quarantined() bool {
	return d.Quarantine != nil
}

func (d Definition) clone() Definition {
	d.Prerequisites = append([]string(nil), d.Prerequisites...)
	if d.Quarantine != nil {
		q := *d.Quarantine
		d.Quarantine = &q
	}
	return d
}
