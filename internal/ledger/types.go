// Package ledger records the evidence trail of a change set's review.
//
// A Ledger holds one entry per gate plus an append-only hop log and a
// single decision that is replaced in place. Every mutation appends
// exactly one hop, and the gate table is a pure function of the hop log:
// Replay rebuilds the same snapshot from the hops alone.
package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	// ErrUnknownGate is returned when a gate is not part of the ledger.
	ErrUnknownGate = errors.New("gate not in ledger")
	// ErrStaleWrite is returned when the gate's status differs from the
	// caller's expectation. Callers re-read and reissue.
	ErrStaleWrite = errors.New("stale write")
	// ErrLedgerArchived is returned for writes after Archive.
	ErrLedgerArchived = errors.New("ledger archived")
	// ErrInvalidStatus is returned for results that are not terminal.
	ErrInvalidStatus = errors.New("invalid gate status")
	// ErrRetryRefused is returned when the retry budget does not allow a retry.
	ErrRetryRefused = errors.New("retry refused")
	// ErrAlreadyEscalated is returned for a second escalation of one gate.
	ErrAlreadyEscalated = errors.New("gate already escalated")
	// ErrNotFound is returned by stores for unknown change sets.
	ErrNotFound = errors.New("ledger not found")
	// ErrAlreadyExists is returned by Store.Create for existing change sets.
	ErrAlreadyExists = errors.New("ledger already exists")
	// ErrInvalidHop is returned by Replay for hop logs that cannot be applied.
	ErrInvalidHop = errors.New("invalid hop")
)

// Key identifies a change set.
type Key struct {
	Repository string `json:"repository"`
	ChangeSet  string `json:"changeset"`
}

func (k Key) String() string {
	return k.Repository + "#" + k.ChangeSet
}

// Validate checks that both parts are present.
func (k Key) Validate() error {
	if k.Repository == "" || k.ChangeSet == "" {
		return fmt.Errorf("invalid ledger key %q", k.String())
	}
	return nil
}

// Status is a gate's position in its state machine.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
	StatusSkipped Status = "skipped"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusPass, StatusFail, StatusSkipped:
		return true
	}
	return false
}

// IsResult reports whether s can be reported by a worker.
func (s Status) IsResult() bool {
	return s == StatusPass || s == StatusFail || s == StatusSkipped
}

// Settled reports whether the gate needs no further work unless a retry
// or escalation reopens it. Only fail can be reopened.
func (s Status) Settled() bool {
	return s.IsResult()
}

// Quarantine is an accepted, tracked exception for a gate or sub-check.
type Quarantine struct {
	Gate      string `json:"gate"`
	SubCheck  string `json:"sub_check,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Reference string `json:"reference"`
}

// Resolved reports whether the quarantine points at a tracked follow-up.
func (q Quarantine) Resolved() bool {
	return strings.TrimSpace(q.Reference) != ""
}

// GateSpec seeds a gate entry when a ledger or revision starts.
type GateSpec struct {
	Name        string `json:"name"`
	Required    bool   `json:"required"`
	MaxAttempts int    `json:"max_attempts"`
}

// Gate is one gate's entry.
type Gate struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Status   Status `json:"status"`
	Evidence string `json:"evidence,omitempty"`
	// Attempts counts worker runs that produced a result.
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	Revision    string `json:"revision"`
	Escalated   bool   `json:"escalated"`
	Escalations int    `json:"escalations"`
	// Specialist is set by Escalate; AwaitingSpecialist stays true until
	// the specialist reports.
	Specialist         string       `json:"specialist,omitempty"`
	AwaitingSpecialist bool         `json:"awaiting_specialist,omitempty"`
	Quarantines        []Quarantine `json:"quarantines,omitempty"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

func (g Gate) clone() Gate {
	g.Quarantines = append([]Quarantine(nil), g.Quarantines...)
	return g
}

// DecisionState is the folded router outcome.
type DecisionState string

const (
	DecisionNone     DecisionState = ""
	DecisionInvoke   DecisionState = "invoke"
	DecisionEscalate DecisionState = "escalate"
	DecisionPromote  DecisionState = "promote"
	DecisionBlock    DecisionState = "block"
)

// Decision is the single current routing decision. It is replaced in place.
type Decision struct {
	State DecisionState `json:"state"`
	Why   string        `json:"why,omitempty"`
	Next  string        `json:"next,omitempty"`
}

const maxEvidenceLen = 2048

// normalizeEvidence collapses evidence to a single bounded line.
func normalizeEvidence(s string) string {
	s = strings.Join(strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == '\r' }), " ")
	s = strings.TrimSpace(s)
	if len(s) <= maxEvidenceLen {
		return s
	}
	cut := maxEvidenceLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
