package orchestrator

import (
	"time"

	"github.com/fyrsmithlabs/reviewd/internal/gate"
	"github.com/fyrsmithlabs/reviewd/internal/ledger"
)

// Overall run status.
const (
	StatusReady    = "ready"
	StatusBlocked  = "blocked"
	StatusCanceled = "canceled"
)

// GateReceipt summarizes one gate at the end of a run.
type GateReceipt struct {
	Name     string        `json:"name"`
	Required bool          `json:"required"`
	Status   ledger.Status `json:"status"`
	Attempts int           `json:"attempts"`
	Evidence string        `json:"evidence,omitempty"`
	// Duration is the worker time spent on the gate in this run.
	Duration  time.Duration `json:"duration"`
	Escalated bool          `json:"escalated,omitempty"`
}

// Summary counts gates by outcome.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Pending int `json:"pending"`
}

// Receipt is the result of one run. Diff compares it with the previous
// verdict on another revision of the change set.
type Receipt struct {
	RunID            string          `json:"run_id"`
	Key              ledger.Key      `json:"key"`
	Revision         string          `json:"revision"`
	Tier             gate.Tier       `json:"tier"`
	Status           string          `json:"status"`
	Decision         ledger.Decision `json:"decision"`
	Reasons          []string        `json:"reasons,omitempty"`
	BlockingFailures []string        `json:"blocking_failures,omitempty"`
	Summary          Summary         `json:"summary"`
	Gates            []GateReceipt   `json:"gates"`
	Errors           []string        `json:"errors,omitempty"`
	Diff             *ReceiptDiff    `json:"diff,omitempty"`
	StartedAt        time.Time       `json:"started_at"`
	FinishedAt       time.Time       `json:"finished_at"`
	Duration         time.Duration   `json:"duration"`
}

func buildReceipt(r *run, snap ledger.Snapshot) *Receipt {
	rc := &Receipt{
		RunID:     r.id,
		Key:       snap.Key,
		Revision:  snap.Revision,
		Tier:      r.tier,
		Decision:  snap.Decision,
		StartedAt: r.started,
	}
	for _, g := range snap.Gates {
		rc.Gates = append(rc.Gates, GateReceipt{
			Name:      g.Name,
			Required:  g.Required,
			Status:    g.Status,
			Attempts:  g.Attempts,
			Evidence:  g.Evidence,
			Duration:  r.duration(g.Name),
			Escalated: g.Escalated,
		})
		rc.Summary.Total++
		switch g.Status {
		case ledger.StatusPass:
			rc.Summary.Passed++
		case ledger.StatusFail:
			rc.Summary.Failed++
			if g.Required {
				rc.BlockingFailures = append(rc.BlockingFailures, g.Name)
			}
		case ledger.StatusSkipped:
			rc.Summary.Skipped++
		default:
			rc.Summary.Pending++
		}
	}
	rc.Errors = r.errors()
	return rc
}
