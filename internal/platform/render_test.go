package platform

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/reviewd/internal/ledger"
)

func renderSnapshot() ledger.Snapshot {
	return ledger.Snapshot{
		Key:      key,
		Revision: "0123456789abcdef",
		LastSeq:  12,
		Gates: []ledger.Gate{
			{Name: "format", Required: true, Status: ledger.StatusPass, Attempts: 1, MaxAttempts: 2, Evidence: "gofmt clean"},
			{Name: "build", Required: true, Status: ledger.StatusFail, Attempts: 3, MaxAttempts: 2, Escalated: true, Evidence: "a | b"},
			{Name: "security", Status: ledger.StatusSkipped, Quarantines: []ledger.Quarantine{{Gate: "security", Reason: "scanner offline"}}},
		},
		Decision: ledger.Decision{State: ledger.DecisionBlock, Why: "build: failed; unresolved quarantine: security"},
	}
}

func TestRenderStatus(t *testing.T) {
	out := RenderStatus(renderSnapshot())

	assert.True(t, strings.HasPrefix(out, StatusMarker))
	assert.Contains(t, out, "Revision `0123456789ab`")
	assert.Contains(t, out, "**blocked**")
	assert.Contains(t, out, "| `format` | yes | ✅ pass | 1 / 3 | gofmt clean |")
	assert.Contains(t, out, "| `build` | yes | ❌ fail | 3 / 3 ↗ | a \\| b |")
	assert.Contains(t, out, "- unresolved quarantine: security")
	assert.Contains(t, out, "`security`: scanner offline (**missing reference**)")
	assert.Contains(t, out, "ledger seq 12")
}

func TestRenderStatus_Deterministic(t *testing.T) {
	assert.Equal(t, RenderStatus(renderSnapshot()), RenderStatus(renderSnapshot()))
}

func TestRenderProgress(t *testing.T) {
	out := RenderProgress(renderSnapshot(), "run-1")
	assert.Contains(t, out, "`run-1` on `0123456789ab`: blocked")
	assert.Contains(t, out, "1 passed · 1 failed · 1 skipped · 0 pending")
}
