package budget

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/reviewd/internal/ledger"
)

func TestTracker_MayRetry(t *testing.T) {
	tr := New()
	tests := []struct {
		name string
		gate ledger.Gate
		want bool
	}{
		{"first failure", ledger.Gate{Status: ledger.StatusFail, Attempts: 1, MaxAttempts: 2}, true},
		{"second failure", ledger.Gate{Status: ledger.StatusFail, Attempts: 2, MaxAttempts: 2}, true},
		{"third failure", ledger.Gate{Status: ledger.StatusFail, Attempts: 3, MaxAttempts: 2}, false},
		{"no budget", ledger.Gate{Status: ledger.StatusFail, Attempts: 1, MaxAttempts: 0}, false},
		{"skipped is terminal", ledger.Gate{Status: ledger.StatusSkipped, Attempts: 0, MaxAttempts: 5}, false},
		{"pass", ledger.Gate{Status: ledger.StatusPass, Attempts: 1, MaxAttempts: 5}, false},
		{"failed without running", ledger.Gate{Status: ledger.StatusFail, Attempts: 0, MaxAttempts: 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tr.MayRetry(tt.gate))
		})
	}
}

func TestTracker_ExhaustedAndRemaining(t *testing.T) {
	tr := New()
	g := ledger.Gate{Name: "build", Status: ledger.StatusFail, Attempts: 3, MaxAttempts: 2}

	assert.True(t, tr.Exhausted(g))
	assert.Equal(t, 0, tr.Remaining(g))
	assert.Equal(t, "build used 3 of 3 attempts", tr.Explain(g))

	g.Attempts = 1
	assert.False(t, tr.Exhausted(g))
	assert.Equal(t, 2, tr.Remaining(g))
}

// A gate driven by MayRetry never runs more than MaxAttempts+1 times.
func TestTracker_AttemptsBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	tr := New()

	properties.Property("attempts <= max_attempts + 1", prop.ForAll(
		func(maxAttempts int, failures int) bool {
			g := ledger.Gate{Status: ledger.StatusPending, MaxAttempts: maxAttempts}
			for i := 0; i < failures; i++ {
				if g.Status != ledger.StatusPending {
					break
				}
				g.Attempts++
				g.Status = ledger.StatusFail
				if tr.MayRetry(g) {
					g.Status = ledger.StatusPending
				}
			}
			return g.Attempts <= g.MaxAttempts+1
		},
		gen.IntRange(0, 6),
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}
