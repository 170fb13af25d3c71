package promotion

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/reviewd/internal/gate"
	"github.com/fyrsmithlabs/reviewd/internal/ledger"
)

func testRegistry(t *testing.T) *gate.Registry {
	t.Helper()
	r, err := gate.New(
		gate.Definition{Name: "format", Required: true, MaxAttempts: 2},
		gate.Definition{Name: "build", Required: true, MaxAttempts: 2},
		gate.Definition{Name: "tests", Required: true, MaxAttempts: 2, Prerequisites: []string{"build"}},
		gate.Definition{Name: "benchmarks", Tier: gate.TierMergeGate},
		gate.Definition{Name: "security", Tier: gate.TierMergeGate, QuarantineOnSkip: true},
	)
	require.NoError(t, err)
	return r
}

func snapshot(gates ...ledger.Gate) ledger.Snapshot {
	return ledger.Snapshot{Key: ledger.Key{Repository: "acme/api", ChangeSet: "7"}, Gates: gates}
}

func g(name string, required bool, status ledger.Status) ledger.Gate {
	return ledger.Gate{Name: name, Required: required, Status: status}
}

func TestIsReady_AllRequiredPassOptionalSkipped(t *testing.T) {
	e := New(testRegistry(t))
	v := e.IsReady(snapshot(
		g("format", true, ledger.StatusPass),
		g("build", true, ledger.StatusPass),
		g("tests", true, ledger.StatusPass),
		g("benchmarks", false, ledger.StatusSkipped),
		g("security", false, ledger.StatusPass),
	))
	assert.True(t, v.Ready)
	assert.Empty(t, v.Reasons)
}

func TestIsReady_SkippedSecurityNeedsReferencedQuarantine(t *testing.T) {
	e := New(testRegistry(t))
	gates := []ledger.Gate{
		g("format", true, ledger.StatusPass),
		g("build", true, ledger.StatusPass),
		g("tests", true, ledger.StatusPass),
		g("benchmarks", false, ledger.StatusPass),
		g("security", false, ledger.StatusSkipped),
	}

	v := e.IsReady(snapshot(gates...))
	assert.False(t, v.Ready)
	assert.Equal(t, []string{"unresolved quarantine: security"}, v.Reasons)

	gates[4].Quarantines = []ledger.Quarantine{{Gate: "security", Reference: "https://tracker.example.com/1"}}
	v = e.IsReady(snapshot(gates...))
	assert.True(t, v.Ready)
}

func TestIsReady_QuarantineWithoutReference(t *testing.T) {
	e := New(testRegistry(t))
	bench := g("benchmarks", false, ledger.StatusSkipped)
	bench.Quarantines = []ledger.Quarantine{{Gate: "benchmarks", SubCheck: "p99"}}

	v := e.IsReady(snapshot(
		g("format", true, ledger.StatusPass),
		g("build", true, ledger.StatusPass),
		g("tests", true, ledger.StatusPass),
		bench,
		g("security", false, ledger.StatusPass),
	))
	assert.False(t, v.Ready)
	assert.Equal(t, []string{"unresolved quarantine: benchmarks"}, v.Reasons)
}

func TestIsReady_Reasons(t *testing.T) {
	e := New(testRegistry(t))
	build := g("build", true, ledger.StatusFail)
	build.Evidence = "undefined: foo"

	v := e.IsReady(snapshot(
		g("format", true, ledger.StatusRunning),
		build,
		g("tests", true, ledger.StatusPending),
		g("security", false, ledger.StatusFail),
	))
	assert.False(t, v.Ready)
	assert.Equal(t, []string{
		"format: running",
		"build: failed: undefined: foo",
		"tests: pending",
	}, v.Reasons)
}

func TestIsReady_RequiredSkippedBlocks(t *testing.T) {
	e := New(testRegistry(t))
	v := e.IsReady(snapshot(
		g("format", true, ledger.StatusSkipped),
		g("build", true, ledger.StatusPass),
		g("tests", true, ledger.StatusPass),
	))
	assert.False(t, v.Ready)
	assert.Contains(t, v.Reasons, "format: skipped")
}

var statuses = []ledger.Status{
	ledger.StatusPending, ledger.StatusRunning, ledger.StatusPass, ledger.StatusFail, ledger.StatusSkipped,
}

// Generated gate-status permutations never promote unless every required
// gate passed and every quarantine has a reference.
func TestIsReady_NoFalsePromotion(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)
	e := New(testRegistry(t))
	names := []string{"format", "build", "tests", "benchmarks", "security"}

	properties.Property("ready implies required pass and resolved quarantines", prop.ForAll(
		func(idx []int, quarantined bool, referenced bool) bool {
			if len(idx) < len(names) {
				return true
			}
			gates := make([]ledger.Gate, len(names))
			for i, name := range names {
				gates[i] = ledger.Gate{Name: name, Required: i < 3, Status: statuses[idx[i]]}
			}
			if quarantined {
				ref := ""
				if referenced {
					ref = "#1"
				}
				gates[4].Quarantines = []ledger.Quarantine{{Gate: "security", Reference: ref}}
			}

			v := e.IsReady(snapshot(gates...))
			if !v.Ready {
				return len(v.Reasons) > 0
			}
			for _, gt := range gates[:3] {
				if gt.Status != ledger.StatusPass {
					return false
				}
			}
			if quarantined && !referenced {
				return false
			}
			if gates[4].Status == ledger.StatusSkipped && !(quarantined && referenced) {
				return false
			}
			return len(v.Reasons) == 0
		},
		gen.SliceOfN(len(names), gen.IntRange(0, len(statuses)-1)),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
