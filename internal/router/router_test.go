package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/reviewd/internal/budget"
	"github.com/fyrsmithlabs/reviewd/internal/gate"
	"github.com/fyrsmithlabs/reviewd/internal/ledger"
	"github.com/fyrsmithlabs/reviewd/internal/promotion"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	reg, err := gate.New(
		gate.Definition{Name: "format", Required: true, MaxAttempts: 2, Specialist: "lint-fixer"},
		gate.Definition{Name: "build", Required: true, MaxAttempts: 2, Specialist: "build-fixer"},
		gate.Definition{Name: "tests", Required: true, MaxAttempts: 2, Prerequisites: []string{"build"}},
		gate.Definition{Name: "benchmarks", Tier: gate.TierMergeGate, Prerequisites: []string{"tests"}},
	)
	require.NoError(t, err)
	return New(reg, budget.New(), promotion.New(reg))
}

func gates(statuses ...ledger.Status) ledger.Snapshot {
	names := []string{"format", "build", "tests", "benchmarks"}
	snap := ledger.Snapshot{Key: ledger.Key{Repository: "acme/api", ChangeSet: "1"}}
	for i, s := range statuses {
		snap.Gates = append(snap.Gates, ledger.Gate{
			Name: names[i], Required: i < 3, Status: s, MaxAttempts: 2,
		})
	}
	return snap
}

func setGate(snap *ledger.Snapshot, name string, mutate func(*ledger.Gate)) {
	for i := range snap.Gates {
		if snap.Gates[i].Name == name {
			mutate(&snap.Gates[i])
		}
	}
}

func TestRunnable_PrerequisitesPassOrSkipped(t *testing.T) {
	r := newTestRouter(t)
	P, S, F, W := ledger.StatusPending, ledger.StatusSkipped, ledger.StatusFail, ledger.StatusPass

	assert.Equal(t, []string{"format", "build"}, r.Runnable(gates(P, P, P, P)))
	assert.Equal(t, []string{"tests"}, r.Runnable(gates(W, W, P, P)))
	assert.Equal(t, []string{"tests"}, r.Runnable(gates(W, S, P, P)))
	assert.Empty(t, r.Runnable(gates(W, F, P, P)))
}

func TestDecide_PassInvokesNext(t *testing.T) {
	r := newTestRouter(t)
	snap := gates(ledger.StatusPass, ledger.StatusPass, ledger.StatusPending, ledger.StatusPending)

	d := r.Decide(snap, &Outcome{Gate: "build", Status: ledger.StatusPass})
	assert.Equal(t, KindInvoke, d.Kind)
	assert.Equal(t, "tests", d.Gate)
	assert.False(t, d.Retry)
}

func TestDecide_BuildFailsThreeTimesThenEscalates(t *testing.T) {
	r := newTestRouter(t)
	snap := gates(ledger.StatusPass, ledger.StatusFail, ledger.StatusPending, ledger.StatusPending)
	last := &Outcome{Gate: "build", Status: ledger.StatusFail}

	for attempts := 1; attempts <= 2; attempts++ {
		setGate(&snap, "build", func(g *ledger.Gate) { g.Attempts = attempts })
		d := r.Decide(snap, last)
		assert.Equal(t, KindInvoke, d.Kind, "attempt %d", attempts)
		assert.Equal(t, "build", d.Gate)
		assert.True(t, d.Retry)
	}

	setGate(&snap, "build", func(g *ledger.Gate) { g.Attempts = 3; g.Evidence = "undefined: foo" })
	d := r.Decide(snap, last)
	assert.Equal(t, KindEscalate, d.Kind)
	assert.Equal(t, "build-fixer", d.Specialist)
	assert.Equal(t, "build", d.Gate)
	require.Len(t, d.Reasons, 1)
	assert.Contains(t, d.Reasons[0], "retry budget exhausted")
}

func TestDecide_ExhaustedAfterEscalationBlocks(t *testing.T) {
	r := newTestRouter(t)
	snap := gates(ledger.StatusPass, ledger.StatusFail, ledger.StatusPending, ledger.StatusPending)
	setGate(&snap, "build", func(g *ledger.Gate) {
		g.Attempts = 3
		g.Escalated = true
		g.Specialist = "build-fixer"
	})

	d := r.Decide(snap, &Outcome{Gate: "build", Status: ledger.StatusFail})
	assert.Equal(t, KindBlock, d.Kind)
	assert.NotEmpty(t, d.Reasons)
	assert.Contains(t, d.Reasons[0], "build: retry budget exhausted")
}

func TestDecide_ExhaustedWithoutSpecialistBlocks(t *testing.T) {
	r := newTestRouter(t)
	snap := gates(ledger.StatusPass, ledger.StatusPass, ledger.StatusFail, ledger.StatusPending)
	setGate(&snap, "tests", func(g *ledger.Gate) { g.Attempts = 3 })

	d := r.Decide(snap, &Outcome{Gate: "tests", Status: ledger.StatusFail})
	assert.Equal(t, KindBlock, d.Kind)
	assert.Contains(t, d.Reasons, "tests: no specialist configured")
}

func TestDecide_RequiredUnavailableEscalatesImmediately(t *testing.T) {
	r := newTestRouter(t)
	snap := gates(ledger.StatusPending, ledger.StatusPending, ledger.StatusPending, ledger.StatusPending)

	d := r.Decide(snap, &Outcome{Gate: "format", Unavailable: true, Reason: "formatter missing"})
	assert.Equal(t, KindEscalate, d.Kind)
	assert.Equal(t, "lint-fixer", d.Specialist)
	assert.Equal(t, []string{"format: unavailable: formatter missing"}, d.Reasons)
}

func TestDecide_OptionalUnavailableContinues(t *testing.T) {
	r := newTestRouter(t)
	snap := gates(ledger.StatusPass, ledger.StatusPass, ledger.StatusPass, ledger.StatusSkipped)

	d := r.Decide(snap, &Outcome{Gate: "benchmarks", Status: ledger.StatusSkipped, Unavailable: true})
	assert.Equal(t, KindPromote, d.Kind)
}

func TestDecide_AllPassPromotes(t *testing.T) {
	r := newTestRouter(t)
	d := r.Decide(gates(ledger.StatusPass, ledger.StatusPass, ledger.StatusPass, ledger.StatusSkipped), nil)
	assert.Equal(t, KindPromote, d.Kind)
	assert.Equal(t, ledger.DecisionPromote, d.ToLedger().State)
}

func TestDecide_NoRouteExplainsEachGate(t *testing.T) {
	r := newTestRouter(t)
	snap := gates(ledger.StatusPass, ledger.StatusFail, ledger.StatusPending, ledger.StatusPending)
	setGate(&snap, "build", func(g *ledger.Gate) {
		g.Attempts = 3
		g.Escalated = true
		g.Evidence = "boom"
	})

	d := r.Decide(snap, nil)
	assert.Equal(t, KindBlock, d.Kind)
	assert.Equal(t, []string{
		NoRoute,
		"build: failed: boom",
		"tests: waiting on build",
		"benchmarks: waiting on tests",
	}, d.Reasons)
	assert.Equal(t, "no route available; build: failed: boom; tests: waiting on build; benchmarks: waiting on tests", d.ToLedger().Why)
}

func TestDecide_AwaitingSpecialistInvokesWithSpecialist(t *testing.T) {
	r := newTestRouter(t)
	snap := gates(ledger.StatusPass, ledger.StatusPending, ledger.StatusPending, ledger.StatusPending)
	setGate(&snap, "build", func(g *ledger.Gate) {
		g.Escalated = true
		g.AwaitingSpecialist = true
		g.Specialist = "build-fixer"
	})

	d := r.Decide(snap, nil)
	assert.Equal(t, KindInvoke, d.Kind)
	assert.Equal(t, "build", d.Gate)
	assert.Equal(t, "build-fixer", d.Specialist)
}

func TestDecision_ToLedgerEscalate(t *testing.T) {
	d := Decision{Kind: KindEscalate, Gate: "build", Specialist: "build-fixer", Reasons: []string{"x"}}
	assert.Equal(t, ledger.Decision{State: ledger.DecisionEscalate, Why: "x", Next: "build-fixer on build"}, d.ToLedger())
}
