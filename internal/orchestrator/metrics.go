package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const instrumentationName = "github.com/fyrsmithlabs/reviewd/internal/orchestrator"

var (
	// GateResults counts recorded gate results.
	// Labels: gate, status (pass, fail, skipped)
	GateResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reviewd",
			Subsystem: "orchestrator",
			Name:      "gate_results_total",
			Help:      "Gate results recorded in ledgers",
		},
		[]string{"gate", "status"},
	)

	// Retries counts authorized retries.
	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reviewd",
			Subsystem: "orchestrator",
			Name:      "retries_total",
			Help:      "Retries authorized by the retry budget",
		},
		[]string{"gate"},
	)

	// Escalations counts escalations to specialists.
	Escalations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reviewd",
			Subsystem: "orchestrator",
			Name:      "escalations_total",
			Help:      "Gates escalated to a specialist",
		},
		[]string{"gate", "specialist"},
	)

	// Regressions counts gates that went from pass to fail between
	// revisions of a change set.
	Regressions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reviewd",
			Subsystem: "orchestrator",
			Name:      "regressions_total",
			Help:      "Gates that passed on the previous revision and fail now",
		},
		[]string{"gate"},
	)

	// Verdicts counts final run decisions.
	// Labels: verdict (promote, block, canceled)
	Verdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reviewd",
			Subsystem: "orchestrator",
			Name:      "verdicts_total",
			Help:      "Run outcomes by verdict",
		},
		[]string{"verdict"},
	)

	// RunDuration tracks run latency.
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "reviewd",
			Subsystem: "orchestrator",
			Name:      "run_duration_seconds",
			Help:      "Review run duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	// ActiveRuns is the number of runs in flight.
	ActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "reviewd",
			Subsystem: "orchestrator",
			Name:      "active_runs",
			Help:      "Review runs in flight",
		},
	)
)
