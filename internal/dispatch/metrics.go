package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InvocationsTotal counts worker invocations.
	// Labels: gate, outcome (pass, fail, skipped, unavailable, timeout, error)
	InvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reviewd",
			Subsystem: "dispatch",
			Name:      "invocations_total",
			Help:      "Worker invocations by gate and outcome",
		},
		[]string{"gate", "outcome"},
	)

	// InvocationDuration tracks worker latency.
	InvocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reviewd",
			Subsystem: "dispatch",
			Name:      "invocation_duration_seconds",
			Help:      "Worker invocation latency in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"gate"},
	)

	// SharedInvocations counts callers that joined an in-flight invocation.
	SharedInvocations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reviewd",
			Subsystem: "dispatch",
			Name:      "shared_invocations_total",
			Help:      "Invocations answered by an in-flight call for the same key",
		},
	)

	// RedactedSecrets counts secrets removed from worker evidence.
	RedactedSecrets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reviewd",
			Subsystem: "dispatch",
			Name:      "redacted_secrets_total",
			Help:      "Secrets redacted from worker evidence by gate",
		},
		[]string{"gate"},
	)
)
