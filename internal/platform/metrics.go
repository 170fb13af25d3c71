package platform

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GitHubCalls counts GitHub API calls by operation and result.
	GitHubCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reviewd",
			Subsystem: "github",
			Name:      "calls_total",
			Help:      "GitHub API calls by operation and result",
		},
		[]string{"op", "result"},
	)

	// GitHubRetries counts retried GitHub API calls.
	GitHubRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reviewd",
			Subsystem: "github",
			Name:      "retries_total",
			Help:      "Retried GitHub API calls by operation",
		},
		[]string{"op"},
	)
)
