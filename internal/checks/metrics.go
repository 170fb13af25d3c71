package checks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EmittedTotal counts check signals published, by conclusion.
var EmittedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "reviewd",
		Subsystem: "checks",
		Name:      "emitted_total",
		Help:      "Check signals published by conclusion",
	},
	[]string{"conclusion"},
)
