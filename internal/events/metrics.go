package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PublishedTotal counts events published to NATS, by kind.
var PublishedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "reviewd",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Ledger events published to NATS by kind",
	},
	[]string{"kind"},
)
