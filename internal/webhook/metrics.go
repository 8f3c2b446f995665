package webhook

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Inbound webhook counters, labelled by provider source and outcome
// (processed, duplicate, ignored, dropped, rejected, failed).
var webhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "leadgate",
	Subsystem: "webhook",
	Name:      "events_total",
	Help:      "Number of inbound webhook events by source and outcome.",
}, []string{"source", "outcome"})

func countEvent(source, outcome string) {
	webhookEvents.WithLabelValues(source, outcome).Inc()
}
