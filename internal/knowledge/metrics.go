package knowledge

import (
	"github.com/prometheus/client_golang/prometheus"
)

// NewPrometheusHook registers hit/miss counters on the given registerer and
// returns a MetricsHook feeding them. The cache itself stays unaware of
// prometheus; the hook is injected at wiring time.
func NewPrometheusHook(reg prometheus.Registerer) MetricsHook {
	hits := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "leadgate",
		Subsystem: "knowledge_cache",
		Name:      "hits_total",
		Help:      "Number of embedding cache hits.",
	})
	misses := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "leadgate",
		Subsystem: "knowledge_cache",
		Name:      "misses_total",
		Help:      "Number of embedding cache misses.",
	})
	reg.MustRegister(hits, misses)

	return func(hit bool) {
		if hit {
			hits.Inc()
		} else {
			misses.Inc()
		}
	}
}
