package fleet

import "github.com/prometheus/client_golang/prometheus"

var (
	rowsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "battfleet",
		Subsystem: "fleet",
		Name:      "rows",
		Help:      "Rows held by the fleet view after the last committed refresh.",
	})

	droppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "battfleet",
		Subsystem: "fleet",
		Name:      "dropped_run_states_total",
		Help:      "Run states discarded because a required field was missing.",
	}, []string{"missing"})

	enrichFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "battfleet",
		Subsystem: "fleet",
		Name:      "enrichment_failures_total",
		Help:      "Directory lookups that failed and were ignored.",
	})

	refreshesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "battfleet",
		Subsystem: "fleet",
		Name:      "refreshes_total",
		Help:      "Fleet refreshes by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(rowsGauge, droppedTotal, enrichFailuresTotal, refreshesTotal)
}
