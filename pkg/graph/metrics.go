package graph

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "battfleet",
		Subsystem: "graph",
		Name:      "requests_total",
		Help:      "Graph API requests by method and status code.",
	}, []string{"method", "code"})

	retriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "battfleet",
		Subsystem: "graph",
		Name:      "retries_total",
		Help:      "Graph API retries by the status code that caused them.",
	}, []string{"code"})

	pagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "battfleet",
		Subsystem: "graph",
		Name:      "pages_total",
		Help:      "Pages fetched from paginated Graph API listings.",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, retriesTotal, pagesTotal)
}
