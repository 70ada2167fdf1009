package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// FetchTotal counts snapshot fetches by tier (categories, index,
	// relations, detail) and result (ok, not_found, error).
	FetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mhive_fetch_total",
			Help: "Total number of snapshot fetches",
		},
		[]string{"tier", "result"},
	)

	// CacheHitsTotal counts fetches served from the in-memory caches.
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mhive_cache_hits_total",
			Help: "Total number of fetches served from cache",
		},
		[]string{"tier"},
	)

	// SelectionsTotal counts node selections by outcome (expanded, noop).
	SelectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mhive_selections_total",
			Help: "Total number of node selections processed",
		},
		[]string{"outcome"},
	)

	// DisplayedNodes observes the displayed-set size after each change.
	DisplayedNodes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mhive_displayed_nodes",
			Help:    "Size of the displayed node set after each state change",
			Buckets: []float64{5, 10, 20, 50, 100, 200, 500, 1000},
		},
	)

	// ActiveSessions tracks the number of exploration sessions held by the daemon.
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mhive_active_sessions",
			Help: "Number of exploration sessions held in memory",
		},
	)

	// SessionStoreErrorsTotal counts swallowed persistence failures by operation.
	SessionStoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mhive_session_store_errors_total",
			Help: "Total number of session persistence failures",
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(FetchTotal)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(SelectionsTotal)
	prometheus.MustRegister(DisplayedNodes)
	prometheus.MustRegister(ActiveSessions)
	prometheus.MustRegister(SessionStoreErrorsTotal)
}
