package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_http_requests_total",
			Help: "API requests by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askdb_http_request_duration_seconds",
			Help:    "API latency by route. Resolve calls include target database and AI time.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"method", "route"},
	)
	resolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_resolutions_total",
			Help: "Query resolutions by outcome, error kind and whether the AI path produced the SQL.",
		},
		[]string{"outcome", "kind", "path"},
	)
	safetyRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_safety_rejections_total",
			Help: "Statements rejected by the safety classifier, by stage (direct or translated).",
		},
		[]string{"stage"},
	)
	executionDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askdb_execution_duration_seconds",
			Help:    "Statement execution latency against target databases.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"database_type", "status"},
	)
	translationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askdb_translation_duration_seconds",
			Help:    "AI completion latency by operation.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"operation", "status"},
	)
	suggestionCacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "askdb_suggestion_cache_entries",
			Help: "Entries in the most recently rebuilt suggestion cache per database type.",
		},
		[]string{"database_type"},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "askdb_active_sessions",
			Help: "Open database sessions.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		resolutionsTotal,
		safetyRejectionsTotal,
		executionDurationSeconds,
		translationDurationSeconds,
		suggestionCacheEntries,
		activeSessions,
	)
}

func ObserveResolution(outcome, kind string, translated bool) {
	path := "direct"
	if translated {
		path = "translated"
	}
	if kind == "" {
		kind = "none"
	}
	resolutionsTotal.WithLabelValues(outcome, kind, path).Inc()
}

func IncrementSafetyRejection(stage string) {
	safetyRejectionsTotal.WithLabelValues(stage).Inc()
}

func ObserveExecution(databaseType string, elapsed time.Duration, err error) {
	executionDurationSeconds.WithLabelValues(databaseType, statusLabel(err)).Observe(elapsed.Seconds())
}

func ObserveTranslation(operation string, elapsed time.Duration, err error) {
	translationDurationSeconds.WithLabelValues(operation, statusLabel(err)).Observe(elapsed.Seconds())
}

func SetSuggestionCacheEntries(databaseType string, entries int) {
	if entries < 0 {
		entries = 0
	}
	suggestionCacheEntries.WithLabelValues(databaseType).Set(float64(entries))
}

func SetActiveSessions(count int) {
	activeSessions.Set(float64(count))
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
