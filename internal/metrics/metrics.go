package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueriesTotal counts executed queries by action, execution level and
	// outcome.
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdb_queries_total",
			Help: "Total number of queries",
		},
		[]string{"action", "level", "status"},
	)
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tdb_query_duration_seconds",
			Help:    "Query latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)
	// FullScansTotal counts selects that had to read a whole table without
	// any usable index.
	FullScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdb_full_scans_total",
			Help: "Total number of unindexed full table scans",
		},
		[]string{"table"},
	)
	UniqueViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdb_unique_violations_total",
			Help: "Total number of writes rejected by a unique index",
		},
		[]string{"table", "index"},
	)
	// IndexRepairsTotal counts index updates that could not be undone after
	// a failed write.
	IndexRepairsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdb_index_repairs_total",
			Help: "Total number of failed compensating index updates",
		},
		[]string{"table"},
	)
	// WriteFailuresTotal counts failed row mutations by the stage they had
	// reached.
	WriteFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdb_write_failures_total",
			Help: "Total number of failed row writes",
		},
		[]string{"op", "table", "stage"},
	)
	OpenConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tdb_open_connections",
			Help: "Number of open websocket connections",
		},
	)
)
