package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cabbage_ddl_mutations_total",
		Help: "Structural mutations by kind, target and outcome.",
	}, []string{"kind", "target", "outcome"})

	MutationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cabbage_ddl_mutation_duration_seconds",
		Help:    "Time spent executing a structural mutation, including waits.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind", "target"})

	GuardWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cabbage_ddl_guard_wait_seconds",
		Help:    "Time spent waiting for a name guard.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})

	LockTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cabbage_ddl_lock_timeouts_total",
		Help: "Exclusive table lock acquisitions that timed out.",
	})

	PendingDisposal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cabbage_ddl_tables_pending_disposal",
		Help: "Dropped tables waiting for reclamation.",
	})

	Reclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cabbage_ddl_tables_reclaimed_total",
		Help: "Dropped tables whose storage has been released.",
	})

	LogEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cabbage_ddl_log_entries_total",
		Help: "Replicated DDL log entries by replica and status.",
	}, []string{"replica", "status"})
)
