// Package metrics holds the Prometheus collectors of the progress engine and the slug allocator.
//
// They register with the default registry and are served by the API under /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recompute triggers
const (
	TriggerLedger    = "ledger"
	TriggerEnroll    = "enroll"
	TriggerStructure = "structure"
	TriggerManual    = "manual"
)

// Transition directions
const (
	DirectionCompleted = "completed"
	DirectionReopened  = "reopened"
)

var (
	// RecomputationsTotal counts enrollment evaluations by what triggered them.
	RecomputationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "masomo_progress_recomputations_total",
			Help: "Total number of enrollment completion evaluations",
		},
		[]string{"trigger"},
	)

	// TransitionsTotal counts cached verdict flips.
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "masomo_progress_transitions_total",
			Help: "Total number of enrollment completion state changes",
		},
		[]string{"direction"},
	)

	// LedgerWritesTotal counts completion ledger writes by operation and outcome.
	LedgerWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "masomo_progress_ledger_writes_total",
			Help: "Total number of completion ledger writes",
		},
		[]string{"op", "result"},
	)

	SlugCollisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "masomo_slug_collisions_total",
			Help: "Total number of slug inserts rejected by the unique index and retried",
		},
		[]string{"namespace"},
	)

	SlugExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "masomo_slug_exhausted_total",
			Help: "Total number of slug allocations that ran out of attempts",
		},
		[]string{"namespace"},
	)
)
