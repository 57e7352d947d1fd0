// Package metrics exposes the warning signals of the persistence engine as
// prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pagekeeper"

var (
	DedupeRemovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedupe_removed_nodes_total",
			Help:      "Nodes removed by the deduplicator, by rule",
		},
		[]string{"rule"},
	)

	StructuralMismatchTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "structural_mismatch_total",
			Help:      "Remote documents replaced by a template because their structure was not recognised",
		},
	)

	StaleRefreshDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_refresh_dropped_total",
			Help:      "Background refresh results discarded because a newer load superseded them",
		},
	)

	RefreshTimeoutTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_timeout_total",
			Help:      "Background refreshes abandoned after their time budget",
		},
	)

	RemoteUnavailableTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_unavailable_total",
			Help:      "Remote store calls that failed or were skipped, by operation",
		},
		[]string{"operation"},
	)

	CacheWriteFailureTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_write_failure_total",
			Help:      "Local cache writes that failed",
		},
	)

	SaveOutcomeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "save_outcome_total",
			Help:      "Page saves by final destination (remote, local, download)",
		},
		[]string{"outcome"},
	)

	EventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events not delivered because a subscriber buffer was full",
		},
	)
)

// RecordDedupe adds the non-zero parts of a dedupe report.
func RecordDedupe(duplicateIDs, duplicateStructures, singletons int) {
	if duplicateIDs > 0 {
		DedupeRemovedTotal.WithLabelValues("id").Add(float64(duplicateIDs))
	}
	if duplicateStructures > 0 {
		DedupeRemovedTotal.WithLabelValues("structure").Add(float64(duplicateStructures))
	}
	if singletons > 0 {
		DedupeRemovedTotal.WithLabelValues("singleton").Add(float64(singletons))
	}
}
