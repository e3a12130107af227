// Package prom implements crm.MetricsCollector with Prometheus metrics.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/c0deZ3R0/go-crm-sync/crm"
)

const namespace = "crm_sync"

// Collector records manager metrics on a Prometheus registry.
type Collector struct {
	syncDuration     *prometheus.HistogramVec
	syncedRecords    *prometheus.CounterVec
	conflicts        prometheus.Counter
	syncErrors       *prometheus.CounterVec
	mutations        *prometheus.CounterVec
	persistenceError prometheus.Counter
	lastSync         *prometheus.GaugeVec
}

var _ crm.MetricsCollector = (*Collector)(nil)

// NewCollector registers the metrics on reg. A nil reg uses
// prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Collector{
		syncDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of sync cycles by outcome",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"outcome"}),
		syncedRecords: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_synced_total",
			Help:      "Records delivered to the authority by kind",
		}, []string{"kind"}),
		conflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_detected_total",
			Help:      "Field conflicts detected during sync",
		}),
		syncErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Sync errors by operation and type",
		}, []string{"operation", "type"}),
		mutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Accepted local mutations by change type",
		}, []string{"change_type"}),
		persistenceError: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_errors_total",
			Help:      "Failed snapshot writes",
		}),
		lastSync: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time of the last sync cycle by outcome",
		}, []string{"outcome"}),
	}
}

func (c *Collector) RecordSyncDuration(outcome string, duration time.Duration) {
	c.syncDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	c.lastSync.WithLabelValues(outcome).SetToCurrentTime()
}

func (c *Collector) RecordSynced(customers, interactions, changes int) {
	c.syncedRecords.WithLabelValues("customer").Add(float64(customers))
	c.syncedRecords.WithLabelValues("interaction").Add(float64(interactions))
	c.syncedRecords.WithLabelValues("change").Add(float64(changes))
}

func (c *Collector) RecordConflicts(detected int) {
	c.conflicts.Add(float64(detected))
}

func (c *Collector) RecordSyncErrors(operation string, errorType string) {
	c.syncErrors.WithLabelValues(operation, errorType).Inc()
}

func (c *Collector) RecordMutation(kind crm.ChangeType) {
	c.mutations.WithLabelValues(string(kind)).Inc()
}

func (c *Collector) RecordPersistenceError() {
	c.persistenceError.Inc()
}
