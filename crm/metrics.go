package crm

import "time"

// MetricsCollector provides hooks for collecting store and sync metrics.
type MetricsCollector interface {
	// RecordSyncDuration records how long a sync cycle took, labelled by
	// outcome ("completed", "failed" or "skipped").
	RecordSyncDuration(outcome string, duration time.Duration)

	// RecordSynced records the records a cycle delivered to the authority.
	RecordSynced(customers, interactions, changes int)

	// RecordConflicts records the number of conflicts detected in a cycle.
	RecordConflicts(detected int)

	// RecordSyncErrors records sync errors by operation and type.
	RecordSyncErrors(operation string, errorType string)

	// RecordMutation counts accepted local mutations by change type.
	RecordMutation(kind ChangeType)

	// RecordPersistenceError counts failed snapshot writes.
	RecordPersistenceError()
}

// NoOpMetricsCollector is a default implementation that does nothing
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordSyncDuration(outcome string, duration time.Duration) {}
func (NoOpMetricsCollector) RecordSynced(customers, interactions, changes int)         {}
func (NoOpMetricsCollector) RecordConflicts(detected int)                              {}
func (NoOpMetricsCollector) RecordSyncErrors(operation string, errorType string)       {}
func (NoOpMetricsCollector) RecordMutation(kind ChangeType)                            {}
func (NoOpMetricsCollector) RecordPersistenceError()                                   {}
