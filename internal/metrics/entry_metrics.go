package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EntryMetrics instruments the entry synchronisation core.
type EntryMetrics struct {
	// StateUpdates counts state updates by outcome (applied, suppressed).
	// Labels: entry, type, outcome
	StateUpdates *prometheus.CounterVec

	// CallbackFailures counts consumer callbacks that returned an error
	// or panicked.
	// Labels: entry, kind
	CallbackFailures *prometheus.CounterVec

	// SnapshotWrites counts entry snapshots written to storage.
	// Labels: entry
	SnapshotWrites *prometheus.CounterVec

	// PlatformsLoaded counts platforms loaded for an entry.
	// Labels: entry
	PlatformsLoaded *prometheus.CounterVec

	// MigrationsUnresolved counts unique ids that could not be migrated.
	// Labels: entry
	MigrationsUnresolved *prometheus.CounterVec
}

func newEntryMetrics() *EntryMetrics {
	return &EntryMetrics{
		StateUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "entry",
			Name:      "state_updates_total",
			Help:      "State updates received, by outcome.",
		}, []string{"entry", "type", "outcome"}),
		CallbackFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "entry",
			Name:      "callback_failures_total",
			Help:      "Consumer callbacks that failed or panicked.",
		}, []string{"entry", "kind"}),
		SnapshotWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "entry",
			Name:      "snapshot_writes_total",
			Help:      "Entry snapshots written to storage.",
		}, []string{"entry"}),
		PlatformsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "entry",
			Name:      "platforms_loaded_total",
			Help:      "Platforms loaded for an entry.",
		}, []string{"entry"}),
		MigrationsUnresolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "entry",
			Name:      "migrations_unresolved_total",
			Help:      "Unique ids left unmigrated.",
		}, []string{"entry"}),
	}
}

func (m *EntryMetrics) register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.StateUpdates,
		m.CallbackFailures,
		m.SnapshotWrites,
		m.PlatformsLoaded,
		m.MigrationsUnresolved,
	)
}

// ForEntry returns the metrics sink for one entry.
func (m *EntryMetrics) ForEntry(entryID string) *BoundEntryMetrics {
	return &BoundEntryMetrics{m: m, entry: entryID}
}

// Forget drops every series of an entry, e.g. after it is unloaded.
func (m *EntryMetrics) Forget(entryID string) {
	labels := prometheus.Labels{"entry": entryID}
	m.StateUpdates.DeletePartialMatch(labels)
	m.CallbackFailures.DeletePartialMatch(labels)
	m.SnapshotWrites.DeletePartialMatch(labels)
	m.PlatformsLoaded.DeletePartialMatch(labels)
	m.MigrationsUnresolved.DeletePartialMatch(labels)
}

// BoundEntryMetrics implements entry.Metrics for a single entry.
type BoundEntryMetrics struct {
	m     *EntryMetrics
	entry string
}

// StateUpdate records one state update.
func (b *BoundEntryMetrics) StateUpdate(entityType, outcome string) {
	b.m.StateUpdates.WithLabelValues(b.entry, entityType, outcome).Inc()
}

// CallbackFailed records a failed consumer callback.
func (b *BoundEntryMetrics) CallbackFailed(kind string) {
	b.m.CallbackFailures.WithLabelValues(b.entry, kind).Inc()
}

// SnapshotWritten records a snapshot write.
func (b *BoundEntryMetrics) SnapshotWritten() {
	b.m.SnapshotWrites.WithLabelValues(b.entry).Inc()
}

// PlatformsLoaded records newly loaded platforms.
func (b *BoundEntryMetrics) PlatformsLoaded(count int) {
	b.m.PlatformsLoaded.WithLabelValues(b.entry).Add(float64(count))
}

// MigrationUnresolved records unique ids that could not be migrated.
func (b *BoundEntryMetrics) MigrationUnresolved(count int) {
	b.m.MigrationsUnresolved.WithLabelValues(b.entry).Add(float64(count))
}
