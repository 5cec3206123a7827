package entry

// Logger defines the logging interface used by RuntimeData.
// It is satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Metrics receives counters from the synchronisation core.
// It is satisfied by *metrics.BoundEntryMetrics.
type Metrics interface {
	StateUpdate(entityType string, outcome string)
	CallbackFailed(kind string)
	SnapshotWritten()
	PlatformsLoaded(count int)
	MigrationUnresolved(count int)
}

type noopMetrics struct{}

func (noopMetrics) StateUpdate(string, string) {}
func (noopMetrics) CallbackFailed(string)      {}
func (noopMetrics) SnapshotWritten()           {}
func (noopMetrics) PlatformsLoaded(int)        {}
func (noopMetrics) MigrationUnresolved(int)    {}
