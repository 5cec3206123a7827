package platform

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-esphome/internal/entityregistry"
	"github.com/nerrad567/gray-logic-esphome/internal/entry"
	"github.com/nerrad567/gray-logic-esphome/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-esphome/internal/infrastructure/mqtt"
)

// Publisher sends retained messages. It is satisfied by *mqtt.Client.
type Publisher interface {
	PublishJSON(topic string, v any) error
	PublishRetained(topic string, payload []byte) error
}

// Telemetry records numeric values. It is satisfied by *influxdb.Client.
type Telemetry interface {
	WriteEntityValue(tags influxdb.EntityTags, value float64, ts time.Time)
}

// Registrar records entities in the entity registry. It is satisfied by
// *entityregistry.SQLiteRegistry.
type Registrar interface {
	LookupEntityID(ctx context.Context, platform entry.Platform, domain, uniqueID string) (string, bool, error)
	Register(ctx context.Context, e entityregistry.Entry, objectID string) (*entityregistry.Entry, error)
}

// Logger defines the logging interface used by the platforms.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Manager. Publisher, Telemetry and Registry are
// optional.
type Options struct {
	Publisher Publisher
	Telemetry Telemetry
	Registry  Registrar
	Topics    mqtt.Topics

	// Now returns the timestamp for telemetry points. Default: time.Now
	Now func() time.Time
}

// handlerless platforms are loaded without any entity types of their own.
var handlerless = map[entry.Platform]bool{
	entry.PlatformUpdate: true,
}

// Manager creates and tracks platform handlers per entry.
//
// Thread Safety: safe for concurrent use across entries.
type Manager struct {
	opts   Options
	logger Logger

	mu       sync.Mutex
	handlers map[string]map[entry.Platform]*Handler
	closed   map[string]bool
}

// NewManager creates a platform manager.
func NewManager(opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		opts:     opts,
		logger:   noopLogger{},
		handlers: make(map[string]map[entry.Platform]*Handler),
		closed:   make(map[string]bool),
	}
}

// SetLogger sets the logger for the manager and its handlers.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// LoadPlatforms implements entry.PlatformLoader.
//
// Each platform gets one handler per entry. Platforms already loaded for
// the entry are skipped. The first load for an entry registers a cleanup
// callback that unloads every handler.
func (m *Manager) LoadPlatforms(ctx context.Context, data *entry.RuntimeData, platforms []entry.Platform) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entryID := data.EntryID()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed[entryID] {
		return fmt.Errorf("%w: %s", ErrEntryClosed, entryID)
	}

	byPlatform, ok := m.handlers[entryID]
	if !ok {
		byPlatform = make(map[entry.Platform]*Handler)
		m.handlers[entryID] = byPlatform
		data.AddCleanupCallback(func() { m.Unload(entryID) })
	}

	for _, p := range platforms {
		if _, loaded := byPlatform[p]; loaded {
			continue
		}
		types := typesFor(p)
		if len(types) == 0 && !handlerless[p] {
			return fmt.Errorf("%w: %s", ErrNoTypes, p)
		}
		byPlatform[p] = newHandler(m, data, p, types)
	}

	m.logger.Debug("platform handlers ready", "entry", entryID, "platforms", platforms)
	return nil
}

// Loaded returns the platforms with a handler for the entry, sorted.
func (m *Manager) Loaded(entryID string) []entry.Platform {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]entry.Platform, 0, len(m.handlers[entryID]))
	for p := range m.handlers[entryID] {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Handler returns the entry's handler for a platform.
func (m *Manager) Handler(entryID string, p entry.Platform) (*Handler, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handlers[entryID][p]
	return h, ok
}

// Unload closes every handler of the entry. Later loads for the entry fail
// with ErrEntryClosed.
func (m *Manager) Unload(entryID string) {
	m.mu.Lock()
	handlers := m.handlers[entryID]
	delete(m.handlers, entryID)
	m.closed[entryID] = true
	m.mu.Unlock()

	for _, h := range handlers {
		h.close()
	}
	if len(handlers) > 0 {
		m.logger.Info("platforms unloaded", "entry", entryID, "count", len(handlers))
	}
}

// typesFor returns the entity types served by a platform.
func typesFor(p entry.Platform) []entry.EntityType {
	var out []entry.EntityType
	for _, t := range entry.AllEntityTypes {
		if t.Platform() == p {
			out = append(out, t)
		}
	}
	return out
}
