package entry

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// PlatformLoader activates consumer platforms for an entry.
//
// LoadPlatforms is called at most once per platform per entry. It may block
// while handlers are set up; implementations typically register callbacks on
// data before returning.
type PlatformLoader interface {
	LoadPlatforms(ctx context.Context, data *RuntimeData, platforms []Platform) error
}

// RegistryEntry is one row of the entity registry.
type RegistryEntry struct {
	EntityID      string
	ConfigEntryID string
	Platform      Platform
	Domain        string
	UniqueID      string
}

// EntityRegistry maps stable unique ids to registry entries.
type EntityRegistry interface {
	// LookupEntityID returns the entity id registered for (platform, domain, uniqueID).
	LookupEntityID(ctx context.Context, platform Platform, domain, uniqueID string) (string, bool, error)

	// UpdateUniqueID rewrites the unique id of an existing entry in place.
	UpdateUniqueID(ctx context.Context, entityID, newUniqueID string) error

	// ListByConfigEntry returns every entry owned by a config entry.
	ListByConfigEntry(ctx context.Context, configEntryID string) ([]RegistryEntry, error)
}

// Options configures a RuntimeData.
type Options struct {
	// EntryID identifies the config entry; it is also the storage key.
	EntryID string

	// Title is used as the device name until device info is known.
	Title string

	// Store persists snapshots. Required.
	Store Store

	// Loader activates consumer platforms. Optional.
	Loader PlatformLoader

	// Registry resolves unique ids for migration. Optional; without it no
	// migration is attempted.
	Registry EntityRegistry

	// DashboardEnabled makes the update platform part of every topology load.
	DashboardEnabled bool

	// SaveDelay overrides the snapshot debounce window (default SaveDelay).
	SaveDelay time.Duration

	// AfterFunc overrides the debounce scheduler (default time.AfterFunc).
	AfterFunc AfterFunc

	// EntryOptions are the options the entry was set up with.
	EntryOptions map[string]any
}

// RuntimeData is the runtime registry of one device connection.
//
// It mirrors the device's entity topology and live state, dispatches
// updates to subscribed consumers and persists a debounced snapshot.
//
// Callbacks are never invoked while the internal mutex is held, so they may
// register or unregister other callbacks freely.
//
// Thread Safety: All public methods are safe for concurrent use. Inbound
// device messages are expected to arrive serialised per device.
type RuntimeData struct {
	entryID   string
	title     string
	loader    PlatformLoader
	registry  EntityRegistry
	dashboard bool
	options   map[string]any

	mu                  sync.Mutex
	states              *stateStore
	infos               map[EntityType]map[uint32]EntityInfo
	services            map[uint32]UserService
	subs                *subscriptions
	deviceInfo          *DeviceInfo
	apiVersion          APIVersion
	available           bool
	expectedDisconnect  bool
	assistPipelineState bool
	loadedPlatforms     map[Platform]struct{}
	unresolved          []string
	disconnectCallbacks []func()
	cleanupCallbacks    []func()

	// platformLoadMu guards the read-modify-write of loadedPlatforms across
	// the loader call, which may block.
	platformLoadMu sync.Mutex

	deviceUpdated     listeners[func()]
	staticInfoUpdated listeners[StaticInfoCallback]
	assistPipeline    listeners[func()]

	persist *persistence
	logger  Logger
	metrics Metrics
}

// New creates the runtime data for one entry.
func New(opts Options) (*RuntimeData, error) {
	if opts.EntryID == "" {
		return nil, fmt.Errorf("entry id is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	return &RuntimeData{
		entryID:         opts.EntryID,
		title:           opts.Title,
		loader:          opts.Loader,
		registry:        opts.Registry,
		dashboard:       opts.DashboardEnabled,
		options:         maps.Clone(opts.EntryOptions),
		states:          newStateStore(),
		infos:           make(map[EntityType]map[uint32]EntityInfo),
		services:        make(map[uint32]UserService),
		subs:            newSubscriptions(),
		loadedPlatforms: make(map[Platform]struct{}),
		persist:         newPersistence(opts.Store, opts.EntryID, opts.SaveDelay, opts.AfterFunc),
		logger:          noopLogger{},
		metrics:         noopMetrics{},
	}, nil
}

// SetLogger sets the logger for the entry.
func (r *RuntimeData) SetLogger(logger Logger) {
	r.logger = logger
	r.persist.logger = logger
}

// SetMetrics sets the metrics sink for the entry.
func (r *RuntimeData) SetMetrics(m Metrics) {
	r.metrics = m
	r.persist.metrics = m
}

// EntryID returns the config entry id.
func (r *RuntimeData) EntryID() string {
	return r.entryID
}

// Name returns the device name, falling back to the entry title.
func (r *RuntimeData) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nameLocked()
}

func (r *RuntimeData) nameLocked() string {
	if r.deviceInfo != nil && r.deviceInfo.Name != "" {
		return r.deviceInfo.Name
	}
	return r.title
}

// FriendlyName returns the device's friendly name, or a title-cased version
// of its name with underscores replaced by spaces.
func (r *RuntimeData) FriendlyName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deviceInfo != nil && r.deviceInfo.FriendlyName != "" {
		return r.deviceInfo.FriendlyName
	}
	name := strings.ReplaceAll(r.nameLocked(), "_", " ")
	return cases.Title(language.Und).String(name)
}

// DeviceInfo returns a copy of the current device info, or nil.
func (r *RuntimeData) DeviceInfo() *DeviceInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deviceInfo == nil {
		return nil
	}
	info := *r.deviceInfo
	return &info
}

// APIVersion returns the negotiated API version.
func (r *RuntimeData) APIVersion() APIVersion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.apiVersion
}

// SetDeviceInfo records the device identity and API version.
func (r *RuntimeData) SetDeviceInfo(info DeviceInfo, version APIVersion) {
	r.mu.Lock()
	r.deviceInfo = &info
	r.apiVersion = version
	r.mu.Unlock()
}

// SetServices replaces the user-invocable services of the device.
func (r *RuntimeData) SetServices(services []UserService) {
	r.mu.Lock()
	r.services = make(map[uint32]UserService, len(services))
	for _, s := range services {
		r.services[s.Key] = s
	}
	r.mu.Unlock()
}

// Services returns the device's user services ordered by key.
func (r *RuntimeData) Services() []UserService {
	r.mu.Lock()
	out := slices.Collect(maps.Values(r.services))
	r.mu.Unlock()
	sortServices(out)
	return out
}

// Infos returns the known entity infos of one type ordered by key.
func (r *RuntimeData) Infos(typ EntityType) []EntityInfo {
	r.mu.Lock()
	out := slices.Collect(maps.Values(r.infos[typ]))
	r.mu.Unlock()
	sortInfos(out)
	return out
}

// Info returns the entity info for one key.
func (r *RuntimeData) Info(typ EntityType, key uint32) (EntityInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.infos[typ][key]
	return info, ok
}

// State returns the last applied state for one key.
func (r *RuntimeData) State(typ EntityType, key uint32) (EntityState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states.get(typ, key)
}

// LoadedPlatforms returns the platforms activated so far, sorted.
func (r *RuntimeData) LoadedPlatforms() []Platform {
	r.mu.Lock()
	out := slices.Collect(maps.Keys(r.loadedPlatforms))
	r.mu.Unlock()
	slices.Sort(out)
	return out
}

// UnresolvedMigrations returns unique ids whose previous identity could not
// be found. They are left for manual handling.
func (r *RuntimeData) UnresolvedMigrations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.unresolved)
}

// OptionsChanged reports whether opts differ from the options the entry was
// set up with, meaning the entry should be reloaded.
func (r *RuntimeData) OptionsChanged(opts map[string]any) bool {
	return !maps.EqualFunc(r.options, opts, func(a, b any) bool {
		return fmt.Sprint(a) == fmt.Sprint(b)
	})
}

// RegisterStaticInfoCallback registers cb to receive every batch of infos of
// type typ.
func (r *RuntimeData) RegisterStaticInfoCallback(typ EntityType, cb StaticInfoCallback) Unsubscribe {
	r.mu.Lock()
	id := r.subs.addStaticInfo(typ, cb)
	r.mu.Unlock()

	return r.once(func() { r.subs.removeStaticInfo(typ, id) })
}

// RegisterKeyRemovedCallback registers cb to run when the entity (typ, key)
// is removed.
func (r *RuntimeData) RegisterKeyRemovedCallback(typ EntityType, key uint32, cb KeyRemovedCallback) Unsubscribe {
	sk := subscriptionKey{typ: typ, key: key}
	r.mu.Lock()
	id := r.subs.addKeyRemoved(sk, cb)
	r.mu.Unlock()

	return r.once(func() { r.subs.removeKeyRemoved(sk, id) })
}

// RegisterKeyUpdatedCallback registers cb to receive new infos for (typ, key).
func (r *RuntimeData) RegisterKeyUpdatedCallback(typ EntityType, key uint32, cb KeyUpdatedCallback) Unsubscribe {
	sk := subscriptionKey{typ: typ, key: key}
	r.mu.Lock()
	id := r.subs.addKeyUpdated(sk, cb)
	r.mu.Unlock()

	return r.once(func() { r.subs.removeKeyUpdated(sk, id) })
}

// SubscribeStateUpdate installs the state callback for (typ, key).
//
// Only one callback may be active per key. Subscribing again without first
// unsubscribing violates the caller contract; the new callback replaces the
// old one and a warning is logged.
func (r *RuntimeData) SubscribeStateUpdate(typ EntityType, key uint32, cb StateCallback) Unsubscribe {
	sk := subscriptionKey{typ: typ, key: key}
	r.mu.Lock()
	id, replaced := r.subs.setState(sk, cb)
	r.mu.Unlock()

	if replaced {
		r.logger.Warn("state subscription replaced",
			"entry", r.entryID,
			"type", typ.String(),
			"key", key,
			"error", ErrDuplicateSubscription,
		)
	}

	return r.once(func() { r.subs.removeState(sk, id) })
}

// once wraps a removal so it runs under the mutex at most once.
func (r *RuntimeData) once(remove func()) Unsubscribe {
	var done sync.Once
	return func() {
		done.Do(func() {
			r.mu.Lock()
			remove()
			r.mu.Unlock()
		})
	}
}

// AddDisconnectCallback registers fn to run on the next disconnect only.
func (r *RuntimeData) AddDisconnectCallback(fn func()) {
	r.mu.Lock()
	r.disconnectCallbacks = append(r.disconnectCallbacks, fn)
	r.mu.Unlock()
}

// AddCleanupCallback registers fn to run when the entry is cleaned up.
func (r *RuntimeData) AddCleanupCallback(fn func()) {
	r.mu.Lock()
	r.cleanupCallbacks = append(r.cleanupCallbacks, fn)
	r.mu.Unlock()
}

// UpdateState stores a state update and notifies its subscriber.
//
// Identical repeats are suppressed unless the key is stale, the entity is a
// camera or the entity is a sensor whose info has ForceUpdate set. A panicking subscriber is
// logged and never propagates to the caller.
func (r *RuntimeData) UpdateState(state EntityState) UpdateOutcome {
	sk := subscriptionKey{typ: state.Type, key: state.Key}

	r.mu.Lock()
	info, ok := r.infos[state.Type][state.Key]
	force := ok && state.Type == TypeSensor && info.ForceUpdate
	outcome := r.states.update(state, force)
	var cb StateCallback
	if outcome == Applied {
		cb = r.subs.stateCallback(sk)
	}
	name := r.nameLocked()
	r.mu.Unlock()

	r.metrics.StateUpdate(state.Type.String(), outcome.String())

	if outcome == Suppressed {
		r.logger.Debug("ignoring duplicate update",
			"device", name, "type", state.Type.String(), "key", state.Key)
		return outcome
	}

	r.logger.Debug("dispatching update",
		"device", name, "type", state.Type.String(), "key", state.Key)
	if cb != nil {
		r.safeCall("state", func() { cb() }, "type", state.Type.String(), "key", state.Key)
	}
	return outcome
}

// MarkAllStale flags every known state so the next update for each key is
// dispatched even if it repeats the stored value.
func (r *RuntimeData) MarkAllStale() {
	r.mu.Lock()
	n := r.states.markAllStale()
	r.mu.Unlock()
	r.logger.Debug("marked states stale", "entry", r.entryID, "count", n)
}

// safeCall runs fn and converts a panic into a logged ErrCallbackFailed.
func (r *RuntimeData) safeCall(kind string, fn func(), args ...any) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %s: %v", ErrCallbackFailed, kind, rec)
			r.metrics.CallbackFailed(kind)
			r.logger.Error("error while calling subscription",
				append([]any{"entry", r.entryID, "kind", kind, "error", err}, args...)...)
		}
	}()
	fn()
	return nil
}

// SaveToStore snapshots the current topology and schedules a debounced
// write. It returns false when nothing needs writing.
func (r *RuntimeData) SaveToStore() bool {
	data := r.snapshot()
	if data == nil {
		return false
	}
	return r.persist.requestSave(data)
}

func (r *RuntimeData) snapshot() *StoreData {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deviceInfo == nil {
		return nil
	}

	device := *r.deviceInfo
	data := &StoreData{
		DeviceInfo: &device,
		APIVersion: r.apiVersion,
		Services:   slices.Collect(maps.Values(r.services)),
		Infos:      make(map[EntityType][]EntityInfo, len(r.infos)),
	}
	sortServices(data.Services)
	for typ, byKey := range r.infos {
		if len(byKey) == 0 {
			continue
		}
		infos := slices.Collect(maps.Values(byKey))
		sortInfos(infos)
		data.Infos[typ] = infos
	}
	return data
}

// LoadFromStore restores device info and API version from storage and
// returns the stored infos and services. Missing or malformed data yields
// empty results without error.
func (r *RuntimeData) LoadFromStore(ctx context.Context) ([]EntityInfo, []UserService, error) {
	data, err := r.persist.load(ctx)
	if err != nil {
		return nil, nil, err
	}
	if data == nil {
		return nil, nil, nil
	}

	r.SetDeviceInfo(*data.DeviceInfo, data.APIVersion)
	return data.Entities(), data.Services, nil
}

// Restore loads the stored snapshot and replays it as a topology update so
// consumers see the device's entities before it connects.
func (r *RuntimeData) Restore(ctx context.Context) error {
	infos, services, err := r.LoadFromStore(ctx)
	if err != nil {
		return err
	}
	if len(services) > 0 {
		r.SetServices(services)
	}
	if len(infos) == 0 {
		return nil
	}
	return r.UpdateStaticInfos(ctx, infos)
}

// HasPendingSave reports whether a debounced write is scheduled.
func (r *RuntimeData) HasPendingSave() bool {
	return r.persist.hasPending()
}

// Cleanup runs cleanup callbacks and writes any pending snapshot
// immediately. It must be called when the entry is unloaded.
func (r *RuntimeData) Cleanup(ctx context.Context) error {
	r.mu.Lock()
	callbacks := r.cleanupCallbacks
	r.cleanupCallbacks = nil
	r.mu.Unlock()

	for _, fn := range callbacks {
		r.safeCall("cleanup", fn)
	}

	if err := r.persist.flush(ctx); err != nil {
		return fmt.Errorf("flushing entry data: %w", err)
	}
	return nil
}
