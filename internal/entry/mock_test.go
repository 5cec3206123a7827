package entry

import (
	"context"
	"sync"
	"testing"
	"time"
)

// MockStore is an in-memory Store.
type MockStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	saves   int
	saveErr error
}

func NewMockStore() *MockStore {
	return &MockStore{data: make(map[string][]byte)}
}

func (m *MockStore) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.data[key]
	if !ok {
		return nil, ErrStoreNotFound
	}
	return append([]byte(nil), raw...), nil
}

func (m *MockStore) Save(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.data[key] = append([]byte(nil), data...)
	return nil
}

func (m *MockStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// fakeScheduler records timers instead of running them so tests control
// when the debounce delay elapses.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

// Armed returns the number of timers that were started.
func (s *fakeScheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Fire runs every timer that has not fired yet, including stopped ones, to
// simulate a timer racing with Stop.
func (s *fakeScheduler) Fire() {
	s.mu.Lock()
	var due []*fakeTimer
	for _, t := range s.timers {
		if !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

// MockLoader records platform loads.
type MockLoader struct {
	mu      sync.Mutex
	calls   [][]Platform
	counts  map[Platform]int
	loadErr error
	onLoad  func(data *RuntimeData, platforms []Platform)
	delay   time.Duration
}

func NewMockLoader() *MockLoader {
	return &MockLoader{counts: make(map[Platform]int)}
}

func (m *MockLoader) LoadPlatforms(_ context.Context, data *RuntimeData, platforms []Platform) error {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	err := m.loadErr
	if err == nil {
		m.calls = append(m.calls, append([]Platform(nil), platforms...))
		for _, p := range platforms {
			m.counts[p]++
		}
	}
	onLoad := m.onLoad
	m.mu.Unlock()

	if err != nil {
		return err
	}
	if onLoad != nil {
		onLoad(data, platforms)
	}
	return nil
}

func (m *MockLoader) Count(p Platform) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[p]
}

func (m *MockLoader) Calls() [][]Platform {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]Platform(nil), m.calls...)
}

// MockRegistry is an in-memory EntityRegistry.
type MockRegistry struct {
	mu      sync.Mutex
	entries map[string]*RegistryEntry
	updates map[string]string
}

func NewMockRegistry() *MockRegistry {
	return &MockRegistry{
		entries: make(map[string]*RegistryEntry),
		updates: make(map[string]string),
	}
}

func (m *MockRegistry) Add(e RegistryEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.EntityID] = &e
}

func (m *MockRegistry) LookupEntityID(_ context.Context, platform Platform, domain, uniqueID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Platform == platform && e.Domain == domain && e.UniqueID == uniqueID {
			return e.EntityID, true, nil
		}
	}
	return "", false, nil
}

func (m *MockRegistry) UpdateUniqueID(_ context.Context, entityID, newUniqueID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entityID]
	if !ok {
		return ErrStoreNotFound
	}
	m.updates[entityID] = newUniqueID
	e.UniqueID = newUniqueID
	return nil
}

func (m *MockRegistry) ListByConfigEntry(_ context.Context, configEntryID string) ([]RegistryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RegistryEntry
	for _, e := range m.entries {
		if e.ConfigEntryID == configEntryID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *MockRegistry) Updates() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.updates))
	for k, v := range m.updates {
		out[k] = v
	}
	return out
}

// testDevice is the device used across tests.
var testDevice = DeviceInfo{
	Name:       "my_device",
	MACAddress: "aa:bb:cc:dd:ee:ff",
	Model:      "esp32dev",
}

type testEnv struct {
	data     *RuntimeData
	store    *MockStore
	loader   *MockLoader
	registry *MockRegistry
	sched    *fakeScheduler
}

func newTestEnv(t testing.TB, mutate ...func(*Options)) *testEnv {
	t.Helper()

	env := &testEnv{
		store:    NewMockStore(),
		loader:   NewMockLoader(),
		registry: NewMockRegistry(),
		sched:    &fakeScheduler{},
	}
	opts := Options{
		EntryID:   "entry-1",
		Title:     "my_device",
		Store:     env.store,
		Loader:    env.loader,
		Registry:  env.registry,
		AfterFunc: env.sched.AfterFunc,
	}
	for _, m := range mutate {
		m(&opts)
	}
	data, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	env.data = data
	return env
}

func sensorInfo(key uint32, objectID string) EntityInfo {
	return EntityInfo{
		Type:     TypeSensor,
		Key:      key,
		ObjectID: objectID,
		Name:     objectID,
		UniqueID: "AA:BB:CC:DD:EE:FF-sensor-" + objectID,
	}
}

func sensorState(key uint32, value float64) EntityState {
	return EntityState{Type: TypeSensor, Key: key, Value: map[string]any{"state": value}}
}
