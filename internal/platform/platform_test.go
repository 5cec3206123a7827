package platform

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nerrad567/gray-logic-esphome/internal/entityregistry"
	"github.com/nerrad567/gray-logic-esphome/internal/entry"
	"github.com/nerrad567/gray-logic-esphome/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-esphome/internal/infrastructure/mqtt"
)

// memStore is an in-memory entry.Store.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (s *memStore) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.data[key]
	if !ok {
		return nil, entry.ErrStoreNotFound
	}
	return raw, nil
}

func (s *memStore) Save(_ context.Context, key string, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = make(map[string][]byte)
	}
	s.data[key] = raw
	return nil
}

type published struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) PublishJSON(topic string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.PublishRetained(topic, b)
}

func (p *fakePublisher) PublishRetained(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{topic: topic, payload: payload})
	return nil
}

func (p *fakePublisher) last(t *testing.T) (string, StatePayload) {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.msgs) == 0 {
		t.Fatal("nothing published")
	}
	msg := p.msgs[len(p.msgs)-1]
	var payload StatePayload
	if len(msg.payload) > 0 {
		if err := json.Unmarshal(msg.payload, &payload); err != nil {
			t.Fatalf("payload is not JSON: %v", err)
		}
	}
	return msg.topic, payload
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

type point struct {
	tags  influxdb.EntityTags
	value float64
}

type fakeTelemetry struct {
	mu     sync.Mutex
	points []point
}

func (f *fakeTelemetry) WriteEntityValue(tags influxdb.EntityTags, value float64, _ time.Time) {
	f.mu.Lock()
	f.points = append(f.points, point{tags: tags, value: value})
	f.mu.Unlock()
}

type testEnv struct {
	manager   *Manager
	publisher *fakePublisher
	telemetry *fakeTelemetry
	data      *entry.RuntimeData
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{publisher: &fakePublisher{}, telemetry: &fakeTelemetry{}}
	env.manager = NewManager(Options{
		Publisher: env.publisher,
		Telemetry: env.telemetry,
		Topics:    mqtt.DefaultTopics(),
	})

	data, err := entry.New(entry.Options{
		EntryID:   "entry-1",
		Store:     &memStore{},
		Loader:    env.manager,
		SaveDelay: time.Hour,
	})
	if err != nil {
		t.Fatalf("entry.New() error = %v", err)
	}
	data.OnConnect(entry.DeviceInfo{Name: "kitchen", MACAddress: "aa:bb:cc:dd:ee:ff"}, entry.APIVersion{Major: 1, Minor: 9})
	env.data = data
	return env
}

var (
	tempInfo = entry.EntityInfo{
		Type:       entry.TypeSensor,
		Key:        1,
		ObjectID:   "temperature",
		Name:       "Temperature",
		Attributes: map[string]any{"unit_of_measurement": "°C"},
	}
	thermostatInfo = entry.EntityInfo{
		Type:     entry.TypeClimate,
		Key:      2,
		ObjectID: "thermostat",
		Name:     "Thermostat",
	}
	versionInfo = entry.EntityInfo{
		Type:     entry.TypeTextSensor,
		Key:      3,
		ObjectID: "version",
		Name:     "Version",
	}
)

func TestLoadThroughTopology(t *testing.T) {
	env := newTestEnv(t)

	err := env.data.UpdateStaticInfos(context.Background(), []entry.EntityInfo{tempInfo, thermostatInfo, versionInfo})
	if err != nil {
		t.Fatalf("UpdateStaticInfos() error = %v", err)
	}

	want := []entry.Platform{entry.PlatformClimate, entry.PlatformSensor}
	if diff := cmp.Diff(want, env.manager.Loaded("entry-1")); diff != "" {
		t.Errorf("Loaded() mismatch (-want +got):\n%s", diff)
	}

	h, ok := env.manager.Handler("entry-1", entry.PlatformSensor)
	if !ok {
		t.Fatal("no sensor handler")
	}
	if got := len(h.Entities()); got != 2 {
		t.Errorf("sensor handler tracks %d entities, want 2", got)
	}
}

func TestSensorStatePublishedAndRecorded(t *testing.T) {
	env := newTestEnv(t)
	if err := env.data.UpdateStaticInfos(context.Background(), []entry.EntityInfo{tempInfo, versionInfo}); err != nil {
		t.Fatalf("UpdateStaticInfos() error = %v", err)
	}

	env.data.UpdateState(entry.EntityState{Type: entry.TypeSensor, Key: 1, Value: map[string]any{"state": 21.5}})

	topic, payload := env.publisher.last(t)
	if topic != "graylogic/esphome/entry-1/sensor/temperature" {
		t.Errorf("topic = %q", topic)
	}
	if payload.Name != "Temperature" || !payload.Available || payload.State["state"] != 21.5 {
		t.Errorf("payload = %+v", payload)
	}

	wantPoints := []point{{
		tags:  influxdb.EntityTags{EntryID: "entry-1", Platform: "sensor", ObjectID: "temperature", Unit: "°C"},
		value: 21.5,
	}}
	if diff := cmp.Diff(wantPoints, env.telemetry.points, cmp.AllowUnexported(point{})); diff != "" {
		t.Errorf("telemetry mismatch (-want +got):\n%s", diff)
	}

	// Text sensors share the platform but are never written as telemetry.
	env.data.UpdateState(entry.EntityState{Type: entry.TypeTextSensor, Key: 3, Value: map[string]any{"state": "2024.6.1"}})
	if topic, _ := env.publisher.last(t); topic != "graylogic/esphome/entry-1/sensor/version" {
		t.Errorf("text sensor topic = %q", topic)
	}
	if len(env.telemetry.points) != 1 {
		t.Errorf("telemetry points = %d, want 1", len(env.telemetry.points))
	}

	// Missing state is published but not recorded.
	env.data.UpdateState(entry.EntityState{Type: entry.TypeSensor, Key: 1, MissingState: true})
	if _, payload := env.publisher.last(t); !payload.Missing {
		t.Errorf("missing state payload = %+v", payload)
	}
	if len(env.telemetry.points) != 1 {
		t.Errorf("telemetry points after missing state = %d, want 1", len(env.telemetry.points))
	}
}

func TestAvailabilityRepublished(t *testing.T) {
	env := newTestEnv(t)
	if err := env.data.UpdateStaticInfos(context.Background(), []entry.EntityInfo{tempInfo, versionInfo}); err != nil {
		t.Fatalf("UpdateStaticInfos() error = %v", err)
	}
	env.data.UpdateState(entry.EntityState{Type: entry.TypeSensor, Key: 1, Value: map[string]any{"state": 21.5}})
	if got := env.publisher.count(); got != 1 {
		t.Fatalf("published = %d, want 1", got)
	}

	env.data.OnDisconnect(false)

	// Only the entity with a state is republished; telemetry is not rewritten.
	if got := env.publisher.count(); got != 2 {
		t.Fatalf("published after disconnect = %d, want 2", got)
	}
	topic, payload := env.publisher.last(t)
	if topic != "graylogic/esphome/entry-1/sensor/temperature" {
		t.Errorf("topic = %q", topic)
	}
	if payload.Available || payload.State["state"] != 21.5 {
		t.Errorf("payload after disconnect = %+v, want available=false with last state", payload)
	}
	if len(env.telemetry.points) != 1 {
		t.Errorf("telemetry points = %d, want 1", len(env.telemetry.points))
	}

	env.data.OnConnect(entry.DeviceInfo{Name: "kitchen", MACAddress: "aa:bb:cc:dd:ee:ff"}, entry.APIVersion{Major: 1, Minor: 9})
	if _, payload := env.publisher.last(t); !payload.Available {
		t.Errorf("payload after reconnect = %+v, want available=true", payload)
	}
}

func TestClimateStateTranslated(t *testing.T) {
	env := newTestEnv(t)
	if err := env.data.UpdateStaticInfos(context.Background(), []entry.EntityInfo{thermostatInfo}); err != nil {
		t.Fatalf("UpdateStaticInfos() error = %v", err)
	}

	env.data.UpdateState(entry.EntityState{
		Type:  entry.TypeClimate,
		Key:   2,
		Value: map[string]any{"mode": float64(3), "action": float64(4)},
	})

	topic, payload := env.publisher.last(t)
	if topic != "graylogic/esphome/entry-1/climate/thermostat" {
		t.Errorf("topic = %q", topic)
	}
	if payload.State["hvac_mode"] != "heat" || payload.State["hvac_action"] != "idle" {
		t.Errorf("climate state = %v", payload.State)
	}
}

func TestInfoUpdateRenames(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.data.UpdateStaticInfos(ctx, []entry.EntityInfo{tempInfo}); err != nil {
		t.Fatalf("UpdateStaticInfos() error = %v", err)
	}

	renamed := tempInfo
	renamed.Name = "Outdoor"
	env.data.UpdateEntityInfos([]entry.EntityInfo{renamed})
	env.data.UpdateState(entry.EntityState{Type: entry.TypeSensor, Key: 1, Value: map[string]any{"state": 3.0}})

	if _, payload := env.publisher.last(t); payload.Name != "Outdoor" {
		t.Errorf("payload name = %q, want Outdoor", payload.Name)
	}
}

func TestRemovalClearsState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.data.UpdateStaticInfos(ctx, []entry.EntityInfo{tempInfo}); err != nil {
		t.Fatalf("UpdateStaticInfos() error = %v", err)
	}

	if err := env.data.RemoveEntities(ctx, []entry.EntityInfo{tempInfo}); err != nil {
		t.Fatalf("RemoveEntities() error = %v", err)
	}

	env.publisher.mu.Lock()
	last := env.publisher.msgs[len(env.publisher.msgs)-1]
	env.publisher.mu.Unlock()
	if last.topic != "graylogic/esphome/entry-1/sensor/temperature" || len(last.payload) != 0 {
		t.Errorf("last message = %q %q, want empty retained clear", last.topic, last.payload)
	}

	before := env.publisher.count()
	env.data.UpdateState(entry.EntityState{Type: entry.TypeSensor, Key: 1, Value: map[string]any{"state": 1.0}})
	if env.publisher.count() != before {
		t.Error("state published for a removed entity")
	}

	h, _ := env.manager.Handler("entry-1", entry.PlatformSensor)
	if len(h.Entities()) != 0 {
		t.Errorf("handler still tracks %v", h.Entities())
	}
}

func TestRemovalPublishError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.data.UpdateStaticInfos(ctx, []entry.EntityInfo{tempInfo}); err != nil {
		t.Fatalf("UpdateStaticInfos() error = %v", err)
	}

	errBroker := errors.New("broker gone")
	env.publisher.err = errBroker

	if err := env.data.RemoveEntities(ctx, []entry.EntityInfo{tempInfo}); !errors.Is(err, errBroker) {
		t.Errorf("RemoveEntities() error = %v, want broker error", err)
	}
}

func TestLoadPlatformsErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.manager.LoadPlatforms(ctx, env.data, []entry.Platform{"bogus"}); !errors.Is(err, ErrNoTypes) {
		t.Errorf("LoadPlatforms(bogus) error = %v, want ErrNoTypes", err)
	}
	if err := env.manager.LoadPlatforms(ctx, env.data, []entry.Platform{entry.PlatformUpdate}); err != nil {
		t.Errorf("LoadPlatforms(update) error = %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := env.manager.LoadPlatforms(cancelled, env.data, []entry.Platform{entry.PlatformLight}); !errors.Is(err, context.Canceled) {
		t.Errorf("LoadPlatforms() cancelled error = %v", err)
	}
}

func TestCleanupUnloads(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.data.UpdateStaticInfos(ctx, []entry.EntityInfo{tempInfo}); err != nil {
		t.Fatalf("UpdateStaticInfos() error = %v", err)
	}

	if err := env.data.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if got := env.manager.Loaded("entry-1"); len(got) != 0 {
		t.Errorf("Loaded() after cleanup = %v", got)
	}

	before := env.publisher.count()
	env.data.UpdateState(entry.EntityState{Type: entry.TypeSensor, Key: 1, Value: map[string]any{"state": 9.0}})
	if env.publisher.count() != before {
		t.Error("state published after cleanup")
	}

	if err := env.manager.LoadPlatforms(ctx, env.data, []entry.Platform{entry.PlatformSensor}); !errors.Is(err, ErrEntryClosed) {
		t.Errorf("LoadPlatforms() after unload error = %v, want ErrEntryClosed", err)
	}
}

func TestNoPublisherOrTelemetry(t *testing.T) {
	m := NewManager(Options{Topics: mqtt.DefaultTopics()})
	data, err := entry.New(entry.Options{EntryID: "e", Store: &memStore{}, Loader: m, SaveDelay: time.Hour})
	if err != nil {
		t.Fatalf("entry.New() error = %v", err)
	}
	ctx := context.Background()
	if err := data.UpdateStaticInfos(ctx, []entry.EntityInfo{tempInfo}); err != nil {
		t.Fatalf("UpdateStaticInfos() error = %v", err)
	}
	data.UpdateState(entry.EntityState{Type: entry.TypeSensor, Key: 1, Value: map[string]any{"state": 1.0}})
	if err := data.RemoveEntities(ctx, []entry.EntityInfo{tempInfo}); err != nil {
		t.Errorf("RemoveEntities() error = %v", err)
	}
}

type fakeRegistrar struct {
	mu         sync.Mutex
	known      map[string]bool
	registered []entityregistry.Entry
	objectIDs  []string
	err        error
}

func (f *fakeRegistrar) LookupEntityID(_ context.Context, _ entry.Platform, _, uniqueID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return "", f.known[uniqueID], nil
}

func (f *fakeRegistrar) Register(_ context.Context, e entityregistry.Entry, objectID string) (*entityregistry.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.registered = append(f.registered, e)
	f.objectIDs = append(f.objectIDs, objectID)
	return &e, nil
}

func TestNewEntitiesRegistered(t *testing.T) {
	reg := &fakeRegistrar{known: map[string]bool{"AABBCCDDEEFF-sensor-humidity": true}}
	m := NewManager(Options{Registry: reg, Topics: mqtt.DefaultTopics()})
	data, err := entry.New(entry.Options{EntryID: "e", Store: &memStore{}, Loader: m, SaveDelay: time.Hour})
	if err != nil {
		t.Fatalf("entry.New() error = %v", err)
	}

	temp := tempInfo
	temp.UniqueID = "AABBCCDDEEFF-sensor-temperature"
	humidity := entry.EntityInfo{
		Type: entry.TypeSensor, Key: 4, ObjectID: "humidity", UniqueID: "AABBCCDDEEFF-sensor-humidity",
	}
	noID := entry.EntityInfo{Type: entry.TypeSensor, Key: 5, ObjectID: "uptime"}

	ctx := context.Background()
	if err := data.UpdateStaticInfos(ctx, []entry.EntityInfo{temp, humidity, noID}); err != nil {
		t.Fatalf("UpdateStaticInfos() error = %v", err)
	}
	// A second batch with the same entities registers nothing new.
	if err := data.UpdateStaticInfos(ctx, []entry.EntityInfo{temp}); err != nil {
		t.Fatalf("UpdateStaticInfos() error = %v", err)
	}

	want := []entityregistry.Entry{{
		ConfigEntryID: "e",
		Platform:      entry.PlatformSensor,
		Domain:        entry.Domain,
		UniqueID:      "AABBCCDDEEFF-sensor-temperature",
	}}
	if diff := cmp.Diff(want, reg.registered); diff != "" {
		t.Errorf("registered mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"temperature"}, reg.objectIDs); diff != "" {
		t.Errorf("object ids mismatch (-want +got):\n%s", diff)
	}
}

func TestRegisterFailureKeepsEntity(t *testing.T) {
	reg := &fakeRegistrar{err: errors.New("database is locked")}
	m := NewManager(Options{Registry: reg, Topics: mqtt.DefaultTopics()})
	data, err := entry.New(entry.Options{EntryID: "e", Store: &memStore{}, Loader: m, SaveDelay: time.Hour})
	if err != nil {
		t.Fatalf("entry.New() error = %v", err)
	}

	temp := tempInfo
	temp.UniqueID = "AABBCCDDEEFF-sensor-temperature"
	if err := data.UpdateStaticInfos(context.Background(), []entry.EntityInfo{temp}); err != nil {
		t.Fatalf("UpdateStaticInfos() error = %v", err)
	}

	h, ok := m.Handler("e", entry.PlatformSensor)
	if !ok {
		t.Fatal("sensor handler not loaded")
	}
	if got := len(h.Entities()); got != 1 {
		t.Errorf("len(Entities()) = %d, want 1", got)
	}
}

func TestNumericState(t *testing.T) {
	tests := []struct {
		name  string
		value map[string]any
		want  float64
		ok    bool
	}{
		{"float", map[string]any{"state": 1.5}, 1.5, true},
		{"int", map[string]any{"state": 4}, 4, true},
		{"string", map[string]any{"state": "on"}, 0, false},
		{"missing", map[string]any{}, 0, false},
		{"nil map", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := numericState(tt.value)
			if got != tt.want || ok != tt.ok {
				t.Errorf("numericState() = %v, %v; want %v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}
