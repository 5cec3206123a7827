package platform

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-esphome/internal/climate"
	"github.com/nerrad567/gray-logic-esphome/internal/entityregistry"
	"github.com/nerrad567/gray-logic-esphome/internal/entry"
	"github.com/nerrad567/gray-logic-esphome/internal/infrastructure/influxdb"
)

const (
	// unitAttribute is the info attribute holding a sensor's unit.
	unitAttribute = "unit_of_measurement"

	registerTimeout = 5 * time.Second
)

type entityKey struct {
	typ entry.EntityType
	key uint32
}

// entity is one tracked entity and the subscriptions that follow it.
type entity struct {
	info   entry.EntityInfo
	unsubs []entry.Unsubscribe
}

// Handler follows the entities of one platform for one entry.
type Handler struct {
	m        *Manager
	data     *entry.RuntimeData
	platform entry.Platform

	mu       sync.Mutex
	entities map[entityKey]*entity
	unsubs   []entry.Unsubscribe
	closed   bool
}

// StatePayload is the retained message published for an entity.
type StatePayload struct {
	Type      string         `json:"type"`
	Key       uint32         `json:"key"`
	Name      string         `json:"name"`
	State     map[string]any `json:"state,omitempty"`
	Missing   bool           `json:"missing,omitempty"`
	Available bool           `json:"available"`
}

func newHandler(m *Manager, data *entry.RuntimeData, p entry.Platform, types []entry.EntityType) *Handler {
	h := &Handler{
		m:        m,
		data:     data,
		platform: p,
		entities: make(map[entityKey]*entity),
	}
	for _, t := range types {
		h.unsubs = append(h.unsubs, data.RegisterStaticInfoCallback(t, h.onStaticInfos))
	}
	if len(types) > 0 {
		h.unsubs = append(h.unsubs, data.SubscribeDeviceUpdated(h.onDeviceUpdated))
	}
	return h
}

// Platform returns the platform served by the handler.
func (h *Handler) Platform() entry.Platform {
	return h.platform
}

// Entities returns the infos of the tracked entities.
func (h *Handler) Entities() []entry.EntityInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]entry.EntityInfo, 0, len(h.entities))
	for _, e := range h.entities {
		out = append(out, e.info)
	}
	return out
}

// onStaticInfos starts tracking entities it has not seen and refreshes the
// info of the rest. New entities are recorded in the entity registry.
func (h *Handler) onStaticInfos(infos []entry.EntityInfo) {
	added := h.track(infos)
	for _, info := range added {
		h.register(info)
	}
}

func (h *Handler) track(infos []entry.EntityInfo) []entry.EntityInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}

	var added []entry.EntityInfo
	for _, info := range infos {
		k := entityKey{typ: info.Type, key: info.Key}
		if e, ok := h.entities[k]; ok {
			e.info = info
			continue
		}

		e := &entity{info: info}
		e.unsubs = []entry.Unsubscribe{
			h.data.SubscribeStateUpdate(info.Type, info.Key, func() { h.onState(k) }),
			h.data.RegisterKeyUpdatedCallback(info.Type, info.Key, h.onInfoUpdated),
			h.data.RegisterKeyRemovedCallback(info.Type, info.Key, func(ctx context.Context) error {
				return h.onRemoved(ctx, k)
			}),
		}
		h.entities[k] = e
		added = append(added, info)

		h.m.logger.Debug("entity added",
			"entry", h.data.EntryID(), "platform", h.platform, "object_id", info.ObjectID)
	}
	return added
}

// register adds the entity to the registry unless its unique id is already
// known there.
func (h *Handler) register(info entry.EntityInfo) {
	reg := h.m.opts.Registry
	if reg == nil || info.UniqueID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), registerTimeout)
	defer cancel()

	_, found, err := reg.LookupEntityID(ctx, h.platform, entry.Domain, info.UniqueID)
	if err != nil {
		h.m.logger.Warn("entity registry lookup failed", "unique_id", info.UniqueID, "error", err)
		return
	}
	if found {
		return
	}

	_, err = reg.Register(ctx, entityregistry.Entry{
		ConfigEntryID: h.data.EntryID(),
		Platform:      h.platform,
		Domain:        entry.Domain,
		UniqueID:      info.UniqueID,
	}, info.ObjectID)
	if err != nil && !errors.Is(err, entityregistry.ErrExists) {
		h.m.logger.Warn("registering entity failed", "unique_id", info.UniqueID, "error", err)
	}
}

func (h *Handler) onInfoUpdated(info entry.EntityInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.entities[entityKey{typ: info.Type, key: info.Key}]; ok {
		e.info = info
	}
}

// onState publishes the entity's current state and records numeric sensor
// values.
func (h *Handler) onState(k entityKey) {
	h.publishState(k, true)
}

// onDeviceUpdated republishes every tracked entity so the retained payloads
// carry the device's current availability.
func (h *Handler) onDeviceUpdated() {
	h.mu.Lock()
	keys := make([]entityKey, 0, len(h.entities))
	for k := range h.entities {
		keys = append(keys, k)
	}
	h.mu.Unlock()

	for _, k := range keys {
		h.publishState(k, false)
	}
}

func (h *Handler) publishState(k entityKey, record bool) {
	h.mu.Lock()
	e, ok := h.entities[k]
	var info entry.EntityInfo
	if ok {
		info = e.info
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	state, ok := h.data.State(k.typ, k.key)
	if !ok {
		return
	}

	value := state.Value
	if k.typ == entry.TypeClimate {
		value = climate.Translate(value)
	}

	payload := StatePayload{
		Type:      k.typ.String(),
		Key:       k.key,
		Name:      info.Name,
		State:     value,
		Missing:   state.MissingState,
		Available: h.data.Available(),
	}

	if pub := h.m.opts.Publisher; pub != nil {
		topic := h.m.opts.Topics.EntityState(h.data.EntryID(), string(h.platform), info.ObjectID)
		if err := pub.PublishJSON(topic, payload); err != nil {
			h.m.logger.Warn("publishing entity state failed", "topic", topic, "error", err)
		}
	}

	if tel := h.m.opts.Telemetry; record && tel != nil && k.typ == entry.TypeSensor && !state.MissingState {
		if v, ok := numericState(state.Value); ok {
			unit, _ := info.Attributes[unitAttribute].(string)
			tel.WriteEntityValue(influxdb.EntityTags{
				EntryID:  h.data.EntryID(),
				Platform: string(h.platform),
				ObjectID: info.ObjectID,
				Unit:     unit,
			}, v, h.m.opts.Now())
		}
	}
}

// onRemoved stops following the entity and clears its retained state.
func (h *Handler) onRemoved(_ context.Context, k entityKey) error {
	h.mu.Lock()
	e, ok := h.entities[k]
	delete(h.entities, k)
	h.mu.Unlock()
	if !ok {
		return nil
	}

	for _, unsub := range e.unsubs {
		unsub()
	}

	h.m.logger.Debug("entity removed",
		"entry", h.data.EntryID(), "platform", h.platform, "object_id", e.info.ObjectID)

	if pub := h.m.opts.Publisher; pub != nil {
		topic := h.m.opts.Topics.EntityState(h.data.EntryID(), string(h.platform), e.info.ObjectID)
		if err := pub.PublishRetained(topic, nil); err != nil {
			return fmt.Errorf("clearing %s: %w", topic, err)
		}
	}
	return nil
}

// close drops every subscription held by the handler.
func (h *Handler) close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	unsubs := h.unsubs
	for _, e := range h.entities {
		unsubs = append(unsubs, e.unsubs...)
	}
	h.entities = make(map[entityKey]*entity)
	h.unsubs = nil
	h.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

// numericState extracts the "state" field of a sensor value.
func numericState(value map[string]any) (float64, bool) {
	switch v := value["state"].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
