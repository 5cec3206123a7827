package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-esphome/internal/entry"
)

// Node status values carried by the status message.
const (
	StatusOnline   = "online"
	StatusOffline  = "offline"
	StatusSleeping = "sleeping"
)

// deviceInfoMessage is the device_info payload.
type deviceInfoMessage struct {
	entry.DeviceInfo
	APIVersion entry.APIVersion `json:"api_version"`
}

// entitiesMessage is the entities payload. Each entity is an EntityInfo
// object with an added "type" marker.
type entitiesMessage struct {
	Entities []json.RawMessage   `json:"entities"`
	Services []entry.UserService `json:"services"`
}

// removedEntity is one element of the removed payload.
type removedEntity struct {
	Type entry.EntityType `json:"type"`
	Key  uint32           `json:"key"`
}

// decodeStatus accepts either a bare status word or {"status": "..."}.
func decodeStatus(payload []byte) (string, error) {
	trimmed := bytes.TrimSpace(payload)
	status := string(trimmed)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var msg struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(trimmed, &msg); err != nil {
			return "", fmt.Errorf("%w: status: %w", ErrInvalidPayload, err)
		}
		status = msg.Status
	}

	status = strings.ToLower(status)
	switch status {
	case StatusOnline, StatusOffline, StatusSleeping:
		return status, nil
	default:
		return "", fmt.Errorf("%w: status %q", ErrInvalidPayload, status)
	}
}

func decodeDeviceInfo(payload []byte) (entry.DeviceInfo, entry.APIVersion, error) {
	var msg deviceInfoMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return entry.DeviceInfo{}, entry.APIVersion{}, fmt.Errorf("%w: device_info: %w", ErrInvalidPayload, err)
	}
	if msg.Name == "" {
		return entry.DeviceInfo{}, entry.APIVersion{}, fmt.Errorf("%w: device_info without name", ErrInvalidPayload)
	}
	return msg.DeviceInfo, msg.APIVersion, nil
}

// decodeEntities decodes the full entity list. Entities with a type marker
// this service does not know are left out and their markers returned in
// skipped; the rest of the batch is kept.
func decodeEntities(payload []byte) (infos []entry.EntityInfo, services []entry.UserService, skipped []string, err error) {
	var msg entitiesMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: entities: %w", ErrInvalidPayload, err)
	}

	infos = make([]entry.EntityInfo, 0, len(msg.Entities))
	for i, raw := range msg.Entities {
		info, marker, err := decodeInfo(raw)
		if errors.Is(err, entry.ErrUnknownEntityType) {
			skipped = append(skipped, marker)
			continue
		}
		if err != nil {
			return nil, nil, nil, fmt.Errorf("entities[%d]: %w", i, err)
		}
		infos = append(infos, info)
	}
	return infos, msg.Services, skipped, nil
}

// decodeInfo reads an EntityInfo whose type marker sits next to its fields.
// The raw marker is returned so callers can report unknown types.
func decodeInfo(raw json.RawMessage) (entry.EntityInfo, string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return entry.EntityInfo{}, "", fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if head.Type == "" {
		return entry.EntityInfo{}, "", fmt.Errorf("%w: missing type", ErrInvalidPayload)
	}
	typ, err := entry.ParseEntityType(head.Type)
	if err != nil {
		return entry.EntityInfo{}, head.Type, err
	}

	var info entry.EntityInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return entry.EntityInfo{}, head.Type, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	info.Type = typ
	return info, head.Type, nil
}

func decodeRemoved(payload []byte) ([]removedEntity, error) {
	var msg []removedEntity
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("%w: removed: %w", ErrInvalidPayload, err)
	}
	return msg, nil
}

func decodeState(payload []byte) (entry.EntityState, error) {
	var state entry.EntityState
	if err := json.Unmarshal(payload, &state); err != nil {
		return entry.EntityState{}, fmt.Errorf("%w: state: %w", ErrInvalidPayload, err)
	}
	if state.Type == entry.TypeUnknown {
		return entry.EntityState{}, fmt.Errorf("%w: state without type", ErrInvalidPayload)
	}
	return state, nil
}
