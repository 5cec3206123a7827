package entry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Fixed keys of the persisted snapshot. Every other top-level key is an
// entity type marker.
const (
	storeKeyDeviceInfo = "device_info"
	storeKeyAPIVersion = "api_version"
	storeKeyServices   = "services"
)

// StoreData is the persisted snapshot of an entry's topology.
//
// On disk it is a flat JSON object: device_info, api_version, services and
// one list per entity type keyed by the type marker (e.g. "sensor").
type StoreData struct {
	DeviceInfo *DeviceInfo
	APIVersion APIVersion
	Services   []UserService
	Infos      map[EntityType][]EntityInfo
}

// Entities returns all infos of the snapshot in type order.
func (d *StoreData) Entities() []EntityInfo {
	if d == nil {
		return nil
	}
	var out []EntityInfo
	for _, typ := range AllEntityTypes {
		out = append(out, d.Infos[typ]...)
	}
	return out
}

// MarshalJSON writes the flat storage layout.
func (d StoreData) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(d.Infos)+3)
	doc[storeKeyDeviceInfo] = d.DeviceInfo
	doc[storeKeyAPIVersion] = d.APIVersion

	services := d.Services
	if services == nil {
		services = []UserService{}
	}
	doc[storeKeyServices] = services

	for typ, infos := range d.Infos {
		if typ == TypeUnknown {
			continue
		}
		doc[typ.String()] = infos
	}
	return json.Marshal(doc)
}

// UnmarshalJSON reads the flat storage layout, dispatching each entity list
// to its type by marker. Unknown markers are skipped.
func (d *StoreData) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	out := StoreData{Infos: make(map[EntityType][]EntityInfo)}

	if msg, ok := raw[storeKeyDeviceInfo]; ok && string(msg) != "null" {
		var info DeviceInfo
		if err := json.Unmarshal(msg, &info); err != nil {
			return fmt.Errorf("decoding %s: %w", storeKeyDeviceInfo, err)
		}
		out.DeviceInfo = &info
	}
	if msg, ok := raw[storeKeyAPIVersion]; ok {
		if err := json.Unmarshal(msg, &out.APIVersion); err != nil {
			return fmt.Errorf("decoding %s: %w", storeKeyAPIVersion, err)
		}
	}
	if msg, ok := raw[storeKeyServices]; ok {
		if err := json.Unmarshal(msg, &out.Services); err != nil {
			return fmt.Errorf("decoding %s: %w", storeKeyServices, err)
		}
	}

	for marker, msg := range raw {
		switch marker {
		case storeKeyDeviceInfo, storeKeyAPIVersion, storeKeyServices:
			continue
		}
		infos, err := decodeInfos(marker, msg)
		if errors.Is(err, ErrUnknownEntityType) {
			continue
		}
		if err != nil {
			return err
		}
		if len(infos) > 0 {
			out.Infos[infos[0].Type] = infos
		}
	}

	*d = out
	return nil
}

// decodeInfos decodes one per-type list and stamps every element with the
// type named by the marker.
func decodeInfos(marker string, msg json.RawMessage) ([]EntityInfo, error) {
	typ, err := ParseEntityType(marker)
	if err != nil {
		return nil, err
	}
	var infos []EntityInfo
	if err := json.Unmarshal(msg, &infos); err != nil {
		return nil, fmt.Errorf("decoding %s infos: %w", marker, err)
	}
	for i := range infos {
		infos[i].Type = typ
	}
	return infos, nil
}

// sortInfos orders infos by key so snapshots compare deterministically.
func sortInfos(infos []EntityInfo) {
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
}

// sortServices orders services by key.
func sortServices(services []UserService) {
	sort.Slice(services, func(i, j int) bool { return services[i].Key < services[j].Key })
}
