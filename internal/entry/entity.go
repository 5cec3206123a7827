package entry

import (
	"fmt"
	"strings"
)

// Domain is the integration domain used for entity registry lookups.
const Domain = "esphome"

// EntityType identifies the kind of entity exposed by a device.
//
// The set is closed: every value maps to exactly one persisted marker
// (String) and one consumer platform (Platform).
type EntityType uint8

// Entity types exposed by ESPHome devices.
const (
	TypeUnknown EntityType = iota
	TypeAlarmControlPanel
	TypeBinarySensor
	TypeButton
	TypeCamera
	TypeClimate
	TypeCover
	TypeFan
	TypeLight
	TypeLock
	TypeMediaPlayer
	TypeNumber
	TypeSelect
	TypeSensor
	TypeSwitch
	TypeTextSensor
)

// AllEntityTypes lists every known entity type in declaration order.
var AllEntityTypes = []EntityType{
	TypeAlarmControlPanel,
	TypeBinarySensor,
	TypeButton,
	TypeCamera,
	TypeClimate,
	TypeCover,
	TypeFan,
	TypeLight,
	TypeLock,
	TypeMediaPlayer,
	TypeNumber,
	TypeSelect,
	TypeSensor,
	TypeSwitch,
	TypeTextSensor,
}

// String returns the component type marker used on the wire and in storage.
func (t EntityType) String() string {
	switch t {
	case TypeAlarmControlPanel:
		return "alarm_control_panel"
	case TypeBinarySensor:
		return "binary_sensor"
	case TypeButton:
		return "button"
	case TypeCamera:
		return "camera"
	case TypeClimate:
		return "climate"
	case TypeCover:
		return "cover"
	case TypeFan:
		return "fan"
	case TypeLight:
		return "light"
	case TypeLock:
		return "lock"
	case TypeMediaPlayer:
		return "media_player"
	case TypeNumber:
		return "number"
	case TypeSelect:
		return "select"
	case TypeSensor:
		return "sensor"
	case TypeSwitch:
		return "switch"
	case TypeTextSensor:
		return "text_sensor"
	default:
		return "unknown"
	}
}

// ParseEntityType converts a component type marker to an EntityType.
// Returns ErrUnknownEntityType for markers that are not recognised.
func ParseEntityType(s string) (EntityType, error) {
	for _, t := range AllEntityTypes {
		if t.String() == s {
			return t, nil
		}
	}
	return TypeUnknown, fmt.Errorf("%w: %q", ErrUnknownEntityType, s)
}

// MarshalText implements encoding.TextMarshaler.
func (t EntityType) MarshalText() ([]byte, error) {
	if t == TypeUnknown {
		return nil, ErrUnknownEntityType
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *EntityType) UnmarshalText(b []byte) error {
	parsed, err := ParseEntityType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Platform is a consumer group identifier. A platform is loaded once for an
// entry as soon as an entity that needs it is discovered.
type Platform string

// Platforms known to the integration.
const (
	PlatformAlarmControlPanel Platform = "alarm_control_panel"
	PlatformBinarySensor      Platform = "binary_sensor"
	PlatformButton            Platform = "button"
	PlatformCamera            Platform = "camera"
	PlatformClimate           Platform = "climate"
	PlatformCover             Platform = "cover"
	PlatformFan               Platform = "fan"
	PlatformLight             Platform = "light"
	PlatformLock              Platform = "lock"
	PlatformMediaPlayer       Platform = "media_player"
	PlatformNumber            Platform = "number"
	PlatformSelect            Platform = "select"
	PlatformSensor            Platform = "sensor"
	PlatformSwitch            Platform = "switch"
	PlatformUpdate            Platform = "update"
)

// Platform returns the consumer platform that handles entities of this type.
func (t EntityType) Platform() Platform {
	switch t {
	case TypeAlarmControlPanel:
		return PlatformAlarmControlPanel
	case TypeBinarySensor:
		return PlatformBinarySensor
	case TypeButton:
		return PlatformButton
	case TypeCamera:
		return PlatformCamera
	case TypeClimate:
		return PlatformClimate
	case TypeCover:
		return PlatformCover
	case TypeFan:
		return PlatformFan
	case TypeLight:
		return PlatformLight
	case TypeLock:
		return PlatformLock
	case TypeMediaPlayer:
		return PlatformMediaPlayer
	case TypeNumber:
		return PlatformNumber
	case TypeSelect:
		return PlatformSelect
	case TypeSensor, TypeTextSensor:
		return PlatformSensor
	case TypeSwitch:
		return PlatformSwitch
	default:
		return ""
	}
}

// EntityInfo is the static descriptor of one device entity.
//
// Identity is (Type, Key). An EntityInfo is replaced wholesale whenever a
// topology update references its key.
type EntityInfo struct {
	Type              EntityType     `json:"-"`
	Key               uint32         `json:"key"`
	ObjectID          string         `json:"object_id"`
	Name              string         `json:"name"`
	UniqueID          string         `json:"unique_id"`
	DisabledByDefault bool           `json:"disabled_by_default,omitempty"`
	Icon              string         `json:"icon,omitempty"`
	EntityCategory    string         `json:"entity_category,omitempty"`
	ForceUpdate       bool           `json:"force_update,omitempty"`
	Attributes        map[string]any `json:"attributes,omitempty"`
}

// EntityState is the latest observed value for one entity.
type EntityState struct {
	Type         EntityType     `json:"type"`
	Key          uint32         `json:"key"`
	Value        map[string]any `json:"value,omitempty"`
	MissingState bool           `json:"missing_state,omitempty"`
}

// DeviceInfo describes the remote device itself.
type DeviceInfo struct {
	Name                       string `json:"name"`
	FriendlyName               string `json:"friendly_name,omitempty"`
	MACAddress                 string `json:"mac_address"`
	Model                      string `json:"model,omitempty"`
	Manufacturer               string `json:"manufacturer,omitempty"`
	ESPHomeVersion             string `json:"esphome_version,omitempty"`
	CompilationTime            string `json:"compilation_time,omitempty"`
	VoiceAssistantVersion      int    `json:"voice_assistant_version,omitempty"`
	BluetoothProxyFeatureFlags int    `json:"bluetooth_proxy_feature_flags,omitempty"`
}

// APIVersion is the native API version negotiated with the device.
type APIVersion struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
}

// String returns the version as "major.minor".
func (v APIVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// UserService is a user-invocable service declared by the device.
type UserService struct {
	Key  uint32           `json:"key"`
	Name string           `json:"name"`
	Args []UserServiceArg `json:"args,omitempty"`
}

// UserServiceArg describes one argument of a UserService.
type UserServiceArg struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// FormatMAC normalises a MAC address to lower-case colon-separated form.
// Inputs that are not recognisable MAC addresses are returned unchanged.
func FormatMAC(mac string) string {
	to := strings.ToLower(mac)
	switch {
	case len(to) == 17 && strings.Count(to, ":") == 5:
		return to
	case len(to) == 17 && strings.Count(to, "-") == 5:
		return strings.ReplaceAll(to, "-", ":")
	case len(to) == 14 && strings.Count(to, ".") == 2:
		to = strings.ReplaceAll(to, ".", "")
	}
	if len(to) == 12 && !strings.ContainsAny(to, ":-.") {
		parts := make([]string, 0, 6)
		for i := 0; i < 12; i += 2 {
			parts = append(parts, to[i:i+2])
		}
		return strings.Join(parts, ":")
	}
	return mac
}

// UniqueIDPrefix returns the prefix shared by unique ids in the current
// addressing scheme for a device ("AA:BB:CC:DD:EE:FF-").
func UniqueIDPrefix(device DeviceInfo) string {
	return strings.ToUpper(FormatMAC(device.MACAddress)) + "-"
}
