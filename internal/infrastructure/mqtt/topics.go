package mqtt

import (
	"fmt"
	"strings"
)

// Default topic prefixes. Both are configurable through esphome.topic_prefix
// and esphome.state_prefix.
const (
	// DefaultDevicePrefix is the root ESPHome nodes publish under.
	DefaultDevicePrefix = "esphome"

	// DefaultStatePrefix is the root of the mirrored entity state topics.
	DefaultStatePrefix = "graylogic/esphome"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "graylogic/system"
)

// Device topic leaves. A node publishes each message kind on
// {device_prefix}/{node}/{kind}.
const (
	KindStatus     = "status"
	KindDeviceInfo = "device_info"
	KindEntities   = "entities"
	KindRemoved    = "removed"
	KindState      = "state"
)

// Topics builds the topics used by the ESPHome service.
//
//	topics := mqtt.Topics{DevicePrefix: "esphome", StatePrefix: "graylogic/esphome"}
//	topics.Device("kitchen", mqtt.KindState)
//	// Returns: "esphome/kitchen/state"
type Topics struct {
	DevicePrefix string
	StatePrefix  string
}

// DefaultTopics returns Topics with the default prefixes.
func DefaultTopics() Topics {
	return Topics{DevicePrefix: DefaultDevicePrefix, StatePrefix: DefaultStatePrefix}
}

// =============================================================================
// Device Topics
// =============================================================================

// Device returns the topic a node publishes one message kind on.
//
// Example: esphome/kitchen/entities
func (t Topics) Device(node, kind string) string {
	return fmt.Sprintf("%s/%s/%s", t.DevicePrefix, node, kind)
}

// DeviceAll returns the wildcard matching every message of one node.
//
// Example: esphome/kitchen/+
func (t Topics) DeviceAll(node string) string {
	return fmt.Sprintf("%s/%s/+", t.DevicePrefix, node)
}

// ParseDevice splits a device topic into node and message kind.
// It reports false for topics outside the device prefix.
func (t Topics) ParseDevice(topic string) (node, kind string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.DevicePrefix+"/")
	if !found {
		return "", "", false
	}
	node, kind, found = strings.Cut(rest, "/")
	if !found || node == "" || kind == "" || strings.Contains(kind, "/") {
		return "", "", false
	}
	return node, kind, true
}

// =============================================================================
// Mirrored State Topics
// =============================================================================

// EntityState returns the retained topic carrying one entity's state.
//
// Example: graylogic/esphome/a1b2c3/sensor/kitchen_temperature
func (t Topics) EntityState(entryID, platform, objectID string) string {
	return fmt.Sprintf("%s/%s/%s/%s", t.StatePrefix, entryID, platform, objectID)
}

// EntryAvailability returns the retained topic carrying an entry's
// availability ("online" or "offline").
//
// Example: graylogic/esphome/a1b2c3/availability
func (t Topics) EntryAvailability(entryID string) string {
	return fmt.Sprintf("%s/%s/availability", t.StatePrefix, entryID)
}

// AllEntityStates returns the wildcard for every mirrored state topic.
func (t Topics) AllEntityStates() string {
	return t.StatePrefix + "/#"
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the topic for the service's online status (LWT).
//
// Example: graylogic/system/esphome/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/esphome/status"
}
