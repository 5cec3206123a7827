// Package session drives one entry's runtime data from the messages its
// ESPHome node publishes over MQTT.
//
// A node publishes on {device_prefix}/{node}/{kind}:
//
//	esphome/kitchen/status        online | offline | sleeping
//	esphome/kitchen/device_info   {"name": ..., "mac_address": ..., "api_version": {...}}
//	esphome/kitchen/entities      {"entities": [{"type": "sensor", "key": 1, ...}], "services": [...]}
//	esphome/kitchen/removed       [{"type": "sensor", "key": 1}]
//	esphome/kitchen/state         {"type": "sensor", "key": 1, "value": {...}}
//
// The MQTT library delivers messages on its own goroutines. A Session queues
// them into an inbox drained by a single goroutine, so every mutation of one
// entry happens in arrival order.
//
// The entities message always carries the node's full entity list. Entities
// known from the previous list but absent from the new one are removed before
// the new list is applied.
package session
