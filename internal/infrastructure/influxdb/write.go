package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the ESPHome service.
const (
	MeasurementEntityState  = "esphome_state"
	MeasurementAvailability = "esphome_availability"
)

// EntityTags identify the entity a value belongs to.
type EntityTags struct {
	EntryID  string
	Platform string
	ObjectID string
	Unit     string // optional, omitted when empty
}

func (t EntityTags) tags() map[string]string {
	tags := map[string]string{
		"entry_id":  t.EntryID,
		"platform":  t.Platform,
		"object_id": t.ObjectID,
	}
	if t.Unit != "" {
		tags["unit"] = t.Unit
	}
	return tags
}

// WriteEntityValue records a numeric entity state.
//
// The write is non-blocking; points are batched and sent asynchronously.
//
// Example:
//
//	client.WriteEntityValue(influxdb.EntityTags{
//	    EntryID:  "a1b2c3",
//	    Platform: "sensor",
//	    ObjectID: "kitchen_temperature",
//	    Unit:     "°C",
//	}, 21.5, time.Now())
func (c *Client) WriteEntityValue(tags EntityTags, value float64, ts time.Time) {
	c.write(entityValuePoint(tags, value, ts))
}

// WriteAvailability records an entry going online or offline.
func (c *Client) WriteAvailability(entryID string, available bool, ts time.Time) {
	c.write(availabilityPoint(entryID, available, ts))
}

func entityValuePoint(tags EntityTags, value float64, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementEntityState,
		tags.tags(),
		map[string]interface{}{"value": value},
		ts,
	)
}

func availabilityPoint(entryID string, available bool, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementAvailability,
		map[string]string{"entry_id": entryID},
		map[string]interface{}{"available": available},
		ts,
	)
}
