// Package influxdb records ESPHome entity telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Numeric sensor
// states are written to the esphome_state measurement, tagged with the
// entry, platform and object id; availability changes go to
// esphome_availability.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteEntityValue(influxdb.EntityTags{EntryID: id, Platform: "sensor", ObjectID: "temp"}, 21.5, time.Now())
//
// # Error Handling
//
// Writes are non-blocking. Batch failures are delivered to the callback set
// with SetOnError. Connection and health check errors are returned directly.
package influxdb
