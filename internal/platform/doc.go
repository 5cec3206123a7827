// Package platform consumes entry topology and state on behalf of the rest
// of Gray Logic.
//
// Manager implements entry.PlatformLoader. Loading a platform for an entry
// creates a Handler that follows every entity of the platform's types:
//
//	entry.RuntimeData ──static info──► Handler ──track──► entity
//	                  ──state───────►         ──publish─► MQTT (retained)
//	                                          ──write───► InfluxDB (sensors)
//	                  ──key removed─►         ──clear───► MQTT
//
// Climate values are translated to HVAC modes before publishing.
package platform
