// Package mqtt connects the ESPHome service to the MQTT broker.
//
// ESPHome nodes publish their connection status, device info, entity
// topology and state updates under a per-node topic tree. The service
// subscribes to those topics and mirrors decoded entity state back out as
// retained messages for the rest of Gray Logic.
//
//	ESPHome node → esphome/{node}/{kind} → Broker → session → entry runtime
//	entry runtime → platforms → graylogic/esphome/{entry}/{platform}/{object_id}
//
// # Device Topics
//
//	esphome/{node}/status       online | offline | sleeping
//	esphome/{node}/device_info  JSON device info and API version
//	esphome/{node}/entities     JSON list of entity infos
//	esphome/{node}/removed      JSON list of removed {type, key}
//	esphome/{node}/state        JSON entity state
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := mqtt.Topics{DevicePrefix: cfg.ESPHome.TopicPrefix, StatePrefix: cfg.ESPHome.StatePrefix}
//	err = client.Subscribe(topics.DeviceAll("kitchen"), 1, handler)
//
// The client reconnects on its own and restores tracked subscriptions.
// Message handlers run with panic recovery.
package mqtt
