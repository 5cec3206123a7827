// Package logging builds the service's slog logger.
//
// Every record carries the service name and build version. Output format
// and level come from the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Packages never import this one: they declare a small Logger interface
// and *Logger is passed in by cmd/graylogic-esphome. Child loggers tag
// records with the component or entry they belong to:
//
//	log := logging.New(cfg.Logging, version)
//	log.Component("api").Info("listening", "port", 8081)
//	log.ForEntry("a1b2c3", "kitchen").Warn("snapshot unreadable", "error", err)
//
// Do not log MQTT or InfluxDB credentials.
package logging
