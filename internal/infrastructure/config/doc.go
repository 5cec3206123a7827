// Package config loads the ESPHome service configuration.
//
// Values come from a YAML file, then GRAYLOGIC_* environment variables
// override a small set of keys (paths, broker address, credentials and the
// snapshot save delay). Load fills defaults for every unset key and fails
// if Validate rejects the result.
//
// Broker passwords and InfluxDB tokens belong in the environment rather
// than the file.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	for _, e := range cfg.ESPHome.Entries {
//	    fmt.Println(e.EntryID, e.Node)
//	}
package config
