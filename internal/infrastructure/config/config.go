package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends for entry snapshots.
const (
	StorageSQLite = "sqlite"
	StorageFile   = "file"
)

// Config is the root configuration structure for the ESPHome service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	ESPHome   ESPHomeConfig   `yaml:"esphome"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains settings for the state relay WebSocket.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"` // seconds
	PongTimeout    int `yaml:"pong_timeout"`  // seconds
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ESPHomeConfig contains the device entries and how their data is kept.
type ESPHomeConfig struct {
	// TopicPrefix is the root of the topics devices publish on.
	// Default: "esphome"
	TopicPrefix string `yaml:"topic_prefix"`

	// StatePrefix is the root of the mirrored state topics.
	// Default: "graylogic/esphome"
	StatePrefix string `yaml:"state_prefix"`

	// PublishStates enables mirroring entity state to MQTT.
	PublishStates bool `yaml:"publish_states"`

	// DashboardEnabled loads the update platform for every entry.
	DashboardEnabled bool `yaml:"dashboard_enabled"`

	// SaveDelay is the snapshot debounce window in seconds. Default: 120
	SaveDelay int `yaml:"save_delay"`

	// Storage selects where entry snapshots are written.
	Storage ESPHomeStorageConfig `yaml:"storage"`

	// Entries lists the configured devices.
	Entries []ESPHomeEntryConfig `yaml:"entries"`
}

// ESPHomeStorageConfig selects the snapshot backend.
type ESPHomeStorageConfig struct {
	// Backend is "sqlite" (the main database) or "file".
	Backend string `yaml:"backend"`

	// Dir holds one JSON file per entry when Backend is "file".
	Dir string `yaml:"dir"`

	// PruneRemoved deletes snapshots of entries no longer listed in
	// Entries at startup. Default: true
	PruneRemoved bool `yaml:"prune_removed"`
}

// ESPHomeEntryConfig describes one device entry.
type ESPHomeEntryConfig struct {
	EntryID string         `yaml:"entry_id"`
	Title   string         `yaml:"title"`
	Node    string         `yaml:"node"` // device node name, used in topics
	Options map[string]any `yaml:"options"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_ESPHOME_STORAGE_DIR
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Database: DatabaseConfig{
			Path:        "./data/graylogic-esphome.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-esphome",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8081,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		ESPHome: ESPHomeConfig{
			TopicPrefix:   "esphome",
			StatePrefix:   "graylogic/esphome",
			PublishStates: true,
			SaveDelay:     120,
			Storage: ESPHomeStorageConfig{
				Backend:      StorageSQLite,
				Dir:          "./data/esphome",
				PruneRemoved: true,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("GRAYLOGIC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// ESPHome
	if v := os.Getenv("GRAYLOGIC_ESPHOME_STORAGE_DIR"); v != "" {
		cfg.ESPHome.Storage.Dir = v
	}
	if v := os.Getenv("GRAYLOGIC_ESPHOME_SAVE_DELAY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ESPHome.SaveDelay = n
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.WebSocket.MaxMessageSize < 1 || c.WebSocket.PingInterval < 1 || c.WebSocket.PongTimeout < 1 {
		errs = append(errs, "websocket.max_message_size, ping_interval and pong_timeout must be positive")
	}

	errs = append(errs, c.ESPHome.validate()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (e *ESPHomeConfig) validate() []string {
	var errs []string

	if e.TopicPrefix == "" {
		errs = append(errs, "esphome.topic_prefix is required")
	}
	if e.SaveDelay < 0 {
		errs = append(errs, "esphome.save_delay must not be negative")
	}

	switch e.Storage.Backend {
	case StorageSQLite:
	case StorageFile:
		if e.Storage.Dir == "" {
			errs = append(errs, "esphome.storage.dir is required for the file backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("esphome.storage.backend %q must be %q or %q",
			e.Storage.Backend, StorageSQLite, StorageFile))
	}

	seenIDs := make(map[string]bool)
	seenNodes := make(map[string]bool)
	for i, entry := range e.Entries {
		if entry.EntryID == "" {
			errs = append(errs, fmt.Sprintf("esphome.entries[%d].entry_id is required", i))
		} else if seenIDs[entry.EntryID] {
			errs = append(errs, fmt.Sprintf("esphome.entries[%d].entry_id %q is duplicated", i, entry.EntryID))
		}
		seenIDs[entry.EntryID] = true

		if entry.Node == "" {
			errs = append(errs, fmt.Sprintf("esphome.entries[%d].node is required", i))
		} else if strings.ContainsAny(entry.Node, "/+#") {
			errs = append(errs, fmt.Sprintf("esphome.entries[%d].node %q contains topic characters", i, entry.Node))
		} else if seenNodes[entry.Node] {
			errs = append(errs, fmt.Sprintf("esphome.entries[%d].node %q is duplicated", i, entry.Node))
		}
		seenNodes[entry.Node] = true
	}

	return errs
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetSaveDelay returns the snapshot debounce window as a Duration.
func (c *Config) GetSaveDelay() time.Duration {
	return time.Duration(c.ESPHome.SaveDelay) * time.Second
}
