// Gray Logic ESPHome - device entry data service
//
// This is the main entry point for the ESPHome service. It mirrors the
// entity topology and live state of every configured ESPHome node from
// MQTT, persists a snapshot per entry and serves it over HTTP and WebSocket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"

	_ "github.com/nerrad567/gray-logic-esphome/migrations"

	"github.com/nerrad567/gray-logic-esphome/internal/api"
	"github.com/nerrad567/gray-logic-esphome/internal/entityregistry"
	"github.com/nerrad567/gray-logic-esphome/internal/entry"
	"github.com/nerrad567/gray-logic-esphome/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-esphome/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-esphome/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-esphome/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-esphome/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-esphome/internal/metrics"
	"github.com/nerrad567/gray-logic-esphome/internal/platform"
	"github.com/nerrad567/gray-logic-esphome/internal/session"
	"github.com/nerrad567/gray-logic-esphome/internal/storage"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// cleanupTimeout bounds the final snapshot flush of every entry.
const cleanupTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// closer is one shutdown step.
type closer struct {
	name string
	fn   func() error
}

// shutdown runs the steps in reverse order and combines their errors.
func shutdown(steps []closer, log *logging.Logger) error {
	var err error
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		log.Info("shutting down", "component", step.name)
		if stepErr := step.fn(); stepErr != nil {
			log.Error("shutdown step failed", "component", step.name, "error", stepErr)
			err = multierr.Append(err, fmt.Errorf("%s: %w", step.name, stepErr))
		}
	}
	return err
}

// run is the actual application logic, separated from main for testability.
//
// Components are started in dependency order and every started component
// registers a shutdown step; the steps run in reverse on return.
func run(ctx context.Context) (err error) {
	log := logging.Default()
	log.Info("starting Gray Logic ESPHome",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	var steps []closer
	defer func() {
		err = multierr.Append(err, shutdown(steps, log))
		if err == nil {
			log.Info("Gray Logic ESPHome stopped")
		}
	}()

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	steps = append(steps, closer{"database", db.Close})
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	store, err := openStore(cfg.ESPHome.Storage, db)
	if err != nil {
		return err
	}
	log.Info("snapshot store ready", "backend", cfg.ESPHome.Storage.Backend)

	if cfg.ESPHome.Storage.PruneRemoved {
		removed, pruneErr := pruneSnapshots(ctx, store, cfg.ESPHome.Entries)
		if pruneErr != nil {
			return fmt.Errorf("pruning snapshots: %w", pruneErr)
		}
		if len(removed) > 0 {
			log.Info("removed snapshots of unconfigured entries", "entries", removed)
		}
	}

	registry := entityregistry.NewSQLiteRegistry(db)
	registry.SetLogger(log.Component("entityregistry"))

	metricsReg := metrics.NewRegistry(metrics.DefaultConfig())

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	steps = append(steps, closer{"mqtt", mqttClient.Close})
	mqttClient.SetLogger(log.Component("mqtt"))
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Interface values stay nil when InfluxDB is disabled so consumers can
	// test for absence.
	var (
		influxClient      *influxdb.Client
		platformTelemetry platform.Telemetry
		sessionTelemetry  session.Telemetry
	)
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		steps = append(steps, closer{"influxdb", influxClient.Close})
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		platformTelemetry = influxClient
		sessionTelemetry = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	topics := mqtt.Topics{
		DevicePrefix: cfg.ESPHome.TopicPrefix,
		StatePrefix:  cfg.ESPHome.StatePrefix,
	}

	platformOpts := platform.Options{
		Telemetry: platformTelemetry,
		Registry:  registry,
		Topics:    topics,
	}
	if cfg.ESPHome.PublishStates {
		platformOpts.Publisher = mqttClient
	}
	platforms := platform.NewManager(platformOpts)
	platforms.SetLogger(log.Component("platform"))

	entries, err := restoreEntries(ctx, cfg, store, registry, platforms, metricsReg, log)
	steps = append(steps, closer{"entries", func() error { return cleanupEntries(entries) }})
	if err != nil {
		return err
	}

	for i, ec := range cfg.ESPHome.Entries {
		sess, sessErr := session.New(session.Options{
			Data:      entries[i],
			Node:      ec.Node,
			MQTT:      mqttClient,
			Topics:    topics,
			QoS:       byte(cfg.MQTT.QoS),
			Telemetry: sessionTelemetry,
			Metrics:   metricsReg.Session,
		})
		if sessErr != nil {
			return fmt.Errorf("creating session for %s: %w", ec.EntryID, sessErr)
		}
		sess.SetLogger(log.ForEntry(ec.EntryID, ec.Node))
		if startErr := sess.Start(ctx); startErr != nil {
			return fmt.Errorf("starting session for %s: %w", ec.EntryID, startErr)
		}
		steps = append(steps, closer{"session " + ec.EntryID, func() error {
			sess.Stop()
			return nil
		}})
	}
	log.Info("device sessions started", "count", len(cfg.ESPHome.Entries))

	health := map[string]api.HealthChecker{
		"database": db,
		"mqtt":     mqttClient,
	}
	if influxClient != nil {
		health["influxdb"] = influxClient
	}

	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log.Component("api"),
		Entries:  entries,
		Registry: registry,
		MQTT:     mqttClient,
		Topics:   topics,
		Health:   health,
		Metrics:  metricsReg.Handler(),
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	steps = append(steps, closer{"api", apiServer.Close})

	if err := healthCheck(ctx, health); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// snapshotStore is an entry.Store that can also list and remove snapshots.
type snapshotStore interface {
	entry.Store
	Keys(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// openStore selects the snapshot backend named in the storage config.
func openStore(cfg config.ESPHomeStorageConfig, db *database.DB) (snapshotStore, error) {
	switch cfg.Backend {
	case config.StorageFile:
		store, err := storage.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("opening snapshot directory: %w", err)
		}
		return store, nil
	default:
		return storage.NewSQLiteStore(db), nil
	}
}

// pruneSnapshots deletes the snapshot of every stored entry that is no
// longer configured and returns the removed entry ids.
func pruneSnapshots(ctx context.Context, store snapshotStore, entries []config.ESPHomeEntryConfig) ([]string, error) {
	keys, err := store.Keys(ctx)
	if err != nil {
		return nil, err
	}

	configured := make(map[string]struct{}, len(entries))
	for _, ec := range entries {
		configured[ec.EntryID] = struct{}{}
	}

	var removed []string
	for _, key := range keys {
		if _, ok := configured[key]; ok {
			continue
		}
		if err := store.Delete(ctx, key); err != nil {
			return removed, fmt.Errorf("entry %s: %w", key, err)
		}
		removed = append(removed, key)
	}
	return removed, nil
}

// restoreEntries creates one RuntimeData per configured entry and replays
// its stored snapshot. The returned slice holds every entry created so far,
// also on error, so the caller can clean them up.
func restoreEntries(
	ctx context.Context,
	cfg *config.Config,
	store entry.Store,
	registry *entityregistry.SQLiteRegistry,
	platforms *platform.Manager,
	metricsReg *metrics.Registry,
	log *logging.Logger,
) ([]*entry.RuntimeData, error) {
	entries := make([]*entry.RuntimeData, 0, len(cfg.ESPHome.Entries))
	for _, ec := range cfg.ESPHome.Entries {
		data, err := entry.New(entry.Options{
			EntryID:          ec.EntryID,
			Title:            ec.Title,
			Store:            store,
			Loader:           platforms,
			Registry:         registry,
			DashboardEnabled: cfg.ESPHome.DashboardEnabled,
			SaveDelay:        cfg.GetSaveDelay(),
			EntryOptions:     ec.Options,
		})
		if err != nil {
			return entries, fmt.Errorf("creating entry %s: %w", ec.EntryID, err)
		}
		entryLog := log.ForEntry(ec.EntryID, ec.Node)
		data.SetLogger(entryLog)
		data.SetMetrics(metricsReg.Entries.ForEntry(ec.EntryID))
		entries = append(entries, data)

		// A broken snapshot must not keep the other entries down.
		if err := data.Restore(ctx); err != nil {
			entryLog.Warn("restoring entry data failed", "error", err)
			continue
		}
		entryLog.Info("entry restored", "platforms", len(data.LoadedPlatforms()))
	}
	return entries, nil
}

// cleanupEntries flushes every entry's pending snapshot.
func cleanupEntries(entries []*entry.RuntimeData) error {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	var err error
	for _, data := range entries {
		if cleanupErr := data.Cleanup(ctx); cleanupErr != nil {
			err = multierr.Append(err, fmt.Errorf("entry %s: %w", data.EntryID(), cleanupErr))
		}
	}
	return err
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies every named dependency and returns the first failure.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for _, name := range []string{"database", "mqtt", "influxdb"} {
		checker, ok := checks[name]
		if !ok {
			continue
		}
		if err := checker.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
