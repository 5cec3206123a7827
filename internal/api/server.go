package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/nerrad567/gray-logic-esphome/internal/entityregistry"
	"github.com/nerrad567/gray-logic-esphome/internal/entry"
	"github.com/nerrad567/gray-logic-esphome/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-esphome/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-esphome/internal/infrastructure/mqtt"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by every dependency reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RegistryLister lists entity registry rows. It is satisfied by
// *entityregistry.SQLiteRegistry.
type RegistryLister interface {
	List(ctx context.Context, configEntryID string) ([]entityregistry.Entry, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Entries []*entry.RuntimeData

	// Registry is optional; without it /registry returns an empty list.
	Registry RegistryLister

	// MQTT is optional; without it the WebSocket relay carries no events.
	MQTT   *mqtt.Client
	Topics mqtt.Topics

	// Health names the dependencies checked by /health.
	Health map[string]HealthChecker

	// Metrics serves /metrics when set.
	Metrics http.Handler

	Version string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	logger   *logging.Logger
	entries  map[string]*entry.RuntimeData
	order    []string
	registry RegistryLister
	mqtt     *mqtt.Client
	topics   mqtt.Topics
	health   map[string]HealthChecker
	metrics  http.Handler
	version  string
	server   *http.Server
	hub      *Hub
	cancel   context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	s := &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		logger:   deps.Logger,
		entries:  make(map[string]*entry.RuntimeData, len(deps.Entries)),
		registry: deps.Registry,
		mqtt:     deps.MQTT,
		topics:   deps.Topics,
		health:   deps.Health,
		metrics:  deps.Metrics,
		version:  deps.Version,
	}
	for _, data := range deps.Entries {
		id := data.EntryID()
		if _, dup := s.entries[id]; dup {
			return nil, fmt.Errorf("duplicate entry %q", id)
		}
		s.entries[id] = data
		s.order = append(s.order, id)
	}
	slices.Sort(s.order)

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, subscribes to the mirrored state topics for
// the WebSocket relay and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(srvCtx)

	if err := s.subscribeStateUpdates(); err != nil {
		s.logger.Warn("failed to subscribe to state updates for WebSocket", "error", err)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// entry returns the runtime data for an entry id.
func (s *Server) entry(id string) (*entry.RuntimeData, bool) {
	data, ok := s.entries[id]
	return data, ok
}
