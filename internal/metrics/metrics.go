// Package metrics exposes Prometheus metrics for the ESPHome service.
//
// A Registry owns an isolated prometheus.Registry so tests can create as
// many as they need. Per-entry counters are reached through ForEntry, which
// returns a value satisfying entry.Metrics with the entry label bound.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "graylogic_esphome"

// Config controls which collectors are registered.
type Config struct {
	// IncludeRuntimeCollectors adds the Go runtime and process collectors.
	IncludeRuntimeCollectors bool
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{IncludeRuntimeCollectors: true}
}

// Registry holds the service's collectors.
type Registry struct {
	prom *prometheus.Registry

	Entries *EntryMetrics
	Session *SessionMetrics
}

// NewRegistry creates a registry with every collector registered.
func NewRegistry(cfg Config) *Registry {
	r := &Registry{prom: prometheus.NewRegistry()}

	if cfg.IncludeRuntimeCollectors {
		r.prom.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	r.Entries = newEntryMetrics()
	r.Entries.register(r.prom)

	r.Session = newSessionMetrics()
	r.Session.register(r.prom)

	return r
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{Registry: r.prom})
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.prom
}
