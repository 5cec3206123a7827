package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SessionMetrics instruments the device message sessions.
type SessionMetrics struct {
	// Messages counts device messages handled.
	// Labels: entry, kind, result (ok, error, dropped)
	Messages *prometheus.CounterVec

	// Connected is 1 while an entry's device is connected.
	// Labels: entry
	Connected *prometheus.GaugeVec
}

func newSessionMetrics() *SessionMetrics {
	return &SessionMetrics{
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "session",
			Name:      "messages_total",
			Help:      "Device messages handled, by kind and result.",
		}, []string{"entry", "kind", "result"}),
		Connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "session",
			Name:      "connected",
			Help:      "Whether the entry's device is connected.",
		}, []string{"entry"}),
	}
}

func (m *SessionMetrics) register(reg prometheus.Registerer) {
	reg.MustRegister(m.Messages, m.Connected)
}

// Message records one handled device message.
func (m *SessionMetrics) Message(entryID, kind, result string) {
	m.Messages.WithLabelValues(entryID, kind, result).Inc()
}

// SetConnected records the connection state of an entry's device.
func (m *SessionMetrics) SetConnected(entryID string, connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	m.Connected.WithLabelValues(entryID).Set(v)
}
