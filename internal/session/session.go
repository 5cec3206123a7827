package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-esphome/internal/entry"
	"github.com/nerrad567/gray-logic-esphome/internal/infrastructure/mqtt"
)

// DefaultInboxSize is the number of messages queued per session.
const DefaultInboxSize = 256

// Message results recorded in metrics.
const (
	resultOK      = "ok"
	resultError   = "error"
	resultDropped = "dropped"
)

// MQTTClient is the subset of *mqtt.Client used by a session.
type MQTTClient interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	PublishRetained(topic string, payload []byte) error
}

// Telemetry records availability changes. It is satisfied by *influxdb.Client.
type Telemetry interface {
	WriteAvailability(entryID string, available bool, ts time.Time)
}

// Metrics records message handling. It is satisfied by *metrics.SessionMetrics.
type Metrics interface {
	Message(entryID, kind, result string)
	SetConnected(entryID string, connected bool)
}

// Logger defines the logging interface used by the session.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopMetrics struct{}

func (noopMetrics) Message(string, string, string) {}
func (noopMetrics) SetConnected(string, bool)      {}

// Options configures a Session.
type Options struct {
	// Data is the entry the session drives. Required.
	Data *entry.RuntimeData

	// Node is the device node name used in topics. Required.
	Node string

	// MQTT is the broker connection. Required.
	MQTT MQTTClient

	// Topics builds device and availability topics.
	Topics mqtt.Topics

	// QoS for the device subscription.
	QoS byte

	// Telemetry and Metrics are optional.
	Telemetry Telemetry
	Metrics   Metrics

	// InboxSize overrides DefaultInboxSize.
	InboxSize int

	// Now returns the timestamp for telemetry points. Default: time.Now
	Now func() time.Time
}

type message struct {
	kind    string
	payload []byte
}

// Session feeds one node's MQTT messages into its entry.
//
// Thread Safety: All methods are safe for concurrent use.
type Session struct {
	data      *entry.RuntimeData
	node      string
	mqtt      MQTTClient
	topics    mqtt.Topics
	qos       byte
	telemetry Telemetry
	metrics   Metrics
	now       func() time.Time

	inbox chan message

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a session. Call Start to subscribe.
func New(opts Options) (*Session, error) {
	if opts.Data == nil {
		return nil, fmt.Errorf("entry data is required")
	}
	if opts.Node == "" {
		return nil, fmt.Errorf("node is required")
	}
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}

	size := opts.InboxSize
	if size <= 0 {
		size = DefaultInboxSize
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	var metrics Metrics = noopMetrics{}
	if opts.Metrics != nil {
		metrics = opts.Metrics
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		data:      opts.Data,
		node:      opts.Node,
		mqtt:      opts.MQTT,
		topics:    opts.Topics,
		qos:       opts.QoS,
		telemetry: opts.Telemetry,
		metrics:   metrics,
		now:       now,
		inbox:     make(chan message, size),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: cancel,
		logger:    noopLogger{},
	}, nil
}

// SetLogger sets the logger for the session.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

func (s *Session) log() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// EntryID returns the id of the entry driven by the session.
func (s *Session) EntryID() string {
	return s.data.EntryID()
}

// Node returns the device node name.
func (s *Session) Node() string {
	return s.node
}

// Start subscribes to the node's topics and starts the inbox goroutine.
func (s *Session) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	started := false
	s.startOnce.Do(func() { started = true })
	if !started {
		return ErrAlreadyStarted
	}

	s.wg.Add(1)
	go s.run()

	topic := s.topics.DeviceAll(s.node)
	if err := s.mqtt.Subscribe(topic, s.qos, s.enqueue); err != nil {
		s.Stop()
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	s.log().Info("session started", "entry", s.EntryID(), "node", s.node, "topic", topic)
	return nil
}

// Stop unsubscribes and waits for the inbox goroutine. Queued messages are
// discarded. If the device was available it is reported offline.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		topic := s.topics.DeviceAll(s.node)
		if err := s.mqtt.Unsubscribe(topic); err != nil {
			s.log().Warn("unsubscribe failed", "topic", topic, "error", err)
		}

		close(s.done)
		s.ctxCancel()
		s.wg.Wait()

		if s.data.Available() {
			s.publishAvailability(false)
		}
		s.metrics.SetConnected(s.EntryID(), false)

		s.log().Info("session stopped", "entry", s.EntryID(), "node", s.node)
	})
}

// enqueue is the MQTT handler. It never blocks the MQTT library.
func (s *Session) enqueue(topic string, payload []byte) error {
	node, kind, ok := s.topics.ParseDevice(topic)
	if !ok || node != s.node {
		return nil
	}

	select {
	case <-s.done:
		return nil
	default:
	}

	select {
	case s.inbox <- message{kind: kind, payload: payload}:
		return nil
	default:
		s.metrics.Message(s.EntryID(), kind, resultDropped)
		return fmt.Errorf("%w: %s dropped for %s", ErrInboxFull, kind, s.node)
	}
}

func (s *Session) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.inbox:
			s.process(msg)
		}
	}
}

func (s *Session) process(msg message) {
	err := s.Handle(s.ctx, msg.kind, msg.payload)
	if err != nil {
		s.metrics.Message(s.EntryID(), msg.kind, resultError)
		s.log().Error("device message failed",
			"entry", s.EntryID(), "node", s.node, "kind", msg.kind, "error", err)
		return
	}
	s.metrics.Message(s.EntryID(), msg.kind, resultOK)
}

// Handle applies one device message to the entry.
//
// It is called from the inbox goroutine; callers outside the session must
// not run it concurrently with a started session.
func (s *Session) Handle(ctx context.Context, kind string, payload []byte) error {
	switch kind {
	case mqtt.KindStatus:
		return s.handleStatus(payload)
	case mqtt.KindDeviceInfo:
		return s.handleDeviceInfo(payload)
	case mqtt.KindEntities:
		return s.handleEntities(ctx, payload)
	case mqtt.KindRemoved:
		return s.handleRemoved(ctx, payload)
	case mqtt.KindState:
		return s.handleState(payload)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

func (s *Session) handleStatus(payload []byte) error {
	status, err := decodeStatus(payload)
	if err != nil {
		return err
	}

	switch status {
	case StatusOnline:
		// The device is usable once its device info arrives.
		s.log().Debug("node online", "entry", s.EntryID(), "node", s.node)
	case StatusOffline, StatusSleeping:
		if !s.data.Available() {
			return nil
		}
		s.data.OnDisconnect(status == StatusSleeping)
		s.metrics.SetConnected(s.EntryID(), false)
		s.publishAvailability(false)
	}
	return nil
}

func (s *Session) handleDeviceInfo(payload []byte) error {
	info, version, err := decodeDeviceInfo(payload)
	if err != nil {
		return err
	}

	s.data.OnConnect(info, version)
	s.metrics.SetConnected(s.EntryID(), true)
	s.publishAvailability(true)
	return nil
}

// handleEntities replaces the entry's topology with the node's full list.
func (s *Session) handleEntities(ctx context.Context, payload []byte) error {
	infos, services, skipped, err := decodeEntities(payload)
	if err != nil {
		return err
	}
	if len(skipped) > 0 {
		s.log().Warn("skipping entities of unknown type", "entry", s.EntryID(), "types", skipped)
	}

	if removed := s.missingFrom(infos); len(removed) > 0 {
		s.data.OnEntityRemoved(ctx, removed)
	}
	s.data.SetServices(services)
	s.data.OnEntityInfoBatch(ctx, infos)
	return nil
}

// missingFrom returns the entry's known infos absent from infos.
func (s *Session) missingFrom(infos []entry.EntityInfo) []entry.EntityInfo {
	type key struct {
		typ entry.EntityType
		key uint32
	}
	present := make(map[key]struct{}, len(infos))
	for _, info := range infos {
		present[key{info.Type, info.Key}] = struct{}{}
	}

	var removed []entry.EntityInfo
	for _, t := range entry.AllEntityTypes {
		for _, info := range s.data.Infos(t) {
			if _, ok := present[key{info.Type, info.Key}]; !ok {
				removed = append(removed, info)
			}
		}
	}
	return removed
}

func (s *Session) handleRemoved(ctx context.Context, payload []byte) error {
	refs, err := decodeRemoved(payload)
	if err != nil {
		return err
	}

	var infos []entry.EntityInfo
	for _, ref := range refs {
		info, ok := s.data.Info(ref.Type, ref.Key)
		if !ok {
			s.log().Debug("removal for unknown entity",
				"entry", s.EntryID(), "type", ref.Type.String(), "key", ref.Key)
			continue
		}
		infos = append(infos, info)
	}
	if len(infos) > 0 {
		s.data.OnEntityRemoved(ctx, infos)
	}
	return nil
}

func (s *Session) handleState(payload []byte) error {
	state, err := decodeState(payload)
	if err != nil {
		return err
	}
	s.data.OnStateUpdate(state)
	return nil
}

func (s *Session) publishAvailability(available bool) {
	status := StatusOffline
	if available {
		status = StatusOnline
	}

	topic := s.topics.EntryAvailability(s.EntryID())
	if err := s.mqtt.PublishRetained(topic, []byte(status)); err != nil {
		s.log().Warn("publishing availability failed", "topic", topic, "error", err)
	}
	if s.telemetry != nil {
		s.telemetry.WriteAvailability(s.EntryID(), available, s.now())
	}
}
