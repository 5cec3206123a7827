package entry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// SaveDelay is the default debounce window for snapshot writes.
const SaveDelay = 120 * time.Second

// ErrStoreNotFound must be returned by Store.Load when nothing was saved yet.
var ErrStoreNotFound = errors.New("entry: no stored data")

// Store is stable storage keyed by entry id.
type Store interface {
	// Load returns the raw bytes last saved for key, or ErrStoreNotFound.
	Load(ctx context.Context, key string) ([]byte, error)

	// Save replaces the stored bytes for key.
	Save(ctx context.Context, key string, data []byte) error
}

// Timer is the subset of *time.Timer used by the debouncer.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run after d. time.AfterFunc satisfies it.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// equateSnapshots ignores nil/empty slice and map differences.
var equateSnapshots = cmpopts.EquateEmpty()

// persistence debounces snapshot writes to a Store.
//
// The pending cell holds at most one snapshot. Re-arming while a timer is
// running replaces the payload without touching the timer, so only the most
// recent snapshot before the delay elapses is written.
type persistence struct {
	store     Store
	key       string
	delay     time.Duration
	afterFunc AfterFunc
	logger    Logger
	metrics   Metrics

	mu      sync.Mutex
	written *StoreData // last snapshot written or loaded
	pending *StoreData
	timer   Timer
	armed   uint64 // generation of the running timer

	// writeMu serialises writes so a flush is never overtaken by an
	// older timer write.
	writeMu sync.Mutex
}

func newPersistence(store Store, key string, delay time.Duration, afterFunc AfterFunc) *persistence {
	if delay <= 0 {
		delay = SaveDelay
	}
	if afterFunc == nil {
		afterFunc = realAfterFunc
	}
	return &persistence{
		store:     store,
		key:       key,
		delay:     delay,
		afterFunc: afterFunc,
		logger:    noopLogger{},
		metrics:   noopMetrics{},
	}
}

// requestSave schedules data to be written after the debounce delay.
// It returns false when data equals the last written snapshot; any pending
// write is then dropped.
func (p *persistence) requestSave(data *StoreData) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.written != nil && cmp.Equal(p.written, data, equateSnapshots) {
		// A pending snapshot is now outdated by one matching what is stored.
		if p.pending != nil {
			p.pending = nil
			if p.timer != nil {
				p.timer.Stop()
				p.timer = nil
			}
		}
		return false
	}

	p.pending = data
	if p.timer == nil {
		p.armed++
		gen := p.armed
		p.timer = p.afterFunc(p.delay, func() { p.fire(gen) })
	}
	return true
}

// fire runs when the debounce timer armed as generation gen elapses. A timer
// that was disarmed by a flush finds a newer generation and does nothing.
func (p *persistence) fire(gen uint64) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	current := p.timer != nil && p.armed == gen
	p.mu.Unlock()
	if !current {
		return
	}

	data := p.takePending()
	if data == nil {
		return
	}
	if err := p.write(context.Background(), data); err != nil {
		p.logger.Error("failed to save entry data", "key", p.key, "error", err)
	}
}

// flush writes any pending snapshot immediately and disarms the timer.
func (p *persistence) flush(ctx context.Context) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	data := p.takePending()
	if data == nil {
		return nil
	}
	return p.write(ctx, data)
}

// hasPending reports whether a write is scheduled.
func (p *persistence) hasPending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending != nil
}

func (p *persistence) takePending() *StoreData {
	p.mu.Lock()
	defer p.mu.Unlock()

	data := p.pending
	p.pending = nil
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	return data
}

func (p *persistence) write(ctx context.Context, data *StoreData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding entry data: %w", err)
	}
	if err := p.store.Save(ctx, p.key, raw); err != nil {
		return fmt.Errorf("saving entry data: %w", err)
	}

	p.mu.Lock()
	p.written = data
	p.mu.Unlock()

	p.metrics.SnapshotWritten()
	p.logger.Debug("entry data saved", "key", p.key, "bytes", len(raw))
	return nil
}

// load reads the stored snapshot. A missing or malformed snapshot yields
// nil data and no error.
func (p *persistence) load(ctx context.Context) (*StoreData, error) {
	raw, err := p.store.Load(ctx, p.key)
	if errors.Is(err, ErrStoreNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading entry data: %w", err)
	}

	var data StoreData
	if err := json.Unmarshal(raw, &data); err != nil {
		p.logger.Warn("discarding malformed entry data", "key", p.key, "error", err)
		return nil, nil
	}
	if data.DeviceInfo == nil {
		p.logger.Warn("discarding entry data without device info", "key", p.key)
		return nil, nil
	}

	p.mu.Lock()
	p.written = &data
	p.mu.Unlock()

	return &data, nil
}
