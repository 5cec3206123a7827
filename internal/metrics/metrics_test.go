package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/gray-logic-esphome/internal/entry"
)

func newTestRegistry() *Registry {
	return NewRegistry(Config{IncludeRuntimeCollectors: false})
}

var _ entry.Metrics = (*BoundEntryMetrics)(nil)

func TestEntryMetrics(t *testing.T) {
	reg := newTestRegistry()
	a := reg.Entries.ForEntry("a")
	b := reg.Entries.ForEntry("b")

	a.StateUpdate("sensor", "applied")
	a.StateUpdate("sensor", "applied")
	a.StateUpdate("sensor", "suppressed")
	b.StateUpdate("sensor", "applied")
	a.CallbackFailed("key_removed")
	a.SnapshotWritten()
	a.PlatformsLoaded(3)
	a.MigrationUnresolved(2)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"applied a", testutil.ToFloat64(reg.Entries.StateUpdates.WithLabelValues("a", "sensor", "applied")), 2},
		{"suppressed a", testutil.ToFloat64(reg.Entries.StateUpdates.WithLabelValues("a", "sensor", "suppressed")), 1},
		{"applied b", testutil.ToFloat64(reg.Entries.StateUpdates.WithLabelValues("b", "sensor", "applied")), 1},
		{"callback failures", testutil.ToFloat64(reg.Entries.CallbackFailures.WithLabelValues("a", "key_removed")), 1},
		{"snapshots", testutil.ToFloat64(reg.Entries.SnapshotWrites.WithLabelValues("a")), 1},
		{"platforms", testutil.ToFloat64(reg.Entries.PlatformsLoaded.WithLabelValues("a")), 3},
		{"unresolved", testutil.ToFloat64(reg.Entries.MigrationsUnresolved.WithLabelValues("a")), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestForget(t *testing.T) {
	reg := newTestRegistry()
	reg.Entries.ForEntry("a").StateUpdate("sensor", "applied")
	reg.Entries.ForEntry("b").StateUpdate("sensor", "applied")

	reg.Entries.Forget("a")

	if n := testutil.CollectAndCount(reg.Entries.StateUpdates); n != 1 {
		t.Errorf("series after Forget = %d, want 1", n)
	}
}

func TestSessionMetrics(t *testing.T) {
	reg := newTestRegistry()

	reg.Session.Message("a", "state", "ok")
	reg.Session.Message("a", "state", "ok")
	reg.Session.SetConnected("a", true)
	reg.Session.SetConnected("b", true)
	reg.Session.SetConnected("b", false)

	if got := testutil.ToFloat64(reg.Session.Messages.WithLabelValues("a", "state", "ok")); got != 2 {
		t.Errorf("messages = %v, want 2", got)
	}
	if got := testutil.ToFloat64(reg.Session.Connected.WithLabelValues("a")); got != 1 {
		t.Errorf("connected a = %v, want 1", got)
	}
	if got := testutil.ToFloat64(reg.Session.Connected.WithLabelValues("b")); got != 0 {
		t.Errorf("connected b = %v, want 0", got)
	}
}

func TestHandler(t *testing.T) {
	reg := newTestRegistry()
	reg.Entries.ForEntry("kitchen").SnapshotWritten()

	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	want := `graylogic_esphome_entry_snapshot_writes_total{entry="kitchen"} 1`
	if !strings.Contains(string(body), want) {
		t.Errorf("metrics output missing %q:\n%s", want, body)
	}
}
