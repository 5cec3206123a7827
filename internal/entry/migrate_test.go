package entry

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLegacyUniqueID(t *testing.T) {
	tests := []struct {
		name     string
		device   string
		uniqueID string
		want     string
		ok       bool
	}{
		{name: "sensor", device: "my_device", uniqueID: "AA:BB:CC:DD:EE:FF-sensor-temp", want: "my_devicesensortemp", ok: true},
		{name: "binary sensor", device: "door", uniqueID: "AA:BB:CC:DD:EE:FF-binary_sensor-contact", want: "doorbinary_sensorcontact", ok: true},
		{name: "no separators", device: "x", uniqueID: "plain", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := LegacyUniqueID(tt.device, tt.uniqueID)
			if ok != tt.ok || got != tt.want {
				t.Errorf("LegacyUniqueID() = %q, %v; want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestIsNewFormatUniqueID(t *testing.T) {
	prefix := UniqueIDPrefix(testDevice)
	if prefix != "AA:BB:CC:DD:EE:FF-" {
		t.Fatalf("UniqueIDPrefix() = %q", prefix)
	}

	tests := []struct {
		uniqueID string
		want     bool
	}{
		{"AA:BB:CC:DD:EE:FF-sensor-temp", true},
		{"AA:BB:CC:DD:EE:FF-sensor-temp-2", false},
		{"11:22:33:44:55:66-sensor-temp", false},
		{"my_devicesensortemp", false},
	}
	for _, tt := range tests {
		if got := isNewFormatUniqueID(tt.uniqueID, prefix); got != tt.want {
			t.Errorf("isNewFormatUniqueID(%q) = %v, want %v", tt.uniqueID, got, tt.want)
		}
	}
}

func TestMigrateUniqueIDs(t *testing.T) {
	env := newTestEnv(t)
	env.data.SetDeviceInfo(testDevice, APIVersion{})

	env.registry.Add(RegistryEntry{
		EntityID:      "sensor.my_device_temp",
		ConfigEntryID: "entry-1",
		Platform:      PlatformSensor,
		Domain:        Domain,
		UniqueID:      "my_devicesensortemp",
	})
	env.registry.Add(RegistryEntry{
		EntityID:      "sensor.my_device_humidity",
		ConfigEntryID: "entry-1",
		Platform:      PlatformSensor,
		Domain:        Domain,
		UniqueID:      "AA:BB:CC:DD:EE:FF-sensor-humidity",
	})

	infos := []EntityInfo{
		sensorInfo(1, "temp"),
		sensorInfo(2, "humidity"),
		sensorInfo(3, "pressure"),
	}
	if err := env.data.UpdateStaticInfos(context.Background(), infos); err != nil {
		t.Fatalf("UpdateStaticInfos() error = %v", err)
	}

	wantUpdates := map[string]string{"sensor.my_device_temp": "AA:BB:CC:DD:EE:FF-sensor-temp"}
	if diff := cmp.Diff(wantUpdates, env.registry.Updates()); diff != "" {
		t.Errorf("registry updates mismatch (-want +got):\n%s", diff)
	}

	wantUnresolved := []string{"AA:BB:CC:DD:EE:FF-sensor-pressure"}
	if diff := cmp.Diff(wantUnresolved, env.data.UnresolvedMigrations()); diff != "" {
		t.Errorf("UnresolvedMigrations() mismatch (-want +got):\n%s", diff)
	}

	// A second batch finds the migrated id and must not migrate again or
	// duplicate unresolved entries.
	if err := env.data.UpdateStaticInfos(context.Background(), infos); err != nil {
		t.Fatalf("UpdateStaticInfos() error = %v", err)
	}
	if len(env.registry.Updates()) != 1 {
		t.Errorf("updates = %v, want a single migration", env.registry.Updates())
	}
	if diff := cmp.Diff(wantUnresolved, env.data.UnresolvedMigrations()); diff != "" {
		t.Errorf("UnresolvedMigrations() after repeat mismatch (-want +got):\n%s", diff)
	}
}

func TestMigrateSkippedWithoutDeviceInfo(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Add(RegistryEntry{
		EntityID: "sensor.t",
		Platform: PlatformSensor,
		Domain:   Domain,
		UniqueID: "my_devicesensortemp",
	})

	if err := env.data.UpdateStaticInfos(context.Background(), []EntityInfo{sensorInfo(1, "temp")}); err != nil {
		t.Fatalf("UpdateStaticInfos() error = %v", err)
	}
	if len(env.registry.Updates()) != 0 {
		t.Errorf("migration ran without device info: %v", env.registry.Updates())
	}
}

func TestCountLegacy(t *testing.T) {
	prefix := UniqueIDPrefix(testDevice)

	tests := []struct {
		name      string
		uniqueIDs []string
		want      int
	}{
		{name: "none", want: 0},
		{name: "all new format", uniqueIDs: []string{prefix + "sensor-temp", prefix + "switch-relay"}, want: 0},
		{name: "legacy", uniqueIDs: []string{"my_devicesensortemp", prefix + "sensor-temp"}, want: 1},
		{name: "prefixed with extra dashes", uniqueIDs: []string{prefix + "sensor-temp-2"}, want: 0},
		{name: "other device in new format", uniqueIDs: []string{"11:22:33:44:55:66-sensor-temp"}, want: 0},
		{name: "unprefixed with one dash", uniqueIDs: []string{"my-devicesensortemp"}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var entries []RegistryEntry
			for _, uid := range tt.uniqueIDs {
				entries = append(entries, RegistryEntry{UniqueID: uid})
			}
			if got := countLegacy(entries, prefix); got != tt.want {
				t.Errorf("countLegacy() = %d, want %d", got, tt.want)
			}
		})
	}
}
