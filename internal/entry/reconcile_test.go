package entry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestUpdateStaticInfosLoadsPlatformsOnce(t *testing.T) {
	env := newTestEnv(t)
	env.data.OnConnect(testDevice, APIVersion{Major: 1, Minor: 9})
	ctx := context.Background()

	if err := env.data.UpdateStaticInfos(ctx, []EntityInfo{sensorInfo(1, "temp")}); err != nil {
		t.Fatalf("UpdateStaticInfos() error = %v", err)
	}
	if err := env.data.UpdateStaticInfos(ctx, []EntityInfo{
		sensorInfo(1, "temp"),
		{Type: TypeTextSensor, Key: 2, ObjectID: "version"},
		{Type: TypeSwitch, Key: 3, ObjectID: "relay"},
	}); err != nil {
		t.Fatalf("UpdateStaticInfos() error = %v", err)
	}

	want := [][]Platform{{PlatformSensor}, {PlatformSwitch}}
	if diff := cmp.Diff(want, env.loader.Calls()); diff != "" {
		t.Errorf("loader calls mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Platform{PlatformSensor, PlatformSwitch}, env.data.LoadedPlatforms()); diff != "" {
		t.Errorf("LoadedPlatforms() mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateStaticInfosExtraPlatforms(t *testing.T) {
	tests := []struct {
		name      string
		dashboard bool
		voice     int
		want      []Platform
	}{
		{name: "plain", want: []Platform{PlatformSensor}},
		{name: "dashboard", dashboard: true, want: []Platform{PlatformSensor, PlatformUpdate}},
		{name: "voice assistant", voice: 1, want: []Platform{PlatformBinarySensor, PlatformSelect, PlatformSensor}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(o *Options) { o.DashboardEnabled = tt.dashboard })
			device := testDevice
			device.VoiceAssistantVersion = tt.voice
			env.data.SetDeviceInfo(device, APIVersion{})

			if err := env.data.UpdateStaticInfos(context.Background(), []EntityInfo{sensorInfo(1, "temp")}); err != nil {
				t.Fatalf("UpdateStaticInfos() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, env.data.LoadedPlatforms()); diff != "" {
				t.Errorf("LoadedPlatforms() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUpdateStaticInfosConcurrentLoad(t *testing.T) {
	env := newTestEnv(t)
	env.loader.delay = 10 * time.Millisecond
	env.data.SetDeviceInfo(testDevice, APIVersion{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = env.data.UpdateStaticInfos(context.Background(), []EntityInfo{
				sensorInfo(1, "temp"),
				{Type: TypeLight, Key: 5, ObjectID: "lamp"},
			})
		}()
	}
	wg.Wait()

	for _, p := range []Platform{PlatformSensor, PlatformLight} {
		if n := env.loader.Count(p); n != 1 {
			t.Errorf("platform %s loaded %d times, want 1", p, n)
		}
	}
}

func TestUpdateStaticInfosDispatchOrder(t *testing.T) {
	env := newTestEnv(t)
	env.data.SetDeviceInfo(testDevice, APIVersion{})

	var mu sync.Mutex
	var events []string
	record := func(s string) {
		mu.Lock()
		events = append(events, s)
		mu.Unlock()
	}

	env.loader.onLoad = func(data *RuntimeData, platforms []Platform) {
		for _, p := range platforms {
			record("load:" + string(p))
		}
		data.RegisterStaticInfoCallback(TypeSensor, func(infos []EntityInfo) {
			record("static:sensor")
		})
	}
	env.data.RegisterKeyUpdatedCallback(TypeSensor, 1, func(info EntityInfo) {
		record("key:" + info.ObjectID)
	})
	env.data.SubscribeStaticInfoUpdated(func(infos []EntityInfo) {
		record("all")
	})

	if err := env.data.UpdateStaticInfos(context.Background(), []EntityInfo{sensorInfo(1, "temp")}); err != nil {
		t.Fatalf("UpdateStaticInfos() error = %v", err)
	}

	want := []string{"load:sensor", "static:sensor", "key:temp", "all"}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("event order mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateStaticInfosCallbackPanic(t *testing.T) {
	env := newTestEnv(t)
	env.data.SetDeviceInfo(testDevice, APIVersion{})

	env.data.RegisterStaticInfoCallback(TypeSensor, func([]EntityInfo) { panic("bad platform") })

	var aggregate int
	env.data.SubscribeStaticInfoUpdated(func([]EntityInfo) { aggregate++ })

	if err := env.data.UpdateStaticInfos(context.Background(), []EntityInfo{sensorInfo(1, "temp")}); err != nil {
		t.Fatalf("UpdateStaticInfos() error = %v", err)
	}
	if aggregate != 1 {
		t.Errorf("aggregate listener calls = %d, want 1", aggregate)
	}
}

func TestUpdateStaticInfosLoadError(t *testing.T) {
	env := newTestEnv(t)
	env.data.SetDeviceInfo(testDevice, APIVersion{})
	env.loader.loadErr = errors.New("setup failed")

	err := env.data.UpdateStaticInfos(context.Background(), []EntityInfo{sensorInfo(1, "temp")})
	if !errors.Is(err, ErrPlatformLoad) {
		t.Fatalf("UpdateStaticInfos() error = %v, want ErrPlatformLoad", err)
	}
	if len(env.data.LoadedPlatforms()) != 0 {
		t.Errorf("failed platform marked loaded: %v", env.data.LoadedPlatforms())
	}
	if _, ok := env.data.Info(TypeSensor, 1); !ok {
		t.Error("info should be stored even when the platform failed to load")
	}

	env.loader.mu.Lock()
	env.loader.loadErr = nil
	env.loader.mu.Unlock()

	if err := env.data.UpdateStaticInfos(context.Background(), []EntityInfo{sensorInfo(1, "temp")}); err != nil {
		t.Fatalf("retry error = %v", err)
	}
	if env.loader.Count(PlatformSensor) != 1 {
		t.Errorf("sensor loads = %d, want 1", env.loader.Count(PlatformSensor))
	}
}

func TestRemoveEntitiesConcurrent(t *testing.T) {
	env := newTestEnv(t)
	env.data.SetDeviceInfo(testDevice, APIVersion{})
	ctx := context.Background()

	infos := []EntityInfo{sensorInfo(1, "a"), sensorInfo(2, "b")}
	if err := env.data.UpdateStaticInfos(ctx, infos); err != nil {
		t.Fatalf("UpdateStaticInfos() error = %v", err)
	}

	var barrier sync.WaitGroup
	barrier.Add(2)
	waitBoth := func(ctx context.Context) error {
		barrier.Done()
		done := make(chan struct{})
		go func() {
			barrier.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("removal callbacks did not run concurrently")
		}
	}
	env.data.RegisterKeyRemovedCallback(TypeSensor, 1, waitBoth)
	env.data.RegisterKeyRemovedCallback(TypeSensor, 2, waitBoth)

	if err := env.data.RemoveEntities(ctx, infos); err != nil {
		t.Fatalf("RemoveEntities() error = %v", err)
	}
	if got := env.data.Infos(TypeSensor); len(got) != 0 {
		t.Errorf("Infos() after removal = %v, want empty", got)
	}
}

func TestRemoveEntitiesErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	errBoom := errors.New("boom")
	var ran sync.WaitGroup
	ran.Add(3)
	env.data.RegisterKeyRemovedCallback(TypeSensor, 1, func(context.Context) error {
		defer ran.Done()
		return errBoom
	})
	env.data.RegisterKeyRemovedCallback(TypeSensor, 2, func(context.Context) error {
		defer ran.Done()
		panic("removal bug")
	})
	env.data.RegisterKeyRemovedCallback(TypeSensor, 3, func(context.Context) error {
		defer ran.Done()
		return nil
	})

	err := env.data.RemoveEntities(ctx, []EntityInfo{sensorInfo(1, "a"), sensorInfo(2, "b"), sensorInfo(3, "c")})
	if !errors.Is(err, errBoom) {
		t.Errorf("RemoveEntities() error = %v, want errBoom", err)
	}
	if !errors.Is(err, ErrCallbackFailed) {
		t.Errorf("RemoveEntities() error = %v, want ErrCallbackFailed", err)
	}
	ran.Wait()
}

func TestUnsubscribeKeyCallbacks(t *testing.T) {
	env := newTestEnv(t)
	env.data.SetDeviceInfo(testDevice, APIVersion{})
	ctx := context.Background()

	var updated, removed int
	unsubUpdated := env.data.RegisterKeyUpdatedCallback(TypeSensor, 1, func(EntityInfo) { updated++ })
	unsubRemoved := env.data.RegisterKeyRemovedCallback(TypeSensor, 1, func(context.Context) error {
		removed++
		return nil
	})
	unsubStatic := env.data.RegisterStaticInfoCallback(TypeSensor, func([]EntityInfo) { updated++ })

	unsubUpdated()
	unsubRemoved()
	unsubStatic()

	_ = env.data.UpdateStaticInfos(ctx, []EntityInfo{sensorInfo(1, "a")})
	_ = env.data.RemoveEntities(ctx, []EntityInfo{sensorInfo(1, "a")})

	if updated != 0 || removed != 0 {
		t.Errorf("updated=%d removed=%d after unsubscribe, want 0", updated, removed)
	}
}

func TestUpdateEntityInfos(t *testing.T) {
	env := newTestEnv(t)

	var got []string
	env.data.RegisterKeyUpdatedCallback(TypeSensor, 1, func(info EntityInfo) {
		got = append(got, info.Name)
	})
	var aggregate int
	env.data.SubscribeStaticInfoUpdated(func([]EntityInfo) { aggregate++ })

	renamed := sensorInfo(1, "temp")
	renamed.Name = "Outdoor temperature"
	env.data.UpdateEntityInfos([]EntityInfo{renamed, sensorInfo(2, "humidity")})

	if diff := cmp.Diff([]string{"Outdoor temperature"}, got); diff != "" {
		t.Errorf("key callbacks mismatch (-want +got):\n%s", diff)
	}
	if aggregate != 0 {
		t.Errorf("aggregate listeners called %d times, want 0", aggregate)
	}
	if info, ok := env.data.Info(TypeSensor, 1); !ok || info.Name != "Outdoor temperature" {
		t.Errorf("Info() = %+v, %v", info, ok)
	}
	if env.loader.Count(PlatformSensor) != 0 {
		t.Error("UpdateEntityInfos loaded a platform")
	}
}
