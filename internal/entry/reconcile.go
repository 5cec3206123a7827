package entry

import (
	"context"
	"fmt"
	"slices"

	"github.com/sourcegraph/conc/pool"
)

// UpdateStaticInfos applies a batch of entity infos reported by the device.
//
// It migrates unique ids from the previous addressing scheme, makes sure
// every platform the batch needs is loaded, stores the infos, then notifies
// per-type callbacks, per-key callbacks and finally the aggregate
// static-info listeners. The snapshot is scheduled for saving.
//
// A platform load failure is returned after the batch is dispatched to the
// platforms that are loaded.
func (r *RuntimeData) UpdateStaticInfos(ctx context.Context, infos []EntityInfo) error {
	device := r.DeviceInfo()

	needed := make(map[Platform]struct{})
	if r.dashboard {
		needed[PlatformUpdate] = struct{}{}
	}
	if device != nil && device.VoiceAssistantVersion > 0 {
		needed[PlatformBinarySensor] = struct{}{}
		needed[PlatformSelect] = struct{}{}
	}

	var prefix string
	if device != nil {
		prefix = UniqueIDPrefix(*device)
	}

	var candidates []EntityInfo
	for _, info := range infos {
		platform := info.Type.Platform()
		if platform == "" {
			r.logger.Warn("ignoring entity of unknown type",
				"entry", r.entryID, "key", info.Key, "object_id", info.ObjectID)
			continue
		}
		needed[platform] = struct{}{}

		if r.registry == nil || prefix == "" || !isNewFormatUniqueID(info.UniqueID, prefix) {
			continue
		}
		_, found, err := r.registry.LookupEntityID(ctx, platform, Domain, info.UniqueID)
		if err != nil {
			r.logger.Warn("entity registry lookup failed",
				"entry", r.entryID, "unique_id", info.UniqueID, "error", err)
			continue
		}
		if !found {
			candidates = append(candidates, info)
		}
	}

	if len(candidates) > 0 {
		r.migrateUniqueIDs(ctx, *device, prefix, candidates)
	}

	loadErr := r.ensurePlatformsLoaded(ctx, needed)
	if loadErr != nil {
		r.logger.Error("failed to load platforms", "entry", r.entryID, "error", loadErr)
	}

	r.mu.Lock()
	byType := make(map[EntityType][]EntityInfo)
	var order []EntityType
	var keyUpdates []func()
	for _, info := range infos {
		if info.Type.Platform() == "" {
			continue
		}
		if _, ok := byType[info.Type]; !ok {
			order = append(order, info.Type)
		}
		byType[info.Type] = append(byType[info.Type], info)

		byKey, ok := r.infos[info.Type]
		if !ok {
			byKey = make(map[uint32]EntityInfo)
			r.infos[info.Type] = byKey
		}
		byKey[info.Key] = info

		sk := subscriptionKey{typ: info.Type, key: info.Key}
		for _, cb := range r.subs.keyUpdated[sk].snapshot() {
			keyUpdates = append(keyUpdates, func() { cb(info) })
		}
	}
	typeCallbacks := make(map[EntityType][]StaticInfoCallback, len(order))
	for _, typ := range order {
		typeCallbacks[typ] = r.subs.staticInfo[typ].snapshot()
	}
	r.mu.Unlock()

	for _, typ := range order {
		batch := byType[typ]
		for _, cb := range typeCallbacks[typ] {
			r.safeCall("static_info", func() { cb(batch) }, "type", typ.String())
		}
	}
	for _, fn := range keyUpdates {
		r.safeCall("key_updated", fn)
	}
	for _, cb := range r.staticInfoUpdated.snapshot() {
		r.safeCall("static_info_updated", func() { cb(infos) })
	}

	r.SaveToStore()
	return loadErr
}

// UpdateEntityInfos replaces stored infos and notifies the per-key updated
// callbacks. Unlike UpdateStaticInfos it loads no platforms and does not
// schedule a save.
func (r *RuntimeData) UpdateEntityInfos(infos []EntityInfo) {
	r.mu.Lock()
	var keyUpdates []func()
	for _, info := range infos {
		byKey, ok := r.infos[info.Type]
		if !ok {
			byKey = make(map[uint32]EntityInfo)
			r.infos[info.Type] = byKey
		}
		byKey[info.Key] = info

		sk := subscriptionKey{typ: info.Type, key: info.Key}
		for _, cb := range r.subs.keyUpdated[sk].snapshot() {
			keyUpdates = append(keyUpdates, func() { cb(info) })
		}
	}
	r.mu.Unlock()

	for _, fn := range keyUpdates {
		r.safeCall("key_updated", fn)
	}
}

// ensurePlatformsLoaded loads every needed platform not loaded yet.
//
// platformLoadMu is held from computing the missing set until the loaded set
// is updated, so concurrent batches never load the same platform twice.
func (r *RuntimeData) ensurePlatformsLoaded(ctx context.Context, needed map[Platform]struct{}) error {
	r.platformLoadMu.Lock()
	defer r.platformLoadMu.Unlock()

	r.mu.Lock()
	var missing []Platform
	for p := range needed {
		if _, ok := r.loadedPlatforms[p]; !ok {
			missing = append(missing, p)
		}
	}
	r.mu.Unlock()

	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)

	if r.loader != nil {
		if err := r.loader.LoadPlatforms(ctx, r, missing); err != nil {
			return fmt.Errorf("%w: %w", ErrPlatformLoad, err)
		}
	}

	r.mu.Lock()
	for _, p := range missing {
		r.loadedPlatforms[p] = struct{}{}
	}
	total := len(r.loadedPlatforms)
	r.mu.Unlock()

	r.metrics.PlatformsLoaded(len(missing))
	r.logger.Info("platforms loaded",
		"entry", r.entryID, "platforms", missing, "total", total)
	return nil
}

// RemoveEntities removes entities the device no longer reports.
//
// Every removal callback registered for the given keys runs concurrently;
// the call returns once all of them have finished. Callback errors and
// panics are collected and returned together. The infos are dropped and the
// snapshot is scheduled for saving regardless.
func (r *RuntimeData) RemoveEntities(ctx context.Context, infos []EntityInfo) error {
	type removal struct {
		info EntityInfo
		cb   KeyRemovedCallback
	}

	r.mu.Lock()
	var removals []removal
	for _, info := range infos {
		sk := subscriptionKey{typ: info.Type, key: info.Key}
		for _, cb := range r.subs.keyRemoved[sk].snapshot() {
			removals = append(removals, removal{info: info, cb: cb})
		}
		if byKey, ok := r.infos[info.Type]; ok {
			delete(byKey, info.Key)
			if len(byKey) == 0 {
				delete(r.infos, info.Type)
			}
		}
	}
	r.mu.Unlock()

	var err error
	if len(removals) > 0 {
		p := pool.New().WithContext(ctx)
		for _, rm := range removals {
			p.Go(func(ctx context.Context) error {
				return r.callRemoval(ctx, rm.info, rm.cb)
			})
		}
		err = p.Wait()
	}

	r.logger.Debug("entities removed",
		"entry", r.entryID, "count", len(infos), "callbacks", len(removals))

	r.SaveToStore()
	return err
}

func (r *RuntimeData) callRemoval(ctx context.Context, info EntityInfo, cb KeyRemovedCallback) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: key_removed %s/%d: %v", ErrCallbackFailed, info.Type, info.Key, rec)
		}
		if err != nil {
			r.metrics.CallbackFailed("key_removed")
			r.logger.Error("error while removing entity",
				"entry", r.entryID, "type", info.Type.String(), "key", info.Key, "error", err)
		}
	}()
	return cb(ctx)
}
