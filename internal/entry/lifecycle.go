package entry

import "context"

// Available reports whether the device is currently connected.
func (r *RuntimeData) Available() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.available
}

// ExpectedDisconnect reports whether the last disconnect was announced by
// the device (for example a deep sleep).
func (r *RuntimeData) ExpectedDisconnect() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expectedDisconnect
}

// SetExpectedDisconnect marks the next disconnect as announced.
func (r *RuntimeData) SetExpectedDisconnect(expected bool) {
	r.mu.Lock()
	r.expectedDisconnect = expected
	r.mu.Unlock()
}

// SubscribeDeviceUpdated registers cb to run whenever availability or device
// info changes.
func (r *RuntimeData) SubscribeDeviceUpdated(cb func()) Unsubscribe {
	return r.deviceUpdated.add(cb)
}

// SubscribeStaticInfoUpdated registers cb to receive every full batch after
// it was dispatched to per-type callbacks.
func (r *RuntimeData) SubscribeStaticInfoUpdated(cb StaticInfoCallback) Unsubscribe {
	return r.staticInfoUpdated.add(cb)
}

// SubscribeAssistPipelineUpdate registers cb to run when the voice assistant
// pipeline starts or stops.
func (r *RuntimeData) SubscribeAssistPipelineUpdate(cb func()) Unsubscribe {
	return r.assistPipeline.add(cb)
}

// AssistPipelineState reports whether a voice assistant pipeline is running.
func (r *RuntimeData) AssistPipelineState() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.assistPipelineState
}

// SetAssistPipelineState records the pipeline state and notifies listeners.
func (r *RuntimeData) SetAssistPipelineState(running bool) {
	r.mu.Lock()
	r.assistPipelineState = running
	r.mu.Unlock()

	for _, cb := range r.assistPipeline.snapshot() {
		r.safeCall("assist_pipeline", cb)
	}
}

// NotifyDeviceUpdated signals device-level listeners.
func (r *RuntimeData) NotifyDeviceUpdated() {
	for _, cb := range r.deviceUpdated.snapshot() {
		r.safeCall("device_updated", cb)
	}
}

// OnConnect records a fresh connection: device identity, API version and
// availability. Changed device info schedules a snapshot save.
func (r *RuntimeData) OnConnect(info DeviceInfo, version APIVersion) {
	r.mu.Lock()
	r.deviceInfo = &info
	r.apiVersion = version
	r.available = true
	r.expectedDisconnect = false
	r.mu.Unlock()

	r.logger.Info("device connected",
		"entry", r.entryID, "device", info.Name, "api", version.String(), "esphome", info.ESPHomeVersion)

	r.NotifyDeviceUpdated()
	r.SaveToStore()
}

// OnDisconnect runs the one-shot disconnect callbacks, marks every state
// stale and flags the device unavailable.
func (r *RuntimeData) OnDisconnect(expected bool) {
	r.mu.Lock()
	callbacks := r.disconnectCallbacks
	r.disconnectCallbacks = nil
	r.mu.Unlock()

	for _, fn := range callbacks {
		r.safeCall("disconnect", fn)
	}

	r.MarkAllStale()

	r.mu.Lock()
	r.available = false
	r.expectedDisconnect = expected
	name := r.nameLocked()
	r.mu.Unlock()

	r.logger.Info("device disconnected", "entry", r.entryID, "device", name, "expected", expected)
	r.NotifyDeviceUpdated()
}

// OnEntityInfoBatch is the inbound handler for a topology batch. Errors are
// logged, never returned to the transport.
func (r *RuntimeData) OnEntityInfoBatch(ctx context.Context, infos []EntityInfo) {
	if err := r.UpdateStaticInfos(ctx, infos); err != nil {
		r.logger.Error("failed to apply entity infos", "entry", r.entryID, "error", err)
	}
}

// OnEntityRemoved is the inbound handler for entities the device dropped.
func (r *RuntimeData) OnEntityRemoved(ctx context.Context, infos []EntityInfo) {
	if err := r.RemoveEntities(ctx, infos); err != nil {
		r.logger.Error("failed to remove entities", "entry", r.entryID, "error", err)
	}
}

// OnStateUpdate is the inbound handler for a single state report.
func (r *RuntimeData) OnStateUpdate(state EntityState) {
	r.UpdateState(state)
}
