// Package entry provides the runtime data of one ESPHome device connection.
//
// A RuntimeData mirrors the entities a device exposes (its topology), the
// last value of each entity (its state) and the consumers subscribed to
// either. It is fed by the device session and read by consumer platforms.
//
// # Architecture
//
//	┌────────────────────────────────────────────────────────────────────┐
//	│                            RuntimeData                             │
//	│                                                                    │
//	│  ┌───────────────┐  ┌───────────────┐  ┌────────────────────────┐  │
//	│  │  stateStore   │  │ subscriptions │  │      persistence       │  │
//	│  │  (state.go)   │  │(subscriptions)│  │   (persistence.go)     │  │
//	│  │               │  │               │  │                        │  │
//	│  │ • dedup       │  │ • per type    │  │ • debounced snapshot   │  │
//	│  │ • staleness   │  │ • per key     │  │ • flush on cleanup     │  │
//	│  └───────────────┘  └───────────────┘  └────────────────────────┘  │
//	│          ▲                  ▲                      │               │
//	│          │                  │                      ▼               │
//	│  ┌────────────────────────────────┐       ┌─────────────────┐      │
//	│  │ reconcile.go / migrate.go      │       │      Store      │      │
//	│  │ • platform loading             │       │ (sqlite / file) │      │
//	│  │ • unique id migration          │       └─────────────────┘      │
//	│  │ • removal fan-out              │                                │
//	│  └────────────────────────────────┘                                │
//	└────────────────────────────────────────────────────────────────────┘
//
// # Ordering
//
// For a topology batch the order is fixed: unique id migration, platform
// loading, per-type callbacks, per-key callbacks, then the aggregate
// static-info listeners. A platform is loaded at most once per entry.
//
// # Usage
//
//	data, err := entry.New(entry.Options{
//	    EntryID:  "a1b2c3",
//	    Store:    store,
//	    Loader:   platforms,
//	    Registry: registry,
//	})
//	data.SetLogger(log)
//
//	if err := data.Restore(ctx); err != nil { ... }
//	data.OnConnect(info, version)
//	data.OnEntityInfoBatch(ctx, infos)
//	data.OnStateUpdate(state)
//
//	defer data.Cleanup(ctx)
package entry
