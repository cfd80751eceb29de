// Package device provides the Device Registry: the in-memory catalogue of
// discovered and manually added lights, backed by a SQLite cache.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────┐
//	│                      Device Registry                      │
//	│                                                           │
//	│  ┌──────────────────┐           ┌──────────────────────┐  │
//	│  │     Registry     │──────────▶│      Repository      │  │
//	│  │  (registry.go)   │  write-   │   (repository.go)    │  │
//	│  │                  │  through  │                      │  │
//	│  │ • discovery order│           │ • devices table      │  │
//	│  │ • liveness sweep │           │ • registry_state     │  │
//	│  │ • events         │           │   (selection, scan)  │  │
//	│  └──────────────────┘           └──────────────────────┘  │
//	└───────────────────────────────────────────────────────────┘
//
// # Identity and liveness
//
// A device's identity is its ID (the MAC-like identifier it reports),
// address, model and capabilities. Identity is fixed once a device has
// answered a scan; a later response that disagrees is rejected with
// ErrIdentityMismatch. Manually added devices are placeholders whose
// identity is confirmed by their first scan response.
//
// Every upsert marks the device online and resets its liveness timer. The
// sweeper flips a device offline once, when no response has arrived within
// the liveness timeout. Offline devices stay listed and selectable.
//
// # Usage
//
//	reg := device.NewRegistry(device.NewSQLiteRepository(db.DB), device.Config{})
//	if err := reg.Load(ctx); err != nil {
//	    return err
//	}
//	go reg.RunSweeper(ctx)
//
//	unsubscribe := reg.Subscribe(func(ev device.Event) {
//	    log.Info("device event", "type", ev.Type, "id", ev.Device.ID)
//	})
//	defer unsubscribe()
package device
