// Package command delivers commands to devices.
//
// Every device gets a single-slot queue drained by its own goroutine at a
// bounded rate (20 Hz by default):
//
//	Send(id, cmd) ──► [slot] ──limiter──► drain ──► lan.Transport.SendTo
//	                    ▲
//	           newer cmd replaces pending one (coalesced)
//
// The slot suits streaming producers such as the sync engines, where only
// the newest frame matters. Do sends synchronously through the same
// limiter for one-off commands whose delivery the caller needs to know
// about.
//
// A send that fails is retried once at once. A second failure drops the
// command, marks the device offline in the registry and suspends its
// queue; Send then fails with ErrDeviceOffline until the registry reports
// the device online again or Reconnect is called.
//
// QueryState sends devStatus and waits for the matching response on the
// shared socket, which it records in the registry.
package command
