// Package bridge builds the P2Plant PV set from a plant backend and keeps it
// in step with the backend.
//
// Startup:
//
//	plant.Info ──► per register plant.Get ──► shape/type checks ──► pv.Definition
//	                                                                      │
//	control.Loop.Definitions (Run, cycle) ─────────────────────► pv.NewRegistry
//
// Registers that cannot be represented (multi-dimensional, unknown type,
// unreadable, out-of-range value) are skipped with a warning. A backend that
// cannot produce its catalog is fatal.
//
// At runtime, writes to writable registers are forwarded to the backend by
// the PV's put callback, and the Poller publishes values that changed on the
// backend side.
package bridge
