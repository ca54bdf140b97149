// Package history records PV samples to a time-series store.
//
// The Recorder subscribes to the PV registry and writes each update as a
// point through a Writer, normally the InfluxDB client. Numeric scalars
// and enumerations are written as a "value" field, char PVs as "text",
// and vectors as one field per element ("v0", "v1", ...) plus "len".
//
// Writes happen on the recorder's own goroutine. If it falls behind,
// updates are dropped and counted rather than stalling the publisher.
package history
