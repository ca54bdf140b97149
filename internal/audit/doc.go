// Package audit keeps a persistent trail of PV writes in the put_log
// table.
//
// Recorder is a pv.PutObserver: register it with the dispatcher and every
// dispatched write, from any transport, is stored with its source,
// outcome and duration. SQLiteRepository lists the trail newest first
// with optional filters.
package audit
