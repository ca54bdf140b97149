// Package metrics exposes P2Plant IOC activity as Prometheus metrics.
//
// Metrics implements pv.PutObserver for writes, subscribes to PV updates for
// publish counts and serves as the control loop's cycle hook. Gauges for
// state owned elsewhere (loop running, backend connected, WebSocket clients)
// are added with GaugeFunc and read at scrape time.
//
// All metric names carry the "p2plant_" namespace.
package metrics
