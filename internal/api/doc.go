// Package api implements the HTTP REST API and WebSocket server for the
// P2Plant IOC.
//
// This package provides:
//   - REST endpoints to list, read and write PVs
//   - WebSocket hub streaming PV updates to subscribed clients
//   - Optional HS256 bearer token checks on writes and subscriptions
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - Prometheus metrics at /metrics
//
// # Endpoints
//
//	GET  /api/v1/health        server and dependency health
//	GET  /api/v1/pvs           every PV with metadata and current value
//	GET  /api/v1/pvs/{name}    one PV
//	PUT  /api/v1/pvs/{name}    write {"value": ...}
//	GET  /api/v1/ws            WebSocket subscriptions
//	GET  /metrics              Prometheus exposition
//
// A PUT returns only after the value has been published, so a GET issued
// after the response observes the new value. Enumeration PVs accept either
// the choice index or the choice text.
//
// # WebSocket protocol
//
//	→ {"type":"subscribe","id":"1","payload":{"pvs":["p2p:cycle"]}}
//	← {"type":"response","id":"1","payload":{"subscribed":["p2p:cycle"]}}
//	← {"type":"event","event_type":"pv.update","payload":{"name":"p2p:cycle","value":7,...}}
//
// "*" subscribes to every PV. The current value is sent immediately after
// subscribing.
//
// # Security
//
// When api.auth.jwt_secret is set, PUT requires a token with the operator
// role, and WebSocket upgrades require any valid token, passed as a bearer
// header or as the "token" query parameter.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
