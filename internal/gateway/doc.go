// Package gateway mirrors the PV registry onto MQTT.
//
// Every PV update is published as a retained JSON message on
// {prefix}/pv/{name}/state, so a late subscriber immediately sees the
// current value. Writes arrive on {prefix}/pv/{name}/put and go through
// the same validation as HTTP writes; each one is answered on
// {prefix}/pv/{name}/ack.
//
// A put payload may be:
//
//	{"id":"req-1","value":250}   JSON envelope with an optional request ID
//	250                          bare JSON value
//	Stop                         plain text, converted to the PV's type
//	1,2,3                        plain text list for vector PVs
//
// Publishing happens on a dedicated worker so registry subscribers never
// block on the broker. When the worker falls behind, updates are dropped
// and counted; the retained state is refreshed by the next update.
package gateway
