// Package plant talks to the P2Plant device-control backend.
//
// The backend is reached through the Connector interface, which exposes the
// three operations the IOC needs:
//
//   - Info: the register catalog (type, description, feature bits, display hints)
//   - Get: current values and shapes for named registers
//   - Set: write a value to a register
//
// Two implementations are provided. Client speaks the backend's TCP protocol:
// every frame is a 4-byte big-endian length followed by a JSON body, requests
// are JSON arrays of the form [command, args] and failures come back as
// {"ERR": "..."}. Memory is an in-process plant used by tests and by the
// "mem://" connection scheme.
//
// Server exposes any Connector over the same TCP protocol, which is how the
// simulator subcommand serves the demo catalog.
//
// Usage:
//
//	conn, err := plant.Open(ctx, plant.Config{Connection: "tcp://localhost:50000"})
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//	catalog, err := conn.Info(ctx)
package plant
