// Package influxdb records PV history in InfluxDB v2.
//
// Connect pings the server and opens a batched, non-blocking write API.
// The history package writes one pv_sample point per PV post through
// WritePVSample:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WritePVSample("p2p:cycle", "uint32", map[string]any{"value": int64(7)}, time.Now())
//
// Rejected batches are reported asynchronously through SetOnError and
// counted in Stats.
package influxdb
