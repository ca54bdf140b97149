package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementPV is the measurement every PV sample is written under.
const MeasurementPV = "pv_sample"

// WritePVSample queues one PV value. The point is tagged with the PV name
// and type name; fields carry the value, or one field per element for
// vectors. Samples without fields and writes after Close are dropped.
//
//	client.WritePVSample("p2p:temp", "int16", map[string]any{"value": int64(215)}, ts)
func (c *Client) WritePVSample(name, typeName string, fields map[string]any, ts time.Time) {
	if len(fields) == 0 || c.closed.Load() {
		return
	}

	tags := map[string]string{
		"pv":   name,
		"type": typeName,
	}
	c.writeAPI.WritePoint(write.NewPoint(MeasurementPV, tags, fields, ts))
	c.points.Add(1)
}
