package plant

import (
	"bytes"
	"context"
	"encoding/json"
)

// Display keys a descriptor may carry alongside type, desc and fbits.
const (
	KeyLimitLow  = "limitLow"
	KeyLimitHigh = "limitHigh"
	KeyFormat    = "format"
	KeyUnits     = "units"
)

// DisplayKeys lists the optional descriptor keys in the order they are applied.
var DisplayKeys = []string{KeyLimitLow, KeyLimitHigh, KeyFormat, KeyUnits}

// Descriptor is the backend's description of one register.
type Descriptor struct {
	// Type is the wire type name, e.g. "int16" or "uint8*" for a vector.
	Type string
	// Desc is the human readable description.
	Desc string
	// Fbits are feature flags; "W" marks the register writable.
	Fbits string
	// Display holds the optional limitLow, limitHigh, format and units
	// entries exactly as the backend sent them. Absent keys are absent.
	Display map[string]any
}

// MarshalJSON flattens the display entries into the descriptor object.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 3+len(d.Display))
	for k, v := range d.Display {
		out[k] = v
	}
	out["type"] = d.Type
	out["desc"] = d.Desc
	out["fbits"] = d.Fbits
	return json.Marshal(out)
}

// UnmarshalJSON accepts a flat descriptor object. A missing or non-string
// type leaves Type empty, which no PV type maps to, so discovery skips that
// register alone. Display entries are kept untyped for the same reason.
func (d *Descriptor) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := decodeJSON(data, &raw); err != nil {
		return err
	}

	d.Type, _ = raw["type"].(string)
	d.Desc, _ = raw["desc"].(string)
	d.Fbits, _ = raw["fbits"].(string)

	d.Display = nil
	for _, k := range DisplayKeys {
		v, present := raw[k]
		if !present {
			continue
		}
		if d.Display == nil {
			d.Display = make(map[string]any, len(DisplayKeys))
		}
		d.Display[k] = v
	}
	return nil
}

// Reading is a register's current value as returned by Get.
type Reading struct {
	// V is the value. Numbers decoded from the wire are json.Number;
	// vectors are []any.
	V any `json:"v"`
	// Shape is the array shape. Nil means a scalar, i.e. [1].
	Shape []int `json:"shape,omitempty"`
}

// Dims returns the reading's shape, defaulting to [1].
func (r Reading) Dims() []int {
	if len(r.Shape) == 0 {
		return []int{1}
	}
	return r.Shape
}

// Connector is the backend collaborator used by discovery, write forwarding
// and polling. Implementations must be safe for concurrent use.
type Connector interface {
	// Info returns the full register catalog keyed by register name.
	Info(ctx context.Context) (map[string]Descriptor, error)

	// Get returns current readings for the named registers.
	Get(ctx context.Context, names ...string) (map[string]Reading, error)

	// Set writes value to the named register.
	Set(ctx context.Context, name string, value any) error

	// Close releases the backend connection.
	Close() error
}

// decodeJSON decodes with UseNumber so integer registers keep their full
// 64-bit range.
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
