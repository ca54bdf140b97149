package pv

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Access is the client access mode of a PV.
type Access int

// Access modes.
const (
	ReadOnly Access = iota
	ReadWrite
)

func (a Access) String() string {
	if a == ReadWrite {
		return "RW"
	}
	return "R"
}

// writeFlag in a definition's feature flags marks the PV writable.
const writeFlag = "W"

// AccessFromFlags derives the access mode from backend feature bits.
func AccessFromFlags(flags string) Access {
	if strings.Contains(flags, writeFlag) {
		return ReadWrite
	}
	return ReadOnly
}

// PutFunc is a side effect bound to a writable PV. It receives the
// unwrapped value (element, typed slice, or choice index) and runs on the
// writer's goroutine, so it must not block beyond ctx.
type PutFunc func(ctx context.Context, raw any) error

// Display holds the optional presentation metadata of a PV.
// Limits and strings are present only when the backend supplied them.
type Display struct {
	Description string   `json:"description"`
	LimitLow    *float64 `json:"limitLow,omitempty"`
	LimitHigh   *float64 `json:"limitHigh,omitempty"`
	Format      string   `json:"format,omitempty"`
	Units       string   `json:"units,omitempty"`
}

// Sample is a published value and the time it was posted.
type Sample struct {
	Value     Value
	Timestamp time.Time
}

// MarshalJSON encodes the sample as {"value":..., "timestamp":...},
// adding "choice" for enumerations.
func (s Sample) MarshalJSON() ([]byte, error) {
	out := struct {
		Value     any       `json:"value"`
		Choice    string    `json:"choice,omitempty"`
		Timestamp time.Time `json:"timestamp"`
	}{
		Value:     JSONValue(s.Value),
		Timestamp: s.Timestamp,
	}
	if e, ok := s.Value.(Enum); ok {
		out.Choice = e.Choice()
	}
	return json.Marshal(out)
}

// Update is delivered to subscribers after every publish.
type Update struct {
	Name   string
	Sample Sample
}

// Variable is one process variable. Its membership, type and metadata are
// fixed at construction; only its current sample changes.
type Variable struct {
	name    string
	typ     Type
	access  Access
	display Display
	onPut   PutFunc

	current atomic.Pointer[Sample]
	gen     atomic.Uint64

	// pubMu orders store-and-notify so subscribers see samples in publish order.
	pubMu sync.Mutex
	reg   *Registry
}

// Name returns the full (prefixed) PV name.
func (v *Variable) Name() string { return v.name }

// Type returns the PV's representation.
func (v *Variable) Type() Type { return v.typ }

// Access returns the client access mode.
func (v *Variable) Access() Access { return v.access }

// Writable reports whether clients may put to this PV.
func (v *Variable) Writable() bool { return v.access == ReadWrite }

// Display returns a copy of the PV's presentation metadata.
func (v *Variable) Display() Display { return v.display }

// HasPutCallback reports whether a side effect is bound to puts.
func (v *Variable) HasPutCallback() bool { return v.onPut != nil }

// Get returns the current sample. It is never empty once the registry
// has been constructed.
func (v *Variable) Get() Sample {
	return *v.current.Load()
}

// Generation counts publishes. It changes whenever the sample does.
func (v *Variable) Generation() uint64 {
	return v.gen.Load()
}

// publish stores s and notifies subscribers.
func (v *Variable) publish(s Sample) {
	v.pubMu.Lock()
	defer v.pubMu.Unlock()
	v.publishLocked(s)
}

func (v *Variable) publishLocked(s Sample) {
	v.current.Store(&s)
	v.gen.Add(1)
	if v.reg != nil {
		v.reg.notify(Update{Name: v.name, Sample: s})
	}
}

// Post coerces raw to the PV's type and publishes it with timestamp ts.
func (v *Variable) Post(raw any, ts time.Time) (Sample, error) {
	val, err := v.typ.Coerce(raw)
	if err != nil {
		return Sample{}, fmt.Errorf("posting %s: %w", v.name, err)
	}
	s := Sample{Value: val, Timestamp: ts}
	v.publish(s)
	return s, nil
}

// PostIfUnchanged is Post for a value read before gen was observed: it
// publishes only while Generation still equals gen, and reports whether
// it did.
func (v *Variable) PostIfUnchanged(raw any, ts time.Time, gen uint64) (Sample, bool, error) {
	val, err := v.typ.Coerce(raw)
	if err != nil {
		return Sample{}, false, fmt.Errorf("posting %s: %w", v.name, err)
	}

	v.pubMu.Lock()
	defer v.pubMu.Unlock()
	if v.gen.Load() != gen {
		return v.Get(), false, nil
	}
	s := Sample{Value: val, Timestamp: ts}
	v.publishLocked(s)
	return s, true, nil
}
