package plant

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"strings"
	"sync"
)

// Register is one entry of an in-memory plant.
type Register struct {
	Descriptor
	Value any
	// Shape overrides the shape derived from Value. Use it for
	// multi-dimensional registers.
	Shape []int
}

// Memory is an in-process Connector. It holds a fixed register catalog and
// enforces the "W" feature bit on Set.
//
// All public methods are thread-safe.
type Memory struct {
	mu     sync.RWMutex
	regs   map[string]Register
	closed bool
	sets   []SetCall
}

// SetCall records one accepted Set.
type SetCall struct {
	Name  string
	Value any
}

// NewMemory returns an in-memory plant holding catalog. The map is copied.
func NewMemory(catalog map[string]Register) *Memory {
	regs := make(map[string]Register, len(catalog))
	maps.Copy(regs, catalog)
	return &Memory{regs: regs}
}

// Info returns the register catalog.
func (m *Memory) Info(ctx context.Context) (map[string]Descriptor, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Descriptor, len(m.regs))
	for name, r := range m.regs {
		out[name] = r.Descriptor
	}
	return out, nil
}

// Get returns readings for the named registers.
func (m *Memory) Get(ctx context.Context, names ...string) (map[string]Reading, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Reading, len(names))
	for _, name := range names {
		r, ok := m.regs[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown register %q", ErrRemote, name)
		}
		out[name] = Reading{V: r.Value, Shape: shapeOf(r)}
	}
	return out, nil
}

// Set writes value to a writable register.
func (m *Memory) Set(ctx context.Context, name string, value any) error {
	if err := m.check(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.regs[name]
	if !ok {
		return fmt.Errorf("%w: unknown register %q", ErrRemote, name)
	}
	if !strings.Contains(r.Fbits, "W") {
		return fmt.Errorf("%w: register %q is read-only", ErrRemote, name)
	}
	r.Value = value
	m.regs[name] = r
	m.sets = append(m.sets, SetCall{Name: name, Value: value})
	return nil
}

// Update changes a register's value from the plant side, regardless of
// its feature bits.
func (m *Memory) Update(name string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.regs[name]
	if !ok {
		return fmt.Errorf("%w: unknown register %q", ErrRemote, name)
	}
	r.Value = value
	m.regs[name] = r
	return nil
}

// Sets returns the Set calls accepted so far, oldest first.
func (m *Memory) Sets() []SetCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]SetCall(nil), m.sets...)
}

// Close marks the plant unavailable. Later calls fail with ErrBackendUnavailable.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *Memory) check(ctx context.Context) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrBackendUnavailable
	}
	return nil
}

// shapeOf returns the explicit shape, or [len] for slices and [1] otherwise.
func shapeOf(r Register) []int {
	if len(r.Shape) > 0 {
		return append([]int(nil), r.Shape...)
	}
	rv := reflect.ValueOf(r.Value)
	if rv.Kind() == reflect.Slice {
		return []int{rv.Len()}
	}
	return []int{1}
}

// DemoCatalog returns a small plant used by "mem://demo" and the simulator.
func DemoCatalog() map[string]Register {
	return map[string]Register{
		"temp": {
			Descriptor: Descriptor{
				Type: "int32", Desc: "Temperature", Fbits: "R",
				Display: map[string]any{KeyUnits: "dC", KeyFormat: "%d"},
			},
			Value: int32(215),
		},
		"setpoint": {
			Descriptor: Descriptor{
				Type: "int16", Desc: "Temperature setpoint", Fbits: "RW",
				Display: map[string]any{KeyLimitLow: 0, KeyLimitHigh: 400, KeyUnits: "dC"},
			},
			Value: int16(200),
		},
		"heater": {
			Descriptor: Descriptor{Type: "uint8", Desc: "Heater output", Fbits: "RW"},
			Value:      uint8(0),
		},
		"waveform": {
			Descriptor: Descriptor{Type: "uint16*", Desc: "Sampled waveform", Fbits: "R"},
			Value:      []uint16{0, 512, 1023, 512},
		},
		"label": {
			Descriptor: Descriptor{Type: "char", Desc: "Station label", Fbits: "RW"},
			Value:      "bench-1",
		},
		"matrix": {
			Descriptor: Descriptor{Type: "int16*", Desc: "Calibration matrix", Fbits: "R"},
			Value:      [][]int16{{1, 0}, {0, 1}},
			Shape:      []int{2, 2},
		},
	}
}
