package pv

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the registry and dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Display metadata keys recognised in a definition's Extra map.
const (
	MetaLimitLow  = "limitLow"
	MetaLimitHigh = "limitHigh"
	MetaFormat    = "format"
	MetaUnits     = "units"
)

// Definition describes one PV to be created by NewRegistry.
type Definition struct {
	// Name is the unprefixed name; the registry prepends Options.Prefix.
	Name        string
	Description string
	Type        Type
	// Initial is coerced with Type. Nil starts the PV at the type's zero value.
	Initial any
	// Flags are backend feature bits; a "W" makes the PV writable.
	Flags string
	// Extra carries optional display metadata (limitLow, limitHigh, format, units).
	Extra map[string]any
	OnPut PutFunc
}

// Options configures registry construction.
type Options struct {
	Prefix string
	Logger Logger
	// Now supplies the startup timestamp. Defaults to time.Now.
	Now func() time.Time
}

// Registry maps PV names to variables. Membership is fixed at construction;
// lookups need no locking and publishes are atomic per variable.
//
// All public methods are thread-safe.
type Registry struct {
	vars   map[string]*Variable
	sorted []*Variable
	prefix string
	logger Logger

	subMu  sync.RWMutex
	subs   map[uint64]func(Update)
	nextID uint64
}

// NewRegistry builds the PV set from the fixed control definitions and the
// discovered backend definitions. Every variable holds its initial sample,
// stamped with a single startup time, before the registry is returned.
//
// A duplicate name or an initial value that does not fit its type is fatal
// and no registry is returned. Display metadata that cannot be attached is
// logged and skipped.
func NewRegistry(opts Options, fixed, discovered []Definition) (*Registry, error) {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	r := &Registry{
		vars:   make(map[string]*Variable, len(fixed)+len(discovered)),
		prefix: opts.Prefix,
		logger: logger,
		subs:   make(map[uint64]func(Update)),
	}

	startup := now()
	defs := make([]Definition, 0, len(fixed)+len(discovered))
	defs = append(defs, fixed...)
	defs = append(defs, discovered...)

	for _, d := range defs {
		name := opts.Prefix + d.Name
		if _, exists := r.vars[name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, name)
		}

		initial := d.Type.Zero()
		if d.Initial != nil {
			val, err := d.Type.Coerce(d.Initial)
			if err != nil {
				return nil, fmt.Errorf("initial value of %s: %w", name, err)
			}
			initial = val
		}

		v := &Variable{
			name:    name,
			typ:     d.Type,
			access:  AccessFromFlags(d.Flags),
			display: r.attachDisplay(name, d),
			onPut:   d.OnPut,
			reg:     r,
		}
		v.current.Store(&Sample{Value: initial, Timestamp: startup})

		r.vars[name] = v
		r.sorted = append(r.sorted, v)
	}

	sort.Slice(r.sorted, func(i, j int) bool { return r.sorted[i].name < r.sorted[j].name })
	return r, nil
}

// attachDisplay copies the description and whichever display fields fit
// the PV's type. Each rejected field is logged and skipped.
func (r *Registry) attachDisplay(name string, d Definition) Display {
	disp := Display{Description: d.Description}

	for _, key := range []string{MetaLimitLow, MetaLimitHigh, MetaFormat, MetaUnits} {
		raw, ok := d.Extra[key]
		if !ok || raw == nil {
			continue
		}
		if err := setDisplayField(&disp, d.Type, key, raw); err != nil {
			r.logger.Warn("skipping PV metadata field", "pv", name, "field", key, "error", err)
		}
	}
	return disp
}

func setDisplayField(disp *Display, t Type, key string, raw any) error {
	switch key {
	case MetaLimitLow, MetaLimitHigh:
		if !t.Numeric() {
			return fmt.Errorf("%w: %s on %s PV", ErrMetadataAttach, key, t)
		}
		f, ok := number(raw)
		if !ok {
			return fmt.Errorf("%w: %s is %T, not a number", ErrMetadataAttach, key, raw)
		}
		if key == MetaLimitLow {
			disp.LimitLow = &f
		} else {
			disp.LimitHigh = &f
		}
	case MetaFormat, MetaUnits:
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("%w: %s is %T, not a string", ErrMetadataAttach, key, raw)
		}
		if key == MetaFormat {
			disp.Format = s
		} else {
			disp.Units = s
		}
	}
	return nil
}

// number accepts any numeric, including non-integral limits.
func number(raw any) (float64, bool) {
	switch f := raw.(type) {
	case float64:
		return f, true
	case float32:
		return float64(f), true
	}
	if n, ok := raw.(interface{ Float64() (float64, error) }); ok {
		f, err := n.Float64()
		return f, err == nil
	}
	neg, mag, err := integer(raw)
	if err != nil {
		return 0, false
	}
	if neg {
		return -float64(mag), true
	}
	return float64(mag), true
}

// Prefix returns the name prefix applied to every definition.
func (r *Registry) Prefix() string {
	return r.prefix
}

// Lookup returns the PV with the given full name, or ErrNotFound.
func (r *Registry) Lookup(name string) (*Variable, error) {
	v, ok := r.vars[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return v, nil
}

// All returns every PV sorted by name.
func (r *Registry) All() []*Variable {
	out := make([]*Variable, len(r.sorted))
	copy(out, r.sorted)
	return out
}

// Names returns every PV name, sorted.
func (r *Registry) Names() []string {
	names := make([]string, len(r.sorted))
	for i, v := range r.sorted {
		names[i] = v.name
	}
	return names
}

// Len returns the number of PVs.
func (r *Registry) Len() int {
	return len(r.sorted)
}

// Publish coerces value to the named PV's type and makes it the current
// sample with timestamp ts. This is the only way values change after
// construction.
func (r *Registry) Publish(name string, value any, ts time.Time) error {
	v, err := r.Lookup(name)
	if err != nil {
		return err
	}
	_, err = v.Post(value, ts)
	return err
}

// Subscribe registers fn to receive every publish. fn runs on the
// publisher's goroutine while the variable's publish lock is held, so it
// must hand work off rather than block. The returned function cancels the
// subscription.
func (r *Registry) Subscribe(fn func(Update)) (cancel func()) {
	r.subMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	r.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
		})
	}
}

// notify fans an update out to subscribers. A panicking subscriber is
// logged and does not affect the others.
func (r *Registry) notify(u Update) {
	r.subMu.RLock()
	fns := make([]func(Update), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.subMu.RUnlock()

	for _, fn := range fns {
		r.safeNotify(fn, u)
	}
}

func (r *Registry) safeNotify(fn func(Update), u Update) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("PV subscriber panic recovered", "pv", u.Name, "panic", rec)
		}
	}()
	fn(u)
}
