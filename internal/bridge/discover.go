package bridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nerrad567/p2plant-ioc/internal/plant"
	"github.com/nerrad567/p2plant-ioc/internal/pv"
)

// DefaultWriteTimeout bounds a put forwarded to the backend.
const DefaultWriteTimeout = 5 * time.Second

// metaKeys maps backend descriptor display keys to PV metadata keys.
var metaKeys = map[string]string{
	plant.KeyLimitLow:  pv.MetaLimitLow,
	plant.KeyLimitHigh: pv.MetaLimitHigh,
	plant.KeyFormat:    pv.MetaFormat,
	plant.KeyUnits:     pv.MetaUnits,
}

// DiscoverOptions configures Discover.
type DiscoverOptions struct {
	Logger Logger
	// WriteTimeout bounds each forwarded put. Defaults to DefaultWriteTimeout.
	WriteTimeout time.Duration
	// Dump logs every register's descriptor and reading at info level.
	Dump bool
}

// Discovered is one register accepted by Discover.
type Discovered struct {
	// Register is the backend register name (the PV name without prefix).
	Register   string
	Definition pv.Definition
}

// Discover builds PV definitions from the backend's register catalog.
//
// Registers that cannot be represented are skipped with a warning: a
// register-level read error, a multi-dimensional shape, an unknown or
// missing type or a value that does not fit the type. Failing to fetch the
// catalog, or losing the backend while reading registers, is fatal and
// returns plant.ErrBackendUnavailable.
//
// Writable registers get a put callback that forwards the value to the
// backend with Set.
func Discover(ctx context.Context, conn plant.Connector, opts DiscoverOptions) ([]Discovered, error) {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}

	catalog, err := conn.Info(ctx)
	if err != nil {
		if errors.Is(err, plant.ErrBackendUnavailable) {
			return nil, fmt.Errorf("reading register catalog: %w", err)
		}
		return nil, fmt.Errorf("reading register catalog: %w: %w", plant.ErrBackendUnavailable, err)
	}

	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Discovered, 0, len(names))
	for _, name := range names {
		desc := catalog[name]

		readings, err := conn.Get(ctx, name)
		switch {
		case errors.Is(err, plant.ErrBackendUnavailable):
			// The backend went away mid-discovery; serving a partial set is worse
			// than not starting.
			return nil, fmt.Errorf("reading register %s: %w", name, err)
		case err != nil:
			logger.Warn("skipping register: read failed", "register", name, "error", err)
			continue
		}
		reading, ok := readings[name]
		if !ok {
			logger.Warn("skipping register: backend returned no value", "register", name)
			continue
		}

		if opts.Dump {
			logger.Info("register", "register", name, "type", desc.Type, "desc", desc.Desc,
				"fbits", desc.Fbits, "display", desc.Display, "value", reading.V, "shape", reading.Dims())
		}

		def, err := definition(name, desc, reading)
		if err != nil {
			logger.Warn("skipping register", "register", name, "type", desc.Type, "error", err)
			continue
		}
		if pv.AccessFromFlags(desc.Fbits) == pv.ReadWrite {
			def.OnPut = forwardPut(conn, name, opts.WriteTimeout)
		}
		out = append(out, Discovered{Register: name, Definition: def})
	}

	logger.Info("plant registers discovered", "catalog", len(catalog), "accepted", len(out))
	return out, nil
}

// definition maps one register to a PV definition.
func definition(name string, desc plant.Descriptor, reading plant.Reading) (pv.Definition, error) {
	if err := pv.CheckShape(reading.Dims()); err != nil {
		return pv.Definition{}, err
	}
	typ, err := pv.MapType(desc.Type)
	if err != nil {
		return pv.Definition{}, err
	}
	value, err := typ.Coerce(reading.V)
	if err != nil {
		return pv.Definition{}, err
	}

	var extra map[string]any
	for key, meta := range metaKeys {
		v, ok := desc.Display[key]
		if !ok {
			continue
		}
		if extra == nil {
			extra = make(map[string]any, len(metaKeys))
		}
		extra[meta] = v
	}

	return pv.Definition{
		Name:        name,
		Description: desc.Desc,
		Type:        typ,
		Initial:     value,
		Flags:       desc.Fbits,
		Extra:       extra,
	}, nil
}

// forwardPut returns a put callback writing to the backend register.
func forwardPut(conn plant.Connector, register string, timeout time.Duration) pv.PutFunc {
	return func(ctx context.Context, raw any) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return conn.Set(ctx, register, pv.JSONRaw(raw))
	}
}
