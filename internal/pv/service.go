package pv

import (
	"context"
	"fmt"
)

// Service is the network-facing view of the registry. Transports (HTTP,
// WebSocket, MQTT) validate writes through Put, which rejects unknown,
// read-only and ill-typed writes before they reach the dispatcher.
type Service struct {
	reg  *Registry
	disp *Dispatcher
}

// NewService creates a service over reg that writes through disp.
func NewService(reg *Registry, disp *Dispatcher) *Service {
	return &Service{reg: reg, disp: disp}
}

// Registry returns the underlying registry.
func (s *Service) Registry() *Registry {
	return s.reg
}

// List returns every PV sorted by name.
func (s *Service) List() []*Variable {
	return s.reg.All()
}

// Get returns the named PV.
func (s *Service) Get(name string) (*Variable, error) {
	return s.reg.Lookup(name)
}

// Subscribe forwards to Registry.Subscribe.
func (s *Service) Subscribe(fn func(Update)) (cancel func()) {
	return s.reg.Subscribe(fn)
}

// Put validates a client write and dispatches it. source names the
// transport and client for logging and audit (e.g. "http:10.0.0.5").
//
// Returns ErrNotFound, ErrReadOnly or ErrTypeMismatch (wrapped) when the
// write is rejected. An accepted write returns the published sample.
func (s *Service) Put(ctx context.Context, name string, raw any, source string) (Sample, error) {
	v, err := s.reg.Lookup(name)
	if err != nil {
		return Sample{}, err
	}
	if !v.Writable() {
		return Sample{}, fmt.Errorf("%w: %s", ErrReadOnly, name)
	}
	val, err := v.typ.Coerce(raw)
	if err != nil {
		return Sample{}, fmt.Errorf("put %s: %w", name, err)
	}
	return s.disp.Dispatch(ctx, v, val, source), nil
}
