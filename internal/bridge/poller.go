package bridge

import (
	"context"
	"reflect"
	"sort"
	"sync/atomic"
	"time"

	"github.com/nerrad567/p2plant-ioc/internal/plant"
	"github.com/nerrad567/p2plant-ioc/internal/pv"
)

// PollStats holds poller statistics.
type PollStats struct {
	Polls   uint64
	Changes uint64
	Errors  uint64
}

// Poller re-reads discovered registers and publishes values that changed
// on the backend side.
type Poller struct {
	conn     plant.Connector
	interval time.Duration
	logger   Logger
	now      func() time.Time

	// registers maps backend register name to its PV.
	registers map[string]*pv.Variable
	names     []string

	polls    atomic.Uint64
	changes  atomic.Uint64
	failures atomic.Uint64
}

// NewPoller creates a poller for the given register → PV bindings.
func NewPoller(conn plant.Connector, registers map[string]*pv.Variable, interval time.Duration, logger Logger) *Poller {
	if logger == nil {
		logger = noopLogger{}
	}
	names := make([]string, 0, len(registers))
	for name := range registers {
		names = append(names, name)
	}
	sort.Strings(names)

	return &Poller{
		conn:      conn,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
		registers: registers,
		names:     names,
	}
}

// Run polls every interval until ctx is cancelled. It returns immediately
// when the interval is not positive or there is nothing to poll.
func (p *Poller) Run(ctx context.Context) {
	if p.interval <= 0 || len(p.names) == 0 {
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("plant poller started", "interval", p.interval, "registers", len(p.names))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("plant poller stopped")
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll reads all registers once and publishes the ones whose value changed.
// A PV published while the read was in flight keeps its newer value. It
// returns the number of PVs published.
func (p *Poller) Poll(ctx context.Context) int {
	p.polls.Add(1)

	gens := make(map[string]uint64, len(p.names))
	for _, name := range p.names {
		gens[name] = p.registers[name].Generation()
	}

	readings, err := p.conn.Get(ctx, p.names...)
	if err != nil {
		p.failures.Add(1)
		p.logger.Warn("plant poll failed", "error", err)
		return 0
	}

	ts := p.now()
	published := 0
	for _, name := range p.names {
		reading, ok := readings[name]
		if !ok {
			continue
		}
		v := p.registers[name]

		val, err := v.Type().Coerce(reading.V)
		if err != nil {
			p.failures.Add(1)
			p.logger.Warn("ignoring polled value", "pv", v.Name(), "error", err)
			continue
		}
		if reflect.DeepEqual(val.Raw(), v.Get().Value.Raw()) {
			continue
		}
		_, posted, err := v.PostIfUnchanged(val, ts, gens[name])
		if err != nil {
			p.failures.Add(1)
			continue
		}
		if !posted {
			p.logger.Debug("discarding polled value superseded by a write", "pv", v.Name())
			continue
		}
		p.changes.Add(1)
		published++
	}
	return published
}

// Stats returns poller statistics.
func (p *Poller) Stats() PollStats {
	return PollStats{
		Polls:   p.polls.Load(),
		Changes: p.changes.Load(),
		Errors:  p.failures.Load(),
	}
}
