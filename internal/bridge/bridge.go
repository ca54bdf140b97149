package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/p2plant-ioc/internal/control"
	"github.com/nerrad567/p2plant-ioc/internal/plant"
	"github.com/nerrad567/p2plant-ioc/internal/pv"
)

// Logger defines the logging interface used by the bridge. It is satisfied
// by *logging.Logger and by the pv, control and plant logger interfaces.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds bridge settings.
type Config struct {
	// Prefix is prepended to every PV name.
	Prefix string
	// Autostart selects Run as the run/stop initial value, which starts the
	// control loop when the bridge runs.
	Autostart       bool
	ControlInterval time.Duration
	// PollInterval re-reads backend registers; zero disables polling.
	PollInterval time.Duration
	WriteTimeout time.Duration
	// Dump logs every discovered register.
	Dump bool
	// OnCycle is called after each control loop cycle.
	OnCycle   func(count uint32)
	Observers []pv.PutObserver
	Logger    Logger
}

// Bridge owns the PV registry built from a plant backend together with the
// control loop and the backend poller.
type Bridge struct {
	conn   plant.Connector
	reg    *pv.Registry
	disp   *pv.Dispatcher
	svc    *pv.Service
	loop   *control.Loop
	poller *Poller
	logger Logger
}

// New discovers the backend's registers and builds the registry: the fixed
// control PVs first, then one PV per accepted register. The control loop is
// bound but not started; see Run.
func New(ctx context.Context, conn plant.Connector, cfg Config) (*Bridge, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	loop := control.New(control.Config{
		Interval: cfg.ControlInterval,
		OnCycle:  cfg.OnCycle,
		Logger:   logger,
	})

	discovered, err := Discover(ctx, conn, DiscoverOptions{
		Logger:       logger,
		WriteTimeout: cfg.WriteTimeout,
		Dump:         cfg.Dump,
	})
	if err != nil {
		return nil, err
	}

	defs := make([]pv.Definition, len(discovered))
	for i, d := range discovered {
		defs[i] = d.Definition
	}

	reg, err := pv.NewRegistry(pv.Options{Prefix: cfg.Prefix, Logger: logger},
		loop.Definitions(cfg.Autostart), defs)
	if err != nil {
		return nil, fmt.Errorf("building PV registry: %w", err)
	}
	if err := loop.Bind(reg); err != nil {
		return nil, err
	}

	registers := make(map[string]*pv.Variable, len(discovered))
	for _, d := range discovered {
		v, err := reg.Lookup(cfg.Prefix + d.Register)
		if err != nil {
			return nil, err
		}
		registers[d.Register] = v
	}

	disp := pv.NewDispatcher(logger, cfg.Observers...)
	b := &Bridge{
		conn:   conn,
		reg:    reg,
		disp:   disp,
		svc:    pv.NewService(reg, disp),
		loop:   loop,
		poller: NewPoller(conn, registers, cfg.PollInterval, logger),
		logger: logger,
	}

	logger.Info("P2Plant PVs ready", "count", reg.Len(), "prefix", cfg.Prefix)
	return b, nil
}

// Run starts the control loop if run/stop selects Run, polls the backend
// until ctx is cancelled, then shuts the loop down.
func (b *Bridge) Run(ctx context.Context) error {
	if b.loop.StartIfRequested() {
		b.logger.Info("control loop autostarted", "interval", b.loop.Interval())
	}

	b.poller.Run(ctx)
	<-ctx.Done()

	b.loop.Shutdown()
	return nil
}

// Service returns the network-facing PV service.
func (b *Bridge) Service() *pv.Service { return b.svc }

// Registry returns the PV registry.
func (b *Bridge) Registry() *pv.Registry { return b.reg }

// Dispatcher returns the write dispatcher.
func (b *Bridge) Dispatcher() *pv.Dispatcher { return b.disp }

// Loop returns the control loop.
func (b *Bridge) Loop() *control.Loop { return b.loop }

// Poller returns the backend poller.
func (b *Bridge) Poller() *Poller { return b.poller }
