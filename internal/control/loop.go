package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/p2plant-ioc/internal/pv"
)

// State is the control loop's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	// StateShuttingDown is terminal.
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Names of the fixed control PVs, before the registry prefix.
const (
	RunStopName = "Run"
	CycleName   = "cycle"
)

// Choice indices of the run/stop enumeration.
const (
	ChoiceRun  = 0
	ChoiceStop = 1
)

// RunStopChoices is the run/stop choice set, in index order.
var RunStopChoices = []string{"Run", "Stop"}

// DefaultInterval is the cycle period when none is configured.
const DefaultInterval = time.Second

// ErrShuttingDown is returned by HandleRunStop after Shutdown.
var ErrShuttingDown = errors.New("control: loop is shutting down")

// Logger defines the logging interface for the control loop.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Config holds control loop settings.
type Config struct {
	// Interval is the wait between cycles. Defaults to DefaultInterval.
	Interval time.Duration

	// OnCycle, if set, runs on the loop goroutine after each counter publish.
	OnCycle func(count uint32)

	Logger Logger
}

// Loop increments and publishes the cycle counter while the run/stop PV
// selects Run. At most one loop goroutine exists at a time: Start moves
// Idle to Running with a compare-and-swap, and only the winner spawns.
//
// The counter keeps its value across stop and restart.
type Loop struct {
	interval time.Duration
	onCycle  func(uint32)
	logger   Logger
	tick     func(time.Duration) (<-chan time.Time, func())

	state atomic.Int32
	// rerun is set by a Run write that found the loop still Running, so a
	// loop exiting at that moment continues instead. A Stop write clears it.
	rerun  atomic.Bool
	count  atomic.Uint32
	starts atomic.Uint64

	cycle   *pv.Variable
	runStop *pv.Variable

	// mu keeps Start's wg.Add ordered against Shutdown's wg.Wait.
	mu   sync.Mutex
	wg   sync.WaitGroup
	done chan struct{}
}

// New creates an idle loop. Bind must be called before Start.
func New(cfg Config) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	return &Loop{
		interval: cfg.Interval,
		onCycle:  cfg.OnCycle,
		logger:   cfg.Logger,
		tick:     newTicker,
		done:     make(chan struct{}),
	}
}

func newTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Definitions returns the fixed control PV definitions: the run/stop
// enumeration, whose put callback starts this loop, and the read-only
// cycle counter.
func (l *Loop) Definitions(autostart bool) []pv.Definition {
	initial := ChoiceStop
	if autostart {
		initial = ChoiceRun
	}
	return []pv.Definition{
		{
			Name:        RunStopName,
			Description: "Start/Stop the device",
			Type:        pv.EnumOf(RunStopChoices...),
			Initial:     initial,
			Flags:       "RW",
			OnPut:       l.HandleRunStop,
		},
		{
			Name:        CycleName,
			Description: "Cycle number",
			Type:        pv.ScalarOf(pv.Uint32),
			Initial:     uint32(0),
			Flags:       "R",
		},
	}
}

// Bind attaches the loop to its PVs in reg, looked up under the
// registry's prefix. The counter resumes from the cycle PV's value.
func (l *Loop) Bind(reg *pv.Registry) error {
	cycle, err := reg.Lookup(reg.Prefix() + CycleName)
	if err != nil {
		return fmt.Errorf("binding cycle counter: %w", err)
	}
	runStop, err := reg.Lookup(reg.Prefix() + RunStopName)
	if err != nil {
		return fmt.Errorf("binding run/stop: %w", err)
	}
	if runStop.Type().Kind != pv.KindEnum {
		return fmt.Errorf("binding run/stop: %w: %s is %s", pv.ErrTypeMismatch, runStop.Name(), runStop.Type())
	}

	if n, ok := cycle.Get().Value.Raw().(uint32); ok {
		l.count.Store(n)
	}
	l.cycle = cycle
	l.runStop = runStop
	return nil
}

// HandleRunStop is the run/stop put callback. Selecting Run starts the
// loop; selecting Stop only withdraws a pending rerun, since the loop
// checks run/stop every cycle. It only spawns, never runs a cycle inline.
func (l *Loop) HandleRunStop(_ context.Context, raw any) error {
	idx, ok := raw.(int)
	if !ok {
		return fmt.Errorf("%w: run/stop value %T", pv.ErrTypeMismatch, raw)
	}
	if idx != ChoiceRun {
		l.rerun.Store(false)
		return nil
	}
	if l.Start() {
		return nil
	}
	switch l.State() {
	case StateShuttingDown:
		return ErrShuttingDown
	case StateRunning:
		// The callback runs before the new value is published, so an
		// exiting loop may still read Stop.
		l.rerun.Store(true)
		if l.Start() {
			l.rerun.Store(false)
		}
	}
	return nil
}

// StartIfRequested starts the loop when run/stop currently selects Run.
// Used at startup.
func (l *Loop) StartIfRequested() bool {
	if !l.runRequested() {
		return false
	}
	return l.Start()
}

// Start spawns the loop goroutine if the loop is idle. It returns false,
// spawning nothing, when the loop is already running or shutting down.
func (l *Loop) Start() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cycle == nil {
		l.logger.Warn("control loop start ignored: not bound")
		return false
	}
	if !l.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return false
	}

	l.starts.Add(1)
	l.wg.Add(1)
	runID := uuid.NewString()[:8]
	l.logger.Info("control loop started", "run_id", runID, "interval", l.interval)
	go l.run(runID)
	return true
}

// Shutdown stops the loop permanently and waits for its goroutine.
// Safe to call more than once.
func (l *Loop) Shutdown() {
	l.mu.Lock()
	if State(l.state.Swap(int32(StateShuttingDown))) != StateShuttingDown {
		close(l.done)
	}
	l.mu.Unlock()

	l.wg.Wait()
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Starts returns how many times a loop goroutine has been spawned.
func (l *Loop) Starts() uint64 {
	return l.starts.Load()
}

// Count returns the cycle counter.
func (l *Loop) Count() uint32 {
	return l.count.Load()
}

// Interval returns the cycle period.
func (l *Loop) Interval() time.Duration {
	return l.interval
}

func (l *Loop) run(runID string) {
	defer l.wg.Done()

	ticks, stop := l.tick(l.interval)
	defer stop()

	for {
		select {
		case <-l.done:
			l.logger.Debug("control loop exiting on shutdown", "run_id", runID)
			return
		case <-ticks:
		}

		if !l.runRequested() {
			if l.exit() {
				l.logger.Info("control loop stopped", "run_id", runID, "count", l.count.Load())
				return
			}
			continue
		}
		l.rerun.Store(false)

		n := l.count.Add(1)
		if _, err := l.cycle.Post(n, time.Now()); err != nil {
			l.logger.Warn("publishing cycle counter failed", "error", err)
		}
		if l.onCycle != nil {
			l.onCycle(n)
		}
	}
}

// exit moves Running to Idle. It reports false when a Run write raced
// the exit and this goroutine took the loop back to Running.
func (l *Loop) exit() bool {
	if !l.state.CompareAndSwap(int32(StateRunning), int32(StateIdle)) {
		return true
	}
	if l.rerun.Swap(false) && l.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return false
	}
	return true
}

func (l *Loop) runRequested() bool {
	if l.runStop == nil {
		return false
	}
	e, ok := l.runStop.Get().Value.(pv.Enum)
	return ok && e.Index == ChoiceRun
}
