package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/nerrad567/p2plant-ioc/internal/infrastructure/config"
)

// Defaults applied by New to zero Config fields.
const (
	DefaultRestartDelay    = 5 * time.Second
	DefaultMaxRestartDelay = 5 * time.Minute
	DefaultStableAfter     = 2 * time.Minute
	DefaultStopTimeout     = 10 * time.Second
	DefaultReadyTimeout    = 5 * time.Second

	readyPollInterval = 100 * time.Millisecond
)

// Errors.
var (
	ErrAlreadyStarted = errors.New("process: already started")
	ErrNotRunning     = errors.New("process: not running")
	ErrNotReady       = errors.New("process: not ready")
)

// State is the supervisor's view of the child process.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateBackoff  State = "backoff"
	StateFailed   State = "failed"
)

// Config describes the process to supervise.
type Config struct {
	Name   string
	Binary string
	Args   []string
	// Env is appended to the IOC's own environment.
	Env []string

	RestartOnFailure bool
	// RestartDelay is the first restart delay; it doubles for each
	// consecutive failure up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration
	// MaxRestartAttempts is the number of consecutive restarts before the
	// supervisor gives up. Zero means no limit.
	MaxRestartAttempts int
	// StableAfter resets the consecutive failure count once a run lasts
	// this long.
	StableAfter time.Duration

	StopTimeout time.Duration

	// Ready, when set, is polled after Start spawns the process until it
	// returns nil or ReadyTimeout passes.
	Ready        func(ctx context.Context) error
	ReadyTimeout time.Duration

	Logger Logger
}

// FromConfig converts the managed plant section of config.yaml. ready
// may be nil.
func FromConfig(cfg config.PlantProcessConfig, ready func(ctx context.Context) error) Config {
	return Config{
		Name:               "plant-server",
		Binary:             cfg.Binary,
		Args:               cfg.Args,
		RestartOnFailure:   cfg.RestartOnFailure,
		RestartDelay:       time.Duration(cfg.RestartDelaySeconds) * time.Second,
		MaxRestartAttempts: cfg.MaxRestartAttempts,
		Ready:              ready,
		ReadyTimeout:       time.Duration(cfg.StartupTimeout) * time.Millisecond,
	}
}

// Logger is the logging interface used by the supervisor.
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

// Stats is a snapshot of the supervised process.
type Stats struct {
	Name      string        `json:"name"`
	State     State         `json:"state"`
	PID       int           `json:"pid,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	Restarts  int           `json:"restarts"`
	LastError string        `json:"last_error,omitempty"`
}

// Supervisor runs one child process and keeps it running.
type Supervisor struct {
	cfg    Config
	logger Logger

	mu        sync.Mutex
	state     State
	cmd       *exec.Cmd
	startedAt time.Time
	failures  int // consecutive, reset by a stable run
	restarts  int
	lastErr   error
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a supervisor. Nothing is spawned until Start.
func New(cfg Config) *Supervisor {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if cfg.MaxRestartDelay <= 0 {
		cfg.MaxRestartDelay = DefaultMaxRestartDelay
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = DefaultStableAfter
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Binary
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Supervisor{cfg: cfg, logger: logger, state: StateStopped}
}

// Start spawns the process, begins supervising it and, when a readiness
// check is configured, waits for it to pass. The process is stopped when
// ctx is cancelled or Stop is called.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyStarted, s.cfg.Name)
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.state = StateStarting
	s.failures, s.restarts, s.lastErr = 0, 0, nil
	s.mu.Unlock()

	if err := s.spawn(runCtx); err != nil {
		cancel()
		s.mu.Lock()
		s.state = StateFailed
		s.lastErr = err
		s.mu.Unlock()
		return err
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()
	go s.supervise(runCtx, done)

	if s.cfg.Ready == nil {
		return nil
	}
	if err := s.awaitReady(runCtx, done); err != nil {
		_ = s.Stop()
		return err
	}
	s.logger.Info("process ready", "name", s.cfg.Name)
	return nil
}

// spawn starts one instance of the process.
func (s *Supervisor) spawn(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, s.cfg.Binary, s.cfg.Args...) //nolint:gosec // binary comes from the IOC's own config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Signal the whole group; Setpgid made the child its leader.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = s.cfg.StopTimeout
	if s.cfg.Env != nil {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}
	stdout := newLineWriter(s.logger, s.cfg.Name, "stdout")
	stderr := newLineWriter(s.logger, s.cfg.Name, "stderr")
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", s.cfg.Name, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.state = StateRunning
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("process started",
		"name", s.cfg.Name,
		"binary", s.cfg.Binary,
		"pid", cmd.Process.Pid)
	return nil
}

// supervise waits for the current process to exit and restarts it while
// the restart policy allows.
func (s *Supervisor) supervise(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		s.mu.Lock()
		cmd, startedAt := s.cmd, s.startedAt
		s.mu.Unlock()

		err := cmd.Wait()
		flushOutput(cmd)
		if ctx.Err() != nil {
			s.killGroup(cmd)
			s.setStopped()
			return
		}

		delay, ok := s.nextRestart(time.Since(startedAt), err)
		for ok {
			select {
			case <-ctx.Done():
				s.setStopped()
				return
			case <-time.After(delay):
			}
			if err = s.spawn(ctx); err == nil {
				break
			}
			delay, ok = s.nextRestart(0, err)
		}
		if !ok {
			return
		}
	}
}

// nextRestart records a failed run and returns the delay before the next
// attempt, or false when the supervisor should give up.
func (s *Supervisor) nextRestart(ran time.Duration, err error) (time.Duration, bool) {
	if err == nil {
		err = errors.New("exited with status 0")
	}
	s.logger.Warn("process exited unexpectedly", "name", s.cfg.Name, "ran", ran, "error", err)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err

	if !s.cfg.RestartOnFailure {
		s.state = StateFailed
		return 0, false
	}
	if ran >= s.cfg.StableAfter {
		s.failures = 0
	}
	s.failures++
	if s.cfg.MaxRestartAttempts > 0 && s.failures > s.cfg.MaxRestartAttempts {
		s.state = StateFailed
		s.logger.Error("giving up on process", "name", s.cfg.Name, "attempts", s.failures-1)
		return 0, false
	}
	s.restarts++
	s.state = StateBackoff
	delay := backoff(s.cfg.RestartDelay, s.cfg.MaxRestartDelay, s.failures)
	s.logger.Info("restarting process", "name", s.cfg.Name, "attempt", s.failures, "delay", delay)
	return delay, true
}

// backoff returns base doubled for each attempt after the first, capped
// at limit.
func backoff(base, limit time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return min(d, limit)
}

// awaitReady polls the readiness check until it passes, the timeout
// expires or the supervisor gives up on the process.
func (s *Supervisor) awaitReady(ctx context.Context, done <-chan struct{}) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReadyTimeout)
	defer cancel()

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		if lastErr = s.cfg.Ready(ctx); lastErr == nil {
			return nil
		}
		select {
		case <-done:
			return fmt.Errorf("%w: %s exited: %w", ErrNotReady, s.cfg.Name, s.LastError())
		case <-ctx.Done():
			return fmt.Errorf("%w: %s after %v: %w", ErrNotReady, s.cfg.Name, s.cfg.ReadyTimeout, lastErr)
		case <-ticker.C:
		}
	}
}

// Stop terminates the process and waits for supervision to end. Safe to
// call when not started.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}

	s.logger.Info("stopping process", "name", s.cfg.Name)
	cancel()
	<-done

	s.mu.Lock()
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	return nil
}

// killGroup removes any children left in the process group.
func (s *Supervisor) killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Warn("killing process group failed", "name", s.cfg.Name, "error", err)
	}
}

func (s *Supervisor) setStopped() {
	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	s.logger.Info("process stopped", "name", s.cfg.Name)
}

func flushOutput(cmd *exec.Cmd) {
	for _, w := range []any{cmd.Stdout, cmd.Stderr} {
		if lw, ok := w.(*lineWriter); ok {
			lw.Flush()
		}
	}
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the error of the most recent failed run.
func (s *Supervisor) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Stats returns a snapshot for status reporting.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Name: s.cfg.Name, State: s.state, Restarts: s.restarts}
	if s.state == StateRunning && s.cmd != nil && s.cmd.Process != nil {
		st.PID = s.cmd.Process.Pid
		st.Uptime = time.Since(s.startedAt)
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// HealthCheck reports an error unless the process is running.
func (s *Supervisor) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if st := s.State(); st != StateRunning {
		return fmt.Errorf("%w: %s is %s", ErrNotRunning, s.cfg.Name, st)
	}
	return nil
}
