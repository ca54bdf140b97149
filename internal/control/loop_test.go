package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/p2plant-ioc/internal/pv"
)

// harness wires a loop to a registry the way the bridge does.
type harness struct {
	loop *Loop
	reg  *pv.Registry
	svc  *pv.Service
}

func newHarness(t *testing.T, cfg Config, autostart bool) *harness {
	t.Helper()
	loop := New(cfg)
	reg, err := pv.NewRegistry(pv.Options{Prefix: "p2p:"}, loop.Definitions(autostart), nil)
	require.NoError(t, err)
	require.NoError(t, loop.Bind(reg))
	t.Cleanup(loop.Shutdown)
	return &harness{loop: loop, reg: reg, svc: pv.NewService(reg, pv.NewDispatcher(nil))}
}

func (h *harness) put(t *testing.T, choice string) {
	t.Helper()
	_, err := h.svc.Put(context.Background(), "p2p:Run", choice, "test")
	require.NoError(t, err)
}

func (h *harness) cycleValue(t *testing.T) uint32 {
	t.Helper()
	v, err := h.reg.Lookup("p2p:cycle")
	require.NoError(t, err)
	return v.Get().Value.Raw().(uint32)
}

// manualTicks replaces the loop's ticker with a channel the test drives.
func manualTicks(l *Loop) chan time.Time {
	ch := make(chan time.Time)
	l.tick = func(time.Duration) (<-chan time.Time, func()) { return ch, func() {} }
	return ch
}

func TestDefinitions(t *testing.T) {
	loop := New(Config{})
	defs := loop.Definitions(true)
	require.Len(t, defs, 2)

	assert.Equal(t, RunStopName, defs[0].Name)
	assert.Equal(t, pv.KindEnum, defs[0].Type.Kind)
	assert.Equal(t, ChoiceRun, defs[0].Initial)
	assert.NotNil(t, defs[0].OnPut)

	assert.Equal(t, CycleName, defs[1].Name)
	assert.Equal(t, pv.Uint32, defs[1].Type.Elem)
	assert.Nil(t, defs[1].OnPut)

	assert.Equal(t, "Start/Stop the device", defs[0].Description)
	assert.Equal(t, "Cycle number", defs[1].Description)

	assert.Equal(t, ChoiceStop, loop.Definitions(false)[0].Initial)
	assert.Equal(t, DefaultInterval, loop.Interval())
}

func TestBind_MissingPVs(t *testing.T) {
	reg, err := pv.NewRegistry(pv.Options{}, nil, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, New(Config{}).Bind(reg), pv.ErrNotFound)
}

func TestStart_RequiresBind(t *testing.T) {
	loop := New(Config{})
	assert.False(t, loop.Start())
	assert.Equal(t, StateIdle, loop.State())
}

func TestRunWrite_ThreeTicksCountThree(t *testing.T) {
	h := newHarness(t, Config{Interval: time.Hour}, false)
	ticks := manualTicks(h.loop)

	h.put(t, "Run")
	assert.Equal(t, StateRunning, h.loop.State())

	for range 3 {
		ticks <- time.Now()
	}

	assert.Eventually(t, func() bool { return h.cycleValue(t) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, uint32(3), h.loop.Count())
}

func TestConcurrentRunWrites_SingleLoop(t *testing.T) {
	h := newHarness(t, Config{Interval: time.Hour}, false)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.svc.Put(context.Background(), "p2p:Run", 0, "test")
			assert.NoError(t, err)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, uint64(1), h.loop.Starts())
	assert.Equal(t, StateRunning, h.loop.State())
}

func TestStopWrite_HaltsWithinInterval(t *testing.T) {
	const interval = 20 * time.Millisecond
	h := newHarness(t, Config{Interval: interval}, false)

	h.put(t, "Run")
	require.Eventually(t, func() bool { return h.loop.Count() >= 2 }, time.Second, time.Millisecond)

	h.put(t, "Stop")
	require.Eventually(t, func() bool { return h.loop.State() == StateIdle }, 10*interval, time.Millisecond)

	stopped := h.loop.Count()
	time.Sleep(4 * interval)
	assert.Equal(t, stopped, h.loop.Count())
	assert.Equal(t, stopped, h.cycleValue(t))
}

func TestRestart_CounterAccumulates(t *testing.T) {
	h := newHarness(t, Config{Interval: time.Hour}, false)
	ticks := manualTicks(h.loop)

	h.put(t, "Run")
	ticks <- time.Now()
	ticks <- time.Now()
	require.Eventually(t, func() bool { return h.loop.Count() == 2 }, time.Second, time.Millisecond)

	h.put(t, "Stop")
	ticks <- time.Now()
	require.Eventually(t, func() bool { return h.loop.State() == StateIdle }, time.Second, time.Millisecond)

	h.put(t, "Run")
	ticks <- time.Now()
	require.Eventually(t, func() bool { return h.cycleValue(t) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, uint64(2), h.loop.Starts())
}

func TestAutostart(t *testing.T) {
	h := newHarness(t, Config{Interval: time.Hour}, true)
	assert.True(t, h.loop.StartIfRequested())
	assert.False(t, h.loop.StartIfRequested())
	assert.Equal(t, uint64(1), h.loop.Starts())

	idle := newHarness(t, Config{Interval: time.Hour}, false)
	assert.False(t, idle.loop.StartIfRequested())
	assert.Equal(t, StateIdle, idle.loop.State())
}

func TestShutdown_InterruptsWait(t *testing.T) {
	h := newHarness(t, Config{Interval: time.Hour}, true)
	require.True(t, h.loop.StartIfRequested())

	done := make(chan struct{})
	go func() {
		h.loop.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not interrupt the interval wait")
	}

	assert.Equal(t, StateShuttingDown, h.loop.State())
	assert.False(t, h.loop.Start())
	assert.ErrorIs(t, h.loop.HandleRunStop(context.Background(), ChoiceRun), ErrShuttingDown)

	// Second shutdown is a no-op.
	h.loop.Shutdown()
}

func TestExit_RacingRunContinues(t *testing.T) {
	loop := New(Config{})

	loop.state.Store(int32(StateRunning))
	loop.rerun.Store(true)
	assert.False(t, loop.exit())
	assert.Equal(t, StateRunning, loop.State())

	assert.True(t, loop.exit())
	assert.Equal(t, StateIdle, loop.State())
}

func TestRunRunStop_IdleOnNextTick(t *testing.T) {
	h := newHarness(t, Config{Interval: time.Hour}, false)
	ticks := manualTicks(h.loop)

	h.put(t, "Run")
	ticks <- time.Now()
	require.Eventually(t, func() bool { return h.loop.Count() == 1 }, time.Second, time.Millisecond)

	// A second Run while Running spawns nothing and must not outlive the Stop.
	h.put(t, "Run")
	h.put(t, "Stop")
	ticks <- time.Now()

	require.Eventually(t, func() bool { return h.loop.State() == StateIdle }, time.Second, time.Millisecond)
	assert.Equal(t, uint32(1), h.loop.Count())
	assert.Equal(t, uint64(1), h.loop.Starts())
}

func TestStopWrite_ClearsPendingRerun(t *testing.T) {
	loop := New(Config{})
	loop.rerun.Store(true)
	require.NoError(t, loop.HandleRunStop(context.Background(), ChoiceStop))

	loop.state.Store(int32(StateRunning))
	assert.True(t, loop.exit())
	assert.Equal(t, StateIdle, loop.State())
}

func TestOnCycleHook(t *testing.T) {
	got := make(chan uint32, 1)
	h := newHarness(t, Config{Interval: time.Hour, OnCycle: func(n uint32) { got <- n }}, false)
	ticks := manualTicks(h.loop)

	h.put(t, "Run")
	ticks <- time.Now()

	select {
	case n := <-got:
		assert.Equal(t, uint32(1), n)
	case <-time.After(time.Second):
		t.Fatal("OnCycle not called")
	}
}

func TestHandleRunStop_RejectsNonIndex(t *testing.T) {
	loop := New(Config{})
	assert.ErrorIs(t, loop.HandleRunStop(context.Background(), "Run"), pv.ErrTypeMismatch)
	assert.NoError(t, loop.HandleRunStop(context.Background(), ChoiceStop))
}
