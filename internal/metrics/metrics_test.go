package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/p2plant-ioc/internal/pv"
)

func TestObservePut(t *testing.T) {
	m := New()
	ctx := context.Background()

	m.ObservePut(ctx, pv.PutRecord{Name: "p2p:setpoint", Source: "http:10.0.0.5", Duration: 2 * time.Millisecond})
	m.ObservePut(ctx, pv.PutRecord{Name: "p2p:setpoint", Source: "http", Duration: time.Millisecond})
	m.ObservePut(ctx, pv.PutRecord{Name: "p2p:setpoint", Source: "mqtt:lab/pv/p2p:setpoint/put", Err: errors.New("backend down")})

	assert.InDelta(t, 2, testutil.ToFloat64(m.Puts.WithLabelValues("p2p:setpoint", "http", OutcomeOK)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Puts.WithLabelValues("p2p:setpoint", "mqtt", OutcomeCallbackError)), 0)
	assert.Equal(t, 2, testutil.CollectAndCount(m.PutDuration))
}

func TestObserveUpdateAndCycle(t *testing.T) {
	m := New()

	m.ObserveUpdate(pv.Update{Name: "p2p:cycle"})
	m.ObserveUpdate(pv.Update{Name: "p2p:cycle"})
	m.ObserveCycle(41)
	m.ObserveCycle(42)

	assert.InDelta(t, 2, testutil.ToFloat64(m.Publishes.WithLabelValues("p2p:cycle")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Cycles), 0)
	assert.InDelta(t, 42, testutil.ToFloat64(m.CycleCount), 0)
}

func TestGaugeFunc(t *testing.T) {
	m := New()
	running := true

	require.NoError(t, m.GaugeFunc("control", "running", "Loop running", BoolGauge(func() bool { return running })))
	assert.Error(t, m.GaugeFunc("control", "running", "duplicate", func() float64 { return 0 }))

	expected := `
# HELP p2plant_control_running Loop running
# TYPE p2plant_control_running gauge
p2plant_control_running 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "p2plant_control_running"))

	running = false
	expected = strings.Replace(expected, "running 1", "running 0", 1)
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "p2plant_control_running"))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveCycle(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "p2plant_control_cycles_total 1")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
