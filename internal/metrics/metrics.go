package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/p2plant-ioc/internal/pv"
)

// namespace prefixes every metric name.
const namespace = "p2plant"

// Put outcome label values.
const (
	OutcomeOK            = pv.PutOK
	OutcomeCallbackError = pv.PutCallbackError
)

// Metrics holds the IOC's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Puts        *prometheus.CounterVec
	PutDuration *prometheus.HistogramVec
	Publishes   *prometheus.CounterVec
	Cycles      prometheus.Counter
	CycleCount  prometheus.Gauge
}

// New creates the collectors and registers them together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Puts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pv",
				Name:      "puts_total",
				Help:      "Writes dispatched to PVs",
			},
			[]string{"pv", "transport", "outcome"},
		),

		PutDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pv",
				Name:      "put_duration_seconds",
				Help:      "Time to dispatch a write, including the backend callback",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"transport"},
		),

		Publishes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pv",
				Name:      "publishes_total",
				Help:      "Values published to PVs from any source",
			},
			[]string{"pv"},
		),

		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "cycles_total",
			Help:      "Control loop cycles run by this process",
		}),

		CycleCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "cycle_count",
			Help:      "Current value of the cycle counter PV",
		}),
	}

	m.registry.MustRegister(
		m.Puts,
		m.PutDuration,
		m.Publishes,
		m.Cycles,
		m.CycleCount,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ObservePut implements pv.PutObserver.
func (m *Metrics) ObservePut(_ context.Context, rec pv.PutRecord) {
	transport := rec.Transport()
	m.Puts.WithLabelValues(rec.Name, transport, rec.Outcome()).Inc()
	m.PutDuration.WithLabelValues(transport).Observe(rec.Duration.Seconds())
}

// ObserveUpdate counts a publish. Register it with pv.Registry.Subscribe.
func (m *Metrics) ObserveUpdate(u pv.Update) {
	m.Publishes.WithLabelValues(u.Name).Inc()
}

// ObserveCycle records one control loop cycle. Use it as the loop's OnCycle hook.
func (m *Metrics) ObserveCycle(count uint32) {
	m.Cycles.Inc()
	m.CycleCount.Set(float64(count))
}

// GaugeFunc registers a gauge whose value is read from fn at scrape time.
func (m *Metrics) GaugeFunc(subsystem, name, help string, fn func() float64) error {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn)
	if err := m.registry.Register(g); err != nil {
		return fmt.Errorf("registering %s_%s: %w", subsystem, name, err)
	}
	return nil
}

// BoolGauge converts a predicate into a 0/1 gauge value.
func BoolGauge(fn func() bool) func() float64 {
	return func() float64 {
		if fn() {
			return 1
		}
		return 0
	}
}
