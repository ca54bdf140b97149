package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/p2plant-ioc/internal/infrastructure/mqtt"
	"github.com/nerrad567/p2plant-ioc/internal/pv"
)

// Defaults.
const (
	DefaultBufferSize = 256
	DefaultPutTimeout = 5 * time.Second
)

// putSuffix is the last topic segment of write requests.
const putSuffix = "put"

// MQTTClient is the subset of the MQTT client the gateway needs.
// Satisfied by *mqtt.Client; tests use a mock.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Logger is the logging interface used by the gateway.
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

// Options configures a Gateway.
type Options struct {
	Client  MQTTClient
	Service *pv.Service
	Topics  mqtt.Topics
	QoS     byte
	// BufferSize bounds the queue between registry updates and the
	// publishing worker.
	BufferSize int
	// PutTimeout bounds a single MQTT write, including any forwarding to
	// the plant.
	PutTimeout time.Duration
	Logger     Logger
}

// Stats is a snapshot of gateway counters.
type Stats struct {
	Published uint64
	Dropped   uint64
	Accepted  uint64
	Rejected  uint64
}

// Gateway publishes PV state to MQTT and accepts writes from it.
type Gateway struct {
	client     MQTTClient
	svc        *pv.Service
	topics     mqtt.Topics
	qos        byte
	putTimeout time.Duration
	logger     Logger

	updates chan pv.Update
	cancel  context.CancelFunc
	unsub   func()
	wg      sync.WaitGroup
	started atomic.Bool
	stop    sync.Once

	published atomic.Uint64
	dropped   atomic.Uint64
	accepted  atomic.Uint64
	rejected  atomic.Uint64
}

// New creates a gateway. Call Start to begin mirroring.
func New(opts Options) (*Gateway, error) {
	if opts.Client == nil {
		return nil, errors.New("MQTT client is required")
	}
	if opts.Service == nil {
		return nil, errors.New("PV service is required")
	}
	if opts.QoS > 2 {
		return nil, mqtt.ErrInvalidQoS
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.PutTimeout <= 0 {
		opts.PutTimeout = DefaultPutTimeout
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	return &Gateway{
		client:     opts.Client,
		svc:        opts.Service,
		topics:     opts.Topics,
		qos:        opts.QoS,
		putTimeout: opts.PutTimeout,
		logger:     opts.Logger,
		updates:    make(chan pv.Update, opts.BufferSize),
	}, nil
}

// Start publishes the current state of every PV, subscribes to registry
// updates and to write requests. The gateway runs until ctx is cancelled
// or Stop is called.
func (g *Gateway) Start(ctx context.Context) error {
	if !g.started.CompareAndSwap(false, true) {
		return errors.New("gateway already started")
	}

	ctx, g.cancel = context.WithCancel(ctx)

	// Subscribe before the snapshot so no update falls between the two.
	g.unsub = g.svc.Subscribe(g.enqueue)

	g.wg.Add(1)
	go g.worker(ctx)

	for _, v := range g.svc.List() {
		g.publishState(pv.Update{Name: v.Name(), Sample: v.Get()}, v.Type())
	}

	putTopic := g.topics.AllPVPuts()
	handler := func(topic string, payload []byte) error {
		g.handlePut(ctx, topic, payload)
		return nil
	}
	if err := g.client.Subscribe(putTopic, g.qos, handler); err != nil {
		g.Stop()
		return fmt.Errorf("subscribe to puts: %w", err)
	}

	g.logger.Info("MQTT gateway started",
		"pvs", g.svc.Registry().Len(),
		"put_topic", putTopic)
	return nil
}

// Stop unsubscribes and waits for the publishing worker to exit. Safe to
// call more than once.
func (g *Gateway) Stop() {
	if !g.started.Load() {
		return
	}
	g.stop.Do(func() {
		if g.unsub != nil {
			g.unsub()
		}
		if err := g.client.Unsubscribe(g.topics.AllPVPuts()); err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
			g.logger.Warn("unsubscribing from puts failed", "error", err)
		}
		g.cancel()
		g.wg.Wait()
		g.logger.Info("MQTT gateway stopped")
	})
}

// Stats returns a snapshot of the gateway counters.
func (g *Gateway) Stats() Stats {
	return Stats{
		Published: g.published.Load(),
		Dropped:   g.dropped.Load(),
		Accepted:  g.accepted.Load(),
		Rejected:  g.rejected.Load(),
	}
}

// enqueue is the registry subscriber. It never blocks.
func (g *Gateway) enqueue(u pv.Update) {
	select {
	case g.updates <- u:
	default:
		g.dropped.Add(1)
	}
}

func (g *Gateway) worker(ctx context.Context) {
	defer g.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-g.updates:
			v, err := g.svc.Get(u.Name)
			if err != nil {
				continue
			}
			g.publishState(u, v.Type())
		}
	}
}

func (g *Gateway) publishState(u pv.Update, t pv.Type) {
	payload, err := json.Marshal(newStateMessage(u, t))
	if err != nil {
		g.logger.Error("encoding PV state failed", "pv", u.Name, "error", err)
		return
	}
	if err := g.client.Publish(g.topics.PVState(u.Name), payload, g.qos, true); err != nil {
		g.logger.Debug("publishing PV state failed", "pv", u.Name, "error", err)
		return
	}
	g.published.Add(1)
}

// handlePut validates and applies one write request, then acks it.
func (g *Gateway) handlePut(ctx context.Context, topic string, payload []byte) {
	name, ok := g.topics.PVNameFromTopic(topic, putSuffix)
	if !ok {
		g.logger.Warn("ignoring put on unexpected topic", "topic", topic)
		return
	}

	ack := AckMessage{PV: name}
	v, err := g.svc.Get(name)
	if err == nil {
		var raw any
		ack.ID, raw, err = decodePut(payload, v.Type())
		if err == nil {
			putCtx, cancel := context.WithTimeout(ctx, g.putTimeout)
			var sample pv.Sample
			sample, err = g.svc.Put(putCtx, name, raw, "mqtt:"+topic)
			cancel()
			ack.Value = pv.JSONValue(sample.Value)
		}
	}

	if err != nil {
		g.rejected.Add(1)
		ack.Status = AckRejected
		ack.Error = err.Error()
		ack.Value = nil
		g.logger.Warn("MQTT put rejected", "pv", name, "error", err)
	} else {
		g.accepted.Add(1)
		ack.Status = AckAccepted
	}
	g.publishAck(ack)
}

func (g *Gateway) publishAck(ack AckMessage) {
	ack.Timestamp = time.Now().UTC()
	payload, err := json.Marshal(ack)
	if err != nil {
		g.logger.Error("encoding ack failed", "pv", ack.PV, "error", err)
		return
	}
	if err := g.client.Publish(g.topics.PVAck(ack.PV), payload, g.qos, false); err != nil {
		g.logger.Warn("publishing ack failed", "pv", ack.PV, "error", err)
	}
}

// HealthCheck reports whether the broker connection is up.
func (g *Gateway) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !g.client.IsConnected() {
		return mqtt.ErrNotConnected
	}
	return nil
}
