package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/p2plant-ioc/internal/infrastructure/config"
)

// Client is the IOC's connection to the MQTT broker.
//
// It keeps the retained system status topic current (online on every
// connect, offline on Close, the LWT on an unexpected drop) and restores
// subscriptions after a reconnect.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	paho     pahomqtt.Client
	cfg      config.MQTTConfig
	topics   Topics
	clientID string

	connected atomic.Bool
	sessions  atomic.Uint64
	published atomic.Uint64
	received  atomic.Uint64

	mu           sync.RWMutex // guards subs, hooks and logger
	subs         map[string]subscription
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Logger receives handler failures and reconnect notices.
// Satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler handles one received message. Handlers run on paho's
// delivery goroutine and should return quickly; a returned error is logged.
type MessageHandler func(topic string, payload []byte) error

// Stats is a snapshot of client counters.
type Stats struct {
	Connected     bool
	Reconnects    uint64
	Published     uint64
	Received      uint64
	Subscriptions int
}

// Connect dials the broker and waits for the first session.
//
// Parameters:
//   - cfg: MQTT section of config.yaml. An empty client_id gets a random
//     "p2plant-ioc-" suffix so two IOCs never steal each other's session.
//
// Returns:
//   - *Client: Connected client
//   - error: ErrConnectionFailed on timeout or broker refusal
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)
	c.paho = pahomqtt.NewClient(c.clientOptions())

	token := c.paho.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs asynchronously and may not have fired yet.
	c.connected.Store(true)
	return c, nil
}

func newClient(cfg config.MQTTConfig) *Client {
	clientID := cfg.Broker.ClientID
	if clientID == "" {
		clientID = "p2plant-ioc-" + uuid.NewString()[:8]
	}
	return &Client{
		cfg:      cfg,
		topics:   Topics{Prefix: cfg.TopicPrefix},
		clientID: clientID,
		subs:     make(map[string]subscription),
	}
}

func (c *Client) handleConnect() {
	c.connected.Store(true)
	c.sessions.Add(1)

	c.restoreSubscriptions()
	c.publishStatus(StatusOnline, "")

	c.mu.RLock()
	hook := c.onConnect
	c.mu.RUnlock()
	if hook != nil {
		hook()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)

	c.mu.RLock()
	hook := c.onDisconnect
	c.mu.RUnlock()
	if hook != nil {
		hook(err)
	}
}

// Close publishes a graceful offline status and disconnects.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}

	if c.IsConnected() {
		c.publishStatus(StatusOffline, reasonShutdown)
	}
	c.paho.Disconnect(disconnectQuiesceMillis)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known session state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.paho != nil && c.paho.IsConnected()
}

// ClientID returns the MQTT client identifier in use.
func (c *Client) ClientID() string {
	return c.clientID
}

// Topics returns the topic builder bound to the configured prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

// Stats returns the client counters.
func (c *Client) Stats() Stats {
	var reconnects uint64
	if n := c.sessions.Load(); n > 1 {
		reconnects = n - 1
	}
	c.mu.RLock()
	subs := len(c.subs)
	c.mu.RUnlock()

	return Stats{
		Connected:     c.IsConnected(),
		Reconnects:    reconnects,
		Published:     c.published.Load(),
		Received:      c.received.Load(),
		Subscriptions: subs,
	}
}

// SetOnConnect sets a hook run after every (re)connect.
func (c *Client) SetOnConnect(hook func()) {
	c.mu.Lock()
	c.onConnect = hook
	c.mu.Unlock()
}

// SetOnDisconnect sets a hook run when the session is lost.
func (c *Client) SetOnDisconnect(hook func(err error)) {
	c.mu.Lock()
	c.onDisconnect = hook
	c.mu.Unlock()
}

// SetLogger sets the logger for handler failures. Without one they are
// dropped.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}
