package plant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// Default timeouts for backend communication.
const (
	// defaultConnectTimeout is the maximum time to wait for a TCP connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultRequestTimeout bounds one request/response round trip.
	defaultRequestTimeout = 5 * time.Second

	// defaultPort is used when a tcp:// URL omits the port.
	defaultPort = "50000"
)

// Connection schemes understood by Open.
const (
	SchemeTCP    = "tcp"
	SchemeMemory = "mem"
)

// Logger defines the logging interface used by the plant package.
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

// Config holds backend connection settings.
type Config struct {
	// Connection is "tcp://host:port" or "mem://demo".
	Connection     string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	Logger         Logger
}

// Stats holds client statistics.
type Stats struct {
	Requests     uint64
	Errors       uint64
	Reconnects   uint64
	LastActivity time.Time
	Connected    bool
}

// Client is a Connector speaking the backend's TCP protocol.
//
// The protocol is strictly request/response over one stream, so requests are
// serialised by a mutex. Any transport or framing error drops the connection;
// the next request dials again.
//
// All public methods are thread-safe.
type Client struct {
	cfg     Config
	address string
	logger  Logger

	mu     sync.Mutex // serialises requests and guards conn
	conn   net.Conn
	closed bool

	connected atomic.Bool

	requests     atomic.Uint64
	errorsTotal  atomic.Uint64
	reconnects   atomic.Uint64
	lastActivity atomic.Int64
}

// Open returns the Connector selected by cfg.Connection's scheme.
//
//   - "tcp://host:port" dials the backend with Dial
//   - "mem://demo" returns an in-process plant holding DemoCatalog
//   - "mem://" returns an empty in-process plant
func Open(ctx context.Context, cfg Config) (Connector, error) {
	u, err := url.Parse(cfg.Connection)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid connection URL: %w", ErrBackendUnavailable, err)
	}

	switch u.Scheme {
	case SchemeTCP:
		return Dial(ctx, cfg)
	case SchemeMemory:
		if u.Host == "demo" {
			return NewMemory(DemoCatalog()), nil
		}
		return NewMemory(nil), nil
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q (use tcp or mem)", ErrBackendUnavailable, u.Scheme)
	}
}

// Dial connects to a TCP backend.
//
// Parameters:
//   - ctx: Context for cancellation of the initial connection
//   - cfg: Connection configuration; zero timeouts take defaults
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: ErrBackendUnavailable if the URL is invalid or dialling fails
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	address, err := parseTCPAddress(cfg.Connection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}

	c := &Client{
		cfg:     cfg,
		address: address,
		logger:  cfg.Logger,
	}
	if c.logger == nil {
		c.logger = noopLogger{}
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.connected.Store(true)
	c.lastActivity.Store(time.Now().Unix())

	c.logger.Info("connected to plant backend", "address", address)
	return c, nil
}

// parseTCPAddress extracts host:port from a tcp:// URL.
func parseTCPAddress(connURL string) (string, error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != SchemeTCP {
		return "", fmt.Errorf("unsupported scheme %q (use tcp)", u.Scheme)
	}

	host := u.Host
	if host == "" {
		return "", fmt.Errorf("missing host in %q", connURL)
	}
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), defaultPort)
	}
	return host, nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", c.address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrBackendUnavailable, c.address, err)
	}
	return conn, nil
}

// Info returns the backend's register catalog.
//
// Each descriptor is decoded on its own. One that is not a JSON object is
// logged and returned with an empty Type so it fails type mapping alone.
func (c *Client) Info(ctx context.Context) (map[string]Descriptor, error) {
	var raw map[string]json.RawMessage
	if err := c.roundTrip(ctx, request(cmdInfo, []string{"*"}), &raw); err != nil {
		return nil, fmt.Errorf("info: %w", err)
	}

	out := make(map[string]Descriptor, len(raw))
	for name, data := range raw {
		var d Descriptor
		if err := json.Unmarshal(data, &d); err != nil {
			c.logger.Warn("malformed register descriptor", "register", name, "error", err)
			d = Descriptor{}
		}
		out[name] = d
	}
	return out, nil
}

// Get returns readings for the named registers.
func (c *Client) Get(ctx context.Context, names ...string) (map[string]Reading, error) {
	var out map[string]Reading
	if err := c.roundTrip(ctx, request(cmdGet, names), &out); err != nil {
		return nil, fmt.Errorf("get %v: %w", names, err)
	}
	return out, nil
}

// Set writes value to the named register.
func (c *Client) Set(ctx context.Context, name string, value any) error {
	args := [][]any{{name, value}}
	if err := c.roundTrip(ctx, request(cmdSet, args), nil); err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}
	return nil
}

// roundTrip sends req and decodes the response into out (if non-nil).
func (c *Client) roundTrip(ctx context.Context, req any, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrBackendUnavailable
	}
	if c.conn == nil {
		conn, err := c.dial(ctx)
		if err != nil {
			c.errorsTotal.Add(1)
			return err
		}
		c.conn = conn
		c.connected.Store(true)
		c.reconnects.Add(1)
		c.logger.Info("reconnected to plant backend", "address", c.address)
	}

	c.requests.Add(1)
	body, err := c.exchange(ctx, req)
	if err != nil {
		c.errorsTotal.Add(1)
		c.dropLocked(err)
		return err
	}
	c.lastActivity.Store(time.Now().Unix())

	if err := remoteError(body); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := decodeJSON(body, out); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: decode response: %w", ErrProtocol, err)
	}
	return nil
}

// exchange writes one request frame and reads one response frame. The
// connection deadline follows the request timeout or ctx, whichever is sooner,
// and cancelling ctx unblocks the exchange.
func (c *Client) exchange(ctx context.Context, req any) ([]byte, error) {
	conn := c.conn

	deadline := time.Now().Add(c.cfg.RequestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("%w: set deadline: %w", ErrBackendUnavailable, err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := writeFrame(conn, req); err != nil {
		return nil, c.transportError(ctx, err)
	}
	body, err := readFrame(conn)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	return body, nil
}

func (c *Client) transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, ctxErr)
	}
	if errors.Is(err, ErrProtocol) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
}

// dropLocked closes the current connection after a failed exchange.
// c.mu must be held.
func (c *Client) dropLocked(cause error) {
	if c.conn == nil {
		return
	}
	_ = c.conn.Close()
	c.conn = nil
	c.connected.Store(false)
	c.logger.Warn("plant connection dropped", "address", c.address, "error", cause)
}

// Close closes the connection. Safe to call multiple times.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.connected.Store(false)
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.logger.Info("plant connection closed", "address", c.address)
	return nil
}

// IsConnected reports whether a connection is currently open.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Stats returns current client statistics.
func (c *Client) Stats() Stats {
	return Stats{
		Requests:     c.requests.Load(),
		Errors:       c.errorsTotal.Load(),
		Reconnects:   c.reconnects.Load(),
		LastActivity: time.Unix(c.lastActivity.Load(), 0),
		Connected:    c.IsConnected(),
	}
}

// HealthCheck verifies the backend answers an info request.
func (c *Client) HealthCheck(ctx context.Context) error {
	var catalog json.RawMessage
	return c.roundTrip(ctx, request(cmdInfo, []string{"*"}), &catalog)
}
