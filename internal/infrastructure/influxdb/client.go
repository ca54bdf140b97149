package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/p2plant-ioc/internal/infrastructure/config"
)

// Batching defaults, used when the config leaves them unset.
const (
	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// pingTimeout bounds the connectivity check in Connect and HealthCheck.
const pingTimeout = 5 * time.Second

// Client records PV samples in an InfluxDB v2 bucket.
//
// Writes use the library's non-blocking write API: points are batched in
// memory and sent when a batch fills or the flush interval elapses. A batch
// the server rejects is counted and passed to the SetOnError callback.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	bucket   string

	closed atomic.Bool
	points atomic.Uint64
	failed atomic.Uint64

	mu      sync.RWMutex
	onError func(err error)
}

// Stats is a snapshot of write counters.
type Stats struct {
	// Points handed to the write API.
	Points uint64
	// Failed counts batches the server rejected.
	Failed uint64
}

// Connect pings the server and prepares a batched write API for cfg.Bucket.
//
// Parameters:
//   - ctx: Bounds the initial ping
//   - cfg: InfluxDB section of config.yaml
//
// Returns:
//   - *Client: Client ready for WritePVSample
//   - error: ErrDisabled, or ErrConnectionFailed wrapping the ping failure
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flush := time.Duration(cfg.FlushInterval) * time.Second
	if flush <= 0 {
		flush = defaultFlushInterval
	}

	// #nosec G115 -- both values are positive here
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(batchSize)).
		SetFlushInterval(uint(flush.Milliseconds()))
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	if err := ping(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		bucket:   cfg.Bucket,
	}
	// Errors() must be taken before the first write for failures to be reported.
	go c.drainErrors(c.writeAPI.Errors())

	return c, nil
}

func ping(ctx context.Context, client influxdb2.Client) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if !healthy {
		return errors.New("server not healthy")
	}
	return nil
}

// drainErrors runs until the write API is closed.
func (c *Client) drainErrors(errs <-chan error) {
	for err := range errs {
		c.failed.Add(1)

		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()
		if callback != nil {
			callback(err)
		}
	}
}

// SetOnError sets the callback for asynchronous write failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// Flush sends buffered points now. No-op after Close.
func (c *Client) Flush() {
	if c.closed.Load() {
		return
	}
	c.writeAPI.Flush()
}

// Close flushes buffered points and releases the client. Later writes are
// dropped.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// IsConnected reports whether the client is open. Use HealthCheck for an
// active check.
func (c *Client) IsConnected() bool {
	return !c.closed.Load()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.closed.Load() {
		return ErrNotConnected
	}
	if err := ping(ctx, c.client); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// Stats returns the write counters.
func (c *Client) Stats() Stats {
	return Stats{
		Points: c.points.Load(),
		Failed: c.failed.Load(),
	}
}
