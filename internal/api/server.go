package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/p2plant-ioc/internal/audit"
	"github.com/nerrad567/p2plant-ioc/internal/infrastructure/config"
	"github.com/nerrad567/p2plant-ioc/internal/infrastructure/logging"
	"github.com/nerrad567/p2plant-ioc/internal/pv"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthCheck reports the health of one dependency (plant, MQTT, ...).
type HealthCheck func(ctx context.Context) error

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Service *pv.Service
	// Metrics is served at /metrics when set.
	Metrics http.Handler
	// PutLog serves GET /api/v1/puts when set.
	PutLog PutLog
	// Checks are run by the health endpoint, keyed by component name.
	Checks  map[string]HealthCheck
	Version string
}

// PutLog lists recorded writes. Satisfied by *audit.SQLiteRepository.
type PutLog interface {
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// Server is the HTTP API server for the P2Plant IOC.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	service   *pv.Service
	metrics   http.Handler
	putLog    PutLog
	checks    map[string]HealthCheck
	version   string
	startTime time.Time

	hub    *Hub
	server *http.Server
	cancel context.CancelFunc
	wg     sync.WaitGroup
	addr   net.Addr
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.Service == nil {
		return nil, errors.New("PV service is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     withWSDefaults(deps.WS),
		logger:    deps.Logger,
		service:   deps.Service,
		metrics:   deps.Metrics,
		putLog:    deps.PutLog,
		checks:    deps.Checks,
		version:   deps.Version,
		startTime: time.Now(),
	}
	s.hub = NewHub(s.wsCfg, s.logger)
	return s, nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the router. Useful for tests and for embedding the API
// in another server.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, subscribes the hub to PV updates and
// launches the HTTP listener in a background goroutine. The listener is
// bound before Start returns, so a port conflict is reported here.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run(srvCtx, s.service)
	}()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		s.wg.Wait()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.addr = ln.Addr()

	s.logger.Info("API server starting", "address", s.addr.String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}

// withWSDefaults fills zero WebSocket settings.
func withWSDefaults(cfg config.WebSocketConfig) config.WebSocketConfig {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 8192
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 10
	}
	return cfg
}
