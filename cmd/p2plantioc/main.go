// P2Plant IOC - exposes P2Plant backend registers as process variables.
//
// The IOC discovers the registers of a P2Plant backend, publishes each one
// as a typed PV next to a run/stop control loop, and serves the PVs over
// HTTP/WebSocket and MQTT. Writes are forwarded to the backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/p2plant-ioc/internal/api"
	"github.com/nerrad567/p2plant-ioc/internal/audit"
	"github.com/nerrad567/p2plant-ioc/internal/bridge"
	"github.com/nerrad567/p2plant-ioc/internal/control"
	"github.com/nerrad567/p2plant-ioc/internal/gateway"
	"github.com/nerrad567/p2plant-ioc/internal/history"
	"github.com/nerrad567/p2plant-ioc/internal/infrastructure/config"
	"github.com/nerrad567/p2plant-ioc/internal/infrastructure/database"
	"github.com/nerrad567/p2plant-ioc/internal/infrastructure/influxdb"
	"github.com/nerrad567/p2plant-ioc/internal/infrastructure/logging"
	"github.com/nerrad567/p2plant-ioc/internal/infrastructure/mqtt"
	"github.com/nerrad567/p2plant-ioc/internal/metrics"
	"github.com/nerrad567/p2plant-ioc/internal/plant"
	"github.com/nerrad567/p2plant-ioc/internal/process"
	"github.com/nerrad567/p2plant-ioc/internal/pv"
	"github.com/nerrad567/p2plant-ioc/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path, overridden by P2PLANT_CONFIG or --config.
const (
	defaultConfigPath = "configs/config.yaml"
	configEnvVar      = "P2PLANT_CONFIG"
)

// startupCheckTimeout bounds the health checks run once everything is up.
const startupCheckTimeout = 10 * time.Second

// options are the root command's flags.
type options struct {
	configPath string
	prefix     string
	// prefixSet distinguishes an explicit --prefix from the flag default.
	prefixSet bool
	listPVs   bool
	verbosity int
	out       io.Writer
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCommand builds the p2plant-ioc command tree.
func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "p2plant-ioc",
		Short: "Serve P2Plant backend registers as process variables",
		Long: `p2plant-ioc connects to a P2Plant backend, creates one process variable
per register plus the Run/Stop and cycle control PVs, and serves them over
HTTP, WebSocket and MQTT until interrupted.`,
		Version:       fmt.Sprintf("%s (commit: %s, built on: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.prefixSet = cmd.Flags().Changed("prefix")
			opts.out = cmd.OutOrStdout()
			return run(cmd.Context(), opts)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"configuration file (default $"+configEnvVar+" or "+defaultConfigPath+")")

	flags := cmd.Flags()
	flags.StringVarP(&opts.prefix, "prefix", "p", "p2p:", "prefix for all PV names")
	flags.BoolVarP(&opts.listPVs, "listPVs", "l", false, "print the generated PV names after startup")
	flags.CountVarP(&opts.verbosity, "verbose", "v", "increase verbosity (-v info, -vv debug with register dumps)")

	cmd.AddCommand(newSimulateCommand())
	cmd.AddCommand(newTokenCommand(opts))

	return cmd
}

// run is the IOC proper, separated from the command for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - opts: Parsed command-line options
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, opts *options) error {
	log := logging.Default()
	log.Info("starting P2Plant IOC",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, configPath, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if opts.prefixSet {
		cfg.IOC.Prefix = opts.prefix
	}
	if opts.listPVs {
		cfg.IOC.ListPVs = true
	}

	cfg.Logging.Level = logging.LevelForVerbosity(cfg.Logging.Level, opts.verbosity)
	log = logging.New(cfg.Logging, version)
	if configPath != "" {
		log.Info("configuration loaded", "path", configPath)
	} else {
		log.Info("no configuration file, using built-in defaults")
	}

	checks := make(map[string]api.HealthCheck)

	// Managed plant server (optional)
	if cfg.Plant.Managed.Enabled {
		supervisor, startErr := startPlantServer(ctx, cfg, log)
		if startErr != nil {
			return fmt.Errorf("starting plant server: %w", startErr)
		}
		defer func() {
			log.Info("stopping plant server")
			if stopErr := supervisor.Stop(); stopErr != nil {
				log.Error("error stopping plant server", "error", stopErr)
			}
		}()
		checks["process"] = supervisor.HealthCheck
	}

	// Connect to the backend
	conn, err := plant.Open(ctx, plant.Config{
		Connection:     cfg.Plant.Connection,
		ConnectTimeout: time.Duration(cfg.Plant.ConnectTimeout) * time.Second,
		RequestTimeout: time.Duration(cfg.Plant.RequestTimeout) * time.Second,
		Logger:         log.With("component", "plant"),
	})
	if err != nil {
		return fmt.Errorf("connecting to plant: %w", err)
	}
	defer func() {
		log.Info("closing plant connection")
		if closeErr := conn.Close(); closeErr != nil {
			log.Error("error closing plant connection", "error", closeErr)
		}
	}()
	log.Info("plant backend ready", "connection", cfg.Plant.Connection)

	m := metrics.New()
	observers := []pv.PutObserver{m}

	// Write audit trail (optional)
	var putLog api.PutLog
	if cfg.Database.Enabled {
		db, openErr := database.Open(ctx, cfg.Database)
		if openErr != nil {
			return fmt.Errorf("opening database: %w", openErr)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if migrateErr := db.Migrate(ctx, migrations.Source()); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database ready", "path", db.Path())

		repo := audit.NewSQLiteRepository(db.DB)
		observers = append(observers, audit.NewRecorder(repo, log))
		putLog = repo
		checks["database"] = db.HealthCheck
	} else {
		log.Info("write audit disabled")
	}

	// Discover registers and build the PVs
	b, err := bridge.New(ctx, conn, bridge.Config{
		Prefix:          cfg.IOC.Prefix,
		Autostart:       cfg.Control.Autostart,
		ControlInterval: cfg.ControlInterval(),
		PollInterval:    cfg.PollInterval(),
		WriteTimeout:    time.Duration(cfg.Plant.RequestTimeout) * time.Second,
		Dump:            opts.verbosity >= 2,
		OnCycle:         m.ObserveCycle,
		Observers:       observers,
		Logger:          log,
	})
	if err != nil {
		return fmt.Errorf("bootstrapping PVs: %w", err)
	}
	svc := b.Service()
	unsubMetrics := svc.Subscribe(m.ObserveUpdate)
	defer unsubMetrics()

	if err := registerGauges(m, conn, b.Loop()); err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}
	if client, ok := conn.(*plant.Client); ok {
		checks["plant"] = client.HealthCheck
	}

	if cfg.IOC.ListPVs {
		printPVs(opts.out, b.Registry().Names())
	}

	// Connect to MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		gw, gwErr := gateway.New(gateway.Options{
			Client:     mqttClient,
			Service:    svc,
			Topics:     mqttClient.Topics(),
			QoS:        byte(cfg.MQTT.QoS),
			PutTimeout: time.Duration(cfg.Plant.RequestTimeout) * time.Second,
			Logger:     log.With("component", "gateway"),
		})
		if gwErr != nil {
			return fmt.Errorf("creating MQTT gateway: %w", gwErr)
		}
		if startErr := gw.Start(ctx); startErr != nil {
			return fmt.Errorf("starting MQTT gateway: %w", startErr)
		}
		defer func() {
			log.Info("stopping MQTT gateway")
			gw.Stop()
		}()
		if gaugeErr := registerMQTTGauges(m, mqttClient); gaugeErr != nil {
			return fmt.Errorf("registering metrics: %w", gaugeErr)
		}
		checks["mqtt"] = gw.HealthCheck
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var recorder *history.Recorder
	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		recorder = history.New(influxClient, history.Options{Logger: log.With("component", "history")})
		if gaugeErr := registerInfluxGauges(m, influxClient); gaugeErr != nil {
			return fmt.Errorf("registering metrics: %w", gaugeErr)
		}
		checks["influxdb"] = influxClient.HealthCheck
	} else {
		log.Info("InfluxDB disabled")
	}

	// HTTP API (optional)
	if cfg.API.Enabled {
		srv, newErr := api.New(api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log,
			Service: svc,
			Metrics: m.Handler(),
			PutLog:  putLog,
			Checks:  checks,
			Version: version,
		})
		if newErr != nil {
			return fmt.Errorf("creating API server: %w", newErr)
		}
		hub := srv.Hub()
		if gaugeErr := m.GaugeFunc("api", "websocket_clients", "Connected WebSocket clients",
			func() float64 { return float64(hub.ClientCount()) }); gaugeErr != nil {
			return fmt.Errorf("registering metrics: %w", gaugeErr)
		}
		if gaugeErr := m.GaugeFunc("api", "websocket_dropped", "PV events dropped for slow WebSocket clients",
			func() float64 { return float64(hub.Dropped()) }); gaugeErr != nil {
			return fmt.Errorf("registering metrics: %w", gaugeErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("HTTP API disabled")
	}

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.Run(gctx)
	})
	if recorder != nil {
		g.Go(func() error {
			recorder.Run(gctx, svc)
			return nil
		})
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("shutdown signal received, cleaning up")
	log.Info("P2Plant IOC stopped", "cycles", b.Loop().Count())
	return nil
}

// loadConfig resolves the configuration path and loads it. A missing file at
// the default path is not an error: the built-in defaults are used and the
// returned path is empty.
func loadConfig(flagPath string) (*config.Config, string, error) {
	path, explicit := getConfigPath(flagPath)

	cfg, err := config.Load(path)
	if err == nil {
		return cfg, path, nil
	}
	if explicit || !errors.Is(err, fs.ErrNotExist) {
		return nil, "", err
	}

	cfg, err = config.LoadDefaults()
	if err != nil {
		return nil, "", err
	}
	return cfg, "", nil
}

// getConfigPath returns the configuration file path and whether it was
// chosen explicitly (flag or P2PLANT_CONFIG) rather than defaulted.
func getConfigPath(flagPath string) (string, bool) {
	if flagPath != "" {
		return flagPath, true
	}
	if path := os.Getenv(configEnvVar); path != "" {
		return path, true
	}
	return defaultConfigPath, false
}

// startPlantServer launches the configured plant server and waits until it
// accepts connections.
func startPlantServer(ctx context.Context, cfg *config.Config, log *logging.Logger) (*process.Supervisor, error) {
	ready := func(ctx context.Context) error {
		client, err := plant.Dial(ctx, plant.Config{
			Connection:     cfg.Plant.Connection,
			ConnectTimeout: time.Second,
		})
		if err != nil {
			return err
		}
		return client.Close()
	}

	pcfg := process.FromConfig(cfg.Plant.Managed, ready)
	pcfg.Logger = log.With("component", "process")
	supervisor := process.New(pcfg)

	log.Info("starting plant server", "binary", pcfg.Binary, "args", pcfg.Args)
	if err := supervisor.Start(ctx); err != nil {
		return nil, err
	}
	log.Info("plant server started", "pid", supervisor.Stats().PID)
	return supervisor, nil
}

// registerGauges exposes backend and loop state read at scrape time.
func registerGauges(m *metrics.Metrics, conn plant.Connector, loop *control.Loop) error {
	if err := m.GaugeFunc("control", "running", "1 while the control loop is cycling",
		metrics.BoolGauge(func() bool { return loop.State() == control.StateRunning })); err != nil {
		return err
	}

	client, ok := conn.(*plant.Client)
	if !ok {
		return nil
	}
	if err := m.GaugeFunc("plant", "connected", "1 when the plant backend connection is up",
		metrics.BoolGauge(client.IsConnected)); err != nil {
		return err
	}
	return m.GaugeFunc("plant", "reconnects", "Backend reconnections since start",
		func() float64 { return float64(client.Stats().Reconnects) })
}

func registerMQTTGauges(m *metrics.Metrics, c *mqtt.Client) error {
	gauges := []struct {
		name, help string
		fn        func() float64
	}{
		{"connected", "1 when the MQTT broker connection is up", metrics.BoolGauge(c.IsConnected)},
		{"reconnects", "Broker reconnections since start", func() float64 { return float64(c.Stats().Reconnects) }},
		{"published", "Messages published to the broker", func() float64 { return float64(c.Stats().Published) }},
		{"received", "Messages received from subscriptions", func() float64 { return float64(c.Stats().Received) }},
	}
	for _, g := range gauges {
		if err := m.GaugeFunc("mqtt", g.name, g.help, g.fn); err != nil {
			return err
		}
	}
	return nil
}

func registerInfluxGauges(m *metrics.Metrics, c *influxdb.Client) error {
	if err := m.GaugeFunc("history", "points_written", "PV samples queued for InfluxDB",
		func() float64 { return float64(c.Stats().Points) }); err != nil {
		return err
	}
	return m.GaugeFunc("history", "write_failures", "InfluxDB batches rejected by the server",
		func() float64 { return float64(c.Stats().Failed) })
}

// healthCheck runs every registered check once, in name order.
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, checks map[string]api.HealthCheck) error {
	ctx, cancel := context.WithTimeout(ctx, startupCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := checks[name](ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// printPVs writes one PV name per line.
func printPVs(w io.Writer, names []string) {
	for _, name := range names {
		fmt.Fprintln(w, name)
	}
}
