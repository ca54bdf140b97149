package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/golobby/cast"
	"gopkg.in/yaml.v3"
)

// Config is the IOC's config.yaml, one field per top-level section.
type Config struct {
	IOC       IOCConfig       `yaml:"ioc"`
	Plant     PlantConfig     `yaml:"plant"`
	Control   ControlConfig   `yaml:"control"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// IOCConfig contains naming and listing options for the generated PVs.
type IOCConfig struct {
	// Prefix is prepended to every PV name (e.g. "p2p:" yields "p2p:Run").
	Prefix string `yaml:"prefix"`

	// ListPVs prints the generated PV names after bootstrap.
	ListPVs bool `yaml:"list_pvs"`
}

// PlantConfig contains backend (P2Plant) connection settings.
type PlantConfig struct {
	// Connection is the backend URL: "tcp://host:port" or "mem://" for the
	// in-process demo plant.
	Connection string `yaml:"connection"`

	// ConnectTimeout is the dial timeout in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	// RequestTimeout bounds a single request/response exchange, in seconds.
	RequestTimeout int `yaml:"request_timeout"`

	// PollInterval is how often registers are re-read from the backend, in
	// milliseconds. 0 disables polling.
	PollInterval int `yaml:"poll_interval"`

	// Managed starts the plant server as a supervised subprocess.
	Managed PlantProcessConfig `yaml:"managed"`
}

// PlantProcessConfig describes an optional plant server subprocess.
type PlantProcessConfig struct {
	Enabled             bool     `yaml:"enabled"`
	Binary              string   `yaml:"binary"`
	Args                []string `yaml:"args"`
	RestartOnFailure    bool     `yaml:"restart_on_failure"`
	RestartDelaySeconds int      `yaml:"restart_delay_seconds"`
	MaxRestartAttempts  int      `yaml:"max_restart_attempts"`
	// StartupTimeout is how long to wait for the spawned server to accept
	// connections, in milliseconds.
	StartupTimeout int `yaml:"startup_timeout"`
}

// ControlConfig contains control loop settings.
type ControlConfig struct {
	// Interval is the cycle period in milliseconds.
	Interval int `yaml:"interval"`

	// Autostart runs the loop at startup when the run/stop PV starts at "Run".
	Autostart bool `yaml:"autostart"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
	Auth     APIAuthConfig    `yaml:"auth"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// APIAuthConfig controls bearer token checks on writes.
// When JWTSecret is empty, writes are unauthenticated.
type APIAuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// DatabaseConfig contains SQLite settings for the write audit trail.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load layers Default, the YAML file at path and P2PLANT_* environment
// variables (in that order, later wins), then validates the result.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadDefaults returns the built-in defaults with environment overrides applied.
// Used when no configuration file is present.
func LoadDefaults() (*Config, error) {
	cfg := Default()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		IOC: IOCConfig{
			Prefix: "p2p:",
		},
		Plant: PlantConfig{
			Connection:     "tcp://localhost:50000",
			ConnectTimeout: 10,
			RequestTimeout: 5,
			Managed: PlantProcessConfig{
				RestartOnFailure:    true,
				RestartDelaySeconds: 5,
				MaxRestartAttempts:  10,
				StartupTimeout:      5000,
			},
		},
		Control: ControlConfig{
			Interval:  1000,
			Autostart: true,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		MQTT: MQTTConfig{
			TopicPrefix: "p2plant",
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "p2plant-ioc",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/p2plant-ioc.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// envPrefix starts every override variable: P2PLANT_<SECTION>_<KEY>.
const envPrefix = "P2PLANT_"

// envBindings lists the fields that can be set from the environment. Secrets
// belong here so they never have to live in config.yaml.
func envBindings(cfg *Config) map[string]any {
	return map[string]any{
		"IOC_PREFIX":          &cfg.IOC.Prefix,
		"PLANT_CONNECTION":    &cfg.Plant.Connection,
		"PLANT_POLL_INTERVAL": &cfg.Plant.PollInterval,
		"CONTROL_INTERVAL":    &cfg.Control.Interval,
		"CONTROL_AUTOSTART":   &cfg.Control.Autostart,
		"API_ENABLED":         &cfg.API.Enabled,
		"API_HOST":            &cfg.API.Host,
		"API_PORT":            &cfg.API.Port,
		"API_JWT_SECRET":      &cfg.API.Auth.JWTSecret,
		"MQTT_ENABLED":        &cfg.MQTT.Enabled,
		"MQTT_HOST":           &cfg.MQTT.Broker.Host,
		"MQTT_PORT":           &cfg.MQTT.Broker.Port,
		"MQTT_USERNAME":       &cfg.MQTT.Auth.Username,
		"MQTT_PASSWORD":       &cfg.MQTT.Auth.Password,
		"INFLUXDB_ENABLED":    &cfg.InfluxDB.Enabled,
		"INFLUXDB_URL":        &cfg.InfluxDB.URL,
		"INFLUXDB_TOKEN":      &cfg.InfluxDB.Token,
		"DATABASE_ENABLED":    &cfg.Database.Enabled,
		"DATABASE_PATH":       &cfg.Database.Path,
		"LOGGING_LEVEL":       &cfg.Logging.Level,
	}
}

// applyEnvOverrides copies set, non-empty P2PLANT_* variables onto cfg.
// A value that does not convert to the field's type is ignored.
func applyEnvOverrides(cfg *Config) {
	for key, ptr := range envBindings(cfg) {
		raw := os.Getenv(envPrefix + key)
		if raw == "" {
			continue
		}
		field := reflect.ValueOf(ptr).Elem()
		v, err := cast.FromType(raw, field.Type())
		if err != nil {
			continue
		}
		field.Set(reflect.ValueOf(v))
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Plant.Connection == "" {
		errs = append(errs, "plant.connection is required")
	}
	if c.Plant.Managed.Enabled && c.Plant.Managed.Binary == "" {
		errs = append(errs, "plant.managed.binary is required when plant.managed.enabled is set")
	}
	if c.Plant.PollInterval < 0 {
		errs = append(errs, "plant.poll_interval must not be negative")
	}

	if c.Control.Interval <= 0 {
		errs = append(errs, "control.interval must be positive")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// A short HS256 secret is trivially brute-forced.
	const minJWTSecretLength = 32
	if s := c.API.Auth.JWTSecret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "api.auth.jwt_secret must be at least 32 characters")
	}

	if c.MQTT.Enabled {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.TopicPrefix == "" {
			errs = append(errs, "mqtt.topic_prefix is required")
		}
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ControlInterval returns the control loop cycle period as a Duration.
func (c *Config) ControlInterval() time.Duration {
	return time.Duration(c.Control.Interval) * time.Millisecond
}

// PollInterval returns the backend poll period as a Duration (0 = disabled).
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Plant.PollInterval) * time.Millisecond
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
