package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
ioc:
  prefix: "test:"
plant:
  connection: "tcp://plant.local:50000"
  poll_interval: 250
control:
  interval: 100
mqtt:
  enabled: true
  topic_prefix: "lab"
  broker:
    host: "broker"
    port: 1883
    client_id: "ioc-test"
  qos: 1
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test:", cfg.IOC.Prefix)
	assert.Equal(t, "tcp://plant.local:50000", cfg.Plant.Connection)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval())
	assert.Equal(t, 100*time.Millisecond, cfg.ControlInterval())
	assert.Equal(t, "lab", cfg.MQTT.TopicPrefix)
	assert.Equal(t, "broker", cfg.MQTT.Broker.Host)

	// Defaults survive for sections the file omits.
	assert.True(t, cfg.Control.Autostart)
	assert.Equal(t, 8080, cfg.API.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
control:
  interval: 0
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "control.interval")
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadDefaults()
	require.NoError(t, err)
	assert.Equal(t, "p2p:", cfg.IOC.Prefix)
	assert.Equal(t, time.Second, cfg.ControlInterval())
	assert.Zero(t, cfg.PollInterval())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "empty plant connection",
			mutate:  func(c *Config) { c.Plant.Connection = "" },
			wantErr: "plant.connection",
		},
		{
			name: "managed plant without binary",
			mutate: func(c *Config) {
				c.Plant.Managed.Enabled = true
			},
			wantErr: "plant.managed.binary",
		},
		{
			name:    "negative poll interval",
			mutate:  func(c *Config) { c.Plant.PollInterval = -1 },
			wantErr: "plant.poll_interval",
		},
		{
			name:    "api port out of range",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "api.port",
		},
		{
			name:   "api disabled ignores port",
			mutate: func(c *Config) { c.API.Enabled = false; c.API.Port = 0 },
		},
		{
			name:    "short jwt secret",
			mutate:  func(c *Config) { c.API.Auth.JWTSecret = "short" },
			wantErr: "jwt_secret",
		},
		{
			name: "invalid mqtt qos",
			mutate: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.QoS = 3
			},
			wantErr: "mqtt.qos",
		},
		{
			name:    "influxdb without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: "influxdb.url",
		},
		{
			name: "database without path",
			mutate: func(c *Config) {
				c.Database.Enabled = true
				c.Database.Path = ""
			},
			wantErr: "database.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("P2PLANT_IOC_PREFIX", "env:")
	t.Setenv("P2PLANT_PLANT_CONNECTION", "tcp://env-plant:1")
	t.Setenv("P2PLANT_PLANT_POLL_INTERVAL", "500")
	t.Setenv("P2PLANT_MQTT_HOST", "env-broker")
	t.Setenv("P2PLANT_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("P2PLANT_DATABASE_PATH", "/tmp/env.db")

	cfg := Default()
	applyEnvOverrides(cfg)

	assert.Equal(t, "env:", cfg.IOC.Prefix)
	assert.Equal(t, "tcp://env-plant:1", cfg.Plant.Connection)
	assert.Equal(t, 500, cfg.Plant.PollInterval)
	assert.Equal(t, "env-broker", cfg.MQTT.Broker.Host)
	assert.Equal(t, "secret-token", cfg.InfluxDB.Token)
	assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
}

func TestApplyEnvOverrides_TypedFields(t *testing.T) {
	t.Setenv("P2PLANT_MQTT_ENABLED", "true")
	t.Setenv("P2PLANT_MQTT_PORT", "8883")
	t.Setenv("P2PLANT_CONTROL_AUTOSTART", "false")
	t.Setenv("P2PLANT_LOGGING_LEVEL", "debug")

	cfg := Default()
	applyEnvOverrides(cfg)

	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, 8883, cfg.MQTT.Broker.Port)
	assert.False(t, cfg.Control.Autostart)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestEnvBindings_PointIntoConfig(t *testing.T) {
	cfg := Default()
	for key, ptr := range envBindings(cfg) {
		assert.Equal(t, reflect.Pointer, reflect.TypeOf(ptr).Kind(), key)
	}
}

func TestApplyEnvOverrides_IgnoresBadPollInterval(t *testing.T) {
	t.Setenv("P2PLANT_PLANT_POLL_INTERVAL", "soon")

	cfg := Default()
	applyEnvOverrides(cfg)

	assert.Zero(t, cfg.Plant.PollInterval)
}
