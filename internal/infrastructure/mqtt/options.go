package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/p2plant-ioc/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	// operationTimeout bounds publish, subscribe and unsubscribe acks.
	operationTimeout        = 5 * time.Second
	disconnectQuiesceMillis = 1000
	keepAlive               = 60 * time.Second
	maxQoS                  = 2
)

// brokerURL returns tcp://host:port, or ssl:// when TLS is on.
func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}

// buildClientOptions maps the config onto paho options: broker, identity,
// credentials, TLS and reconnect backoff. Sessions are clean; the gateway
// republishes retained state itself.
func buildClientOptions(cfg config.MQTTConfig, clientID string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg)).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

// clientOptions adds the LWT and the session hooks to the base options.
func (c *Client) clientOptions() *pahomqtt.ClientOptions {
	opts := buildClientOptions(c.cfg, c.clientID)

	// Retained so a late subscriber can tell stale PV state from live state.
	opts.SetBinaryWill(c.topics.SystemStatus(), statusPayload(StatusOffline, c.clientID, reasonUnexpected), 1, true)

	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		if logger := c.log(); logger != nil {
			logger.Warn("MQTT reconnecting", "broker", brokerURL(c.cfg))
		}
	})
	return opts
}
