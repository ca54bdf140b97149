package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Subscribe routes messages matching topic (which may contain + and #
// wildcards) to handler. The subscription is remembered and restored after
// every reconnect.
//
//	err := client.Subscribe(client.Topics().AllPVPuts(), 1, gw.handlePut)
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case handler == nil:
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	if err := wait(c.paho.Subscribe(topic, qos, c.wrapHandler(handler))); err != nil {
		c.forget(topic)
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

// Unsubscribe stops delivery for a topic passed to Subscribe. Messages
// already in flight may still arrive.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.forget(topic)
	if err := wait(c.paho.Unsubscribe(topic)); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnsubscribeFailed, topic, err)
	}
	return nil
}

func (c *Client) forget(topic string) {
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()
}

// restoreSubscriptions resubscribes after a reconnect. Failures are logged;
// paho retries on the next reconnect.
func (c *Client) restoreSubscriptions() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for topic, sub := range c.subs {
		token := c.paho.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
		go func(topic string) {
			if err := wait(token); err != nil && c.logger != nil {
				c.logger.Warn("MQTT resubscribe failed", "topic", topic, "error", err)
			}
		}(topic)
	}
}

// wrapHandler counts deliveries, logs handler errors and keeps a panicking
// handler from taking down paho's delivery goroutine.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.received.Add(1)
		defer func() {
			if r := recover(); r != nil {
				if logger := c.log(); logger != nil {
					logger.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.log(); logger != nil {
				logger.Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
			}
		}
	}
}

func wait(token pahomqtt.Token) error {
	if !token.WaitTimeout(operationTimeout) {
		return fmt.Errorf("timeout after %v", operationTimeout)
	}
	return token.Error()
}
