package mqtt

import "fmt"

// maxPayloadSize caps a single message at 1 MiB, below common broker limits.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker's acknowledgement
// (for QoS 1 and 2). PV state is published retained; acks are not.
//
//	err := client.Publish(client.Topics().PVAck("p2p:setpoint"), ack, 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validatePublish(topic, payload, qos); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.paho.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(operationTimeout) {
		return fmt.Errorf("%w: %s: timeout after %v", ErrPublishFailed, topic, operationTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}

	c.published.Add(1)
	return nil
}

func validatePublish(topic string, payload []byte, qos byte) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case len(payload) > maxPayloadSize:
		return fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	return nil
}
