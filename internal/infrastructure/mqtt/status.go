package mqtt

import (
	"encoding/json"
	"time"
)

// Values of StatusMessage.Status.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

const (
	reasonShutdown   = "graceful_shutdown"
	reasonUnexpected = "unexpected_disconnect"
)

// StatusMessage is the retained payload on {prefix}/system/status.
type StatusMessage struct {
	Status    string    `json:"status"`
	ClientID  string    `json:"client_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func statusPayload(status, clientID, reason string) []byte {
	// Marshalling a struct of strings and a time cannot fail.
	data, _ := json.Marshal(StatusMessage{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Truncate(time.Second),
	})
	return data
}

// publishStatus is fire-and-forget during connect; on Close it waits for
// the broker so the offline message is not lost.
func (c *Client) publishStatus(status, reason string) {
	token := c.paho.Publish(c.topics.SystemStatus(), byte(c.cfg.QoS), true, statusPayload(status, c.clientID, reason))
	if status == StatusOffline {
		token.WaitTimeout(operationTimeout)
	}
}
