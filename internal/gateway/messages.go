package gateway

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/p2plant-ioc/internal/pv"
)

// AckStatus is the outcome of an MQTT write.
type AckStatus string

const (
	// AckAccepted indicates the write was validated and published.
	AckAccepted AckStatus = "accepted"

	// AckRejected indicates the write was refused (unknown PV, read-only
	// PV or a value that does not fit the PV's type).
	AckRejected AckStatus = "rejected"
)

// StateMessage is the retained payload published on the state topic.
type StateMessage struct {
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Value     any       `json:"value"`
	Choice    string    `json:"choice,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PutMessage is the JSON envelope form of a write request.
type PutMessage struct {
	ID    string          `json:"id,omitempty"`
	Value json.RawMessage `json:"value"`
}

// AckMessage answers a write request.
type AckMessage struct {
	ID        string    `json:"id,omitempty"`
	PV        string    `json:"pv"`
	Status    AckStatus `json:"status"`
	Value     any       `json:"value,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// newStateMessage builds the state payload for an update of a PV of type t.
func newStateMessage(u pv.Update, t pv.Type) StateMessage {
	msg := StateMessage{
		Name:      u.Name,
		Type:      t.String(),
		Value:     pv.JSONValue(u.Sample.Value),
		Timestamp: u.Sample.Timestamp,
	}
	if e, ok := u.Sample.Value.(pv.Enum); ok {
		msg.Choice = e.Choice()
	}
	return msg
}
