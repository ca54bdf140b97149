package mqtt

import "fmt"

// DefaultTopicPrefix is used when the configuration leaves topic_prefix empty.
const DefaultTopicPrefix = "p2plant"

// Topics provides builders for P2Plant MQTT topics.
// Using these helpers keeps topic naming consistent between the gateway,
// the LWT and any external subscriber.
//
//	topics := mqtt.Topics{Prefix: "p2plant"}
//	topics.PVState("p2p:temp")
//	// Returns: "p2plant/pv/p2p:temp/state"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// PVState returns the retained state topic for a process variable.
//
// Example: p2plant/pv/p2p:cycle/state
func (t Topics) PVState(name string) string {
	return fmt.Sprintf("%s/pv/%s/state", t.prefix(), name)
}

// PVPut returns the topic external clients publish write requests on.
//
// Example: p2plant/pv/p2p:setpoint/put
func (t Topics) PVPut(name string) string {
	return fmt.Sprintf("%s/pv/%s/put", t.prefix(), name)
}

// PVAck returns the topic write results are reported on.
//
// Example: p2plant/pv/p2p:setpoint/ack
func (t Topics) PVAck(name string) string {
	return fmt.Sprintf("%s/pv/%s/ack", t.prefix(), name)
}

// AllPVPuts returns a pattern matching write requests for every PV.
//
// Pattern: p2plant/pv/+/put
func (t Topics) AllPVPuts() string {
	return fmt.Sprintf("%s/pv/+/put", t.prefix())
}

// SystemStatus returns the IOC online/offline status topic.
//
// Example: p2plant/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.prefix())
}

// PVNameFromTopic extracts the PV name from a pv/{name}/{suffix} topic.
// Returns false when the topic does not belong to this prefix.
func (t Topics) PVNameFromTopic(topic, suffix string) (string, bool) {
	head := t.prefix() + "/pv/"
	tail := "/" + suffix
	if len(topic) <= len(head)+len(tail) {
		return "", false
	}
	if topic[:len(head)] != head || topic[len(topic)-len(tail):] != tail {
		return "", false
	}
	return topic[len(head) : len(topic)-len(tail)], true
}
