// Package mqtt connects the P2Plant IOC to an MQTT broker.
//
// The client reconnects with backoff, restores its subscriptions on every
// new session and keeps a retained JSON StatusMessage on the system status
// topic. The broker publishes the offline will if the IOC drops without
// calling Close.
//
// The gateway package mirrors every PV onto these topics:
//
//	{prefix}/pv/{name}/state   retained JSON sample
//	{prefix}/pv/{name}/put     write requests from external clients
//	{prefix}/pv/{name}/ack     write results
//	{prefix}/system/status     online/offline, LWT
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllPVPuts(), 1, handler)
package mqtt
