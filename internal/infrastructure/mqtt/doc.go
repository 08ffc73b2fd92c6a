// Package mqtt connects the registry to the site MQTT broker.
//
// Inbound, IED gateways publish liveness on per-device heartbeat topics
// which the heartbeat monitor consumes. Outbound, the registry publishes
// retained per-device status, event log entries and its own presence:
//
//	{prefix}/ied/{id}/heartbeat   gateway → registry
//	{prefix}/ied/{id}/status      registry → SCADA (retained)
//	{prefix}/events               registry → historian
//	{prefix}/system/status        registry presence (retained, LWT)
//
// Use TLS (broker.tls) outside the lab; anonymous brokers are for
// development only.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.AllDeviceHeartbeats(), 1, monitor.MessageHandler(topics))
package mqtt
