package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when the configuration leaves topic_prefix empty.
const DefaultTopicPrefix = "substation"

// Topics builds the topic names used by Substation Core.
//
// All topics live under a single prefix:
//
//	{prefix}/ied/{id}/heartbeat   inbound liveness from an IED gateway
//	{prefix}/ied/{id}/status      retained connection state
//	{prefix}/events               event log entries
//	{prefix}/system/status        retained online/offline (also the LWT)
type Topics struct {
	Prefix string
}

// NewTopics returns a builder for prefix, or DefaultTopicPrefix if empty.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// DeviceHeartbeat returns the heartbeat topic for one IED.
//
// Example: substation/ied/ied-3f2a9c1b/heartbeat
func (t Topics) DeviceHeartbeat(deviceID string) string {
	return fmt.Sprintf("%s/ied/%s/heartbeat", t.prefix(), deviceID)
}

// AllDeviceHeartbeats returns the wildcard subscription for every heartbeat.
func (t Topics) AllDeviceHeartbeats() string {
	return t.prefix() + "/ied/+/heartbeat"
}

// DeviceStatus returns the retained status topic for one IED.
func (t Topics) DeviceStatus(deviceID string) string {
	return fmt.Sprintf("%s/ied/%s/status", t.prefix(), deviceID)
}

// Events returns the topic event log entries are published on.
func (t Topics) Events() string {
	return t.prefix() + "/events"
}

// SystemStatus returns the retained online/offline topic.
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}

// DeviceIDFromTopic extracts the IED id from a per-device topic such as
// DeviceHeartbeat or DeviceStatus. ok is false for any other topic.
func (t Topics) DeviceIDFromTopic(topic string) (id string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix()+"/ied/")
	if !found {
		return "", false
	}
	id, _, found = strings.Cut(rest, "/")
	if !found || id == "" {
		return "", false
	}
	return id, true
}
