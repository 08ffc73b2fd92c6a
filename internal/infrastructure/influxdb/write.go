package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the registry.
const (
	MeasurementStatus = "ied_status"
	MeasurementEvents = "ied_events"
)

// WriteDeviceStatus queues one ied_status point. Dropped after Close.
func (c *Client) WriteDeviceStatus(deviceID, status string, at time.Time) {
	if c.IsConnected() {
		c.writer.WritePoint(StatusPoint(deviceID, status, at))
	}
}

// WriteEvent queues one ied_events point. Dropped after Close.
func (c *Client) WriteEvent(severity, deviceID string, at time.Time) {
	if c.IsConnected() {
		c.writer.WritePoint(EventPoint(severity, deviceID, at))
	}
}

// StatusPoint builds the ied_status point for a state change. The
// connected field is 1 only for "connected", so availability over a
// window is the mean of the field.
func StatusPoint(deviceID, status string, at time.Time) *write.Point {
	connected := int64(0)
	if status == "connected" {
		connected = 1
	}
	return write.NewPoint(
		MeasurementStatus,
		map[string]string{
			"device_id": deviceID,
			"status":    status,
		},
		map[string]interface{}{
			"connected": connected,
		},
		at,
	)
}

// EventPoint builds the ied_events point for a log entry. System entries
// have no device_id tag.
func EventPoint(severity, deviceID string, at time.Time) *write.Point {
	tags := map[string]string{"severity": severity}
	if deviceID != "" {
		tags["device_id"] = deviceID
	}
	return write.NewPoint(
		MeasurementEvents,
		tags,
		map[string]interface{}{
			"count": int64(1),
		},
		at,
	)
}
