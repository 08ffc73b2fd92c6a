package mqtt

import "errors"

// Sentinel errors. Failures from the broker are wrapped around these so
// callers can match with errors.Is.
var (
	ErrNotConnected     = errors.New("mqtt: broker not connected")
	ErrConnectionFailed = errors.New("mqtt: cannot reach broker")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")
	ErrInvalidQoS       = errors.New("mqtt: qos must be 0, 1 or 2")
	ErrInvalidTopic     = errors.New("mqtt: empty topic")
	ErrPayloadTooLarge  = errors.New("mqtt: payload too large")
	ErrTimeout          = errors.New("mqtt: broker did not acknowledge in time")
)
