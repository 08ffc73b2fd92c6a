package ied

import "fmt"

// eventTargets is the state each event drives a device towards.
var eventTargets = map[Event]Status{
	EventHandshakeOK:      StatusConnected,
	EventHeartbeatOK:      StatusConnected,
	EventHeartbeatTimeout: StatusDisconnected,
	EventDisconnect:       StatusDisconnected,
	EventReconnect:        StatusPending,
}

type edge struct {
	from  Status
	event Event
}

// edges lists every legal transition.
var edges = map[edge]Status{
	{StatusPending, EventHandshakeOK}:        StatusConnected,
	{StatusConnected, EventHandshakeOK}:      StatusConnected,
	{StatusConnected, EventHeartbeatOK}:      StatusConnected,
	{StatusConnected, EventHeartbeatTimeout}: StatusDisconnected,
	{StatusConnected, EventDisconnect}:       StatusDisconnected,
	{StatusDisconnected, EventReconnect}:     StatusPending,
	{StatusDisconnected, EventHandshakeOK}:   StatusConnected,
}

// NextStatus resolves event against the current status.
//
// It returns the target status and whether the transition is a no-op.
// A pair with no edge is a no-op when the event's target is the current
// status (a disconnect on a disconnected device), and ErrInvalidTransition
// otherwise.
func NextStatus(from Status, event Event) (Status, bool, error) {
	target, ok := eventTargets[event]
	if !ok {
		return from, false, invalid("event", "unknown event %q", event)
	}
	if to, ok := edges[edge{from, event}]; ok {
		return to, false, nil
	}
	if target == from {
		return from, true, nil
	}
	return from, false, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, event, from)
}

// transitionMessage returns the log entry text for an applied status change.
// Heartbeat refreshes are handled separately because they are rate limited.
func transitionMessage(id string, from, to Status, event Event) string {
	switch {
	case to == StatusConnected && from == StatusDisconnected:
		return fmt.Sprintf("device %s reconnected", id)
	case to == StatusConnected:
		return fmt.Sprintf("device %s connected", id)
	case to == StatusDisconnected && event == EventHeartbeatTimeout:
		return fmt.Sprintf("device %s heartbeat timeout, disconnected", id)
	case to == StatusDisconnected:
		return fmt.Sprintf("device %s disconnected", id)
	default:
		return fmt.Sprintf("device %s reconnect attempt", id)
	}
}
