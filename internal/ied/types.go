package ied

import "time"

// Device is an Intelligent Electronic Device tracked by the registry.
//
// Devices published by the Registry are immutable snapshots: every mutation
// produces a new value, so a *Device obtained from the registry never
// changes underneath the caller.
type Device struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`

	// Descriptive fields
	Type            string `json:"type"`
	Manufacturer    string `json:"manufacturer"`
	Model           string `json:"model"`
	FirmwareVersion string `json:"firmwareVersion"`
	IP              string `json:"ip"`
	DataPointCount  int    `json:"dataPointCount"`

	// Connection state, changed only through Registry.Transition.
	Status   Status    `json:"status"`
	LastSeen time.Time `json:"lastSeen"`

	// IEC 61850 logical hierarchy, in display order.
	LogicalDevices []LogicalDevice `json:"logicalDevices"`

	// Communication configuration.
	ProtocolConfig ProtocolConfig `json:"protocolConfig"`
	Datasets       []Dataset      `json:"datasets"`

	// ConfigVersion increments on every descriptive or configuration change.
	ConfigVersion int `json:"configVersion"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LogicalDevice groups logical nodes inside a Device.
type LogicalDevice struct {
	Name  string        `json:"name"`
	Nodes []LogicalNode `json:"nodes"`
}

// LogicalNode is a leaf of the hierarchy. Type is an open vocabulary
// (LLN0, PTOC, XCBR, TCTR, ...) so it is not validated against a list.
type LogicalNode struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Dataset is a named grouping of data points referenced by a GOOSE or MMS message.
type Dataset struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	PointCount  int             `json:"pointCount"`
	Protocol    DatasetProtocol `json:"protocol"`
}

// ProtocolConfig holds per-device communication parameters.
type ProtocolConfig struct {
	GOOSE GOOSEConfig `json:"goose"`
	MMS   MMSConfig   `json:"mms"`
}

// GOOSEConfig is either fully unset or fully configured.
type GOOSEConfig struct {
	AppID      string `json:"appId"`
	MACAddress string `json:"macAddress"`
}

// IsZero reports whether GOOSE publishing is unconfigured.
func (g GOOSEConfig) IsZero() bool {
	return g.AppID == "" && g.MACAddress == ""
}

// MMSConfig holds the MMS server parameters.
type MMSConfig struct {
	Port     int      `json:"port"`
	AuthMode AuthMode `json:"authMode"`
}

// NewDevice carries the caller-supplied fields for AddDevice.
// Empty fields are defaulted.
type NewDevice struct {
	Name            string          `json:"name"`
	Type            string          `json:"type"`
	Manufacturer    string          `json:"manufacturer"`
	Model           string          `json:"model"`
	FirmwareVersion string          `json:"firmwareVersion"`
	IP              string          `json:"ip"`
	DataPointCount  int             `json:"dataPointCount"`
	LogicalDevices  []LogicalDevice `json:"logicalDevices"`
}

// DeviceUpdate carries a partial update. Nil fields are left unchanged.
type DeviceUpdate struct {
	Name            *string          `json:"name,omitempty"`
	IP              *string          `json:"ip,omitempty"`
	Type            *string          `json:"type,omitempty"`
	Manufacturer    *string          `json:"manufacturer,omitempty"`
	Model           *string          `json:"model,omitempty"`
	FirmwareVersion *string          `json:"firmwareVersion,omitempty"`
	DataPointCount  *int             `json:"dataPointCount,omitempty"`
	LogicalDevices  *[]LogicalDevice `json:"logicalDevices,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u DeviceUpdate) IsEmpty() bool {
	return u.Name == nil && u.IP == nil && u.Type == nil && u.Manufacturer == nil &&
		u.Model == nil && u.FirmwareVersion == nil && u.DataPointCount == nil &&
		u.LogicalDevices == nil
}

// StatusChange is delivered to status listeners after every applied
// transition, including heartbeat refreshes where From == To.
type StatusChange struct {
	Device Device    `json:"device"`
	From   Status    `json:"from"`
	To     Status    `json:"to"`
	Event  Event     `json:"event"`
	At     time.Time `json:"at"`
}

// Changed reports whether the transition moved the device to a new state.
func (c StatusChange) Changed() bool {
	return c.From != c.To
}

// Status is the connection state of a device.
type Status string

// Connection states.
const (
	StatusPending      Status = "pending"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// AllStatuses returns every connection state.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusConnected, StatusDisconnected}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConnected, StatusDisconnected:
		return true
	}
	return false
}

// StatusFilterAll matches every status in Search.
const StatusFilterAll = "all"

// Event drives the connection state machine.
type Event string

// State machine events.
const (
	EventHandshakeOK      Event = "handshake_ok"
	EventHeartbeatOK      Event = "heartbeat_ok"
	EventHeartbeatTimeout Event = "heartbeat_timeout"
	EventDisconnect       Event = "disconnect"
	EventReconnect        Event = "reconnect"
)

// AllEvents returns every state machine event.
func AllEvents() []Event {
	return []Event{EventHandshakeOK, EventHeartbeatOK, EventHeartbeatTimeout, EventDisconnect, EventReconnect}
}

// Valid reports whether e is a known event.
func (e Event) Valid() bool {
	_, ok := eventTargets[e]
	return ok
}

// AuthMode is the MMS association authentication mode.
type AuthMode string

// MMS authentication modes.
const (
	AuthNone        AuthMode = "none"
	AuthPassword    AuthMode = "password"
	AuthCertificate AuthMode = "certificate"
)

// AllAuthModes returns every MMS authentication mode.
func AllAuthModes() []AuthMode {
	return []AuthMode{AuthNone, AuthPassword, AuthCertificate}
}

// DatasetProtocol tags which protocol a dataset is published over.
type DatasetProtocol string

// Dataset protocols.
const (
	DatasetGOOSE DatasetProtocol = "GOOSE"
	DatasetMMS   DatasetProtocol = "MMS"
)

// AllDatasetProtocols returns every dataset protocol.
func AllDatasetProtocols() []DatasetProtocol {
	return []DatasetProtocol{DatasetGOOSE, DatasetMMS}
}

// DeepCopy creates a complete independent copy of the Device.
// Slices are cloned so modifications to the copy never reach the registry.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d
	cpy.LogicalDevices = cloneLogicalDevices(d.LogicalDevices)
	cpy.Datasets = cloneDatasets(d.Datasets)
	return &cpy
}

func cloneLogicalDevices(lds []LogicalDevice) []LogicalDevice {
	if lds == nil {
		return nil
	}
	cpy := make([]LogicalDevice, len(lds))
	for i, ld := range lds {
		cpy[i] = LogicalDevice{Name: ld.Name}
		if ld.Nodes != nil {
			cpy[i].Nodes = make([]LogicalNode, len(ld.Nodes))
			copy(cpy[i].Nodes, ld.Nodes)
		}
	}
	return cpy
}

func cloneDatasets(ds []Dataset) []Dataset {
	if ds == nil {
		return nil
	}
	cpy := make([]Dataset, len(ds))
	copy(cpy, ds)
	return cpy
}
