package ied

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// Snapshot is the JSON interchange form of a device's configuration.
// It carries everything except identity and connection state.
type Snapshot struct {
	Name            string          `json:"name"`
	IP              string          `json:"ip"`
	Type            string          `json:"type"`
	Manufacturer    string          `json:"manufacturer"`
	Model           string          `json:"model"`
	FirmwareVersion string          `json:"firmwareVersion"`
	LogicalDevices  []LogicalDevice `json:"logicalDevices"`
	ProtocolConfig  ProtocolConfig  `json:"protocolConfig"`
	Datasets        []Dataset       `json:"datasets"`
}

// SnapshotOf captures the configuration of d.
func SnapshotOf(d *Device) *Snapshot {
	s := &Snapshot{
		Name:            d.Name,
		IP:              d.IP,
		Type:            d.Type,
		Manufacturer:    d.Manufacturer,
		Model:           d.Model,
		FirmwareVersion: d.FirmwareVersion,
		LogicalDevices:  cloneLogicalDevices(d.LogicalDevices),
		ProtocolConfig:  d.ProtocolConfig,
		Datasets:        cloneDatasets(d.Datasets),
	}
	if s.LogicalDevices == nil {
		s.LogicalDevices = []LogicalDevice{}
	}
	if s.Datasets == nil {
		s.Datasets = []Dataset{}
	}
	return s
}

// ParseSnapshot decodes a snapshot. Malformed JSON, unknown fields and
// trailing data are validation errors.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var s Snapshot
	if err := dec.Decode(&s); err != nil {
		return nil, invalid("snapshot", "%v", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, invalid("snapshot", "unexpected data after the snapshot object")
	}
	return &s, nil
}

// Marshal encodes the snapshot as indented JSON.
func (s *Snapshot) Marshal() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// Validate checks every field of the snapshot and returns the first
// failure.
func (s *Snapshot) Validate() error {
	if err := ValidateName(s.Name); err != nil {
		return err
	}
	if err := ValidateIP(s.IP); err != nil {
		return err
	}
	for _, f := range []struct{ field, value string }{
		{"type", s.Type},
		{"manufacturer", s.Manufacturer},
		{"model", s.Model},
		{"firmwareVersion", s.FirmwareVersion},
	} {
		if err := validateDescriptive(f.field, f.value); err != nil {
			return err
		}
	}
	if err := ValidateLogicalDevices(s.LogicalDevices); err != nil {
		return err
	}
	if err := ValidateProtocolConfig(s.ProtocolConfig); err != nil {
		return err
	}
	return ValidateDatasets(s.Datasets)
}

func (s *Snapshot) applyTo(d *Device) {
	d.Name = s.Name
	d.IP = s.IP
	d.Type = s.Type
	d.Manufacturer = s.Manufacturer
	d.Model = s.Model
	d.FirmwareVersion = s.FirmwareVersion
	d.LogicalDevices = cloneLogicalDevices(s.LogicalDevices)
	d.ProtocolConfig = s.ProtocolConfig
	d.Datasets = cloneDatasets(s.Datasets)
	if d.LogicalDevices == nil {
		d.LogicalDevices = []LogicalDevice{}
	}
	if d.Datasets == nil {
		d.Datasets = []Dataset{}
	}
}
