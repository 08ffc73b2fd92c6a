package ied

import (
	"context"
	"fmt"
)

type sampleDevice struct {
	device    NewDevice
	connected bool
	datasets  []Dataset
}

var sampleDevices = []sampleDevice{
	{
		device: NewDevice{
			Name: "Protection IED", Type: "P645", Manufacturer: "ABB", Model: "REF615",
			FirmwareVersion: "2.1.0", IP: "192.168.1.100", DataPointCount: 156,
			LogicalDevices: []LogicalDevice{{Name: "PROT", Nodes: []LogicalNode{
				{Name: "LLN0", Type: "LLN0"}, {Name: "PTOC1", Type: "PTOC"}, {Name: "XCBR1", Type: "XCBR"},
			}}},
		},
		connected: true,
		datasets: []Dataset{
			{Name: "GOOSE_Dataset_1", Description: "protection trip signals", PointCount: 8, Protocol: DatasetGOOSE},
			{Name: "MMS_Dataset_1", Description: "measurements", PointCount: 12, Protocol: DatasetMMS},
		},
	},
	{
		device: NewDevice{
			Name: "Merging Unit", Type: "MU615", Manufacturer: "Siemens", Model: "MU615",
			FirmwareVersion: "1.5.2", IP: "192.168.1.101", DataPointCount: 89,
			LogicalDevices: []LogicalDevice{{Name: "MU01", Nodes: []LogicalNode{
				{Name: "LLN0", Type: "LLN0"}, {Name: "TCTR1", Type: "TCTR"}, {Name: "TVTR1", Type: "TVTR"},
			}}},
		},
		connected: true,
	},
	{
		device: NewDevice{
			Name: "Bay Controller", Type: "BCU615", Manufacturer: "SEL", Model: "BCU615",
			FirmwareVersion: "3.0.1", IP: "192.168.1.102", DataPointCount: 234,
			LogicalDevices: []LogicalDevice{{Name: "BCU", Nodes: []LogicalNode{
				{Name: "LLN0", Type: "LLN0"}, {Name: "CSWI1", Type: "CSWI"}, {Name: "XCBR1", Type: "XCBR"},
			}}},
		},
	},
}

// SeedSamples adds the demonstration devices when the registry is empty.
// It returns the number of devices added.
func (r *Registry) SeedSamples(ctx context.Context) (int, error) {
	if r.Count() > 0 {
		return 0, nil
	}

	for i, s := range sampleDevices {
		d, err := r.AddDevice(ctx, s.device)
		if err != nil {
			return i, fmt.Errorf("seeding %s: %w", s.device.Name, err)
		}
		for _, ds := range s.datasets {
			if _, err := r.AddDataset(ctx, d.ID, ds); err != nil {
				return i, fmt.Errorf("seeding dataset %s: %w", ds.Name, err)
			}
		}
		if s.connected {
			if _, err := r.Transition(ctx, d.ID, EventHandshakeOK); err != nil {
				return i, fmt.Errorf("connecting %s: %w", s.device.Name, err)
			}
		}
	}

	r.logger.Info("sample devices seeded", "count", len(sampleDevices))
	return len(sampleDevices), nil
}
