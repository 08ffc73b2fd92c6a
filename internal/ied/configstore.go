package ied

import (
	"context"

	"github.com/nerrad567/substation-core/internal/eventlog"
)

// SetProtocolConfig validates pc and replaces the device's protocol
// configuration wholesale.
func (r *Registry) SetProtocolConfig(ctx context.Context, id string, pc ProtocolConfig) (*Device, error) {
	if err := ValidateProtocolConfig(pc); err != nil {
		return nil, err
	}
	return r.mutate(ctx, id, func(d *Device) (*eventlog.Entry, error) {
		d.ProtocolConfig = pc
		return nil, nil
	})
}

// AddDataset appends ds to the device's datasets. Dataset names are unique
// per device.
func (r *Registry) AddDataset(ctx context.Context, id string, ds Dataset) (*Device, error) {
	if err := ValidateDataset("dataset", ds); err != nil {
		return nil, err
	}
	return r.mutate(ctx, id, func(d *Device) (*eventlog.Entry, error) {
		for _, existing := range d.Datasets {
			if existing.Name == ds.Name {
				return nil, &ConflictError{Scope: "dataset", Name: ds.Name}
			}
		}
		if len(d.Datasets) >= maxDatasets {
			return nil, invalid("datasets", "exceeds %d datasets", maxDatasets)
		}
		d.Datasets = append(d.Datasets, ds)
		return nil, nil
	})
}

// RemoveDataset deletes the named dataset from the device.
func (r *Registry) RemoveDataset(ctx context.Context, id, name string) (*Device, error) {
	return r.mutate(ctx, id, func(d *Device) (*eventlog.Entry, error) {
		for i, existing := range d.Datasets {
			if existing.Name == name {
				d.Datasets = append(d.Datasets[:i], d.Datasets[i+1:]...)
				return nil, nil
			}
		}
		return nil, &NotFoundError{Kind: "dataset", ID: name}
	})
}

// ListDatasets returns the device's datasets in insertion order.
func (r *Registry) ListDatasets(_ context.Context, id string) ([]Dataset, error) {
	en, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	datasets := cloneDatasets(en.dev.Load().Datasets)
	if datasets == nil {
		datasets = []Dataset{}
	}
	return datasets, nil
}

// ExportConfig returns the device's configuration as an interchange
// snapshot.
func (r *Registry) ExportConfig(ctx context.Context, id string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	en, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	return SnapshotOf(en.dev.Load()), nil
}

// ImportConfig replaces the device's descriptive fields, hierarchy,
// protocol configuration and datasets with s. The snapshot is validated
// in full before anything changes; status and LastSeen are kept.
func (r *Registry) ImportConfig(ctx context.Context, id string, s *Snapshot) (*Device, error) {
	if s == nil {
		return nil, invalid("snapshot", "must not be empty")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return r.mutate(ctx, id, func(d *Device) (*eventlog.Entry, error) {
		s.applyTo(d)
		e := eventlog.Info(id, "configuration imported for device %s: %d logical devices, %d datasets",
			id, len(d.LogicalDevices), len(d.Datasets))
		return &e, nil
	})
}
