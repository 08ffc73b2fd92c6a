package ied

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// ReserveID records id as issued. Returns ErrIDTaken if it was
	// issued before, even if that device has since been deleted.
	ReserveID(ctx context.Context, id string, at time.Time) error

	// GetByID retrieves a device by its unique identifier.
	// Returns a NotFoundError if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List retrieves all devices in insertion order.
	List(ctx context.Context) ([]Device, error)

	// Create inserts a new device.
	// Returns a ConflictError if a device with the same ID already exists.
	Create(ctx context.Context, d *Device) error

	// Update replaces every stored field of an existing device.
	// Returns a NotFoundError if the device does not exist.
	Update(ctx context.Context, d *Device) error

	// UpdateStatus updates only the connection state fields.
	// This is optimised for frequent heartbeat traffic.
	UpdateStatus(ctx context.Context, id string, status Status, lastSeen, updatedAt time.Time) error

	// Delete removes a device by ID. The id stays reserved.
	// Returns a NotFoundError if the device does not exist.
	Delete(ctx context.Context, id string) error
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const deviceColumns = `id, name, type, manufacturer, model, firmware_version, ip,
	status, last_seen, data_point_count, logical_devices, protocol_config,
	datasets, config_version, created_at, updated_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// ReserveID records id in the issued-id table.
func (r *SQLiteRepository) ReserveID(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO device_ids (id, issued_at) VALUES (?, ?)", id, formatTime(at))
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrIDTaken
		}
		return fmt.Errorf("reserving id: %w", err)
	}
	return nil
}

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+deviceColumns+" FROM devices WHERE id = ?", id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, deviceNotFound(id)
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// List retrieves all devices in insertion order.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+deviceColumns+" FROM devices ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	cols, err := marshalColumns(d)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO devices (` + deviceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		d.ID,
		d.Name,
		d.Type,
		d.Manufacturer,
		d.Model,
		d.FirmwareVersion,
		d.IP,
		string(d.Status),
		formatTime(d.LastSeen),
		d.DataPointCount,
		cols.logicalDevices,
		cols.protocolConfig,
		cols.datasets,
		d.ConfigVersion,
		formatTime(d.CreatedAt),
		formatTime(d.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &ConflictError{Scope: "device", Name: d.ID}
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Update replaces every stored field of an existing device.
func (r *SQLiteRepository) Update(ctx context.Context, d *Device) error {
	cols, err := marshalColumns(d)
	if err != nil {
		return err
	}

	query := `
		UPDATE devices SET
			name = ?, type = ?, manufacturer = ?, model = ?, firmware_version = ?,
			ip = ?, status = ?, last_seen = ?, data_point_count = ?,
			logical_devices = ?, protocol_config = ?, datasets = ?,
			config_version = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		d.Name,
		d.Type,
		d.Manufacturer,
		d.Model,
		d.FirmwareVersion,
		d.IP,
		string(d.Status),
		formatTime(d.LastSeen),
		d.DataPointCount,
		cols.logicalDevices,
		cols.protocolConfig,
		cols.datasets,
		d.ConfigVersion,
		formatTime(d.UpdatedAt),
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	return requireRow(result, d.ID)
}

// UpdateStatus updates the connection state fields only.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id string, status Status, lastSeen, updatedAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE devices SET status = ?, last_seen = ?, updated_at = ? WHERE id = ?",
		string(status), formatTime(lastSeen), formatTime(updatedAt), id)
	if err != nil {
		return fmt.Errorf("updating device status: %w", err)
	}
	return requireRow(result, id)
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireRow(result, id)
}

func requireRow(result sql.Result, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return deviceNotFound(id)
	}
	return nil
}

type jsonColumns struct {
	logicalDevices string
	protocolConfig string
	datasets       string
}

func marshalColumns(d *Device) (jsonColumns, error) {
	var cols jsonColumns

	lds := d.LogicalDevices
	if lds == nil {
		lds = []LogicalDevice{}
	}
	b, err := json.Marshal(lds)
	if err != nil {
		return cols, fmt.Errorf("marshalling logical_devices: %w", err)
	}
	cols.logicalDevices = string(b)

	b, err = json.Marshal(d.ProtocolConfig)
	if err != nil {
		return cols, fmt.Errorf("marshalling protocol_config: %w", err)
	}
	cols.protocolConfig = string(b)

	datasets := d.Datasets
	if datasets == nil {
		datasets = []Dataset{}
	}
	b, err = json.Marshal(datasets)
	if err != nil {
		return cols, fmt.Errorf("marshalling datasets: %w", err)
	}
	cols.datasets = string(b)

	return cols, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var status, lastSeen, createdAt, updatedAt string
	var logicalDevices, protocolConfig, datasets string

	err := scanner.Scan(
		&d.ID,
		&d.Name,
		&d.Type,
		&d.Manufacturer,
		&d.Model,
		&d.FirmwareVersion,
		&d.IP,
		&status,
		&lastSeen,
		&d.DataPointCount,
		&logicalDevices,
		&protocolConfig,
		&datasets,
		&d.ConfigVersion,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Status = Status(status)

	if err := json.Unmarshal([]byte(logicalDevices), &d.LogicalDevices); err != nil {
		return nil, fmt.Errorf("unmarshalling logical_devices: %w", err)
	}
	if err := json.Unmarshal([]byte(protocolConfig), &d.ProtocolConfig); err != nil {
		return nil, fmt.Errorf("unmarshalling protocol_config: %w", err)
	}
	if err := json.Unmarshal([]byte(datasets), &d.Datasets); err != nil {
		return nil, fmt.Errorf("unmarshalling datasets: %w", err)
	}

	for _, ts := range []struct {
		dst *time.Time
		raw string
	}{
		{&d.LastSeen, lastSeen},
		{&d.CreatedAt, createdAt},
		{&d.UpdatedAt, updatedAt},
	} {
		t, err := time.Parse(timeLayout, ts.raw)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp %q: %w", ts.raw, err)
		}
		*ts.dst = t
	}

	return &d, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// isUniqueConstraintError checks if an error is a SQLite unique or primary
// key constraint violation.
func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
