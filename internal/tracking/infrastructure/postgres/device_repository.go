package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	tracking "geotrack-cloud/internal/tracking/domain"
)

const defaultDevicesTable = "devices"

const deviceColumns = `id, external_id, name, last_seen, is_active, current_location, geofence, created_at, updated_at`

// DeviceRepository is a Postgres implementation of tracking.DeviceRepository.
type DeviceRepository struct {
	db    *sql.DB
	table string
}

// DeviceOption configures the repository.
type DeviceOption func(*DeviceRepository)

// WithDevicesTable overrides the default table name.
func WithDevicesTable(table string) DeviceOption {
	return func(repo *DeviceRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db *sql.DB, opts ...DeviceOption) *DeviceRepository {
	repo := &DeviceRepository{db: db, table: defaultDevicesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// FindDevice loads a device by external id.
func (r *DeviceRepository) FindDevice(ctx context.Context, key string) (*tracking.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT %s
FROM %s
WHERE external_id = $1`, deviceColumns, r.table), key)
	device, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return device, err
}

// UpdateDevice applies the non-nil fields of patch.
func (r *DeviceRepository) UpdateDevice(ctx context.Context, key string, patch tracking.DevicePatch) (*tracking.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	lastSeen := sql.NullTime{}
	if patch.LastSeen != nil {
		lastSeen = sql.NullTime{Time: patch.LastSeen.UTC(), Valid: true}
	}
	isActive := sql.NullBool{}
	if patch.IsActive != nil {
		isActive = sql.NullBool{Bool: *patch.IsActive, Valid: true}
	}
	var location []byte
	if patch.CurrentLocation != nil {
		encoded, err := json.Marshal(patch.CurrentLocation)
		if err != nil {
			return nil, err
		}
		location = encoded
	}

	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
UPDATE %s SET
	last_seen = COALESCE($2, last_seen),
	is_active = COALESCE($3, is_active),
	current_location = COALESCE($4::jsonb, current_location),
	updated_at = NOW()
WHERE external_id = $1
RETURNING %s`, r.table, deviceColumns), key, lastSeen, isActive, location)
	device, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return device, err
}

// ListDevices returns every device ordered by external id.
func (r *DeviceRepository) ListDevices(ctx context.Context) ([]tracking.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT %s
FROM %s
ORDER BY external_id`, deviceColumns, r.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []tracking.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *device)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*tracking.Device, error) {
	var (
		device   tracking.Device
		name     sql.NullString
		lastSeen sql.NullTime
		location []byte
		geofence []byte
	)
	if err := row.Scan(
		&device.ID,
		&device.ExternalID,
		&name,
		&lastSeen,
		&device.IsActive,
		&location,
		&geofence,
		&device.CreatedAt,
		&device.UpdatedAt,
	); err != nil {
		return nil, err
	}
	device.Name = name.String
	if lastSeen.Valid {
		ts := lastSeen.Time.UTC()
		device.LastSeen = &ts
	}
	if len(location) > 0 {
		var loc tracking.CurrentLocation
		if err := json.Unmarshal(location, &loc); err != nil {
			return nil, fmt.Errorf("device repo: decode current_location: %w", err)
		}
		device.CurrentLocation = &loc
	}
	if len(geofence) > 0 {
		if err := json.Unmarshal(geofence, &device.Geofence); err != nil {
			return nil, fmt.Errorf("device repo: decode geofence: %w", err)
		}
	}
	device.CreatedAt = device.CreatedAt.UTC()
	device.UpdatedAt = device.UpdatedAt.UTC()
	return &device, nil
}
