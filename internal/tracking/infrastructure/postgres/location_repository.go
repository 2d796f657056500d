package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	tracking "geotrack-cloud/internal/tracking/domain"
)

const defaultLocationsTable = "locations"

// LocationRepository is a Postgres implementation of the location history.
type LocationRepository struct {
	db    *sql.DB
	table string
}

// LocationOption configures the repository.
type LocationOption func(*LocationRepository)

// WithLocationsTable overrides the default table name.
func WithLocationsTable(table string) LocationOption {
	return func(repo *LocationRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewLocationRepository constructs a repository.
func NewLocationRepository(db *sql.DB, opts ...LocationOption) *LocationRepository {
	repo := &LocationRepository{db: db, table: defaultLocationsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// AppendLocation inserts an immutable history record.
func (r *LocationRepository) AppendLocation(ctx context.Context, record *tracking.LocationRecord) error {
	if r == nil || r.db == nil {
		return errors.New("location repo: nil db")
	}
	if record == nil || record.DeviceKey == "" || record.Timestamp.IsZero() {
		return errors.New("location repo: invalid location record")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	var metadata []byte
	if len(record.Metadata) > 0 {
		encoded, err := json.Marshal(record.Metadata)
		if err != nil {
			return err
		}
		metadata = encoded
	}
	batteryLevel := sql.NullFloat64{}
	batteryCharging := sql.NullBool{}
	if record.Battery != nil {
		if record.Battery.Level != nil {
			batteryLevel = sql.NullFloat64{Float64: *record.Battery.Level, Valid: true}
		}
		if record.Battery.IsCharging != nil {
			batteryCharging = sql.NullBool{Bool: *record.Battery.IsCharging, Valid: true}
		}
	}

	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (
	id,
	device_id,
	device_key,
	lat,
	lng,
	ts,
	speed,
	accuracy,
	satellites,
	battery_level,
	battery_charging,
	metadata,
	created_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb, $13
)`, r.table),
		record.ID,
		record.DeviceID,
		record.DeviceKey,
		record.Lat,
		record.Lng,
		record.Timestamp.UTC(),
		nullFloat(record.Speed),
		nullFloat(record.Accuracy),
		nullInt(record.Satellites),
		batteryLevel,
		batteryCharging,
		metadata,
		record.CreatedAt.UTC(),
	)
	return err
}

// FindLastLocationTimestamp returns the newest stored timestamp for a device.
func (r *LocationRepository) FindLastLocationTimestamp(ctx context.Context, deviceKey string) (time.Time, bool, error) {
	if r == nil || r.db == nil {
		return time.Time{}, false, errors.New("location repo: nil db")
	}
	var last sql.NullTime
	err := r.db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT MAX(ts)
FROM %s
WHERE device_key = $1`, r.table), deviceKey).Scan(&last)
	if err != nil {
		return time.Time{}, false, err
	}
	if !last.Valid {
		return time.Time{}, false, nil
	}
	return last.Time.UTC(), true, nil
}

// ListLocations returns records in [from, to) ordered by timestamp.
func (r *LocationRepository) ListLocations(ctx context.Context, deviceKey string, from, to time.Time) ([]tracking.LocationRecord, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("location repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT id, device_id, device_key, lat, lng, ts, speed, accuracy, satellites, battery_level, battery_charging, metadata, created_at
FROM %s
WHERE device_key = $1 AND ts >= $2 AND ts < $3
ORDER BY ts, created_at`, r.table), deviceKey, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []tracking.LocationRecord
	for rows.Next() {
		var (
			record          tracking.LocationRecord
			speed           sql.NullFloat64
			accuracy        sql.NullFloat64
			satellites      sql.NullInt64
			batteryLevel    sql.NullFloat64
			batteryCharging sql.NullBool
			metadata        []byte
		)
		if err := rows.Scan(
			&record.ID,
			&record.DeviceID,
			&record.DeviceKey,
			&record.Lat,
			&record.Lng,
			&record.Timestamp,
			&speed,
			&accuracy,
			&satellites,
			&batteryLevel,
			&batteryCharging,
			&metadata,
			&record.CreatedAt,
		); err != nil {
			return nil, err
		}
		record.Timestamp = record.Timestamp.UTC()
		record.CreatedAt = record.CreatedAt.UTC()
		if speed.Valid {
			record.Speed = &speed.Float64
		}
		if accuracy.Valid {
			record.Accuracy = &accuracy.Float64
		}
		if satellites.Valid {
			value := int(satellites.Int64)
			record.Satellites = &value
		}
		if batteryLevel.Valid || batteryCharging.Valid {
			record.Battery = &tracking.Battery{}
			if batteryLevel.Valid {
				record.Battery.Level = &batteryLevel.Float64
			}
			if batteryCharging.Valid {
				record.Battery.IsCharging = &batteryCharging.Bool
			}
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &record.Metadata); err != nil {
				return nil, fmt.Errorf("location repo: decode metadata: %w", err)
			}
		}
		result = append(result, record)
	}
	return result, rows.Err()
}

func nullFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}

func nullInt(value *int) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*value), Valid: true}
}
