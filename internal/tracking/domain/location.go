package tracking

import (
	"context"
	"time"
)

// Battery is the optional battery report of a sample.
type Battery struct {
	Level      *float64 `json:"level,omitempty"`
	IsCharging *bool    `json:"isCharging,omitempty"`
}

// Telemetry holds the optional measurements that accompany a position.
type Telemetry struct {
	Speed      *float64 `json:"speed,omitempty"`
	Accuracy   *float64 `json:"accuracy,omitempty"`
	Satellites *int     `json:"satellites,omitempty"`
	Battery    *Battery `json:"battery,omitempty"`
}

// Sample is a validated, normalized telemetry sample.
type Sample struct {
	Point
	Telemetry
	Timestamp time.Time
	// ServerTimestamp is set when the device sent no usable timestamp.
	ServerTimestamp bool
	// Ignored names optional fields dropped for having the wrong type.
	Ignored  []string
	Metadata map[string]any
}

// LocationRecord is an immutable history entry.
type LocationRecord struct {
	ID        string `json:"id"`
	DeviceID  string `json:"deviceId"`
	DeviceKey string `json:"deviceKey"`
	Point
	Telemetry
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// LocationRepository is the append-only location history.
type LocationRepository interface {
	AppendLocation(ctx context.Context, record *LocationRecord) error
	// FindLastLocationTimestamp returns the newest stored timestamp for the
	// device; ok is false when no history exists.
	FindLastLocationTimestamp(ctx context.Context, deviceKey string) (ts time.Time, ok bool, err error)
	// ListLocations returns records with from <= timestamp < to, oldest first.
	ListLocations(ctx context.Context, deviceKey string, from, to time.Time) ([]LocationRecord, error)
}
