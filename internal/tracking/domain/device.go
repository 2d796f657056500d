package tracking

import (
	"context"
	"errors"
	"time"
)

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Ring is a closed ring of [lng, lat] pairs. The closing vertex may be omitted.
type Ring [][2]float64

// Polygon is an outer ring followed by optional holes.
type Polygon []Ring

// CurrentLocation is the latest accepted position of a device.
type CurrentLocation struct {
	Point
	Telemetry
	Timestamp time.Time `json:"timestamp"`
}

// Device is a tracked unit keyed by its external id.
type Device struct {
	ID              string           `json:"id"`
	ExternalID      string           `json:"externalId"`
	Name            string           `json:"name"`
	LastSeen        *time.Time       `json:"lastSeen,omitempty"`
	IsActive        bool             `json:"isActive"`
	CurrentLocation *CurrentLocation `json:"currentLocation,omitempty"`
	Geofence        []Polygon        `json:"geofence,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// DisplayName returns the device name, or its external id when unnamed.
func (d Device) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ExternalID
}

// LastSeenAt returns lastSeen, or the zero time for a device never seen.
func (d Device) LastSeenAt() time.Time {
	if d.LastSeen == nil {
		return time.Time{}
	}
	return *d.LastSeen
}

// HasGeofence reports whether at least one polygon is configured.
func (d Device) HasGeofence() bool {
	for _, polygon := range d.Geofence {
		if len(polygon) > 0 && len(polygon[0]) >= 3 {
			return true
		}
	}
	return false
}

// IsActiveAt derives the active flag at read time: a device whose lastSeen
// is older than timeout is inactive regardless of the stored flag.
func IsActiveAt(d Device, now time.Time, timeout time.Duration) bool {
	if !d.IsActive || d.LastSeen == nil {
		return false
	}
	if timeout <= 0 {
		return true
	}
	return now.Sub(*d.LastSeen) <= timeout
}

// DevicePatch holds the fields the ingestion core may change. Nil fields
// are left untouched.
type DevicePatch struct {
	LastSeen        *time.Time
	IsActive        *bool
	CurrentLocation *CurrentLocation
}

// Validate checks device invariants.
func (d Device) Validate() error {
	if d.ExternalID == "" {
		return errors.New("device: empty external id")
	}
	for _, polygon := range d.Geofence {
		if len(polygon) == 0 || len(polygon[0]) < 3 {
			return errors.New("device: geofence polygon needs an outer ring of at least 3 points")
		}
	}
	return nil
}

// DeviceRepository persists device records. FindDevice and UpdateDevice
// return (nil, nil) when the device does not exist.
type DeviceRepository interface {
	FindDevice(ctx context.Context, key string) (*Device, error)
	UpdateDevice(ctx context.Context, key string, patch DevicePatch) (*Device, error)
	ListDevices(ctx context.Context) ([]Device, error)
}
