package application

import (
	"time"

	tracking "geotrack-cloud/internal/tracking/domain"
)

// LocationEvent is broadcast for every accepted sample.
type LocationEvent struct {
	DeviceID   string            `json:"deviceId"`
	Name       string            `json:"name"`
	Lat        float64           `json:"lat"`
	Lng        float64           `json:"lng"`
	Speed      *float64          `json:"speed,omitempty"`
	Accuracy   *float64          `json:"accuracy,omitempty"`
	Satellites *int              `json:"satellites,omitempty"`
	Battery    *tracking.Battery `json:"battery,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	ReceivedAt time.Time         `json:"receivedAt"`
}

// HeartbeatEvent is broadcast for a heartbeat without position.
type HeartbeatEvent struct {
	DeviceID string    `json:"deviceId"`
	Name     string    `json:"name"`
	LastSeen time.Time `json:"lastSeen"`
}

// InactivityEvent is broadcast when a device goes silent or comes back.
type InactivityEvent struct {
	DeviceID string     `json:"deviceId"`
	Name     string     `json:"name"`
	Active   bool       `json:"active"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
	At       time.Time  `json:"at"`
}

func newLocationEvent(device tracking.Device, sample tracking.Sample, now time.Time) LocationEvent {
	return LocationEvent{
		DeviceID:   device.ExternalID,
		Name:       device.DisplayName(),
		Lat:        sample.Lat,
		Lng:        sample.Lng,
		Speed:      sample.Speed,
		Accuracy:   sample.Accuracy,
		Satellites: sample.Satellites,
		Battery:    sample.Battery,
		Timestamp:  sample.Timestamp,
		ReceivedAt: now,
	}
}
