package notify

import "time"

// Kind identifies what an alert reports.
type Kind string

const (
	KindGeofenceEnter Kind = "geofence_enter"
	KindGeofenceExit  Kind = "geofence_exit"
	KindInactive      Kind = "inactive"
	KindActive        Kind = "active"
)

// Location is the position attached to an alert.
type Location struct {
	Lat float64
	Lng float64
}

// Alert is an alert intent raised on the ingestion path and rendered off it.
type Alert struct {
	Kind       Kind
	DeviceKey  string
	DeviceName string
	Location   *Location
	At         time.Time
	LastSeen   time.Time
	OutsideFor time.Duration
}

func (a Alert) device() string {
	if a.DeviceName != "" {
		return a.DeviceName
	}
	return a.DeviceKey
}
