package memory

import (
	"context"
	"errors"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	tracking "geotrack-cloud/internal/tracking/domain"
)

// Store is an in-memory device and location repository.
type Store struct {
	mu        sync.RWMutex
	devices   map[string]*tracking.Device
	locations map[string][]tracking.LocationRecord
	now       func() time.Time
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		devices:   make(map[string]*tracking.Device),
		locations: make(map[string][]tracking.LocationRecord),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// PutDevice inserts or replaces a device, assigning an id when empty.
func (s *Store) PutDevice(device tracking.Device) error {
	if err := device.Validate(); err != nil {
		return err
	}
	if device.ID == "" {
		device.ID = uuid.NewString()
	}
	now := s.now()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now
	s.mu.Lock()
	s.devices[device.ExternalID] = cloneDevice(&device)
	s.mu.Unlock()
	return nil
}

// FindDevice implements tracking.DeviceRepository.
func (s *Store) FindDevice(_ context.Context, key string) (*tracking.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	device := s.devices[key]
	if device == nil {
		return nil, nil
	}
	return cloneDevice(device), nil
}

// UpdateDevice implements tracking.DeviceRepository.
func (s *Store) UpdateDevice(_ context.Context, key string, patch tracking.DevicePatch) (*tracking.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	device := s.devices[key]
	if device == nil {
		return nil, nil
	}
	if patch.LastSeen != nil {
		ts := patch.LastSeen.UTC()
		device.LastSeen = &ts
	}
	if patch.IsActive != nil {
		device.IsActive = *patch.IsActive
	}
	if patch.CurrentLocation != nil {
		device.CurrentLocation = cloneLocation(patch.CurrentLocation)
	}
	device.UpdatedAt = s.now()
	return cloneDevice(device), nil
}

// ListDevices implements tracking.DeviceRepository, ordered by external id.
func (s *Store) ListDevices(_ context.Context) ([]tracking.Device, error) {
	s.mu.RLock()
	result := make([]tracking.Device, 0, len(s.devices))
	for _, device := range s.devices {
		result = append(result, *cloneDevice(device))
	}
	s.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool { return result[i].ExternalID < result[j].ExternalID })
	return result, nil
}

// AppendLocation implements tracking.LocationRepository.
func (s *Store) AppendLocation(_ context.Context, record *tracking.LocationRecord) error {
	if record == nil {
		return errors.New("memory store: nil location record")
	}
	if record.DeviceKey == "" || record.Timestamp.IsZero() {
		return errors.New("memory store: invalid location record")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now()
	}
	s.mu.Lock()
	s.locations[record.DeviceKey] = append(s.locations[record.DeviceKey], cloneRecord(*record))
	s.mu.Unlock()
	return nil
}

// FindLastLocationTimestamp implements tracking.LocationRepository.
func (s *Store) FindLastLocationTimestamp(_ context.Context, deviceKey string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last time.Time
	found := false
	for _, record := range s.locations[deviceKey] {
		if !found || record.Timestamp.After(last) {
			last = record.Timestamp
			found = true
		}
	}
	return last, found, nil
}

// ListLocations implements tracking.LocationRepository.
func (s *Store) ListLocations(_ context.Context, deviceKey string, from, to time.Time) ([]tracking.LocationRecord, error) {
	s.mu.RLock()
	var result []tracking.LocationRecord
	for _, record := range s.locations[deviceKey] {
		if record.Timestamp.Before(from) || !record.Timestamp.Before(to) {
			continue
		}
		result = append(result, cloneRecord(record))
	}
	s.mu.RUnlock()
	sort.SliceStable(result, func(i, j int) bool { return result[i].Timestamp.Before(result[j].Timestamp) })
	return result, nil
}

// Locations returns the stored history of a device in insertion order.
func (s *Store) Locations(deviceKey string) []tracking.LocationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]tracking.LocationRecord, 0, len(s.locations[deviceKey]))
	for _, record := range s.locations[deviceKey] {
		result = append(result, cloneRecord(record))
	}
	return result
}

func cloneDevice(device *tracking.Device) *tracking.Device {
	if device == nil {
		return nil
	}
	clone := *device
	if device.LastSeen != nil {
		ts := *device.LastSeen
		clone.LastSeen = &ts
	}
	clone.CurrentLocation = cloneLocation(device.CurrentLocation)
	if device.Geofence != nil {
		clone.Geofence = make([]tracking.Polygon, len(device.Geofence))
		for i, polygon := range device.Geofence {
			rings := make(tracking.Polygon, len(polygon))
			for j, ring := range polygon {
				rings[j] = append(tracking.Ring(nil), ring...)
			}
			clone.Geofence[i] = rings
		}
	}
	return &clone
}

func cloneRecord(record tracking.LocationRecord) tracking.LocationRecord {
	record.Telemetry = cloneTelemetry(record.Telemetry)
	if record.Metadata != nil {
		record.Metadata = maps.Clone(record.Metadata)
	}
	return record
}

func cloneLocation(loc *tracking.CurrentLocation) *tracking.CurrentLocation {
	if loc == nil {
		return nil
	}
	clone := *loc
	clone.Telemetry = cloneTelemetry(loc.Telemetry)
	return &clone
}

func cloneTelemetry(t tracking.Telemetry) tracking.Telemetry {
	clone := tracking.Telemetry{
		Speed:      clonePtr(t.Speed),
		Accuracy:   clonePtr(t.Accuracy),
		Satellites: clonePtr(t.Satellites),
	}
	if t.Battery != nil {
		clone.Battery = &tracking.Battery{
			Level:      clonePtr(t.Battery.Level),
			IsCharging: clonePtr(t.Battery.IsCharging),
		}
	}
	return clone
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
