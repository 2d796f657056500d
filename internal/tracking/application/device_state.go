package application

import (
	"context"
	"errors"
	"time"

	"geotrack-cloud/internal/clock"
	tracking "geotrack-cloud/internal/tracking/domain"
)

// DeviceStateService owns the latest known state of each device.
type DeviceStateService struct {
	repo    tracking.DeviceRepository
	clock   clock.Clock
	timeout time.Duration
}

// NewDeviceStateService constructs the service. timeout drives the
// read-time active derivation.
func NewDeviceStateService(repo tracking.DeviceRepository, c clock.Clock, timeout time.Duration) (*DeviceStateService, error) {
	if repo == nil {
		return nil, errors.New("device state: nil repository")
	}
	if c == nil {
		c = clock.Real()
	}
	return &DeviceStateService{repo: repo, clock: c, timeout: timeout}, nil
}

// UpdateCurrent stamps lastSeen, marks the device active and replaces its
// current location with the sample.
func (s *DeviceStateService) UpdateCurrent(ctx context.Context, deviceKey string, sample tracking.Sample) (*tracking.Device, error) {
	now := s.clock.Now()
	active := true
	return s.patch(ctx, deviceKey, tracking.DevicePatch{
		LastSeen: &now,
		IsActive: &active,
		CurrentLocation: &tracking.CurrentLocation{
			Point:     sample.Point,
			Telemetry: sample.Telemetry,
			Timestamp: sample.Timestamp,
		},
	})
}

// Touch records a heartbeat without a position.
func (s *DeviceStateService) Touch(ctx context.Context, deviceKey string) (*tracking.Device, error) {
	now := s.clock.Now()
	active := true
	return s.patch(ctx, deviceKey, tracking.DevicePatch{LastSeen: &now, IsActive: &active})
}

// MarkInactive clears the stored active flag.
func (s *DeviceStateService) MarkInactive(ctx context.Context, deviceKey string) (*tracking.Device, error) {
	inactive := false
	return s.patch(ctx, deviceKey, tracking.DevicePatch{IsActive: &inactive})
}

// Get returns the device with IsActive derived at read time.
func (s *DeviceStateService) Get(ctx context.Context, deviceKey string) (*tracking.Device, error) {
	device, err := s.repo.FindDevice(ctx, deviceKey)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, tracking.ErrDeviceNotFound
	}
	device.IsActive = tracking.IsActiveAt(*device, s.clock.Now(), s.timeout)
	return device, nil
}

// List returns every device with the stored flags untouched, for
// rebuilding runtime state at startup.
func (s *DeviceStateService) List(ctx context.Context) ([]tracking.Device, error) {
	return s.repo.ListDevices(ctx)
}

// Status is the read model served to clients.
type Status struct {
	tracking.Device
	SilentFor string `json:"silentFor,omitempty"`
}

// Status returns the derived device view.
func (s *DeviceStateService) Status(ctx context.Context, deviceKey string) (Status, error) {
	device, err := s.Get(ctx, deviceKey)
	if err != nil {
		return Status{}, err
	}
	status := Status{Device: *device}
	if device.LastSeen != nil {
		status.SilentFor = s.clock.Now().Sub(*device.LastSeen).Round(time.Second).String()
	}
	return status, nil
}

func (s *DeviceStateService) patch(ctx context.Context, deviceKey string, patch tracking.DevicePatch) (*tracking.Device, error) {
	device, err := s.repo.UpdateDevice(ctx, deviceKey, patch)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, tracking.ErrDeviceNotFound
	}
	return device, nil
}
