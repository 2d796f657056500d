package application

import (
	"context"
	"errors"
	"time"

	"geotrack-cloud/internal/clock"
	tracking "geotrack-cloud/internal/tracking/domain"
	visits "geotrack-cloud/internal/visits/domain"
)

const defaultWindow = 24 * time.Hour

// History returns a device's stored locations for a trailing window.
type History interface {
	Recent(ctx context.Context, deviceKey string, window time.Duration) ([]tracking.LocationRecord, error)
}

// Service clusters a device's recent history into visits on demand.
type Service struct {
	devices tracking.DeviceRepository
	history History
	params  visits.Params
	window  time.Duration
	clock   clock.Clock
}

// Option configures the service.
type Option func(*Service)

// WithParams overrides clustering parameters.
func WithParams(p visits.Params) Option {
	return func(s *Service) { s.params = p }
}

// WithWindow sets the default trailing window.
func WithWindow(window time.Duration) Option {
	return func(s *Service) {
		if window > 0 {
			s.window = window
		}
	}
}

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// NewService constructs a visit service.
func NewService(devices tracking.DeviceRepository, history History, opts ...Option) (*Service, error) {
	if devices == nil {
		return nil, errors.New("visits: nil repository")
	}
	if history == nil {
		return nil, errors.New("visits: nil history")
	}
	s := &Service{
		devices: devices,
		history: history,
		params:  visits.DefaultParams(),
		window:  defaultWindow,
		clock:   clock.Real(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.params.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Report is the visit list for one device and window.
type Report struct {
	DeviceKey  string         `json:"deviceId"`
	DeviceName string         `json:"name"`
	From       time.Time      `json:"from"`
	To         time.Time      `json:"to"`
	Visits     []visits.Visit `json:"visits"`
}

// Recent clusters the trailing window. A non-positive window uses the default.
func (s *Service) Recent(ctx context.Context, deviceKey string, window time.Duration) (Report, error) {
	if window <= 0 {
		window = s.window
	}
	device, err := s.devices.FindDevice(ctx, deviceKey)
	if err != nil {
		return Report{}, err
	}
	if device == nil {
		return Report{}, tracking.ErrDeviceNotFound
	}
	to := s.clock.Now()
	from := to.Add(-window)
	records, err := s.history.Recent(ctx, deviceKey, window)
	if err != nil {
		return Report{}, err
	}
	samples := make([]visits.Sample, 0, len(records))
	for _, record := range records {
		samples = append(samples, visits.Sample{Lat: record.Lat, Lng: record.Lng, At: record.Timestamp})
	}
	result := visits.Cluster(samples, s.params)
	if result == nil {
		result = []visits.Visit{}
	}
	return Report{
		DeviceKey:  deviceKey,
		DeviceName: device.DisplayName(),
		From:       from,
		To:         to,
		Visits:     result,
	}, nil
}
