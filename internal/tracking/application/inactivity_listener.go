package application

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"geotrack-cloud/internal/alerts/notify"
	"geotrack-cloud/internal/clock"
	"geotrack-cloud/internal/logging"
	"geotrack-cloud/internal/observability/metrics"
	"geotrack-cloud/internal/realtime"
	tracking "geotrack-cloud/internal/tracking/domain"
)

// InactivityListener applies inactivity transitions to device state,
// the live view and the alert channel.
type InactivityListener struct {
	states    *DeviceStateService
	publisher Publisher
	alerts    AlertSender
	clock     clock.Clock
	logger    logrus.FieldLogger
}

// NewInactivityListener constructs the listener. publisher and alerts may be nil.
func NewInactivityListener(states *DeviceStateService, publisher Publisher, alerts AlertSender, c clock.Clock, logger logrus.FieldLogger) (*InactivityListener, error) {
	if states == nil {
		return nil, errors.New("inactivity listener: nil device state service")
	}
	if c == nil {
		c = clock.Real()
	}
	return &InactivityListener{
		states:    states,
		publisher: publisher,
		alerts:    alerts,
		clock:     c,
		logger:    logging.OrStandard(logger).WithField("component", "inactivity"),
	}, nil
}

// DeviceInactive marks the device inactive, broadcasts and optionally alerts.
func (l *InactivityListener) DeviceInactive(ctx context.Context, deviceKey string, alert bool) {
	metrics.IncInactivityEvent("inactive")
	device, err := l.states.MarkInactive(ctx, deviceKey)
	if err != nil {
		l.logger.WithError(err).WithField("device", deviceKey).Error("mark device inactive")
		device = &tracking.Device{ExternalID: deviceKey}
	}
	l.emit(*device, false, alert)
}

// DeviceActive broadcasts reactivation and optionally alerts. The stored
// flag was already set by the sample that caused it.
func (l *InactivityListener) DeviceActive(ctx context.Context, deviceKey string, alert bool) {
	metrics.IncInactivityEvent("active")
	device, err := l.states.Get(ctx, deviceKey)
	if err != nil {
		l.logger.WithError(err).WithField("device", deviceKey).Warn("load reactivated device")
		device = &tracking.Device{ExternalID: deviceKey}
	}
	l.emit(*device, true, alert)
}

func (l *InactivityListener) emit(device tracking.Device, active, alert bool) {
	now := l.clock.Now()
	if l.publisher != nil {
		l.publisher.Publish(realtime.EventInactivity, InactivityEvent{
			DeviceID: device.ExternalID,
			Name:     device.DisplayName(),
			Active:   active,
			LastSeen: device.LastSeen,
			At:       now,
		})
	}
	if !alert || l.alerts == nil {
		return
	}
	kind := notify.KindInactive
	if active {
		kind = notify.KindActive
	}
	out := notify.Alert{
		Kind:       kind,
		DeviceKey:  device.ExternalID,
		DeviceName: device.Name,
		At:         now,
		LastSeen:   device.LastSeenAt(),
	}
	if device.CurrentLocation != nil {
		out.Location = &notify.Location{Lat: device.CurrentLocation.Lat, Lng: device.CurrentLocation.Lng}
	}
	l.alerts.Dispatch(out)
}
