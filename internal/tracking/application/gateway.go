package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"geotrack-cloud/internal/alerts/notify"
	"geotrack-cloud/internal/clock"
	"geotrack-cloud/internal/geofence"
	"geotrack-cloud/internal/logging"
	"geotrack-cloud/internal/observability/metrics"
	"geotrack-cloud/internal/realtime"
	tracking "geotrack-cloud/internal/tracking/domain"
)

// Publisher pushes events to live subscribers.
type Publisher interface {
	Publish(name string, payload any)
}

// AlertSender hands alerts to background delivery.
type AlertSender interface {
	Dispatch(alert notify.Alert)
}

// GeofenceEvaluator classifies a point against a device's fences.
// Forget drops the state of a device whose fence was removed.
type GeofenceEvaluator interface {
	Evaluate(deviceKey string, fences []tracking.Polygon, p tracking.Point, now time.Time) geofence.Decision
	Forget(deviceKey string)
}

// ActivityTracker is reset on every accepted sample or heartbeat.
type ActivityTracker interface {
	Bump(deviceKey string)
}

// Gateway validates raw samples and drives every per-sample side effect
// under the device's lock.
type Gateway struct {
	states    *DeviceStateService
	history   *HistoryWriter
	geofences GeofenceEvaluator
	activity  ActivityTracker
	publisher Publisher
	alerts    AlertSender
	locks     *DeviceLocks
	clock     clock.Clock
	logger    logrus.FieldLogger
}

// GatewayOption configures the gateway.
type GatewayOption func(*Gateway)

// WithGeofences sets the geofence evaluator.
func WithGeofences(evaluator GeofenceEvaluator) GatewayOption {
	return func(g *Gateway) { g.geofences = evaluator }
}

// WithActivityTracker sets the inactivity scheduler.
func WithActivityTracker(tracker ActivityTracker) GatewayOption {
	return func(g *Gateway) { g.activity = tracker }
}

// WithPublisher sets the realtime publisher.
func WithPublisher(publisher Publisher) GatewayOption {
	return func(g *Gateway) { g.publisher = publisher }
}

// WithAlerts sets the alert sender.
func WithAlerts(alerts AlertSender) GatewayOption {
	return func(g *Gateway) { g.alerts = alerts }
}

// WithLocks shares a lock table with other components.
func WithLocks(locks *DeviceLocks) GatewayOption {
	return func(g *Gateway) {
		if locks != nil {
			g.locks = locks
		}
	}
}

// WithClock overrides the time source.
func WithClock(c clock.Clock) GatewayOption {
	return func(g *Gateway) {
		if c != nil {
			g.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) GatewayOption {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGateway constructs an ingestion gateway.
func NewGateway(states *DeviceStateService, history *HistoryWriter, opts ...GatewayOption) (*Gateway, error) {
	if states == nil {
		return nil, errors.New("gateway: nil device state service")
	}
	if history == nil {
		return nil, errors.New("gateway: nil history writer")
	}
	g := &Gateway{
		states:  states,
		history: history,
		locks:   NewDeviceLocks(),
		clock:   clock.Real(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logging.OrStandard(g.logger).WithField("component", "ingest")
	return g, nil
}

// Ingest processes a raw sample for transports that cannot report errors.
// Failures are logged and never propagate.
func (g *Gateway) Ingest(ctx context.Context, deviceKey string, raw []byte) {
	defer g.recover(deviceKey)
	_ = g.Process(ctx, deviceKey, raw)
}

// Process runs the ingestion pipeline and reports validation and lookup
// failures to synchronous callers.
func (g *Gateway) Process(ctx context.Context, deviceKey string, raw []byte) error {
	start := time.Now()
	now := g.clock.Now()
	log := g.logger.WithField("device", deviceKey)

	sample, err := tracking.ParseSample(raw, now)
	if err != nil {
		metrics.IncIngestError(tracking.ReasonOf(err))
		metrics.ObserveIngest(metrics.ResultDropped, time.Since(start))
		log.WithError(err).Warn("sample dropped")
		return err
	}
	if len(sample.Ignored) > 0 {
		log.WithField("fields", sample.Ignored).Warn("ignored mistyped optional fields")
	}

	unlock := g.locks.Lock(deviceKey)
	defer unlock()

	device, err := g.states.UpdateCurrent(ctx, deviceKey, sample)
	switch {
	case errors.Is(err, tracking.ErrDeviceNotFound):
		metrics.IncIngestError("unknown_device")
		metrics.ObserveIngest(metrics.ResultDropped, time.Since(start))
		log.Warn("sample dropped: unknown device")
		return err
	case err != nil:
		// The live view and history do not depend on this write.
		log.WithError(err).Error("update device state")
		device = &tracking.Device{ExternalID: deviceKey}
	}

	g.publish(realtime.EventLocation, newLocationEvent(*device, sample, now))

	if _, err := g.history.Append(ctx, *device, sample); err != nil {
		metrics.IncHistoryAppend(metrics.ResultError)
		log.WithError(err).Error("append location history")
	} else {
		metrics.IncHistoryAppend(metrics.ResultSuccess)
	}

	g.evaluateGeofence(*device, sample, now)

	if g.activity != nil {
		g.activity.Bump(deviceKey)
	}
	metrics.ObserveIngest(metrics.ResultSuccess, time.Since(start))
	return nil
}

// Heartbeat refreshes lastSeen without a position.
func (g *Gateway) Heartbeat(ctx context.Context, deviceKey string) error {
	log := g.logger.WithField("device", deviceKey)
	unlock := g.locks.Lock(deviceKey)
	defer unlock()

	device, err := g.states.Touch(ctx, deviceKey)
	switch {
	case errors.Is(err, tracking.ErrDeviceNotFound):
		metrics.IncIngestError("unknown_device")
		log.Warn("heartbeat dropped: unknown device")
		return err
	case err != nil:
		log.WithError(err).Error("touch device")
		now := g.clock.Now()
		device = &tracking.Device{ExternalID: deviceKey, LastSeen: &now}
	}

	g.publish(realtime.EventHeartbeat, HeartbeatEvent{
		DeviceID: deviceKey,
		Name:     device.DisplayName(),
		LastSeen: device.LastSeenAt(),
	})
	if g.activity != nil {
		g.activity.Bump(deviceKey)
	}
	return nil
}

// HeartbeatAsync is Heartbeat for transports that cannot report errors.
func (g *Gateway) HeartbeatAsync(ctx context.Context, deviceKey string) {
	defer g.recover(deviceKey)
	_ = g.Heartbeat(ctx, deviceKey)
}

func (g *Gateway) evaluateGeofence(device tracking.Device, sample tracking.Sample, now time.Time) {
	if g.geofences == nil {
		return
	}
	if !device.HasGeofence() {
		g.geofences.Forget(device.ExternalID)
		return
	}
	decision := g.geofences.Evaluate(device.ExternalID, device.Geofence, sample.Point, now)
	if !decision.Alert() {
		return
	}
	metrics.IncGeofenceAlert(string(decision.Event))
	g.logger.WithFields(logrus.Fields{
		"device": device.ExternalID,
		"event":  string(decision.Event),
	}).Info("geofence alert")

	kind := notify.KindGeofenceEnter
	if decision.Event == geofence.EventExit {
		kind = notify.KindGeofenceExit
	}
	if g.alerts != nil {
		g.alerts.Dispatch(notify.Alert{
			Kind:       kind,
			DeviceKey:  device.ExternalID,
			DeviceName: device.Name,
			Location:   &notify.Location{Lat: sample.Lat, Lng: sample.Lng},
			At:         now,
			OutsideFor: decision.OutsideFor,
		})
	}
}

func (g *Gateway) publish(name string, payload any) {
	if g.publisher != nil {
		g.publisher.Publish(name, payload)
	}
}

func (g *Gateway) recover(deviceKey string) {
	if r := recover(); r != nil {
		metrics.IncIngestError("panic")
		g.logger.WithField("device", deviceKey).WithError(fmt.Errorf("%v", r)).Error("ingest panic recovered")
	}
}
