package application

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"geotrack-cloud/internal/alerts/notify"
	"geotrack-cloud/internal/clock"
	"geotrack-cloud/internal/geofence"
	"geotrack-cloud/internal/inactivity"
	tracking "geotrack-cloud/internal/tracking/domain"
	"geotrack-cloud/internal/tracking/infrastructure/memory"
)

const (
	testTimeout   = 5 * time.Minute
	testExitDwell = 30 * time.Second
	testCooldown  = 5 * time.Minute
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

var square = []tracking.Polygon{{tracking.Ring{{0, 0}, {0, 1}, {1, 1}, {1, 0}}}}

type published struct {
	name    string
	payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(name string, payload any) {
	p.mu.Lock()
	p.events = append(p.events, published{name: name, payload: payload})
	p.mu.Unlock()
}

func (p *recordingPublisher) named(name string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, e := range p.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

type recordingAlerts struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (a *recordingAlerts) Dispatch(alert notify.Alert) {
	a.mu.Lock()
	a.alerts = append(a.alerts, alert)
	a.mu.Unlock()
}

func (a *recordingAlerts) kinds() []notify.Kind {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]notify.Kind, 0, len(a.alerts))
	for _, alert := range a.alerts {
		out = append(out, alert.Kind)
	}
	return out
}

type harness struct {
	store     *memory.Store
	clock     *clock.FakeClock
	states    *DeviceStateService
	history   *HistoryWriter
	geofences *geofence.Evaluator
	scheduler *inactivity.Scheduler
	publisher *recordingPublisher
	alerts    *recordingAlerts
	gateway   *Gateway
}

func newHarness(t *testing.T, locations tracking.LocationRepository) *harness {
	t.Helper()
	h := &harness{
		store:     memory.NewStore(),
		clock:     clock.Fake(t0),
		publisher: &recordingPublisher{},
		alerts:    &recordingAlerts{},
	}
	if err := h.store.PutDevice(tracking.Device{ExternalID: "fenced", Name: "Truck 1", Geofence: square}); err != nil {
		t.Fatalf("put device: %v", err)
	}
	if err := h.store.PutDevice(tracking.Device{ExternalID: "free", Name: "Van 2"}); err != nil {
		t.Fatalf("put device: %v", err)
	}
	if locations == nil {
		locations = h.store
	}

	var err error
	if h.states, err = NewDeviceStateService(h.store, h.clock, testTimeout); err != nil {
		t.Fatalf("device state: %v", err)
	}
	if h.history, err = NewHistoryWriter(locations, h.clock); err != nil {
		t.Fatalf("history: %v", err)
	}
	if h.geofences, err = geofence.NewEvaluator(testExitDwell, testCooldown); err != nil {
		t.Fatalf("geofence: %v", err)
	}
	listener, err := NewInactivityListener(h.states, h.publisher, h.alerts, h.clock, nil)
	if err != nil {
		t.Fatalf("listener: %v", err)
	}
	locks := NewDeviceLocks()
	h.scheduler, err = inactivity.NewScheduler(inactivity.Config{
		Timeout:               testTimeout,
		InactiveAlertCooldown: 15 * time.Minute,
		ActiveAlertCooldown:   15 * time.Minute,
	}, listener, inactivity.WithClock(h.clock), inactivity.WithLocker(locks))
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	t.Cleanup(h.scheduler.Stop)

	h.gateway, err = NewGateway(h.states, h.history,
		WithGeofences(h.geofences),
		WithActivityTracker(h.scheduler),
		WithPublisher(h.publisher),
		WithAlerts(h.alerts),
		WithLocks(locks),
		WithClock(h.clock),
	)
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	return h
}

func (h *harness) send(t *testing.T, key string, lat, lng float64) {
	t.Helper()
	raw := fmt.Sprintf(`{"latitude":%v,"longitude":%v}`, lat, lng)
	if err := h.gateway.Process(context.Background(), key, []byte(raw)); err != nil {
		t.Fatalf("process %s: %v", key, err)
	}
}
