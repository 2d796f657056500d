package inactivity

import (
	"context"
	"sync"
	"testing"
	"time"

	"geotrack-cloud/internal/clock"
)

type transition struct {
	key      string
	inactive bool
	alert    bool
}

type recordingListener struct {
	mu     sync.Mutex
	events []transition
}

func (l *recordingListener) DeviceInactive(_ context.Context, key string, alert bool) {
	l.mu.Lock()
	l.events = append(l.events, transition{key: key, inactive: true, alert: alert})
	l.mu.Unlock()
}

func (l *recordingListener) DeviceActive(_ context.Context, key string, alert bool) {
	l.mu.Lock()
	l.events = append(l.events, transition{key: key, inactive: false, alert: alert})
	l.mu.Unlock()
}

func (l *recordingListener) snapshot() []transition {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]transition(nil), l.events...)
}

var start = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func newScheduler(t *testing.T, cfg Config) (*Scheduler, *recordingListener, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(start)
	listener := &recordingListener{}
	s, err := NewScheduler(cfg, listener, WithClock(fake))
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	t.Cleanup(s.Stop)
	return s, listener, fake
}

func TestBumpBeforeTimeoutKeepsDeviceActive(t *testing.T) {
	s, listener, fake := newScheduler(t, Config{Timeout: time.Minute})
	s.Bump("dev-1")
	fake.Advance(time.Minute - time.Millisecond)
	s.Bump("dev-1")
	fake.Advance(time.Minute - time.Millisecond)

	if events := listener.snapshot(); len(events) != 0 {
		t.Fatalf("expected no transitions, got %+v", events)
	}
	if fake.Pending() != 1 {
		t.Fatalf("expected exactly one pending timer, got %d", fake.Pending())
	}
}

func TestTimeoutMarksInactiveThenReactivates(t *testing.T) {
	s, listener, fake := newScheduler(t, Config{Timeout: time.Minute})
	s.Bump("dev-1")
	fake.Advance(time.Minute)

	events := listener.snapshot()
	if len(events) != 1 || !events[0].inactive || !events[0].alert {
		t.Fatalf("expected one inactive alert, got %+v", events)
	}
	state, _ := s.State("dev-1")
	if !state.Inactive || state.Scheduled {
		t.Fatalf("unexpected state %+v", state)
	}

	s.Bump("dev-1")
	events = listener.snapshot()
	if len(events) != 2 || events[1].inactive || !events[1].alert {
		t.Fatalf("expected active-again alert, got %+v", events)
	}
	fake.Advance(30 * time.Second)
	if len(listener.snapshot()) != 2 {
		t.Fatalf("expected no further transitions")
	}
}

func TestInactiveAlertCooldown(t *testing.T) {
	s, listener, fake := newScheduler(t, Config{
		Timeout:               time.Minute,
		InactiveAlertCooldown: time.Hour,
		ActiveAlertCooldown:   time.Hour,
	})
	s.Bump("dev-1")
	fake.Advance(time.Minute)
	s.Bump("dev-1")
	fake.Advance(time.Minute)
	s.Bump("dev-1")

	events := listener.snapshot()
	if len(events) != 4 {
		t.Fatalf("expected four transitions, got %+v", events)
	}
	want := []transition{
		{key: "dev-1", inactive: true, alert: true},
		{key: "dev-1", inactive: false, alert: true},
		{key: "dev-1", inactive: true, alert: false},
		{key: "dev-1", inactive: false, alert: false},
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("transition %d: expected %+v, got %+v", i, want[i], events[i])
		}
	}
}

func TestRestoreComputesRemaining(t *testing.T) {
	s, listener, fake := newScheduler(t, Config{Timeout: 10 * time.Minute})
	restored := s.Restore([]Seed{
		{DeviceKey: "recent", LastSeen: start.Add(-4 * time.Minute)},
		{DeviceKey: "overdue", LastSeen: start.Add(-time.Hour)},
		{DeviceKey: "asleep", LastSeen: start.Add(-time.Hour), Inactive: true},
		{DeviceKey: "never"},
	})
	if restored != 2 {
		t.Fatalf("expected 2 restored timers, got %d", restored)
	}

	fake.Advance(0)
	events := listener.snapshot()
	if len(events) != 1 || events[0].key != "overdue" || !events[0].inactive {
		t.Fatalf("expected overdue device to expire immediately, got %+v", events)
	}

	fake.Advance(6*time.Minute - time.Second)
	if len(listener.snapshot()) != 1 {
		t.Fatalf("expected recent device still active")
	}
	fake.Advance(time.Second)
	events = listener.snapshot()
	if len(events) != 2 || events[1].key != "recent" {
		t.Fatalf("expected recent device to expire at its remaining time, got %+v", events)
	}

	s.Bump("asleep")
	events = listener.snapshot()
	if len(events) != 3 || events[2].key != "asleep" || events[2].inactive {
		t.Fatalf("expected asleep device reported active, got %+v", events)
	}
	if _, ok := s.State("never"); ok {
		t.Fatalf("expected never-seen device to be skipped")
	}
}

func TestSupersededTimerIsIgnored(t *testing.T) {
	s, listener, _ := newScheduler(t, Config{Timeout: time.Minute})
	s.Bump("dev-1")
	s.mu.Lock()
	staleGen := s.entries["dev-1"].gen
	s.mu.Unlock()

	s.Bump("dev-1")
	s.expire("dev-1", staleGen)
	if events := listener.snapshot(); len(events) != 0 {
		t.Fatalf("expected stale expiry to be ignored, got %+v", events)
	}
}

type countingLocker struct {
	mu    sync.Mutex
	locks map[string]int
}

func (l *countingLocker) Lock(key string) func() {
	l.mu.Lock()
	l.locks[key]++
	l.mu.Unlock()
	return func() {}
}

func TestExpiryTakesDeviceLock(t *testing.T) {
	fake := clock.Fake(start)
	locker := &countingLocker{locks: make(map[string]int)}
	s, err := NewScheduler(Config{Timeout: time.Minute}, &recordingListener{}, WithClock(fake), WithLocker(locker))
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	defer s.Stop()
	s.Bump("dev-1")
	fake.Advance(time.Minute)
	if locker.locks["dev-1"] != 1 {
		t.Fatalf("expected expiry to lock the device once, got %d", locker.locks["dev-1"])
	}
}

func TestStopCancelsTimers(t *testing.T) {
	s, listener, fake := newScheduler(t, Config{Timeout: time.Minute})
	s.Bump("dev-1")
	s.Bump("dev-2")
	s.Stop()
	fake.Advance(time.Hour)
	if events := listener.snapshot(); len(events) != 0 {
		t.Fatalf("expected no transitions after stop, got %+v", events)
	}
	s.Bump("dev-1")
	if fake.Pending() != 0 {
		t.Fatalf("expected bump after stop to be ignored")
	}
}

func TestNewSchedulerValidates(t *testing.T) {
	if _, err := NewScheduler(Config{Timeout: time.Minute}, nil); err == nil {
		t.Fatalf("expected error for nil listener")
	}
	if _, err := NewScheduler(Config{}, &recordingListener{}); err == nil {
		t.Fatalf("expected error for zero timeout")
	}
}
