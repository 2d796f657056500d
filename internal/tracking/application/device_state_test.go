package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"geotrack-cloud/internal/clock"
	tracking "geotrack-cloud/internal/tracking/domain"
	"geotrack-cloud/internal/tracking/infrastructure/memory"
)

func TestGetDerivesInactiveFromStaleLastSeen(t *testing.T) {
	store := memory.NewStore()
	lastSeen := t0
	if err := store.PutDevice(tracking.Device{ExternalID: "dev-1", IsActive: true, LastSeen: &lastSeen}); err != nil {
		t.Fatalf("put device: %v", err)
	}
	fake := clock.Fake(t0)
	states, err := NewDeviceStateService(store, fake, time.Minute)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	fake.Advance(time.Minute)
	device, err := states.Get(context.Background(), "dev-1")
	if err != nil || !device.IsActive {
		t.Fatalf("expected active at exactly the timeout, got %+v %v", device, err)
	}
	fake.Advance(time.Millisecond)
	status, err := states.Status(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.IsActive {
		t.Fatalf("expected stale device reported inactive")
	}
	if status.SilentFor != "1m0s" {
		t.Fatalf("unexpected silentFor %q", status.SilentFor)
	}
	stored, _ := store.FindDevice(context.Background(), "dev-1")
	if !stored.IsActive {
		t.Fatalf("expected stored flag untouched by reads")
	}
}

func TestUpdateCurrentUnknownDevice(t *testing.T) {
	states, _ := NewDeviceStateService(memory.NewStore(), clock.Fake(t0), time.Minute)
	if _, err := states.UpdateCurrent(context.Background(), "ghost", tracking.Sample{}); !errors.Is(err, tracking.ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
	if _, err := states.Get(context.Background(), "ghost"); !errors.Is(err, tracking.ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
	if _, err := NewDeviceStateService(nil, nil, time.Minute); err == nil {
		t.Fatalf("expected error for nil repository")
	}
}

func TestDeviceLocksSerializePerKey(t *testing.T) {
	locks := NewDeviceLocks()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("dev-1")
			defer unlock()
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("expected 50 serialized increments, got %d", counter)
	}
	if locks.Len() != 0 {
		t.Fatalf("expected lock table to drain, got %d", locks.Len())
	}

	unlock := locks.Lock("a")
	otherDone := make(chan struct{})
	go func() {
		release := locks.Lock("b")
		release()
		close(otherDone)
	}()
	select {
	case <-otherDone:
	case <-time.After(time.Second):
		t.Fatal("lock on another device blocked")
	}
	unlock()
	unlock()
}
