package memory

import (
	"context"
	"testing"
	"time"

	tracking "geotrack-cloud/internal/tracking/domain"
)

const seedYAML = `
devices:
  - external_id: truck-1
    name: Truck One
    last_seen: "2026-03-01T10:00:00Z"
    geofence:
      - - [[0, 0], [0, 1], [1, 1], [1, 0]]
  - external_id: bike-2
    name: Bike Two
`

func TestApplySeed(t *testing.T) {
	store := NewStore()
	count, err := ApplySeed(store, []byte(seedYAML))
	if err != nil {
		t.Fatalf("apply seed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 devices, got %d", count)
	}
	device, err := store.FindDevice(context.Background(), "truck-1")
	if err != nil || device == nil {
		t.Fatalf("find truck-1: %v", err)
	}
	if !device.HasGeofence() || len(device.Geofence[0][0]) != 4 {
		t.Fatalf("expected seeded geofence, got %+v", device.Geofence)
	}
	if !device.IsActive || device.LastSeen == nil {
		t.Fatalf("expected last seen to be restored, got %+v", device)
	}
	bike, _ := store.FindDevice(context.Background(), "bike-2")
	if bike == nil || bike.IsActive {
		t.Fatalf("expected never-seen bike to be inactive, got %+v", bike)
	}
}

func TestUpdateDeviceReturnsCopies(t *testing.T) {
	store := NewStore()
	if err := store.PutDevice(tracking.Device{ExternalID: "dev-1", Name: "One"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	active := true
	updated, err := store.UpdateDevice(context.Background(), "dev-1", tracking.DevicePatch{
		LastSeen:        &now,
		IsActive:        &active,
		CurrentLocation: &tracking.CurrentLocation{Point: tracking.Point{Lat: 1, Lng: 2}, Timestamp: now},
	})
	if err != nil || updated == nil {
		t.Fatalf("update: %v", err)
	}
	updated.CurrentLocation.Lat = 50
	again, _ := store.FindDevice(context.Background(), "dev-1")
	if again.CurrentLocation.Lat != 1 {
		t.Fatalf("expected stored location to be isolated from callers")
	}
	missing, err := store.UpdateDevice(context.Background(), "nope", tracking.DevicePatch{IsActive: &active})
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown device, got %v %v", missing, err)
	}
}

func TestStoredTelemetryIsolatedFromCallers(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	if err := store.PutDevice(tracking.Device{ExternalID: "dev-1"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	speed, level, charging := 12.5, 80.0, false
	patch := &tracking.CurrentLocation{
		Point:     tracking.Point{Lat: 1, Lng: 2},
		Telemetry: tracking.Telemetry{Speed: &speed, Battery: &tracking.Battery{Level: &level, IsCharging: &charging}},
		Timestamp: now,
	}
	if _, err := store.UpdateDevice(ctx, "dev-1", tracking.DevicePatch{LastSeen: &now, CurrentLocation: patch}); err != nil {
		t.Fatalf("update: %v", err)
	}
	speed, level = 99, 1

	device, _ := store.FindDevice(ctx, "dev-1")
	if *device.CurrentLocation.Speed != 12.5 || *device.CurrentLocation.Battery.Level != 80 {
		t.Fatalf("expected patch values to be copied, got %+v", device.CurrentLocation.Telemetry)
	}
	*device.CurrentLocation.Speed = 0
	*device.CurrentLocation.Battery.IsCharging = true
	*device.LastSeen = now.Add(time.Hour)

	again, _ := store.FindDevice(ctx, "dev-1")
	if *again.CurrentLocation.Speed != 12.5 || *again.CurrentLocation.Battery.IsCharging || !again.LastSeen.Equal(now) {
		t.Fatalf("expected stored device to be isolated, got %+v last seen %s", again.CurrentLocation.Telemetry, again.LastSeen)
	}

	recordSpeed := 7.0
	record := &tracking.LocationRecord{
		DeviceKey: "dev-1",
		Telemetry: tracking.Telemetry{Speed: &recordSpeed},
		Timestamp: now,
		Metadata:  map[string]any{"heading": 90.0},
	}
	if err := store.AppendLocation(ctx, record); err != nil {
		t.Fatalf("append: %v", err)
	}
	recordSpeed = 70
	listed, _ := store.ListLocations(ctx, "dev-1", now, now.Add(time.Second))
	if len(listed) != 1 || *listed[0].Speed != 7 {
		t.Fatalf("expected appended speed to be copied, got %+v", listed)
	}
	*listed[0].Speed = 0
	listed[0].Metadata["heading"] = 0.0
	stored := store.Locations("dev-1")
	if *stored[0].Speed != 7 || stored[0].Metadata["heading"] != 90.0 {
		t.Fatalf("expected stored history to be isolated, got %+v", stored[0])
	}
}

func TestLocationsWindowAndLastTimestamp(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		record := &tracking.LocationRecord{DeviceKey: "dev-1", Timestamp: base.Add(time.Duration(i) * time.Hour)}
		if err := store.AppendLocation(ctx, record); err != nil {
			t.Fatalf("append: %v", err)
		}
		if record.ID == "" {
			t.Fatalf("expected id to be assigned")
		}
	}
	last, ok, err := store.FindLastLocationTimestamp(ctx, "dev-1")
	if err != nil || !ok || !last.Equal(base.Add(3*time.Hour)) {
		t.Fatalf("unexpected last timestamp %s ok=%v err=%v", last, ok, err)
	}
	if _, ok, _ := store.FindLastLocationTimestamp(ctx, "dev-2"); ok {
		t.Fatalf("expected no history for dev-2")
	}
	window, err := store.ListLocations(ctx, "dev-1", base.Add(time.Hour), base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(window) != 2 {
		t.Fatalf("expected 2 records in window, got %d", len(window))
	}
}
