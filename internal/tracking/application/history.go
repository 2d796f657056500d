package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"geotrack-cloud/internal/clock"
	tracking "geotrack-cloud/internal/tracking/domain"
)

// HistoryWriter appends location records and keeps each device's stored
// timestamps non-decreasing. Callers serialize appends per device.
type HistoryWriter struct {
	repo  tracking.LocationRepository
	clock clock.Clock
}

// NewHistoryWriter constructs a writer.
func NewHistoryWriter(repo tracking.LocationRepository, c clock.Clock) (*HistoryWriter, error) {
	if repo == nil {
		return nil, errors.New("history: nil repository")
	}
	if c == nil {
		c = clock.Real()
	}
	return &HistoryWriter{repo: repo, clock: c}, nil
}

// Append stores sample for device. A timestamp that does not advance past
// the newest stored one is replaced with the server time.
func (w *HistoryWriter) Append(ctx context.Context, device tracking.Device, sample tracking.Sample) (tracking.LocationRecord, error) {
	deviceKey := device.ExternalID
	last, ok, err := w.repo.FindLastLocationTimestamp(ctx, deviceKey)
	if err != nil {
		return tracking.LocationRecord{}, fmt.Errorf("history: last timestamp: %w", err)
	}
	now := w.clock.Now()
	ts := sample.Timestamp
	if ok && !ts.After(last) {
		ts = now
		// The server clock can trail a future-dated device timestamp.
		if ts.Before(last) {
			ts = last
		}
	}
	record := tracking.LocationRecord{
		ID:        uuid.NewString(),
		DeviceID:  device.ID,
		DeviceKey: deviceKey,
		Point:     sample.Point,
		Telemetry: sample.Telemetry,
		Timestamp: ts.UTC(),
		Metadata:  sample.Metadata,
		CreatedAt: now,
	}
	if err := w.repo.AppendLocation(ctx, &record); err != nil {
		return tracking.LocationRecord{}, fmt.Errorf("history: append: %w", err)
	}
	return record, nil
}

// Recent returns records for the trailing window ending now, oldest first.
func (w *HistoryWriter) Recent(ctx context.Context, deviceKey string, window time.Duration) ([]tracking.LocationRecord, error) {
	now := w.clock.Now()
	// The upper bound is exclusive; include records stamped exactly now.
	return w.repo.ListLocations(ctx, deviceKey, now.Add(-window), now.Add(time.Nanosecond))
}
