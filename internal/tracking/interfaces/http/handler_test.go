package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"geotrack-cloud/internal/clock"
	trackingapp "geotrack-cloud/internal/tracking/application"
	tracking "geotrack-cloud/internal/tracking/domain"
	"geotrack-cloud/internal/tracking/infrastructure/memory"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	router *mux.Router
	store  *memory.Store
	clock  *clock.FakeClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.NewStore()
	if err := store.PutDevice(tracking.Device{ExternalID: "dev-1", Name: "Truck"}); err != nil {
		t.Fatalf("put device: %v", err)
	}
	fake := clock.Fake(t0)
	states, err := trackingapp.NewDeviceStateService(store, fake, 5*time.Minute)
	if err != nil {
		t.Fatalf("device state: %v", err)
	}
	history, err := trackingapp.NewHistoryWriter(store, fake)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	gateway, err := trackingapp.NewGateway(states, history, trackingapp.WithClock(fake))
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	ingest, err := NewIngestHandler(gateway, nil)
	if err != nil {
		t.Fatalf("ingest handler: %v", err)
	}
	devices, err := NewDeviceHandler(states, nil)
	if err != nil {
		t.Fatalf("device handler: %v", err)
	}
	router := mux.NewRouter()
	router.HandleFunc("/ingest/devices/{key}/telemetry", ingest.Telemetry).Methods(http.MethodPost)
	router.HandleFunc("/ingest/devices/{key}/heartbeat", ingest.Heartbeat).Methods(http.MethodPost)
	router.Handle("/api/v1/devices/{key}", devices).Methods(http.MethodGet)
	return fixture{router: router, store: store, clock: fake}
}

func (f fixture) do(method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestTelemetryAccepted(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/ingest/devices/dev-1/telemetry", `{"latitude":50.45,"longitude":30.52,"speed":12.5}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(f.store.Locations("dev-1")) != 1 {
		t.Fatalf("expected one stored location")
	}

	rec = f.do(http.MethodGet, "/api/v1/devices/dev-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status trackingapp.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !status.IsActive || status.CurrentLocation == nil || status.CurrentLocation.Lat != 50.45 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestTelemetryRejections(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		path string
		body string
		want int
	}{
		{"/ingest/devices/dev-1/telemetry", `{"longitude":1}`, http.StatusBadRequest},
		{"/ingest/devices/dev-1/telemetry", `{"latitude":91,"longitude":1}`, http.StatusBadRequest},
		{"/ingest/devices/ghost/telemetry", `{"latitude":1,"longitude":1}`, http.StatusNotFound},
		{"/ingest/devices/dev-1/telemetry", `{"latitude":1,"longitude":1,"pad":"` + strings.Repeat("x", maxBodyBytes) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		if rec := f.do(http.MethodPost, tc.path, tc.body); rec.Code != tc.want {
			t.Fatalf("%s %s: expected %d, got %d", tc.path, tc.body[:min(len(tc.body), 40)], tc.want, rec.Code)
		}
	}
}

func TestHeartbeatAndStaleStatus(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(http.MethodPost, "/ingest/devices/dev-1/heartbeat", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	f.clock.Advance(10 * time.Minute)

	rec := f.do(http.MethodGet, "/api/v1/devices/dev-1", "")
	var status trackingapp.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.IsActive {
		t.Fatalf("expected stale device reported inactive")
	}
	stored, _ := f.store.FindDevice(context.Background(), "dev-1")
	if !stored.IsActive {
		t.Fatalf("expected stored flag untouched")
	}
	if rec := f.do(http.MethodGet, "/api/v1/devices/ghost", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
