package interfaces

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/xuri/excelize/v2"

	"geotrack-cloud/internal/clock"
	trackingapp "geotrack-cloud/internal/tracking/application"
	tracking "geotrack-cloud/internal/tracking/domain"
	"geotrack-cloud/internal/tracking/infrastructure/memory"
	visitapp "geotrack-cloud/internal/visits/application"
)

var now = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newRouter(t *testing.T) *mux.Router {
	t.Helper()
	store := memory.NewStore()
	if err := store.PutDevice(tracking.Device{ExternalID: "dev-1", Name: "Truck"}); err != nil {
		t.Fatalf("put device: %v", err)
	}
	for i := 0; i < 4; i++ {
		record := &tracking.LocationRecord{
			DeviceKey: "dev-1",
			Point:     tracking.Point{Lat: 50, Lng: 30},
			Timestamp: now.Add(-time.Hour + time.Duration(i)*5*time.Minute),
		}
		if err := store.AppendLocation(context.Background(), record); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	history, err := trackingapp.NewHistoryWriter(store, clock.Fake(now))
	if err != nil {
		t.Fatalf("new history writer: %v", err)
	}
	service, err := visitapp.NewService(store, history, visitapp.WithClock(clock.Fake(now)))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	handler, err := NewHandler(service, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	router := mux.NewRouter()
	router.Handle("/api/v1/devices/{key}/visits", handler)
	return router
}

func TestVisitsJSON(t *testing.T) {
	router := newRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices/dev-1/visits?window=2h", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var report visitapp.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(report.Visits) != 1 || report.Visits[0].Count != 4 {
		t.Fatalf("unexpected visits %+v", report.Visits)
	}
}

func TestVisitsXLSX(t *testing.T) {
	router := newRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices/dev-1/visits?format=xlsx", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer f.Close()
	value, err := f.GetCellValue("visits", "F2")
	if err != nil {
		t.Fatalf("read cell: %v", err)
	}
	if value != "4" {
		t.Fatalf("expected point count 4, got %q", value)
	}
}

func TestVisitsPDF(t *testing.T) {
	router := newRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices/dev-1/visits?format=pdf", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/pdf" || !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")) {
		t.Fatalf("expected a pdf document")
	}
}

func TestVisitsErrors(t *testing.T) {
	router := newRouter(t)
	cases := map[string]int{
		"/api/v1/devices/ghost/visits":            http.StatusNotFound,
		"/api/v1/devices/dev-1/visits?window=abc": http.StatusBadRequest,
		"/api/v1/devices/dev-1/visits?window=30d": http.StatusBadRequest,
		"/api/v1/devices/dev-1/visits?format=csv": http.StatusBadRequest,
	}
	for path, want := range cases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != want {
			t.Fatalf("%s: expected %d, got %d", path, want, rec.Code)
		}
	}
}
