package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAfterInit(t *testing.T) {
	Init(nil, nil)

	before := testutil.ToFloat64(geofenceAlertsTotal.WithLabelValues("enter"))
	IncGeofenceAlert("enter")
	if got := testutil.ToFloat64(geofenceAlertsTotal.WithLabelValues("enter")); got != before+1 {
		t.Fatalf("expected enter counter %v, got %v", before+1, got)
	}

	ObserveIngest(ResultSuccess, 5*time.Millisecond)
	IncIngestError("")
	if got := testutil.ToFloat64(ingestErrors.WithLabelValues("unknown")); got < 1 {
		t.Fatalf("expected unknown reason to be counted, got %v", got)
	}

	SetRealtimeSubscribers(3)
	if got := testutil.ToFloat64(realtimeSubscribers); got != 3 {
		t.Fatalf("expected 3 subscribers, got %v", got)
	}
}
