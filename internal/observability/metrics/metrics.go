package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	metricPrefix = "geotrack_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	historyAppendTotal *prometheus.CounterVec

	geofenceAlertsTotal   *prometheus.CounterVec
	inactivityEventsTotal *prometheus.CounterVec

	alertDispatchTotal   *prometheus.CounterVec
	alertDispatchLatency prometheus.Histogram
	geocodeLookupsTotal  *prometheus.CounterVec

	realtimeSubscribers prometheus.Gauge
	realtimeDropped     prometheus.Counter
)

// Init registers service metrics and, when db is non-nil, DB-backed gauges.
func Init(db *sql.DB, logger logrus.FieldLogger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingested samples by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total dropped samples by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest pipeline latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		historyAppendTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "history_append_total",
				Help: "Location history appends by result",
			},
			[]string{"result"},
		)

		geofenceAlertsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "geofence_alerts_total",
				Help: "Geofence alerts raised by event",
			},
			[]string{"event"},
		)
		inactivityEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "inactivity_events_total",
				Help: "Inactivity transitions by event",
			},
			[]string{"event"},
		)

		alertDispatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_dispatch_total",
				Help: "Alert notifications by result",
			},
			[]string{"result"},
		)
		alertDispatchLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "alert_dispatch_latency_seconds",
				Help:    "Alert dispatch latency in seconds, including address lookup",
				Buckets: prometheus.DefBuckets,
			},
		)
		geocodeLookupsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "geocode_lookups_total",
				Help: "Reverse geocode lookups by result",
			},
			[]string{"result"},
		)

		realtimeSubscribers = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "realtime_subscribers",
				Help: "Connected realtime stream subscribers",
			},
		)
		realtimeDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "realtime_dropped_total",
				Help: "Realtime events dropped for slow subscribers",
			},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			historyAppendTotal,
			geofenceAlertsTotal,
			inactivityEventsTotal,
			alertDispatchTotal,
			alertDispatchLatency,
			geocodeLookupsTotal,
			realtimeSubscribers,
			realtimeDropped,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingest duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError increments the dropped-sample counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// IncHistoryAppend counts a history append by result.
func IncHistoryAppend(result string) {
	if result == "" {
		result = resultSuccess
	}
	if historyAppendTotal != nil {
		historyAppendTotal.WithLabelValues(result).Inc()
	}
}

// IncGeofenceAlert counts ENTER/EXIT alerts.
func IncGeofenceAlert(event string) {
	if event == "" {
		event = "unknown"
	}
	if geofenceAlertsTotal != nil {
		geofenceAlertsTotal.WithLabelValues(event).Inc()
	}
}

// IncInactivityEvent counts inactive/active transitions.
func IncInactivityEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if inactivityEventsTotal != nil {
		inactivityEventsTotal.WithLabelValues(event).Inc()
	}
}

// ObserveAlertDispatch records an alert delivery attempt.
func ObserveAlertDispatch(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if alertDispatchTotal != nil {
		alertDispatchTotal.WithLabelValues(result).Inc()
	}
	if alertDispatchLatency != nil {
		alertDispatchLatency.Observe(duration.Seconds())
	}
}

// IncGeocodeLookup counts address cache hits, misses and upstream errors.
func IncGeocodeLookup(result string) {
	if result == "" {
		result = "unknown"
	}
	if geocodeLookupsTotal != nil {
		geocodeLookupsTotal.WithLabelValues(result).Inc()
	}
}

// SetRealtimeSubscribers sets the connected subscriber gauge.
func SetRealtimeSubscribers(count int) {
	if realtimeSubscribers != nil {
		realtimeSubscribers.Set(float64(count))
	}
}

// IncRealtimeDropped counts an event dropped for a full subscriber buffer.
func IncRealtimeDropped() {
	if realtimeDropped != nil {
		realtimeDropped.Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	ResultDropped       = "dropped"
	ResultNotConfigured = "not_configured"

	GeocodeHit   = "hit"
	GeocodeMiss  = "miss"
	GeocodeError = "error"
)
