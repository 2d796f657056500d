package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"geotrack-cloud/internal/logging"
	trackingapp "geotrack-cloud/internal/tracking/application"
	tracking "geotrack-cloud/internal/tracking/domain"
)

const maxBodyBytes = 64 << 10

// Ingestor runs the ingestion pipeline synchronously.
type Ingestor interface {
	Process(ctx context.Context, deviceKey string, raw []byte) error
	Heartbeat(ctx context.Context, deviceKey string) error
}

// IngestHandler accepts telemetry and heartbeats over HTTP.
type IngestHandler struct {
	ingestor Ingestor
	logger   logrus.FieldLogger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(ingestor Ingestor, logger logrus.FieldLogger) (*IngestHandler, error) {
	if ingestor == nil {
		return nil, errors.New("ingest handler: nil ingestor")
	}
	return &IngestHandler{ingestor: ingestor, logger: logging.OrStandard(logger)}, nil
}

// Telemetry handles POST /ingest/devices/{key}/telemetry.
func (h *IngestHandler) Telemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	key := mux.Vars(r)["key"]
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		h.logger.WithError(err).WithField("device", key).Warn("read telemetry body")
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if len(body) > maxBodyBytes {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	if err := h.ingestor.Process(r.Context(), key, body); err != nil {
		respondIngestError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Heartbeat handles POST /ingest/devices/{key}/heartbeat.
func (h *IngestHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := h.ingestor.Heartbeat(r.Context(), mux.Vars(r)["key"]); err != nil {
		respondIngestError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func respondIngestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tracking.ErrInvalidPayload):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, tracking.ErrDeviceNotFound):
		http.Error(w, "device not found", http.StatusNotFound)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// DeviceHandler serves GET /api/v1/devices/{key}.
type DeviceHandler struct {
	states *trackingapp.DeviceStateService
	logger logrus.FieldLogger
}

// NewDeviceHandler constructs a device status handler.
func NewDeviceHandler(states *trackingapp.DeviceStateService, logger logrus.FieldLogger) (*DeviceHandler, error) {
	if states == nil {
		return nil, errors.New("device handler: nil device state service")
	}
	return &DeviceHandler{states: states, logger: logging.OrStandard(logger)}, nil
}

// ServeHTTP returns the derived device status.
func (h *DeviceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	key := mux.Vars(r)["key"]
	status, err := h.states.Status(r.Context(), key)
	if err != nil {
		if errors.Is(err, tracking.ErrDeviceNotFound) {
			http.Error(w, "device not found", http.StatusNotFound)
			return
		}
		h.logger.WithError(err).WithField("device", key).Error("load device status")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}
