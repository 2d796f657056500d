package interfaces

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"geotrack-cloud/internal/logging"
	tracking "geotrack-cloud/internal/tracking/domain"
	visitapp "geotrack-cloud/internal/visits/application"
)

const maxWindow = 7 * 24 * time.Hour

// Handler serves GET /api/v1/devices/{key}/visits.
type Handler struct {
	service *visitapp.Service
	logger  logrus.FieldLogger
}

// NewHandler constructs a handler.
func NewHandler(service *visitapp.Service, logger logrus.FieldLogger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("visits handler: nil service")
	}
	return &Handler{service: service, logger: logging.OrStandard(logger)}, nil
}

// ServeHTTP renders the report as json, xlsx or pdf.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	key := mux.Vars(r)["key"]
	if key == "" {
		http.Error(w, "device key is required", http.StatusBadRequest)
		return
	}
	var window time.Duration
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 || parsed > maxWindow {
			http.Error(w, "invalid window", http.StatusBadRequest)
			return
		}
		window = parsed
	}

	report, err := h.service.Recent(r.Context(), key, window)
	if err != nil {
		if errors.Is(err, tracking.ErrDeviceNotFound) {
			http.Error(w, "device not found", http.StatusNotFound)
			return
		}
		h.logger.WithError(err).WithField("device", key).Error("build visit report")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(report)
	case "xlsx":
		body, err := BuildVisitsXLSX(report)
		if err != nil {
			h.logger.WithError(err).Error("render visits xlsx")
			http.Error(w, "export failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="visits-`+key+`.xlsx"`)
		_, _ = w.Write(body)
	case "pdf":
		body, err := BuildVisitsPDF(report)
		if err != nil {
			h.logger.WithError(err).Error("render visits pdf")
			http.Error(w, "export failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="visits-`+key+`.pdf"`)
		_, _ = w.Write(body)
	default:
		http.Error(w, "unsupported format", http.StatusBadRequest)
	}
}
