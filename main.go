package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"geotrack-cloud/internal/alerts/geocode"
	"geotrack-cloud/internal/alerts/notify"
	"geotrack-cloud/internal/clock"
	"geotrack-cloud/internal/config"
	"geotrack-cloud/internal/geofence"
	"geotrack-cloud/internal/inactivity"
	"geotrack-cloud/internal/logging"
	"geotrack-cloud/internal/observability/metrics"
	"geotrack-cloud/internal/realtime"
	trackingapp "geotrack-cloud/internal/tracking/application"
	tracking "geotrack-cloud/internal/tracking/domain"
	trackingmemory "geotrack-cloud/internal/tracking/infrastructure/memory"
	trackingrepo "geotrack-cloud/internal/tracking/infrastructure/postgres"
	trackinghttp "geotrack-cloud/internal/tracking/interfaces/http"
	"geotrack-cloud/internal/transport"
	mqttsub "geotrack-cloud/internal/transport/mqtt"
	natssub "geotrack-cloud/internal/transport/nats"
	visitapp "geotrack-cloud/internal/visits/application"
	visits "geotrack-cloud/internal/visits/domain"
	visitinterfaces "geotrack-cloud/internal/visits/interfaces"
)

const (
	streamKeepAlive = 15 * time.Second
	shutdownTimeout = 10 * time.Second
	restoreTimeout  = 30 * time.Second
)

// subscriber is a broker transport feeding the gateway.
type subscriber interface {
	Start(ctx context.Context) error
	Stop()
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	logger := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		db        *sql.DB
		devices   tracking.DeviceRepository
		locations tracking.LocationRepository
	)
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.WithError(err).Fatal("open db")
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.WithError(err).Fatal("ping db")
		}
		devices = trackingrepo.NewDeviceRepository(db)
		locations = trackingrepo.NewLocationRepository(db)
	} else {
		store := trackingmemory.NewStore()
		if cfg.DeviceSeedFile != "" {
			n, err := trackingmemory.LoadSeed(store, cfg.DeviceSeedFile)
			if err != nil {
				logger.WithError(err).Fatal("load device seed")
			}
			logger.WithField("devices", n).Info("device seed loaded")
		}
		logger.Warn("DATABASE_URL not set, using in-memory store")
		devices, locations = store, store
	}
	metrics.Init(db, logger)

	clk := clock.Real()
	states, err := trackingapp.NewDeviceStateService(devices, clk, cfg.InactivityTimeout)
	if err != nil {
		logger.WithError(err).Fatal("init device state")
	}
	history, err := trackingapp.NewHistoryWriter(locations, clk)
	if err != nil {
		logger.WithError(err).Fatal("init history writer")
	}

	dispatcher := buildDispatcher(cfg, logger)
	broker := realtime.NewSSEBroker(realtime.WithLogger(logger))
	locks := trackingapp.NewDeviceLocks()

	listener, err := trackingapp.NewInactivityListener(states, broker, dispatcher, clk, logger)
	if err != nil {
		logger.WithError(err).Fatal("init inactivity listener")
	}
	scheduler, err := inactivity.NewScheduler(inactivity.Config{
		Timeout:               cfg.InactivityTimeout,
		InactiveAlertCooldown: cfg.InactivityAlertCooldown,
		ActiveAlertCooldown:   cfg.ActiveAlertCooldown,
	}, listener,
		inactivity.WithClock(clk),
		inactivity.WithLocker(locks),
		inactivity.WithLogger(logger),
	)
	if err != nil {
		logger.WithError(err).Fatal("init inactivity scheduler")
	}
	restoreScheduler(ctx, states, scheduler, logger)

	evaluator, err := geofence.NewEvaluator(cfg.GeofenceExitDwell, cfg.GeofenceAlertCooldown)
	if err != nil {
		logger.WithError(err).Fatal("init geofence evaluator")
	}
	gateway, err := trackingapp.NewGateway(states, history,
		trackingapp.WithGeofences(evaluator),
		trackingapp.WithActivityTracker(scheduler),
		trackingapp.WithPublisher(broker),
		trackingapp.WithAlerts(dispatcher),
		trackingapp.WithLocks(locks),
		trackingapp.WithClock(clk),
		trackingapp.WithLogger(logger),
	)
	if err != nil {
		logger.WithError(err).Fatal("init gateway")
	}

	sub, err := buildSubscriber(cfg, gateway, logger)
	if err != nil {
		logger.WithError(err).Fatal("init transport")
	}
	if sub != nil {
		if err := sub.Start(ctx); err != nil {
			logger.WithError(err).Fatal("start transport")
		}
	}

	visitService, err := visitapp.NewService(devices, history,
		visitapp.WithParams(visits.Params{
			EnterRadius: cfg.VisitEnterRadiusM,
			ExitRadius:  cfg.VisitExitRadiusM,
			MinDwell:    cfg.VisitMinDwell,
			MinPoints:   cfg.VisitMinPoints,
		}),
		visitapp.WithWindow(cfg.VisitWindow),
		visitapp.WithClock(clk),
	)
	if err != nil {
		logger.WithError(err).Fatal("init visit service")
	}

	router, err := buildRouter(gateway, states, visitService, broker, logger)
	if err != nil {
		logger.WithError(err).Fatal("init http routes")
	}
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(router, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("http server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	if sub != nil {
		sub.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown")
	}
	scheduler.Stop()
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.WithError(err).Warn("alert delivery did not drain")
	}
}

func buildDispatcher(cfg config.Config, logger logrus.FieldLogger) *notify.Dispatcher {
	channels := []notify.Channel{notify.NewTelegramChannel(cfg.TelegramToken, cfg.TelegramChatID)}
	if cfg.AlertWebhookURL != "" {
		webhook, err := notify.NewWebhookChannel(cfg.AlertWebhookURL)
		if err != nil {
			logger.WithError(err).Fatal("init alert webhook")
		}
		channels = append(channels, webhook)
	}

	tpl, err := notify.NewTemplate(cfg.AlertTemplate)
	if err != nil {
		logger.WithError(err).Fatal("parse alert template")
	}

	nominatim := geocode.NewNominatimClient(
		geocode.WithBaseURL(cfg.GeocodeURL),
		geocode.WithUserAgent(cfg.GeocodeUserAgent),
		geocode.WithRate(cfg.GeocodeRatePerSec),
	)
	addresses, err := geocode.NewCache(nominatim,
		geocode.WithTTL(cfg.AddressCacheTTL),
		geocode.WithSize(cfg.AddressCacheSize),
		geocode.WithPrecision(cfg.AddressPrecision),
		geocode.WithLogger(logger),
	)
	if err != nil {
		logger.WithError(err).Fatal("init address cache")
	}

	dispatcher, err := notify.NewDispatcher(notify.NewMultiChannel(channels...), tpl,
		notify.WithResolver(addresses),
		notify.WithMapLinkBase(cfg.MapLinkBase),
		notify.WithTimeout(cfg.AlertTimeout),
		notify.WithMaxInFlight(int(cfg.AlertMaxInFlight)),
		notify.WithLogger(logger),
	)
	if err != nil {
		logger.WithError(err).Fatal("init alert dispatcher")
	}
	return dispatcher
}

// restoreScheduler arms inactivity timers from persisted last-seen times.
func restoreScheduler(ctx context.Context, states *trackingapp.DeviceStateService, scheduler *inactivity.Scheduler, logger logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(ctx, restoreTimeout)
	defer cancel()
	list, err := states.List(ctx)
	if err != nil {
		logger.WithError(err).Warn("restore inactivity timers")
		return
	}
	seeds := make([]inactivity.Seed, 0, len(list))
	for _, device := range list {
		seeds = append(seeds, inactivity.Seed{
			DeviceKey: device.ExternalID,
			LastSeen:  device.LastSeenAt(),
			Inactive:  !device.IsActive,
		})
	}
	armed := scheduler.Restore(seeds)
	logger.WithFields(logrus.Fields{"devices": len(list), "armed": armed}).Info("inactivity timers restored")
}

func buildSubscriber(cfg config.Config, ingestor transport.Ingestor, logger logrus.FieldLogger) (subscriber, error) {
	switch cfg.Transport {
	case config.TransportMQTT:
		return mqttsub.NewSubscriber(mqttsub.Config{
			Broker:         cfg.MQTTBroker,
			ClientID:       cfg.MQTTClientID,
			Username:       cfg.MQTTUsername,
			Password:       cfg.MQTTPassword,
			TelemetryTopic: cfg.MQTTTelemetryTopic,
			HeartbeatTopic: cfg.MQTTHeartbeatTopic,
			QoS:            1,
		}, ingestor, logger)
	case config.TransportNATS:
		return natssub.NewSubscriber(natssub.Config{
			URL:              cfg.NATSURL,
			TelemetrySubject: cfg.NATSTelemetrySubject,
			HeartbeatSubject: cfg.NATSHeartbeatSubject,
		}, ingestor, logger)
	default:
		return nil, nil
	}
}

func buildRouter(gateway *trackingapp.Gateway, states *trackingapp.DeviceStateService, visitService *visitapp.Service, broker *realtime.SSEBroker, logger logrus.FieldLogger) (*mux.Router, error) {
	ingestHandler, err := trackinghttp.NewIngestHandler(gateway, logger)
	if err != nil {
		return nil, err
	}
	deviceHandler, err := trackinghttp.NewDeviceHandler(states, logger)
	if err != nil {
		return nil, err
	}
	visitHandler, err := visitinterfaces.NewHandler(visitService, logger)
	if err != nil {
		return nil, err
	}

	router := mux.NewRouter()
	router.HandleFunc("/ingest/devices/{key}/telemetry", ingestHandler.Telemetry).Methods(http.MethodPost)
	router.HandleFunc("/ingest/devices/{key}/heartbeat", ingestHandler.Heartbeat).Methods(http.MethodPost)
	router.Handle("/api/v1/devices/{key}", deviceHandler).Methods(http.MethodGet)
	router.Handle("/api/v1/devices/{key}/visits", visitHandler).Methods(http.MethodGet)
	router.Handle("/api/v1/stream", realtime.NewStreamHandler(broker, streamKeepAlive)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return router, nil
}

func loggingMiddleware(next http.Handler, logger logrus.FieldLogger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   resp.status,
			"duration": time.Since(start),
		}).Debug("http request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps SSE streaming working through the middleware.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
