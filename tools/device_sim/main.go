package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	tracking "geotrack-cloud/internal/tracking/domain"
)

// metres per degree of latitude, close enough for a simulator.
const metresPerDegree = 111_320.0

type config struct {
	dsn          string
	baseURL      string
	mqttBroker   string
	mqttTopic    string
	devicePrefix string
	deviceCount  int
	centerLat    float64
	centerLng    float64
	fenceRadiusM float64
	trackRadiusM float64
	steps        int
	interval     time.Duration
	seedDevices  bool
}

type sample struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Speed     float64 `json:"speed"`
	Timestamp string  `json:"timestamp"`
}

func main() {
	cfg := parseConfig()
	logger := logrus.New()
	if cfg.deviceCount <= 0 {
		logger.Fatal("device-count must be > 0")
	}
	if cfg.steps <= 0 {
		logger.Fatal("steps must be > 0")
	}
	keys := buildDeviceKeys(cfg.devicePrefix, cfg.deviceCount)
	ctx := context.Background()

	if cfg.seedDevices {
		if cfg.dsn == "" {
			logger.Fatal("PG_DSN or DATABASE_URL is required to seed devices")
		}
		db, err := sql.Open("pgx", cfg.dsn)
		if err != nil {
			logger.WithError(err).Fatal("open db")
		}
		defer db.Close()
		if err := seedDevices(ctx, db, keys, cfg); err != nil {
			logger.WithError(err).Fatal("seed devices")
		}
		logger.WithField("devices", len(keys)).Info("devices seeded")
	}

	send, closeSender, err := buildSender(cfg)
	if err != nil {
		logger.WithError(err).Fatal("init sender")
	}
	defer closeSender()

	start := time.Now().UTC()
	for step := 0; step < cfg.steps; step++ {
		for idx, key := range keys {
			body, err := json.Marshal(trackPoint(cfg, idx, step, start.Add(time.Duration(step)*cfg.interval)))
			if err != nil {
				logger.WithError(err).Fatal("encode sample")
			}
			if err := send(ctx, key, body); err != nil {
				logger.WithError(err).WithField("device", key).Warn("send sample")
			}
		}
		if step%10 == 0 {
			logger.WithFields(logrus.Fields{"step": step + 1, "steps": cfg.steps}).Info("simulation progress")
		}
		if cfg.interval > 0 {
			time.Sleep(cfg.interval)
		}
	}
	logger.Info("device simulation completed")
}

func parseConfig() config {
	cfg := config{}
	pflag.StringVar(&cfg.dsn, "pg-dsn", envOrDefault("PG_DSN", envOrDefault("DATABASE_URL", "")), "Postgres DSN")
	pflag.StringVar(&cfg.baseURL, "base-url", envOrDefault("BASE_URL", "http://localhost:8080"), "ingest API base URL")
	pflag.StringVar(&cfg.mqttBroker, "mqtt-broker", envOrDefault("MQTT_BROKER", ""), "publish over MQTT instead of HTTP when set")
	pflag.StringVar(&cfg.mqttTopic, "mqtt-topic", envOrDefault("MQTT_TELEMETRY_TOPIC", "devices/{id}/telemetry"), "MQTT telemetry topic pattern")
	pflag.StringVar(&cfg.devicePrefix, "device-prefix", envOrDefault("DEVICE_PREFIX", "sim-"), "device key prefix")
	pflag.IntVar(&cfg.deviceCount, "device-count", envOrInt("DEVICE_COUNT", 5), "number of simulated devices")
	pflag.Float64Var(&cfg.centerLat, "center-lat", 52.52, "track center latitude")
	pflag.Float64Var(&cfg.centerLng, "center-lng", 13.405, "track center longitude")
	pflag.Float64Var(&cfg.fenceRadiusM, "fence-radius", 200, "half-width of the square geofence in metres")
	pflag.Float64Var(&cfg.trackRadiusM, "track-radius", 300, "radius of the simulated circular track in metres")
	pflag.IntVar(&cfg.steps, "steps", envOrInt("STEPS", 60), "samples per device")
	pflag.DurationVar(&cfg.interval, "interval", time.Second, "pause between rounds")
	pflag.BoolVar(&cfg.seedDevices, "seed-devices", true, "upsert devices with a geofence before sending")
	pflag.Parse()
	return cfg
}

func buildDeviceKeys(prefix string, count int) []string {
	keys := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		keys = append(keys, fmt.Sprintf("%s%04d", prefix, i))
	}
	return keys
}

// squareFence returns a square polygon of the given half-width around the
// center, as [lng, lat] pairs.
func squareFence(lat, lng, halfWidthM float64) tracking.Polygon {
	dLat := halfWidthM / metresPerDegree
	dLng := halfWidthM / (metresPerDegree * math.Cos(lat*math.Pi/180))
	return tracking.Polygon{tracking.Ring{
		{lng - dLng, lat - dLat},
		{lng + dLng, lat - dLat},
		{lng + dLng, lat + dLat},
		{lng - dLng, lat + dLat},
	}}
}

// trackPoint walks device idx around a circle centred on the fence's east
// edge, so the track leaves and re-enters the fence once per lap. Devices
// are phase-shifted so they cross at different times.
func trackPoint(cfg config, idx, step int, at time.Time) sample {
	phase := 2*math.Pi*float64(step)/float64(cfg.steps) + float64(idx)
	dLat := cfg.trackRadiusM * math.Sin(phase) / metresPerDegree
	dLng := (cfg.fenceRadiusM + cfg.trackRadiusM*math.Cos(phase)) / (metresPerDegree * math.Cos(cfg.centerLat*math.Pi/180))
	return sample{
		Latitude:  cfg.centerLat + dLat,
		Longitude: cfg.centerLng + dLng,
		Speed:     2 * math.Pi * cfg.trackRadiusM / float64(cfg.steps),
		Timestamp: at.Format(time.RFC3339Nano),
	}
}

func seedDevices(ctx context.Context, db *sql.DB, keys []string, cfg config) error {
	const upsertSQL = `
INSERT INTO devices (id, external_id, name, is_active, geofence, created_at, updated_at)
VALUES ($1, $2, $3, FALSE, $4, $5, $5)
ON CONFLICT (external_id)
DO UPDATE SET
	name = EXCLUDED.name,
	geofence = EXCLUDED.geofence,
	updated_at = EXCLUDED.updated_at`

	fence, err := json.Marshal([]tracking.Polygon{squareFence(cfg.centerLat, cfg.centerLng, cfg.fenceRadiusM)})
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	now := time.Now().UTC()
	for i, key := range keys {
		name := fmt.Sprintf("Simulated tracker %d", i+1)
		if _, err := stmt.ExecContext(ctx, uuid.NewString(), key, name, string(fence), now); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return err
		}
	}
	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type sendFunc func(ctx context.Context, deviceKey string, body []byte) error

func buildSender(cfg config) (sendFunc, func(), error) {
	if cfg.mqttBroker == "" {
		client := &http.Client{Timeout: 10 * time.Second}
		base := strings.TrimRight(cfg.baseURL, "/")
		return func(ctx context.Context, deviceKey string, body []byte) error {
			url := base + "/ingest/devices/" + deviceKey + "/telemetry"
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusAccepted {
				return fmt.Errorf("ingest status %d", resp.StatusCode)
			}
			return nil
		}, func() {}, nil
	}

	opts := paho.NewClientOptions().AddBroker(cfg.mqttBroker).SetClientID("geotrack-sim-" + uuid.NewString()[:8])
	client := paho.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(15*time.Second) && token.Error() != nil {
		return nil, nil, token.Error()
	}
	return func(_ context.Context, deviceKey string, body []byte) error {
		topic := strings.Replace(cfg.mqttTopic, "{id}", deviceKey, 1)
		token := client.Publish(topic, 1, false, body)
		if !token.WaitTimeout(10 * time.Second) {
			return fmt.Errorf("publish %s: timeout", topic)
		}
		return token.Error()
	}, func() { client.Disconnect(250) }, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
