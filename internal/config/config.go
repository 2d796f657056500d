package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Transport names.
const (
	TransportNone = "none"
	TransportMQTT = "mqtt"
	TransportNATS = "nats"
)

// Config is the process configuration.
type Config struct {
	DatabaseURL    string
	HTTPAddr       string
	LogLevel       string
	LogFormat      string
	DeviceSeedFile string

	InactivityTimeout       time.Duration
	GeofenceExitDwell       time.Duration
	GeofenceAlertCooldown   time.Duration
	InactivityAlertCooldown time.Duration
	ActiveAlertCooldown     time.Duration

	AddressCacheTTL   time.Duration
	AddressCacheSize  int
	AddressPrecision  int
	GeocodeURL        string
	GeocodeUserAgent  string
	GeocodeRatePerSec float64

	AlertTimeout     time.Duration
	AlertMaxInFlight int64
	AlertTemplate    string
	MapLinkBase      string
	TelegramToken    string
	TelegramChatID   string
	AlertWebhookURL  string

	Transport            string
	MQTTBroker           string
	MQTTClientID         string
	MQTTUsername         string
	MQTTPassword         string
	MQTTTelemetryTopic   string
	MQTTHeartbeatTopic   string
	NATSURL              string
	NATSTelemetrySubject string
	NATSHeartbeatSubject string

	VisitEnterRadiusM float64
	VisitExitRadiusM  float64
	VisitMinDwell     time.Duration
	VisitMinPoints    int
	VisitWindow       time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetDefault("inactivity_timeout", 5*time.Minute)
	v.SetDefault("geofence_exit_dwell", 30*time.Second)
	v.SetDefault("geofence_alert_cooldown", 5*time.Minute)
	v.SetDefault("inactivity_alert_cooldown", 15*time.Minute)
	v.SetDefault("active_alert_cooldown", 15*time.Minute)

	v.SetDefault("address_cache_ttl", 24*time.Hour)
	v.SetDefault("address_cache_size", 4096)
	v.SetDefault("address_precision", 4)
	v.SetDefault("geocode_url", "https://nominatim.openstreetmap.org/reverse")
	v.SetDefault("geocode_user_agent", "geotrack-cloud/1.0")
	v.SetDefault("geocode_rate", 1.0)

	v.SetDefault("alert_timeout", 10*time.Second)
	v.SetDefault("alert_max_in_flight", 64)
	v.SetDefault("map_link_base", "https://www.google.com/maps?q=")

	v.SetDefault("transport", TransportNone)
	v.SetDefault("mqtt_client_id", "geotrack-ingest")
	v.SetDefault("mqtt_telemetry_topic", "devices/{id}/telemetry")
	v.SetDefault("mqtt_heartbeat_topic", "devices/{id}/heartbeat")
	v.SetDefault("nats_telemetry_subject", "devices.{id}.telemetry")
	v.SetDefault("nats_heartbeat_subject", "devices.{id}.heartbeat")

	v.SetDefault("visit_enter_radius_m", 50.0)
	v.SetDefault("visit_exit_radius_m", 100.0)
	v.SetDefault("visit_min_dwell", 5*time.Minute)
	v.SetDefault("visit_min_points", 3)
	v.SetDefault("visit_window", 24*time.Hour)
}

// Load reads defaults, an optional YAML file named by --config, then
// environment variables (upper-case key names, e.g. INACTIVITY_TIMEOUT).
func Load(args []string) (Config, error) {
	fs := pflag.NewFlagSet("geotrack", pflag.ContinueOnError)
	configFile := fs.String("config", "", "path to a YAML config file")
	fs.String("http-addr", "", "HTTP listen address")
	fs.String("log-level", "", "log level")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	// PG_DSN is accepted as an alias, as the integration tests use it.
	_ = v.BindEnv("database_url", "DATABASE_URL", "PG_DSN")

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", *configFile, err)
		}
	}
	if flag := fs.Lookup("http-addr"); flag != nil && flag.Changed {
		_ = v.BindPFlag("http_addr", flag)
	}
	if flag := fs.Lookup("log-level"); flag != nil && flag.Changed {
		_ = v.BindPFlag("log_level", flag)
	}

	cfg := Config{
		DatabaseURL:    v.GetString("database_url"),
		HTTPAddr:       v.GetString("http_addr"),
		LogLevel:       v.GetString("log_level"),
		LogFormat:      v.GetString("log_format"),
		DeviceSeedFile: v.GetString("device_seed_file"),

		InactivityTimeout:       v.GetDuration("inactivity_timeout"),
		GeofenceExitDwell:       v.GetDuration("geofence_exit_dwell"),
		GeofenceAlertCooldown:   v.GetDuration("geofence_alert_cooldown"),
		InactivityAlertCooldown: v.GetDuration("inactivity_alert_cooldown"),
		ActiveAlertCooldown:     v.GetDuration("active_alert_cooldown"),

		AddressCacheTTL:   v.GetDuration("address_cache_ttl"),
		AddressCacheSize:  v.GetInt("address_cache_size"),
		AddressPrecision:  v.GetInt("address_precision"),
		GeocodeURL:        v.GetString("geocode_url"),
		GeocodeUserAgent:  v.GetString("geocode_user_agent"),
		GeocodeRatePerSec: v.GetFloat64("geocode_rate"),

		AlertTimeout:     v.GetDuration("alert_timeout"),
		AlertMaxInFlight: v.GetInt64("alert_max_in_flight"),
		AlertTemplate:    v.GetString("alert_template"),
		MapLinkBase:      v.GetString("map_link_base"),
		TelegramToken:    v.GetString("telegram_bot_token"),
		TelegramChatID:   v.GetString("telegram_chat_id"),
		AlertWebhookURL:  v.GetString("alert_webhook_url"),

		Transport:            strings.ToLower(v.GetString("transport")),
		MQTTBroker:           v.GetString("mqtt_broker"),
		MQTTClientID:         v.GetString("mqtt_client_id"),
		MQTTUsername:         v.GetString("mqtt_username"),
		MQTTPassword:         v.GetString("mqtt_password"),
		MQTTTelemetryTopic:   v.GetString("mqtt_telemetry_topic"),
		MQTTHeartbeatTopic:   v.GetString("mqtt_heartbeat_topic"),
		NATSURL:              v.GetString("nats_url"),
		NATSTelemetrySubject: v.GetString("nats_telemetry_subject"),
		NATSHeartbeatSubject: v.GetString("nats_heartbeat_subject"),

		VisitEnterRadiusM: v.GetFloat64("visit_enter_radius_m"),
		VisitExitRadiusM:  v.GetFloat64("visit_exit_radius_m"),
		VisitMinDwell:     v.GetDuration("visit_min_dwell"),
		VisitMinPoints:    v.GetInt("visit_min_points"),
		VisitWindow:       v.GetDuration("visit_window"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: empty http addr")
	}
	durations := map[string]time.Duration{
		"INACTIVITY_TIMEOUT":  c.InactivityTimeout,
		"GEOFENCE_EXIT_DWELL": c.GeofenceExitDwell,
		"ADDRESS_CACHE_TTL":   c.AddressCacheTTL,
		"ALERT_TIMEOUT":       c.AlertTimeout,
		"VISIT_WINDOW":        c.VisitWindow,
	}
	for name, value := range durations {
		if value <= 0 {
			return fmt.Errorf("config: %s must be positive", name)
		}
	}
	if c.GeofenceAlertCooldown < 0 || c.InactivityAlertCooldown < 0 || c.ActiveAlertCooldown < 0 {
		return errors.New("config: cooldowns must not be negative")
	}
	if c.VisitEnterRadiusM <= 0 || c.VisitExitRadiusM < c.VisitEnterRadiusM {
		return errors.New("config: visit exit radius must be >= enter radius > 0")
	}
	if c.AddressPrecision < 0 || c.AddressPrecision > 8 {
		return errors.New("config: address precision must be within 0..8")
	}
	switch c.Transport {
	case TransportNone:
	case TransportMQTT:
		if c.MQTTBroker == "" {
			return errors.New("config: MQTT_BROKER is required for mqtt transport")
		}
	case TransportNATS:
		if c.NATSURL == "" {
			return errors.New("config: NATS_URL is required for nats transport")
		}
	default:
		return fmt.Errorf("config: unknown transport %q", c.Transport)
	}
	return nil
}
