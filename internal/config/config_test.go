package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected default http addr, got %s", cfg.HTTPAddr)
	}
	if cfg.InactivityTimeout != 5*time.Minute {
		t.Fatalf("expected 5m inactivity timeout, got %s", cfg.InactivityTimeout)
	}
	if cfg.Transport != TransportNone {
		t.Fatalf("expected no transport, got %s", cfg.Transport)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("INACTIVITY_TIMEOUT", "90s")
	t.Setenv("GEOFENCE_EXIT_DWELL", "2m")
	t.Setenv("TRANSPORT", "mqtt")
	t.Setenv("MQTT_BROKER", "tcp://localhost:1883")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.InactivityTimeout != 90*time.Second {
		t.Fatalf("expected 90s, got %s", cfg.InactivityTimeout)
	}
	if cfg.GeofenceExitDwell != 2*time.Minute {
		t.Fatalf("expected 2m, got %s", cfg.GeofenceExitDwell)
	}
	if cfg.MQTTBroker != "tcp://localhost:1883" {
		t.Fatalf("unexpected broker %s", cfg.MQTTBroker)
	}
}

func TestLoadFileAndFlag(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "geotrack.yaml")
	content := "geofence_alert_cooldown: 10m\nvisit_exit_radius_m: 250\nhttp_addr: \":9000\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load([]string{"--config", path, "--http-addr", ":9100"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GeofenceAlertCooldown != 10*time.Minute {
		t.Fatalf("expected 10m cooldown, got %s", cfg.GeofenceAlertCooldown)
	}
	if cfg.VisitExitRadiusM != 250 {
		t.Fatalf("expected exit radius 250, got %f", cfg.VisitExitRadiusM)
	}
	if cfg.HTTPAddr != ":9100" {
		t.Fatalf("expected flag to win, got %s", cfg.HTTPAddr)
	}
}

func TestLoadRejectsMissingBroker(t *testing.T) {
	t.Setenv("TRANSPORT", "nats")
	if _, err := Load(nil); err == nil {
		t.Fatalf("expected error without NATS_URL")
	}
}

func TestValidateRadii(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.VisitExitRadiusM = cfg.VisitEnterRadiusM - 1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected radius validation error")
	}
}
