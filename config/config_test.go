package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `mqtt:
  broker: "tcp://localhost:1883"
  client_id: "dispatchd-1"
  username: "user"
  password: "pass"
  use_tls: false
bus:
  buffer_size: 512
presence:
  ttl_seconds: 120
assignment:
  offer_ttl_minutes: 10
tracking:
  max_accuracy_m: 150
sos:
  directory:
    company_staff:
      acme: ["owner-1", "dispatcher-1"]
    driver_contacts:
      d-1: ["contact-1"]
store:
  backend: "redis"
  addr: "localhost:6400"
api:
  addr: ":8080"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"broker", cfg.MQTT.Broker, "tcp://localhost:1883"},
		{"client_id", cfg.MQTT.ClientID, "dispatchd-1"},
		{"username", cfg.MQTT.Username, "user"},
		{"buffer_size", cfg.Bus.BufferSize, 512},
		{"presence_ttl", cfg.Presence.TTLSeconds, 120},
		{"offer_ttl", cfg.Assignment.OfferTTLMinutes, 10},
		{"max_accuracy", cfg.Tracking.MaxAccuracyM, 150.0},
		{"store_backend", cfg.Store.Backend, "redis"},
		{"store_addr", cfg.Store.Addr, "localhost:6400"},
		{"api_addr", cfg.API.Addr, ":8080"},
		{"staff", len(cfg.SOS.Directory.CompanyStaff["acme"]), 2},
		{"contacts", len(cfg.SOS.Directory.DriverContacts["d-1"]), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s mismatch: %v", c.name, c.got)
		}
	}

	// Defaults fill the sections the file omits.
	if cfg.Tracking.MinIntervalSeconds != 30 || cfg.Tracking.MinDistanceM != 50 {
		t.Errorf("tracking defaults not applied: %+v", cfg.Tracking)
	}
	if cfg.Assignment.SweepIntervalSeconds != 60 {
		t.Errorf("sweep default not applied: %+v", cfg.Assignment)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `mqtt:
  broker: "tcp://localhost:1883"
store:
  backend: "memory"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("K_MQTT__CLIENT_ID", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.MQTT.ClientID != "from-env" {
		t.Errorf("env override not applied: %q", cfg.MQTT.ClientID)
	}
}

func TestLoadRejectsUnknownFormat(t *testing.T) {
	if _, err := Load("config.toml"); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestLoadRejectsBadStoreBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `mqtt:
  broker: "tcp://localhost:1883"
store:
  backend: "mysql"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown store backend")
	}
}
