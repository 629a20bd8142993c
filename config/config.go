// Package config loads the service configuration from YAML or JSON files
// with K_-prefixed environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/loadline/dispatchd/core/assignment"
	"github.com/loadline/dispatchd/core/bus"
	"github.com/loadline/dispatchd/core/metrics"
	"github.com/loadline/dispatchd/core/sos"
	"github.com/loadline/dispatchd/core/store"
	"github.com/loadline/dispatchd/core/tracking"
	"github.com/loadline/dispatchd/infra/mqtt"
)

// Config is the full service configuration.
type Config struct {
	MQTT       mqtt.Config        `json:"mqtt"`
	Bus        bus.Config         `json:"bus"`
	Presence   bus.PresenceConfig `json:"presence"`
	Assignment assignment.Config  `json:"assignment"`
	Tracking   tracking.Config    `json:"tracking"`
	SOS        SOSConfig          `json:"sos"`
	Store      store.Config       `json:"store"`
	Metrics    metrics.Config     `json:"metrics"`
	API        APIConfig          `json:"api"`
}

// SOSConfig carries the emergency escalation directory.
type SOSConfig struct {
	Directory sos.StaticDirectory `json:"directory"`
}

// APIConfig defines the read-only operations endpoint.
type APIConfig struct {
	// Addr is the listen address of the HTTP API; empty disables it.
	Addr string `json:"addr"`
}

// Load reads the configuration file at path, applies environment
// overrides, then defaults and validation.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.MQTT.SetDefaults()
	cfg.Bus.SetDefaults()
	cfg.Presence.SetDefaults()
	cfg.Assignment.SetDefaults()
	cfg.Tracking.SetDefaults()
	cfg.Store.SetDefaults()
	cfg.Metrics.SetDefaults()
	if err := cfg.MQTT.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Store.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
