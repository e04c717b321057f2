// Package config loads the linkwire service configuration from a YAML file
// with environment-variable fallbacks.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	// Server holds the session API server settings.
	Server ServerConfig `yaml:"server"`

	// Store holds the credential store settings.
	Store StoreConfig `yaml:"store"`

	// Transport holds the messaging-protocol client settings.
	Transport TransportConfig `yaml:"transport"`

	// Observability holds metrics/health server settings.
	Observability ObservabilityConfig `yaml:"observability"`

	// Janitor holds closed-session sweep settings.
	Janitor JanitorConfig `yaml:"janitor"`
}

// ServerConfig holds the API server settings
type ServerConfig struct {
	Addr       string `yaml:"addr"`
	APIKey     string `yaml:"api_key"`
	EnableCORS bool   `yaml:"enable_cors"`
	Debug      bool   `yaml:"debug"`
}

// StoreConfig holds the credential store settings
type StoreConfig struct {
	// Dir is the base directory for per-session storage.
	Dir string `yaml:"dir"`
}

// TransportConfig holds the messaging-protocol client settings
type TransportConfig struct {
	URL              string        `yaml:"url"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	Versions         []int         `yaml:"versions"`
	FallbackVersion  int           `yaml:"fallback_version"`
}

// ObservabilityConfig holds metrics/health server settings
type ObservabilityConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// JanitorConfig holds closed-session sweep settings
type JanitorConfig struct {
	SweepSchedule string `yaml:"sweep_schedule"`
}

// LoadConfig loads configuration from a YAML file. A missing file is not an
// error: defaults plus environment variables apply.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Environment overrides for values not set in the file
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = os.Getenv("LINKWIRE_ADDR")
	}
	if cfg.Server.APIKey == "" {
		cfg.Server.APIKey = os.Getenv("LINKWIRE_API_KEY")
	}
	if cfg.Store.Dir == "" {
		cfg.Store.Dir = os.Getenv("LINKWIRE_STORE_DIR")
	}
	if cfg.Transport.URL == "" {
		cfg.Transport.URL = os.Getenv("LINKWIRE_TRANSPORT_URL")
	}
	if cfg.Observability.Port == 0 {
		if v := os.Getenv("LINKWIRE_OBS_PORT"); v != "" {
			if port, err := strconv.Atoi(v); err == nil {
				cfg.Observability.Port = port
			}
		}
	}

	// Apply defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Transport.URL == "" {
		cfg.Transport.URL = "wss://gateway.linkwire.dev/v1/connect"
	}
	if cfg.Transport.HandshakeTimeout == 0 {
		cfg.Transport.HandshakeTimeout = 15 * time.Second
	}
	if len(cfg.Transport.Versions) == 0 {
		cfg.Transport.Versions = []int{2, 1}
	}
	if cfg.Transport.FallbackVersion == 0 {
		cfg.Transport.FallbackVersion = 1
	}
	if cfg.Observability.Port == 0 {
		cfg.Observability.Port = 9090
	}
	if cfg.Observability.ReadTimeout == 0 {
		cfg.Observability.ReadTimeout = 10 * time.Second
	}
	if cfg.Observability.WriteTimeout == 0 {
		cfg.Observability.WriteTimeout = 10 * time.Second
	}
	if cfg.Janitor.SweepSchedule == "" {
		cfg.Janitor.SweepSchedule = "@every 30s"
	}

	return &cfg, nil
}
