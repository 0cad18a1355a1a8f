package config

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/c360/assetmesh/types"
)

// BootstrapConfig is the minimal file an edge device ships with before
// its first sync: who the platform is, where NATS lives, and which core
// services run. Everything else comes from defaults and, once
// connected, from the config bucket.
type BootstrapConfig struct {
	Platform PlatformConfig `json:"platform"`
	NATS     NATSConfig     `json:"nats"`
	Services CoreServices   `json:"services"`
}

// CoreServices selects the core services a bootstrapped platform runs.
// Provisioning stays off in bootstrap mode; it needs a catalog.
type CoreServices struct {
	Processing bool `json:"processing"` // attribute event pipeline
	Gateway    bool `json:"gateway"`    // client connection surface
}

// Validate checks the fields a device cannot run without.
func (b *BootstrapConfig) Validate() error {
	if b.Platform.Org == "" {
		return errors.New("platform.org is required")
	}
	if b.Platform.ID == "" {
		return errors.New("platform.id is required")
	}
	if len(b.NATS.URLs) == 0 {
		return errors.New("nats.urls is required")
	}
	return nil
}

// LoadBootstrap reads and validates a bootstrap file.
func LoadBootstrap(path string) (*BootstrapConfig, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bootstrap file: %w", err)
	}
	if err := validateJSONDepth(data); err != nil {
		return nil, fmt.Errorf("invalid JSON structure: %w", err)
	}

	var b BootstrapConfig
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse bootstrap file: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("bootstrap validation failed: %w", err)
	}
	return &b, nil
}

// Expand builds a full configuration from the bootstrap identity laid
// over the platform defaults. Connection fields the bootstrap leaves
// unset keep their default values.
func (b *BootstrapConfig) Expand() *Config {
	cfg := defaultConfig()

	cfg.Platform = b.Platform
	if cfg.Platform.Realm == "" {
		cfg.Platform.Realm = "master"
	}

	cfg.NATS.URLs = b.NATS.URLs
	if b.NATS.MaxReconnects != 0 {
		cfg.NATS.MaxReconnects = b.NATS.MaxReconnects
	}
	if b.NATS.ReconnectWait > 0 {
		cfg.NATS.ReconnectWait = b.NATS.ReconnectWait
	}
	if b.NATS.Username != "" {
		cfg.NATS.Username = b.NATS.Username
		cfg.NATS.Password = b.NATS.Password
	}
	if b.NATS.Token != "" {
		cfg.NATS.Token = b.NATS.Token
	}
	if b.NATS.TLS.Enabled {
		cfg.NATS.TLS = b.NATS.TLS
	}

	setEnabled(cfg.Services, "processing", b.Services.Processing)
	setEnabled(cfg.Services, "gateway", b.Services.Gateway)
	setEnabled(cfg.Services, "provision", false)

	return cfg
}

func setEnabled(services types.ServiceConfigs, name string, enabled bool) {
	sc := services[name]
	sc.Enabled = enabled
	services[name] = sc
}
