package types

import (
	"encoding/json"
	"fmt"

	"github.com/c360/assetmesh/errors"
)

// ServiceConfig is one entry in the services section of platform
// configuration. It carries lifecycle metadata beside an opaque config
// block that the named service decodes itself, so the config package
// never has to import service packages.
type ServiceConfig struct {
	Name    string          `json:"name"`    // matches the map key in ServiceConfigs
	Enabled bool            `json:"enabled"` // disabled services are registered but never started
	Config  json.RawMessage `json:"config"`  // service-specific block, decoded by the service
}

// Validate checks the entry itself. An empty config block is fine (the
// service falls back to its defaults), and Enabled false is fine (the
// entry documents a service that is deliberately off).
func (s ServiceConfig) Validate() error {
	if s.Name == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "ServiceConfig", "Validate", "service name cannot be empty")
	}
	return nil
}

// ServiceConfigs maps service name to its configuration entry. A service
// runs only when it has both a registered constructor and an entry here
// with enabled true. Unknown names are carried along untouched so one
// site file can configure services a given build does not ship.
type ServiceConfigs map[string]ServiceConfig

// Normalize fills each entry's Name from its map key. Config layers
// usually omit the redundant name field; the key is authoritative.
func (s ServiceConfigs) Normalize() {
	for key, svc := range s {
		if svc.Name == "" {
			svc.Name = key
			s[key] = svc
		}
	}
}

// Validate checks every entry and rejects any whose Name contradicts its
// map key. Call Normalize first when the entries come from config layers.
func (s ServiceConfigs) Validate() error {
	for key, svc := range s {
		if key == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig,
				"ServiceConfigs", "Validate", "service map key cannot be empty")
		}
		if err := svc.Validate(); err != nil {
			return fmt.Errorf("service %s: %w", key, err)
		}
		if svc.Name != key {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "ServiceConfigs", "Validate",
				fmt.Sprintf("service %s: name %q does not match map key", key, svc.Name))
		}
	}
	return nil
}
