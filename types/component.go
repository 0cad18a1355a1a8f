// Package types contains shared domain types used across the platform
package types

import (
	"encoding/json"
	"fmt"

	"github.com/c360/assetmesh/errors"
)

// ComponentType represents the category of a pluggable component
type ComponentType string

// Component type constants
const (
	// ComponentTypeConsumer is a link in the dispatch chain (rules, agent,
	// storage, datapoint). Chain order follows declaration order.
	ComponentTypeConsumer ComponentType = "consumer"

	// ComponentTypeProtocol is a protocol driver factory (e.g. "macro").
	// Instances are deployed from agent configuration attributes, not from
	// this config; entries here carry per-factory defaults.
	ComponentTypeProtocol ComponentType = "protocol"

	// ComponentTypeGateway is a client-facing event surface.
	ComponentTypeGateway ComponentType = "gateway"
)

// ComponentConfig provides configuration for creating a component instance
// The instance name comes from the map key in the components configuration.
// This structure is shared between the config and consumer/protocol packages.
type ComponentConfig struct {
	Type    ComponentType   `json:"type"`    // Component type (consumer/protocol/gateway)
	Name    string          `json:"name"`    // Factory name (e.g., "rules", "datapoint", "macro")
	Enabled bool            `json:"enabled"` // Whether component is enabled
	Config  json.RawMessage `json:"config"`  // Component-specific configuration
}

// knownComponentTypes gates config validation; an unknown type here is a
// typo in a site file, not an extension point.
var knownComponentTypes = map[ComponentType]bool{
	ComponentTypeConsumer: true,
	ComponentTypeProtocol: true,
	ComponentTypeGateway:  true,
}

// Validate checks the entry. Type is checked before name so an entry
// with both missing reports the type first.
func (c ComponentConfig) Validate() error {
	if c.Type == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "ComponentConfig", "Validate",
			"component type cannot be empty")
	}
	if c.Name == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "ComponentConfig", "Validate",
			"component factory name cannot be empty")
	}
	if !knownComponentTypes[c.Type] {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ComponentConfig", "Validate",
			fmt.Sprintf("invalid component type: %s", c.Type))
	}
	return nil
}

// String implements fmt.Stringer for ComponentType
func (ct ComponentType) String() string {
	return string(ct)
}

// PlatformMeta provides platform identity to services and components.
// This structure decouples platform identity from the config package,
// allowing services to access org and platform information without
// creating dependencies on configuration structures.
type PlatformMeta struct {
	Org      string // Organization namespace (e.g., "c360", "acme-estates")
	Platform string // Platform identifier (e.g., "site-south", "campus-1")
}
