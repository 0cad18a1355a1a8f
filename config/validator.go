package config

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/c360/assetmesh/errors"
	"github.com/c360/assetmesh/types"
)

// SchemaProvider resolves a component factory name to its configuration
// schema. The consumer and protocol registries implement this; tests may
// substitute a fixture.
type SchemaProvider interface {
	ComponentSchema(factoryName string) (ConfigSchema, error)
}

// ValidateWithSchema checks a component's raw configuration block
// against the factory's published schema. A missing provider or an
// unknown factory skips the schema check instead of failing, so
// components that predate schema support keep loading.
func (cm *Manager) ValidateWithSchema(
	ctx context.Context,
	provider SchemaProvider,
	factoryName string,
	config map[string]any,
) []ValidationError {
	select {
	case <-ctx.Done():
		return []ValidationError{{Field: "context", Message: "validation cancelled"}}
	default:
	}

	if provider == nil {
		cm.logger.Warn("no schema provider, skipping schema validation",
			"factory", factoryName)
		return nil
	}

	schema, err := provider.ComponentSchema(factoryName)
	if err != nil {
		cm.logger.Warn("no schema for factory, skipping schema validation",
			"factory", factoryName,
			"error", err)
		return nil
	}
	if len(schema.Properties) == 0 {
		return nil
	}

	errs := ValidateConfig(config, schema)
	if len(errs) > 0 {
		cm.logger.Info("component configuration failed schema validation",
			"factory", factoryName,
			"error_count", len(errs))
	}
	return errs
}

// ValidateComponentConfig is ValidateWithSchema for a raw JSON block.
func (cm *Manager) ValidateComponentConfig(
	ctx context.Context,
	provider SchemaProvider,
	factoryName string,
	configJSON json.RawMessage,
) []ValidationError {
	config, verr := decodeConfigBlock(configJSON)
	if verr != nil {
		return []ValidationError{*verr}
	}
	return cm.ValidateWithSchema(ctx, provider, factoryName, config)
}

// PutComponentConfig validates a component entry and writes it to the
// config bucket under components.<instance>, where the section watchers
// pick it up and every platform converges on it. The whole entry is
// stored, not just the inner config block, so the update path can
// decode it.
func (cm *Manager) PutComponentConfig(
	ctx context.Context,
	provider SchemaProvider,
	instanceName string,
	comp types.ComponentConfig,
) error {
	if err := comp.Validate(); err != nil {
		return errors.WrapInvalid(err,
			"Manager", "PutComponentConfig", "validate component entry")
	}

	inner, verr := decodeConfigBlock(comp.Config)
	if verr != nil {
		return errors.WrapInvalid(
			fmt.Errorf("invalid JSON configuration: %s", verr.Message),
			"Manager", "PutComponentConfig", "parse config block")
	}
	if errs := cm.ValidateWithSchema(ctx, provider, comp.Name, inner); len(errs) > 0 {
		return errors.WrapInvalid(
			fmt.Errorf("configuration validation failed: %s", errs[0].Message),
			"Manager", "PutComponentConfig", "validate config block")
	}

	key := "components." + sanitizeKey(instanceName)
	if err := cm.putJSON(ctx, key, comp); err != nil {
		return errors.WrapTransient(err,
			"Manager", "PutComponentConfig", "persist to KV")
	}

	cm.logger.Info("component configuration validated and stored",
		"instance", instanceName,
		"factory", comp.Name)
	return nil
}

// decodeConfigBlock parses a raw config block into a map. Empty blocks
// are valid and decode to nil.
func decodeConfigBlock(configJSON json.RawMessage) (map[string]any, *ValidationError) {
	if len(configJSON) == 0 {
		return nil, nil
	}
	var config map[string]any
	if err := json.Unmarshal(configJSON, &config); err != nil {
		return nil, &ValidationError{
			Message: fmt.Sprintf("invalid JSON configuration: %v", err),
			Code:    "type",
		}
	}
	return config, nil
}
