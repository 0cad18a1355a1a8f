// Package protocol defines the contract between the asset pipeline and
// pluggable protocol implementations, and the link registry that tracks
// which attributes are bound to which protocol configuration.
//
// A protocol configuration is an attribute of an agent asset: its value
// carries the protocol-specific payload (for the macro protocol, an ordered
// action list). Linking a configuration hands the payload to the owning
// protocol for validation; linking an attribute records the attribute →
// configuration mapping and pushes the initial state the attribute should
// show. Writes to linked attributes arriving on the southbound path are
// routed back to the protocol through ProcessLinkedWrite.
package protocol

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/c360/assetmesh/asset"
)

// DeploymentStatus is the link health of a protocol configuration.
type DeploymentStatus string

const (
	// DeploymentError means the configuration's payload failed validation;
	// the configuration exists but is inert.
	DeploymentError DeploymentStatus = "ERROR"

	// DeploymentLinkedEnabled means the configuration is deployed and its
	// actions are available for execution.
	DeploymentLinkedEnabled DeploymentStatus = "LINKED_ENABLED"

	// DeploymentLinkedDisabled means the configuration is deployed but
	// disabled; lookups treat it as having no actions.
	DeploymentLinkedDisabled DeploymentStatus = "LINKED_DISABLED"
)

// Configuration describes one protocol configuration: the agent attribute it
// lives on, the protocol that owns it, the enabled flag, and the raw payload
// carried as the attribute's value.
type Configuration struct {
	Ref      asset.AttributeRef `json:"ref"`
	Protocol string             `json:"protocol"`
	Enabled  bool               `json:"enabled"`
	Payload  asset.Value        `json:"payload,omitempty"`
}

// Action is one entry of a configuration's stored payload: the attribute to
// write, the value to write, and the delay in milliseconds applied before
// the action fires.
type Action struct {
	Target  asset.AttributeRef
	Value   asset.Value
	DelayMs int64
}

// Protocol is the capability contract a protocol implementation satisfies.
// The link registry drives the lifecycle hooks; implementations hold their
// own execution state and read stored payloads through a PayloadStore.
type Protocol interface {
	// Name returns the protocol's registry key, used in sensor subjects.
	Name() string

	// LinkConfiguration validates and parses cfg's payload. The returned
	// actions become the configuration's stored payload. An error wrapping
	// errors.ErrInvalidProtocolConfig degrades the configuration to
	// DeploymentError instead of failing the caller.
	LinkConfiguration(ctx context.Context, cfg Configuration) ([]Action, error)

	// UnlinkConfiguration releases any protocol resources held for the
	// configuration. Executions already running keep their snapshot.
	UnlinkConfiguration(ctx context.Context, configRef asset.AttributeRef) error

	// LinkAttribute is invoked after the registry records the attribute →
	// configuration mapping.
	LinkAttribute(ctx context.Context, ref asset.AttributeRef, attr *asset.Attribute, cfg Configuration) error

	// UnlinkAttribute is invoked after the registry drops the mapping.
	UnlinkAttribute(ctx context.Context, ref asset.AttributeRef) error

	// ProcessLinkedWrite handles an accepted southbound write on an
	// attribute linked to cfg.
	ProcessLinkedWrite(ctx context.Context, state *asset.AssetState, cfg Configuration) error
}

// Publisher emits protocol-origin attribute events onto the northbound
// ingress path. The production implementation publishes to the protocol's
// sensor subject; tests substitute a recording fake.
type Publisher interface {
	PublishNorthbound(ctx context.Context, protocol string, event asset.AttributeEvent) error
}

// PayloadStore is the slice of the link registry a protocol implementation
// needs: reading a configuration's executable actions and writing one
// action's value.
type PayloadStore interface {
	// Actions returns a snapshot of the configuration's action list. It is
	// empty when the configuration is unknown, holds no actions, or is
	// disabled.
	Actions(configRef asset.AttributeRef) []Action

	// UpdateAction replaces the value of the stored action at index,
	// clamped into the payload's bounds, and returns the updated action.
	// It reports false when no actions are stored.
	UpdateAction(configRef asset.AttributeRef, index int, value asset.Value) (Action, bool)
}

// Dependencies carries what a protocol factory needs from the host service.
type Dependencies struct {
	Payloads  PayloadStore
	Publisher Publisher
	Logger    *slog.Logger
}

// Factory builds a protocol instance from its raw service configuration.
type Factory func(rawConfig json.RawMessage, deps Dependencies) (Protocol, error)

// clampIndex forces idx into [0, size). Size must be positive.
func clampIndex(idx, size int) int {
	if idx < 0 {
		return 0
	}
	if idx >= size {
		return size - 1
	}
	return idx
}
