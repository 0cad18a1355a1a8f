// Package macro implements the macro protocol: a user-defined, optionally
// repeating sequence of attribute writes with per-action delays, executed
// when a client writes an execution request to a linked executable
// attribute. Non-executable linked attributes carrying an action index read
// and write one stored action's value.
package macro

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/c360/assetmesh/asset"
	"github.com/c360/assetmesh/errors"
	"github.com/c360/assetmesh/protocol"
)

// ProtocolName is the macro protocol's registry key; macro-origin events
// publish on the matching sensor subject.
const ProtocolName = "macro"

// Protocol executes macros. Link state lives in the link registry; the
// protocol holds only the execution engine.
type Protocol struct {
	engine   *Engine
	payloads protocol.PayloadStore
	pub      protocol.Publisher
	logger   *slog.Logger
}

// New creates the macro protocol from its host dependencies.
func New(deps protocol.Dependencies) (*Protocol, error) {
	if deps.Payloads == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "MacroProtocol", "New", "payload store validation")
	}
	if deps.Publisher == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "MacroProtocol", "New", "publisher validation")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("protocol", ProtocolName)

	return &Protocol{
		engine:   NewEngine(deps.Publisher, logger),
		payloads: deps.Payloads,
		pub:      deps.Publisher,
		logger:   logger,
	}, nil
}

// Register wires the macro protocol factory into the link registry.
func Register(registry *protocol.LinkRegistry) error {
	return registry.RegisterFactory(ProtocolName, func(_ json.RawMessage, deps protocol.Dependencies) (protocol.Protocol, error) {
		return New(deps)
	})
}

// Name returns the protocol's registry key.
func (p *Protocol) Name() string {
	return ProtocolName
}

// LinkConfiguration parses the configuration payload into its action list.
func (p *Protocol) LinkConfiguration(_ context.Context, cfg protocol.Configuration) ([]protocol.Action, error) {
	return DecodeActions(cfg.Payload)
}

// UnlinkConfiguration is a no-op: stored payload removal is the registry's
// job, and executions already running keep their invocation snapshot.
func (p *Protocol) UnlinkConfiguration(_ context.Context, configRef asset.AttributeRef) error {
	p.logger.Debug("macro configuration unlinked", "config", configRef.String())
	return nil
}

// LinkAttribute is a no-op: the registry records the mapping and publishes
// the initial attribute state.
func (p *Protocol) LinkAttribute(_ context.Context, ref asset.AttributeRef, _ *asset.Attribute, cfg protocol.Configuration) error {
	p.logger.Debug("attribute linked to macro", "attribute", ref.String(), "config", cfg.Ref.String())
	return nil
}

// UnlinkAttribute is a no-op; a live execution for the attribute runs on.
func (p *Protocol) UnlinkAttribute(_ context.Context, ref asset.AttributeRef) error {
	p.logger.Debug("attribute unlinked from macro", "attribute", ref.String())
	return nil
}

// ProcessLinkedWrite handles an accepted southbound write on a linked
// attribute. Execution requests on executable attributes drive the engine;
// a cancel request works even when the configuration is disabled. Writes on
// action-index attributes mutate the stored payload at the clamped index and
// reflect the new value northbound. Anything else is ignored.
func (p *Protocol) ProcessLinkedWrite(ctx context.Context, state *asset.AssetState, cfg protocol.Configuration) error {
	attr := state.Attribute()
	if attr == nil {
		return errors.WrapInvalid(errors.ErrAttributeNotFound, "MacroProtocol", "ProcessLinkedWrite", "attribute lookup")
	}
	ref := state.Ref()

	if attr.Meta.Executable {
		status, ok := asset.ExecuteStatusFromValue(state.Value)
		if !ok || !status.IsWriteRequest() {
			p.logger.Warn("write on executable attribute is not an execution request",
				"attribute", ref.String(), "value", state.Value.String())
			return nil
		}

		if status == asset.ExecuteRequestCancel {
			p.engine.Cancel(ctx, ref)
			return nil
		}
		if !cfg.Enabled {
			p.logger.Debug("macro configuration is disabled", "config", cfg.Ref.String())
			return nil
		}
		actions := p.payloads.Actions(cfg.Ref)
		if len(actions) == 0 {
			p.logger.Debug("no actions to execute", "config", cfg.Ref.String())
			return nil
		}
		p.engine.Invoke(ctx, ref, actions, status == asset.ExecuteRequestRepeating)
		return nil
	}

	if attr.Meta.ActionIndex != nil {
		updated, ok := p.payloads.UpdateAction(cfg.Ref, *attr.Meta.ActionIndex, state.Value)
		if !ok {
			p.logger.Debug("no stored actions to update", "config", cfg.Ref.String())
			return nil
		}
		p.logger.Debug("macro action value updated",
			"config", cfg.Ref.String(), "index", *attr.Meta.ActionIndex)

		// Reflect the accepted write back through the pipeline so the
		// attribute's resident state carries the stored value.
		ev := asset.NewAttributeEvent(ref, updated.Value)
		if err := p.pub.PublishNorthbound(ctx, ProtocolName, ev); err != nil {
			return errors.WrapTransient(err, "MacroProtocol", "ProcessLinkedWrite", "action value publish")
		}
		return nil
	}

	p.logger.Debug("write on linked attribute ignored",
		"attribute", ref.String(), "config", cfg.Ref.String())
	return nil
}

// Close stops all pending executions without publishing status updates.
func (p *Protocol) Close() {
	p.engine.Close()
}

// Engine exposes the execution engine for introspection.
func (p *Protocol) Engine() *Engine {
	return p.engine
}
