package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/c360/assetmesh/asset"
	"github.com/c360/assetmesh/errors"
)

// configState is the registry's record for one configuration: the
// configuration as linked, its deployment status, and the parsed payload.
// On DeploymentError the action list is empty.
type configState struct {
	cfg     Configuration
	status  DeploymentStatus
	actions []Action
}

// LinkRegistry owns the protocol configuration and attribute link state:
// configuration ref → {enabled, deployment status, parsed payload} and
// attribute ref → configuration ref, plus the protocol factories and
// instances by name. One RWMutex guards all maps; link mutations are rare
// compared to payload reads.
type LinkRegistry struct {
	publisher Publisher
	logger    *slog.Logger

	mu        sync.RWMutex
	factories map[string]Factory
	protocols map[string]Protocol
	configs   map[asset.AttributeRef]*configState
	links     map[asset.AttributeRef]asset.AttributeRef
}

// RegistryStats reports registry sizes for health reporting.
type RegistryStats struct {
	Protocols      int `json:"protocols"`
	Configurations int `json:"configurations"`
	Links          int `json:"links"`
}

// NewLinkRegistry creates an empty link registry. The publisher carries the
// side-effect events linking produces (initial execute status, action
// values) onto the northbound path.
func NewLinkRegistry(publisher Publisher, logger *slog.Logger) (*LinkRegistry, error) {
	if publisher == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "LinkRegistry", "NewLinkRegistry", "publisher validation")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LinkRegistry{
		publisher: publisher,
		logger:    logger.With("component", "link_registry"),
		factories: make(map[string]Factory),
		protocols: make(map[string]Protocol),
		configs:   make(map[asset.AttributeRef]*configState),
		links:     make(map[asset.AttributeRef]asset.AttributeRef),
	}, nil
}

// RegisterFactory registers a protocol factory under the protocol name.
// Duplicate names are rejected.
func (r *LinkRegistry) RegisterFactory(name string, factory Factory) error {
	if name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "LinkRegistry", "RegisterFactory", "protocol name validation")
	}
	if factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "LinkRegistry", "RegisterFactory", "factory validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		msg := fmt.Errorf("protocol factory %q is already registered", name)
		return errors.WrapInvalid(msg, "LinkRegistry", "RegisterFactory", "duplicate factory check")
	}
	r.factories[name] = factory
	return nil
}

// CreateProtocol builds the named protocol from its factory and registers
// the instance. When deps.Payloads is nil the registry itself serves payload
// reads and writes.
func (r *LinkRegistry) CreateProtocol(name string, rawConfig json.RawMessage, deps Dependencies) (Protocol, error) {
	r.mu.RLock()
	factory, exists := r.factories[name]
	r.mu.RUnlock()

	if !exists {
		msg := fmt.Errorf("unknown protocol factory %q", name)
		return nil, errors.WrapInvalid(msg, "LinkRegistry", "CreateProtocol", "factory lookup")
	}

	if deps.Payloads == nil {
		deps.Payloads = r
	}
	if deps.Publisher == nil {
		deps.Publisher = r.publisher
	}
	if deps.Logger == nil {
		deps.Logger = r.logger
	}

	p, err := factory(rawConfig, deps)
	if err != nil {
		return nil, errors.Wrap(err, "LinkRegistry", "CreateProtocol", "factory execution")
	}
	if err := r.RegisterProtocol(p); err != nil {
		return nil, err
	}
	return p, nil
}

// RegisterProtocol registers a protocol instance under its name.
func (r *LinkRegistry) RegisterProtocol(p Protocol) error {
	if p == nil || p.Name() == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "LinkRegistry", "RegisterProtocol", "protocol validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.protocols[p.Name()]; exists {
		msg := fmt.Errorf("protocol %q is already registered", p.Name())
		return errors.WrapInvalid(msg, "LinkRegistry", "RegisterProtocol", "duplicate protocol check")
	}
	r.protocols[p.Name()] = p
	return nil
}

// Protocol returns the registered protocol instance by name.
func (r *LinkRegistry) Protocol(name string) (Protocol, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.protocols[name]
	return p, ok
}

// ProtocolNames returns the registered protocol names in sorted order.
func (r *LinkRegistry) ProtocolNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.protocols))
	for name := range r.protocols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LinkConfiguration hands cfg's payload to the owning protocol and records
// the outcome. An invalid payload or unknown protocol degrades the
// configuration to DeploymentError with an empty action list; the
// configuration exists but is inert. Re-linking a known configuration
// replaces its state.
func (r *LinkRegistry) LinkConfiguration(ctx context.Context, cfg Configuration) error {
	if !cfg.Ref.Valid() {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "LinkRegistry", "LinkConfiguration", "configuration ref validation")
	}
	if cfg.Protocol == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "LinkRegistry", "LinkConfiguration", "protocol name validation")
	}

	p, ok := r.Protocol(cfg.Protocol)
	if !ok {
		r.storeConfig(&configState{cfg: cfg, status: DeploymentError})
		r.logger.Warn("configuration references unknown protocol",
			"config", cfg.Ref.String(), "protocol", cfg.Protocol)
		return nil
	}

	actions, err := p.LinkConfiguration(ctx, cfg)
	if err != nil {
		r.storeConfig(&configState{cfg: cfg, status: DeploymentError})
		r.logger.Warn("configuration payload rejected",
			"config", cfg.Ref.String(), "protocol", cfg.Protocol, "error", err)
		return nil
	}

	status := DeploymentLinkedDisabled
	if cfg.Enabled {
		status = DeploymentLinkedEnabled
	}
	r.storeConfig(&configState{cfg: cfg, status: status, actions: actions})
	r.logger.Info("protocol configuration linked",
		"config", cfg.Ref.String(), "protocol", cfg.Protocol,
		"status", string(status), "actions", len(actions))
	return nil
}

func (r *LinkRegistry) storeConfig(st *configState) {
	r.mu.Lock()
	r.configs[st.cfg.Ref] = st
	r.mu.Unlock()
}

// UnlinkConfiguration removes the configuration and its payload. Attribute
// links pointing at it are not cascaded; they read as "configuration not
// found" until unlinked. Unknown configurations are a no-op.
func (r *LinkRegistry) UnlinkConfiguration(ctx context.Context, configRef asset.AttributeRef) error {
	r.mu.Lock()
	st, ok := r.configs[configRef]
	delete(r.configs, configRef)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if p, found := r.Protocol(st.cfg.Protocol); found {
		if err := p.UnlinkConfiguration(ctx, configRef); err != nil {
			r.logger.Warn("protocol unlink hook failed",
				"config", configRef.String(), "protocol", st.cfg.Protocol, "error", err)
		}
	}
	r.logger.Info("protocol configuration unlinked", "config", configRef.String())
	return nil
}

// LinkAttribute records the attribute → configuration mapping. Linking is
// idempotent and last write wins. Side effects on link only: an executable
// attribute gets an initial execute status event (READY when the
// configuration is enabled, DISABLED otherwise), and an attribute carrying
// an action index gets the current value of that action, index clamped into
// the payload's bounds. Linking to an unknown configuration records the
// mapping but skips the side effects.
func (r *LinkRegistry) LinkAttribute(ctx context.Context, ref asset.AttributeRef, attr *asset.Attribute, configRef asset.AttributeRef) error {
	if !ref.Valid() || !configRef.Valid() {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "LinkRegistry", "LinkAttribute", "ref validation")
	}
	if attr == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "LinkRegistry", "LinkAttribute", "attribute validation")
	}

	r.mu.Lock()
	r.links[ref] = configRef
	st := r.configs[configRef]
	var cfg Configuration
	if st != nil {
		cfg = st.cfg
	}
	r.mu.Unlock()

	if st == nil {
		r.logger.Warn("attribute linked to unknown configuration",
			"attribute", ref.String(), "config", configRef.String())
		return nil
	}

	if p, ok := r.Protocol(cfg.Protocol); ok {
		if err := p.LinkAttribute(ctx, ref, attr, cfg); err != nil {
			return errors.Wrap(err, "LinkRegistry", "LinkAttribute", "protocol link hook")
		}
	}

	switch {
	case attr.Meta.Executable:
		status := asset.ExecuteDisabled
		if cfg.Enabled {
			status = asset.ExecuteReady
		}
		ev := asset.NewAttributeEvent(ref, status.Value())
		if err := r.publisher.PublishNorthbound(ctx, cfg.Protocol, ev); err != nil {
			return errors.WrapTransient(err, "LinkRegistry", "LinkAttribute", "initial execute status publish")
		}

	case attr.Meta.ActionIndex != nil:
		var value asset.Value
		if actions := r.Actions(configRef); len(actions) > 0 {
			idx := clampIndex(*attr.Meta.ActionIndex, len(actions))
			value = actions[idx].Value.Copy()
		} else {
			r.logger.Debug("no actions available for linked configuration",
				"attribute", ref.String(), "config", configRef.String())
		}
		ev := asset.NewAttributeEvent(ref, value)
		if err := r.publisher.PublishNorthbound(ctx, cfg.Protocol, ev); err != nil {
			return errors.WrapTransient(err, "LinkRegistry", "LinkAttribute", "action value publish")
		}
	}
	return nil
}

// UnlinkAttribute drops the attribute → configuration mapping. No side
// effects; unknown attributes are a no-op.
func (r *LinkRegistry) UnlinkAttribute(ctx context.Context, ref asset.AttributeRef) error {
	r.mu.Lock()
	configRef, ok := r.links[ref]
	delete(r.links, ref)
	var protoName string
	if ok {
		if st := r.configs[configRef]; st != nil {
			protoName = st.cfg.Protocol
		}
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if p, found := r.Protocol(protoName); found {
		if err := p.UnlinkAttribute(ctx, ref); err != nil {
			r.logger.Warn("protocol unlink hook failed",
				"attribute", ref.String(), "protocol", protoName, "error", err)
		}
	}
	return nil
}

// LinkedConfiguration returns the configuration ref the attribute is linked
// to, if any.
func (r *LinkRegistry) LinkedConfiguration(ref asset.AttributeRef) (asset.AttributeRef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	configRef, ok := r.links[ref]
	return configRef, ok
}

// Status returns the configuration's deployment status.
func (r *LinkRegistry) Status(configRef asset.AttributeRef) (DeploymentStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.configs[configRef]
	if !ok {
		return "", false
	}
	return st.status, true
}

// Actions returns a snapshot of the configuration's action list. Unknown
// configurations, empty payloads, and disabled configurations all yield an
// empty list: disabled means no actions, not an error.
func (r *LinkRegistry) Actions(configRef asset.AttributeRef) []Action {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.configs[configRef]
	if !ok || len(st.actions) == 0 {
		return nil
	}
	if !st.cfg.Enabled {
		return nil
	}
	out := make([]Action, len(st.actions))
	copy(out, st.actions)
	return out
}

// UpdateAction replaces the value of the stored action at index, clamped
// into the payload's bounds, and returns a copy of the updated action. The
// stored payload is mutated even when the configuration is disabled; a live
// execution's snapshot is never touched. Reports false when the
// configuration is unknown or holds no actions.
func (r *LinkRegistry) UpdateAction(configRef asset.AttributeRef, index int, value asset.Value) (Action, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.configs[configRef]
	if !ok || len(st.actions) == 0 {
		return Action{}, false
	}
	idx := clampIndex(index, len(st.actions))
	st.actions[idx].Value = value.Copy()

	updated := st.actions[idx]
	updated.Value = updated.Value.Copy()
	return updated, true
}

// ProcessLinkedWrite routes an accepted southbound write on a linked
// attribute to the owning protocol. A dangling link reads as configuration
// not found.
func (r *LinkRegistry) ProcessLinkedWrite(ctx context.Context, state *asset.AssetState) error {
	ref := state.Ref()

	r.mu.RLock()
	configRef, linked := r.links[ref]
	var st *configState
	if linked {
		st = r.configs[configRef]
	}
	r.mu.RUnlock()

	if !linked {
		return errors.WrapInvalid(errors.ErrAttributeNotFound, "LinkRegistry", "ProcessLinkedWrite", "attribute link lookup")
	}
	if st == nil {
		return errors.WrapInvalid(errors.ErrConfigurationNotFound, "LinkRegistry", "ProcessLinkedWrite", "configuration lookup")
	}
	p, ok := r.Protocol(st.cfg.Protocol)
	if !ok {
		return errors.WrapInvalid(errors.ErrConfigurationNotFound, "LinkRegistry", "ProcessLinkedWrite", "protocol lookup")
	}
	return p.ProcessLinkedWrite(ctx, state, st.cfg)
}

// Stats reports the registry's current sizes.
func (r *LinkRegistry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RegistryStats{
		Protocols:      len(r.protocols),
		Configurations: len(r.configs),
		Links:          len(r.links),
	}
}
