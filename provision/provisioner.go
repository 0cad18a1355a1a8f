package provision

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/c360/assetmesh/asset"
	"github.com/c360/assetmesh/assetstore"
	"github.com/c360/assetmesh/consumer/rules"
	"github.com/c360/assetmesh/errors"
	"github.com/c360/assetmesh/identity"
	"github.com/c360/assetmesh/metric"
	"github.com/c360/assetmesh/protocol"
)

// RuleInstaller is the slice of the rules consumer provisioning drives.
type RuleInstaller interface {
	Install(rule rules.Rule) error
	Remove(name string) bool
}

// Provisioner applies catalogs: assets are upserted into the store,
// protocol configurations and agent-linked attributes go through the link
// registry, user grants into the link table, rules into the installer.
// Re-applying reconciles: configurations, attribute links, grants and
// rules that the previous apply created and the new catalog no longer
// names are withdrawn. Assets are never deleted by an apply.
type Provisioner struct {
	store    assetstore.Store
	registry *protocol.LinkRegistry
	rules    RuleInstaller
	links    *identity.Links
	logger   *slog.Logger
	metrics  *provisionMetrics

	mu      sync.Mutex
	applied appliedState
}

// appliedState remembers what the last apply pass created, so the next one
// can withdraw what disappeared from the catalog.
type appliedState struct {
	configs map[asset.AttributeRef]struct{}
	attrs   map[asset.AttributeRef]struct{}
	rules   map[string]struct{}
	grants  map[grant]struct{}
}

type grant struct {
	user    string
	assetID string
}

func newAppliedState() appliedState {
	return appliedState{
		configs: make(map[asset.AttributeRef]struct{}),
		attrs:   make(map[asset.AttributeRef]struct{}),
		rules:   make(map[string]struct{}),
		grants:  make(map[grant]struct{}),
	}
}

// ProvisionerDeps carries the provisioner's collaborators. Store is
// required; the others are optional and catalogs naming their sections are
// partially applied with a warning when they are absent.
type ProvisionerDeps struct {
	Store    assetstore.Store
	Registry *protocol.LinkRegistry
	Rules    RuleInstaller
	Links    *identity.Links
	Metrics  *metric.MetricsRegistry
	Logger   *slog.Logger
}

// NewProvisioner creates a Provisioner.
func NewProvisioner(deps ProvisionerDeps) (*Provisioner, error) {
	if deps.Store == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"Provisioner", "NewProvisioner", "asset store required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Provisioner{
		store:    deps.Store,
		registry: deps.Registry,
		rules:    deps.Rules,
		links:    deps.Links,
		logger:   logger.With("component", "provisioner"),
		metrics:  newProvisionMetrics(deps.Metrics),
		applied:  newAppliedState(),
	}, nil
}

// Apply pushes the catalog into the running system. Failures are collected
// per entry, the rest of the catalog still applies, and the combined error
// names everything that failed.
func (p *Provisioner) Apply(ctx context.Context, cat *Catalog) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	var problems []string
	report := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	next := newAppliedState()

	assets := 0
	for _, spec := range cat.Assets {
		if err := p.applyAsset(ctx, spec, cat.Realm); err != nil {
			report("asset %q: %v", spec.ID, err)
			continue
		}
		assets++
	}

	p.applyConfigurations(ctx, cat, &next, report)
	p.applyAttributeLinks(ctx, cat, &next, report)
	p.applyGrants(cat, &next)
	p.applyRules(cat, &next, report)

	p.applied = next
	p.metrics.setApplied(assets, len(next.configs), len(next.attrs), len(next.rules), len(next.grants))

	if len(problems) > 0 {
		p.metrics.recordApply("error", time.Since(start).Seconds())
		return errors.Wrap(
			fmt.Errorf("%d catalog entries failed: %s", len(problems), strings.Join(problems, "; ")),
			"Provisioner", "Apply", "apply catalog")
	}

	p.metrics.recordApply("ok", time.Since(start).Seconds())
	p.logger.Info("catalog applied",
		"assets", assets,
		"configurations", len(next.configs),
		"attribute_links", len(next.attrs),
		"rules", len(next.rules),
		"grants", len(next.grants),
	)
	return nil
}

// applyAsset upserts one asset. On update, attributes the pipeline has
// already written keep their stored value and timestamp; catalog seed
// values only reach attributes that have never been set.
func (p *Provisioner) applyAsset(ctx context.Context, spec AssetSpec, defaultRealm string) error {
	desired, err := spec.toAsset(defaultRealm)
	if err != nil {
		return err
	}

	existing, err := p.store.Get(ctx, desired.ID)
	switch {
	case err == nil:
		desired.CreatedOn = existing.CreatedOn
		for _, name := range desired.AttributeNames() {
			attr, _ := desired.Attribute(name)
			prev, ok := existing.Attribute(name)
			if !ok || !prev.HasTimestamp() {
				continue
			}
			attr.Value = prev.Value.Copy()
			attr.Timestamp = prev.Timestamp
		}
	case stderrors.Is(err, errors.ErrAssetNotFound):
	default:
		return err
	}

	return p.store.Put(ctx, desired)
}

func (p *Provisioner) applyConfigurations(ctx context.Context, cat *Catalog, next *appliedState, report func(string, ...any)) {
	if p.registry == nil {
		if len(cat.Configurations) > 0 {
			p.logger.Warn("catalog declares protocol configurations but no link registry is wired")
		}
		return
	}

	for _, spec := range cat.Configurations {
		cfg, err := spec.toConfiguration()
		if err != nil {
			report("%v", err)
			continue
		}
		if err := p.registry.LinkConfiguration(ctx, cfg); err != nil {
			report("configuration %q: %v", spec.Ref, err)
			continue
		}
		next.configs[cfg.Ref] = struct{}{}
	}

	for ref := range p.applied.configs {
		if _, keep := next.configs[ref]; keep {
			continue
		}
		if err := p.registry.UnlinkConfiguration(ctx, ref); err != nil {
			report("unlink configuration %q: %v", ref.String(), err)
		}
	}
}

func (p *Provisioner) applyAttributeLinks(ctx context.Context, cat *Catalog, next *appliedState, report func(string, ...any)) {
	if p.registry == nil {
		return
	}

	for _, spec := range cat.Assets {
		for _, attrSpec := range spec.Attributes {
			if attrSpec.Meta.AgentLink == "" {
				continue
			}
			configRef, err := asset.ParseRef(attrSpec.Meta.AgentLink)
			if err != nil {
				report("asset %q attribute %q: %v", spec.ID, attrSpec.Name, err)
				continue
			}
			attr, err := attrSpec.toAttribute()
			if err != nil {
				report("asset %q: %v", spec.ID, err)
				continue
			}
			ref := asset.AttributeRef{AssetID: spec.ID, Name: attrSpec.Name}
			if err := p.registry.LinkAttribute(ctx, ref, attr, configRef); err != nil {
				report("link %q to %q: %v", ref.String(), configRef.String(), err)
				continue
			}
			next.attrs[ref] = struct{}{}
		}
	}

	for ref := range p.applied.attrs {
		if _, keep := next.attrs[ref]; keep {
			continue
		}
		if err := p.registry.UnlinkAttribute(ctx, ref); err != nil {
			report("unlink attribute %q: %v", ref.String(), err)
		}
	}
}

func (p *Provisioner) applyGrants(cat *Catalog, next *appliedState) {
	if p.links == nil {
		if len(cat.Users) > 0 {
			p.logger.Warn("catalog declares user grants but no link table is wired")
		}
		return
	}

	for _, userGrant := range cat.Users {
		for _, assetID := range userGrant.Assets {
			p.links.Link(userGrant.User, assetID)
			next.grants[grant{user: userGrant.User, assetID: assetID}] = struct{}{}
		}
	}

	for g := range p.applied.grants {
		if _, keep := next.grants[g]; keep {
			continue
		}
		p.links.Unlink(g.user, g.assetID)
	}
}

func (p *Provisioner) applyRules(cat *Catalog, next *appliedState, report func(string, ...any)) {
	if p.rules == nil {
		if len(cat.Rules) > 0 {
			p.logger.Warn("catalog declares rules but no rule installer is wired")
		}
		return
	}

	for _, spec := range cat.Rules {
		rule, err := spec.toRule()
		if err != nil {
			report("%v", err)
			continue
		}
		if err := p.rules.Install(rule); err != nil {
			report("rule %q: %v", spec.Name, err)
			continue
		}
		next.rules[spec.Name] = struct{}{}
	}

	for name := range p.applied.rules {
		if _, keep := next.rules[name]; keep {
			continue
		}
		p.rules.Remove(name)
	}
}
