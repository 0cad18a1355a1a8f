// Package provision seeds the platform from a declarative YAML catalog:
// assets and their attributes, protocol configurations, restricted-user
// asset grants, and rules. The catalog is applied at startup and, when
// watching is enabled, re-applied whenever the file changes.
package provision

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/c360/assetmesh/asset"
	"github.com/c360/assetmesh/consumer/rules"
	"github.com/c360/assetmesh/errors"
	"github.com/c360/assetmesh/pkg/timestamp"
	"github.com/c360/assetmesh/protocol"
)

// catalogVersion is the highest catalog schema version this build reads.
const catalogVersion = 1

// Catalog is the parsed provisioning file. Asset ids are optional in the
// file; Parse assigns a UUID to any asset that omits one.
type Catalog struct {
	Version        int                 `yaml:"version" json:"version"`
	Realm          string              `yaml:"realm,omitempty" json:"realm,omitempty"`
	Assets         []AssetSpec         `yaml:"assets,omitempty" json:"assets,omitempty"`
	Configurations []ConfigurationSpec `yaml:"configurations,omitempty" json:"configurations,omitempty"`
	Users          []UserGrant         `yaml:"users,omitempty" json:"users,omitempty"`
	Rules          []RuleSpec          `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// AssetSpec declares one asset. Realm falls back to the catalog realm.
type AssetSpec struct {
	ID         string          `yaml:"id,omitempty" json:"id,omitempty"`
	Name       string          `yaml:"name" json:"name"`
	Kind       string          `yaml:"kind" json:"kind"`
	Realm      string          `yaml:"realm,omitempty" json:"realm,omitempty"`
	Parent     string          `yaml:"parent,omitempty" json:"parent,omitempty"`
	Attributes []AttributeSpec `yaml:"attributes,omitempty" json:"attributes,omitempty"`
}

// AttributeSpec declares one attribute. Value is an optional seed value; it
// only applies to attributes the pipeline has never written.
type AttributeSpec struct {
	Name  string   `yaml:"name" json:"name"`
	Type  string   `yaml:"type,omitempty" json:"type,omitempty"`
	Value any      `yaml:"value,omitempty" json:"value,omitempty"`
	Meta  MetaSpec `yaml:"meta,omitempty" json:"meta,omitempty"`
}

// MetaSpec mirrors asset.Meta in catalog form.
type MetaSpec struct {
	ReadOnly        bool   `yaml:"readOnly,omitempty" json:"readOnly,omitempty"`
	Executable      bool   `yaml:"executable,omitempty" json:"executable,omitempty"`
	RuleState       bool   `yaml:"ruleState,omitempty" json:"ruleState,omitempty"`
	StoreDatapoints bool   `yaml:"storeDatapoints,omitempty" json:"storeDatapoints,omitempty"`
	AgentLink       string `yaml:"agentLink,omitempty" json:"agentLink,omitempty"`
	ActionIndex     *int   `yaml:"actionIndex,omitempty" json:"actionIndex,omitempty"`
}

// ConfigurationSpec declares one protocol configuration on an agent
// attribute. Ref is "agentID:attributeName". Enabled defaults to true.
type ConfigurationSpec struct {
	Ref      string `yaml:"ref" json:"ref"`
	Protocol string `yaml:"protocol" json:"protocol"`
	Enabled  *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Payload  any    `yaml:"payload,omitempty" json:"payload,omitempty"`
}

// UserGrant links a restricted user to the assets they may reach.
type UserGrant struct {
	User   string   `yaml:"user" json:"user"`
	Assets []string `yaml:"assets" json:"assets"`
}

// RuleSpec declares one when/then rule.
type RuleSpec struct {
	Name string      `yaml:"name" json:"name"`
	When string      `yaml:"when" json:"when"`
	Then []WriteSpec `yaml:"then,omitempty" json:"then,omitempty"`
}

// WriteSpec is one attribute write emitted by a matched rule.
type WriteSpec struct {
	Target string `yaml:"target" json:"target"`
	Value  any    `yaml:"value,omitempty" json:"value,omitempty"`
}

// Load reads, parses and validates a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Catalog", "Load", "read catalog file")
	}
	return Parse(data)
}

// Parse decodes catalog YAML, assigns ids to assets that omit them and
// validates the result.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.WrapInvalid(err, "Catalog", "Parse", "decode catalog YAML")
	}

	for i := range c.Assets {
		if c.Assets[i].ID == "" {
			c.Assets[i].ID = uuid.NewString()
		}
	}

	if err := c.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Catalog", "Parse", "validate catalog")
	}
	return &c, nil
}

// Validate checks the catalog's structural invariants. All problems are
// reported at once.
func (c *Catalog) Validate() error {
	var problems []string
	report := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Version > catalogVersion {
		report("unsupported catalog version %d", c.Version)
	}

	assetIDs := make(map[string]struct{}, len(c.Assets))
	for _, spec := range c.Assets {
		if spec.Name == "" {
			report("asset %q has no name", spec.ID)
		}
		if spec.Kind == "" {
			report("asset %q has no kind", spec.ID)
		}
		if _, dup := assetIDs[spec.ID]; dup {
			report("duplicate asset id %q", spec.ID)
		}
		assetIDs[spec.ID] = struct{}{}

		attrNames := make(map[string]struct{}, len(spec.Attributes))
		for _, attr := range spec.Attributes {
			if attr.Name == "" {
				report("asset %q has an unnamed attribute", spec.ID)
				continue
			}
			if _, dup := attrNames[attr.Name]; dup {
				report("asset %q declares attribute %q twice", spec.ID, attr.Name)
			}
			attrNames[attr.Name] = struct{}{}

			if attr.Meta.AgentLink != "" {
				if _, err := asset.ParseRef(attr.Meta.AgentLink); err != nil {
					report("asset %q attribute %q: bad agent link %q", spec.ID, attr.Name, attr.Meta.AgentLink)
				}
			}
		}
	}

	configRefs := make(map[string]struct{}, len(c.Configurations))
	for _, spec := range c.Configurations {
		if _, err := asset.ParseRef(spec.Ref); err != nil {
			report("configuration ref %q is not assetID:attribute", spec.Ref)
		}
		if spec.Protocol == "" {
			report("configuration %q has no protocol", spec.Ref)
		}
		if _, dup := configRefs[spec.Ref]; dup {
			report("duplicate configuration ref %q", spec.Ref)
		}
		configRefs[spec.Ref] = struct{}{}
	}

	for _, grant := range c.Users {
		if grant.User == "" {
			report("user grant with no user")
		}
		if len(grant.Assets) == 0 {
			report("user %q is granted no assets", grant.User)
		}
	}

	ruleNames := make(map[string]struct{}, len(c.Rules))
	for _, spec := range c.Rules {
		if spec.Name == "" {
			report("rule with no name")
			continue
		}
		if strings.TrimSpace(spec.When) == "" {
			report("rule %q has no condition", spec.Name)
		}
		if _, dup := ruleNames[spec.Name]; dup {
			report("duplicate rule name %q", spec.Name)
		}
		ruleNames[spec.Name] = struct{}{}

		for i, w := range spec.Then {
			if _, err := asset.ParseRef(w.Target); err != nil {
				report("rule %q then[%d]: bad target %q", spec.Name, i, w.Target)
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// toAsset builds the asset the spec declares. Seed values are stamped with
// the current time and validated against the attribute's descriptor.
func (s AssetSpec) toAsset(defaultRealm string) (*asset.Asset, error) {
	a := asset.NewAsset(s.ID, s.Name, asset.Kind(s.Kind))
	a.Realm = s.Realm
	if a.Realm == "" {
		a.Realm = defaultRealm
	}
	a.ParentID = s.Parent
	a.CreatedOn = timestamp.Now()

	for _, spec := range s.Attributes {
		attr, err := spec.toAttribute()
		if err != nil {
			return nil, fmt.Errorf("asset %q: %w", s.ID, err)
		}
		a.AddAttribute(attr)
	}

	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	return a, nil
}

func (s AttributeSpec) toAttribute() (*asset.Attribute, error) {
	attr := asset.NewAttribute(s.Name, s.Type)
	attr.Meta = asset.Meta{
		ReadOnly:        s.Meta.ReadOnly,
		Executable:      s.Meta.Executable,
		RuleState:       s.Meta.RuleState,
		StoreDatapoints: s.Meta.StoreDatapoints,
		AgentLink:       s.Meta.AgentLink,
		ActionIndex:     s.Meta.ActionIndex,
	}

	if s.Value != nil {
		value, err := asset.ObjectValue(s.Value)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", s.Name, err)
		}
		if err := attr.SetValue(value, timestamp.Now()); err != nil {
			return nil, fmt.Errorf("attribute %q: %w", s.Name, err)
		}
	}
	return attr, nil
}

// toConfiguration builds the protocol configuration the spec declares.
func (s ConfigurationSpec) toConfiguration() (protocol.Configuration, error) {
	ref, err := asset.ParseRef(s.Ref)
	if err != nil {
		return protocol.Configuration{}, fmt.Errorf("configuration %q: %w", s.Ref, err)
	}

	enabled := true
	if s.Enabled != nil {
		enabled = *s.Enabled
	}

	var payload asset.Value
	if s.Payload != nil {
		payload, err = asset.ObjectValue(s.Payload)
		if err != nil {
			return protocol.Configuration{}, fmt.Errorf("configuration %q payload: %w", s.Ref, err)
		}
	}

	return protocol.Configuration{
		Ref:      ref,
		Protocol: s.Protocol,
		Enabled:  enabled,
		Payload:  payload,
	}, nil
}

// toRule builds the rule the spec declares.
func (s RuleSpec) toRule() (rules.Rule, error) {
	then := make([]rules.Write, len(s.Then))
	for i, w := range s.Then {
		var value asset.Value
		if w.Value != nil {
			v, err := asset.ObjectValue(w.Value)
			if err != nil {
				return rules.Rule{}, fmt.Errorf("rule %q then[%d]: %w", s.Name, i, err)
			}
			value = v
		}
		then[i] = rules.Write{Target: w.Target, Value: value}
	}
	return rules.Rule{Name: s.Name, When: s.When, Then: then}, nil
}
