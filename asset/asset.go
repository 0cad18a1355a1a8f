package asset

import (
	"fmt"
	"sort"
)

// Kind classifies an asset. Agents host protocol configuration attributes
// and never accept attribute events directly.
type Kind string

const (
	KindThing    Kind = "thing"
	KindDevice   Kind = "device"
	KindRoom     Kind = "room"
	KindBuilding Kind = "building"
	KindAgent    Kind = "agent"
	KindCustom   Kind = "custom"
)

// Asset is a named entity carrying attributes. Assets are stored and
// updated as whole documents; the store hands out deep copies so pipeline
// snapshots never alias resident state.
type Asset struct {
	ID         string                `json:"id"`
	Name       string                `json:"name"`
	Kind       Kind                  `json:"kind"`
	Realm      string                `json:"realm,omitempty"`
	ParentID   string                `json:"parentId,omitempty"`
	CreatedOn  int64                 `json:"createdOn,omitempty"`
	Attributes map[string]*Attribute `json:"attributes,omitempty"`
}

// NewAsset builds an asset with an empty attribute set.
func NewAsset(id, name string, kind Kind) *Asset {
	return &Asset{
		ID:         id,
		Name:       name,
		Kind:       kind,
		Attributes: make(map[string]*Attribute),
	}
}

// IsAgent reports whether the asset hosts protocol configurations.
func (a *Asset) IsAgent() bool {
	return a.Kind == KindAgent
}

// Attribute returns the named attribute.
func (a *Asset) Attribute(name string) (*Attribute, bool) {
	attr, ok := a.Attributes[name]
	return attr, ok
}

// AddAttribute attaches attr, replacing any existing attribute of the same
// name.
func (a *Asset) AddAttribute(attr *Attribute) *Asset {
	if a.Attributes == nil {
		a.Attributes = make(map[string]*Attribute)
	}
	a.Attributes[attr.Name] = attr
	return a
}

// AttributeNames returns the attribute names in sorted order.
func (a *Asset) AttributeNames() []string {
	names := make([]string, 0, len(a.Attributes))
	for name := range a.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Copy returns a deep copy of the asset.
func (a *Asset) Copy() *Asset {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Attributes = make(map[string]*Attribute, len(a.Attributes))
	for name, attr := range a.Attributes {
		cp.Attributes[name] = attr.Copy()
	}
	return &cp
}

// Validate checks the asset's structural invariants before it is stored.
func (a *Asset) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("asset has no ID")
	}
	if a.Name == "" {
		return fmt.Errorf("asset %s has no name", a.ID)
	}
	for name, attr := range a.Attributes {
		if attr == nil {
			return fmt.Errorf("asset %s: attribute %q is nil", a.ID, name)
		}
		if attr.Name != name {
			return fmt.Errorf("asset %s: attribute keyed %q but named %q", a.ID, name, attr.Name)
		}
	}
	return nil
}
