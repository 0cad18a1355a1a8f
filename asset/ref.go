package asset

import (
	"fmt"
	"strings"
)

// AttributeRef identifies one attribute of one asset. It is comparable and
// used as a map key for resident state, protocol links, and macro executions.
type AttributeRef struct {
	AssetID string `json:"assetId"`
	Name    string `json:"name"`
}

// NewRef builds an AttributeRef.
func NewRef(assetID, name string) AttributeRef {
	return AttributeRef{AssetID: assetID, Name: name}
}

// ParseRef parses the "assetID:name" form produced by String. Attribute
// names may themselves contain colons; the split is on the first one.
func ParseRef(s string) (AttributeRef, error) {
	assetID, name, ok := strings.Cut(s, ":")
	if !ok || assetID == "" || name == "" {
		return AttributeRef{}, fmt.Errorf("invalid attribute ref %q", s)
	}
	return AttributeRef{AssetID: assetID, Name: name}, nil
}

// String renders the ref as "assetID:name".
func (r AttributeRef) String() string {
	return r.AssetID + ":" + r.Name
}

// IsZero reports whether the ref has no asset ID and no name.
func (r AttributeRef) IsZero() bool {
	return r.AssetID == "" && r.Name == ""
}

// Valid reports whether both parts are populated.
func (r AttributeRef) Valid() bool {
	return r.AssetID != "" && r.Name != ""
}
