// Package identity models the callers of the gateway surface and decides
// what they may subscribe to and write. Token verification is an external
// concern: a fronting proxy authenticates the request and forwards the
// result as headers, which the default HeaderProvider reads.
package identity

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Client roles checked by the authorizer.
const (
	RoleReadAssets  = "read:assets"
	RoleWriteAssets = "write:assets"
)

// Headers read by HeaderProvider.
const (
	HeaderUser       = "X-Auth-User"
	HeaderRealm      = "X-Auth-Realm"
	HeaderRoles      = "X-Auth-Roles"
	HeaderSuperUser  = "X-Auth-Superuser"
	HeaderRestricted = "X-Auth-Restricted"
)

// Identity describes an authenticated caller.
type Identity struct {
	UserID     string
	Realm      string
	Roles      []string
	SuperUser  bool
	Restricted bool
}

// HasRole reports whether the identity carries the named role.
func (id Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Filter scopes an event subscription to one asset, optionally narrowed to
// a single attribute. A filter without an asset id is never authorized.
type Filter struct {
	AssetID   string `json:"assetId"`
	Attribute string `json:"attribute,omitempty"`
}

// Matches reports whether a completion for the given asset and attribute
// falls inside the filter.
func (f Filter) Matches(assetID, attribute string) bool {
	if f.AssetID != assetID {
		return false
	}
	return f.Attribute == "" || f.Attribute == attribute
}

// Provider extracts the caller's identity from an HTTP request, typically
// the WebSocket upgrade request.
type Provider interface {
	Identify(r *http.Request) (Identity, error)
}

// HeaderProvider trusts identity headers injected by an authenticating
// proxy. The user header is required; everything else defaults to an
// unprivileged identity.
type HeaderProvider struct{}

// Identify builds an Identity from the request headers.
func (HeaderProvider) Identify(r *http.Request) (Identity, error) {
	user := strings.TrimSpace(r.Header.Get(HeaderUser))
	if user == "" {
		return Identity{}, fmt.Errorf("request carries no %s header", HeaderUser)
	}

	id := Identity{
		UserID: user,
		Realm:  strings.TrimSpace(r.Header.Get(HeaderRealm)),
		Roles:  splitRoles(r.Header.Get(HeaderRoles)),
	}
	if v := r.Header.Get(HeaderSuperUser); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			id.SuperUser = b
		}
	}
	if v := r.Header.Get(HeaderRestricted); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			id.Restricted = b
		}
	}
	return id, nil
}

func splitRoles(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	roles := make([]string, 0, len(parts))
	for _, p := range parts {
		if role := strings.TrimSpace(p); role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}
