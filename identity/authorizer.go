package identity

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/c360/assetmesh/asset"
	"github.com/c360/assetmesh/errors"
)

// AssetFinder looks up assets for authorization decisions. The asset store
// satisfies it.
type AssetFinder interface {
	Get(ctx context.Context, assetID string) (*asset.Asset, error)
}

// Links records which assets a restricted user may touch. Restricted users
// are denied everything they are not explicitly linked to.
type Links struct {
	mu    sync.RWMutex
	users map[string]map[string]struct{}
}

// NewLinks returns an empty link registry.
func NewLinks() *Links {
	return &Links{users: make(map[string]map[string]struct{})}
}

// Link grants userID access to assetID.
func (l *Links) Link(userID, assetID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	assets, ok := l.users[userID]
	if !ok {
		assets = make(map[string]struct{})
		l.users[userID] = assets
	}
	assets[assetID] = struct{}{}
}

// Unlink revokes userID's access to assetID.
func (l *Links) Unlink(userID, assetID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if assets, ok := l.users[userID]; ok {
		delete(assets, assetID)
		if len(assets) == 0 {
			delete(l.users, userID)
		}
	}
}

// IsLinked reports whether userID is linked to assetID.
func (l *Links) IsLinked(userID, assetID string) bool {
	if l == nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.users[userID][assetID]
	return ok
}

// Authorizer decides subscription and write access to asset attribute
// events.
type Authorizer struct {
	finder AssetFinder
	links  *Links
}

// NewAuthorizer builds an authorizer over the given asset lookup. links may
// be nil, in which case restricted users are denied everywhere.
func NewAuthorizer(finder AssetFinder, links *Links) (*Authorizer, error) {
	if finder == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"Authorizer", "NewAuthorizer", "asset finder required")
	}
	return &Authorizer{finder: finder, links: links}, nil
}

// Authorize decides whether id may subscribe to events under filter.
// Returns nil when allowed, an ErrSubscriptionDenied error otherwise.
//
// Superusers see every asset. Everyone else needs the read:assets role;
// restricted users are then confined to their linked assets, regular users
// to assets in their own realm.
func (a *Authorizer) Authorize(ctx context.Context, id Identity, filter Filter) error {
	if filter.AssetID == "" {
		return a.denySubscription("filter check",
			fmt.Errorf("%w: subscription filter has no asset id", errors.ErrSubscriptionDenied))
	}

	target, err := a.finder.Get(ctx, filter.AssetID)
	if err != nil {
		if stderrors.Is(err, errors.ErrAssetNotFound) {
			return a.denySubscription("asset lookup",
				fmt.Errorf("%w: unknown asset %s", errors.ErrSubscriptionDenied, filter.AssetID))
		}
		return errors.WrapTransient(err, "Authorizer", "Authorize", "asset lookup")
	}

	if id.SuperUser {
		return nil
	}
	if !id.HasRole(RoleReadAssets) {
		return a.denySubscription("role check",
			fmt.Errorf("%w: user %s lacks %s", errors.ErrSubscriptionDenied, id.UserID, RoleReadAssets))
	}

	if id.Restricted {
		if a.links.IsLinked(id.UserID, filter.AssetID) {
			return nil
		}
		return a.denySubscription("link check",
			fmt.Errorf("%w: user %s not linked to asset %s", errors.ErrSubscriptionDenied, id.UserID, filter.AssetID))
	}

	if target.Realm == id.Realm {
		return nil
	}
	return a.denySubscription("realm check",
		fmt.Errorf("%w: asset %s outside realm %s", errors.ErrSubscriptionDenied, filter.AssetID, id.Realm))
}

// AuthorizeWrite decides whether id may write the referenced attribute.
// Returns nil when allowed, an ErrWriteDenied error otherwise.
//
// Superusers write anywhere without an asset lookup; the processing gate
// still rejects unknown targets. Everyone else needs the write:assets role,
// an existing target attribute and a realm match, and restricted users must
// additionally be linked to the asset.
func (a *Authorizer) AuthorizeWrite(ctx context.Context, id Identity, ref asset.AttributeRef) error {
	if ref.AssetID == "" {
		return a.denyWrite("ref check",
			fmt.Errorf("%w: write has no asset id", errors.ErrWriteDenied))
	}

	if id.SuperUser {
		return nil
	}
	if !id.HasRole(RoleWriteAssets) {
		return a.denyWrite("role check",
			fmt.Errorf("%w: user %s lacks %s", errors.ErrWriteDenied, id.UserID, RoleWriteAssets))
	}
	if id.Restricted && !a.links.IsLinked(id.UserID, ref.AssetID) {
		return a.denyWrite("link check",
			fmt.Errorf("%w: user %s not linked to asset %s", errors.ErrWriteDenied, id.UserID, ref.AssetID))
	}

	target, err := a.finder.Get(ctx, ref.AssetID)
	if err != nil {
		if stderrors.Is(err, errors.ErrAssetNotFound) {
			return a.denyWrite("asset lookup",
				fmt.Errorf("%w: unknown asset %s", errors.ErrWriteDenied, ref.AssetID))
		}
		return errors.WrapTransient(err, "Authorizer", "AuthorizeWrite", "asset lookup")
	}
	if _, ok := target.Attribute(ref.Name); !ok {
		return a.denyWrite("attribute check",
			fmt.Errorf("%w: asset %s has no attribute %s", errors.ErrWriteDenied, ref.AssetID, ref.Name))
	}
	if target.Realm != id.Realm {
		return a.denyWrite("realm check",
			fmt.Errorf("%w: asset %s outside realm %s", errors.ErrWriteDenied, ref.AssetID, id.Realm))
	}
	return nil
}

func (a *Authorizer) denySubscription(action string, err error) error {
	return errors.WrapInvalid(err, "Authorizer", "Authorize", action)
}

func (a *Authorizer) denyWrite(action string, err error) error {
	return errors.WrapInvalid(err, "Authorizer", "AuthorizeWrite", action)
}
