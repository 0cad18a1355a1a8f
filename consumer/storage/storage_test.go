package storage

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/assetmesh/asset"
	"github.com/c360/assetmesh/assetstore"
	"github.com/c360/assetmesh/errors"
	"github.com/c360/assetmesh/pkg/timestamp"
)

type failingStore struct {
	assetstore.Store
	putErr error
}

func (f *failingStore) Put(_ context.Context, _ *asset.Asset) error {
	return f.putErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func updateState(t *testing.T, ref asset.AttributeRef, value asset.Value) *asset.AssetState {
	t.Helper()
	a := asset.NewAsset(ref.AssetID, "Test Asset", asset.KindRoom)
	attr := asset.NewAttribute(ref.Name, "")
	now := timestamp.Now()
	require.NoError(t, attr.SetValue(value, now))
	a.AddAttribute(attr)
	return asset.NewAssetState(a, ref.Name, nil, -1, value, now, true)
}

func TestNewRequiresStore(t *testing.T) {
	c, err := New(nil, testLogger(), nil)
	require.Error(t, err)
	assert.Nil(t, c)
	assert.True(t, errors.IsInvalid(err))
}

func TestAcceptPersistsSnapshot(t *testing.T) {
	store := assetstore.NewMemoryStore()
	c, err := New(store, testLogger(), nil)
	require.NoError(t, err)

	ref := asset.NewRef("room1", "temperature")
	state := updateState(t, ref, asset.NumberValue(21.5))
	require.NoError(t, c.Accept(context.Background(), state))

	// The record never gets claimed by persistence.
	assert.Equal(t, asset.StatusPending, state.Status())

	stored, err := store.Get(context.Background(), "room1")
	require.NoError(t, err)
	attr, ok := stored.Attribute("temperature")
	require.True(t, ok)
	assert.True(t, attr.Value.Equal(asset.NumberValue(21.5)))
}

func TestAcceptSurfacesStoreFailure(t *testing.T) {
	store := &failingStore{putErr: errors.ErrConnectionLost}
	c, err := New(store, testLogger(), nil)
	require.NoError(t, err)

	state := updateState(t, asset.NewRef("room1", "temperature"), asset.NumberValue(21.5))
	err = c.Accept(context.Background(), state)
	require.Error(t, err)
	assert.Equal(t, asset.StatusPending, state.Status())
}
