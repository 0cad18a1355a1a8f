package macro

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/assetmesh/asset"
	"github.com/c360/assetmesh/errors"
	"github.com/c360/assetmesh/protocol"
)

func TestActionsRoundTrip(t *testing.T) {
	in := []protocol.Action{
		{Target: asset.NewRef("light1", "power"), Value: asset.BoolValue(true), DelayMs: 0},
		{Target: asset.NewRef("light2", "brightness"), Value: asset.NumberValue(80), DelayMs: 100},
		{Target: asset.NewRef("blind1", "position"), Value: asset.NumberValue(0), DelayMs: 50},
	}

	payload, err := EncodeActions(in)
	require.NoError(t, err)

	out, err := DecodeActions(payload)
	require.NoError(t, err)
	require.Len(t, out, len(in))
	for i := range in {
		assert.Equal(t, in[i].Target, out[i].Target, "action %d target", i)
		assert.Equal(t, in[i].DelayMs, out[i].DelayMs, "action %d delay", i)
		assert.True(t, in[i].Value.Equal(out[i].Value), "action %d value", i)
	}
}

func TestDecodeActionsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		payload asset.Value
	}{
		{name: "nil payload", payload: nil},
		{name: "malformed json", payload: asset.Value(`{not json`)},
		{name: "not a list", payload: asset.Value(`{"target":"light1:power"}`)},
		{name: "empty list", payload: asset.Value(`[]`)},
		{name: "target without attribute", payload: asset.Value(`[{"target":"light1","value":true}]`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actions, err := DecodeActions(tt.payload)
			require.Error(t, err)
			assert.Nil(t, actions)
			assert.True(t, errors.IsInvalid(err))
			assert.True(t, stderrors.Is(err, errors.ErrInvalidProtocolConfig))
		})
	}
}

func TestDecodeActionsDefaults(t *testing.T) {
	actions, err := DecodeActions(asset.Value(`[{"target":"light1:power"}]`))
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, asset.NewRef("light1", "power"), actions[0].Target)
	assert.Zero(t, actions[0].DelayMs)
	assert.True(t, actions[0].Value.IsNil())
}
