package processing

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/assetmesh/asset"
	"github.com/c360/assetmesh/assetstore"
	"github.com/c360/assetmesh/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const gateNow = int64(1_700_000_000_000)

func fixedClock() GateOption {
	return WithClock(func() int64 { return gateNow })
}

// seedStore builds a memory store with one device carrying a plain number
// attribute, a read-only attribute and an executable attribute, plus an
// agent-kind asset.
func seedStore(t *testing.T) assetstore.Store {
	t.Helper()

	store := assetstore.NewMemoryStore()

	device := asset.NewAsset("sensor1", "Test Sensor", asset.KindDevice)
	device.AddAttribute(asset.NewAttribute("temperature", "number"))

	readOnly := asset.NewAttribute("serial", "text")
	readOnly.Meta.ReadOnly = true
	device.AddAttribute(readOnly)

	executable := asset.NewAttribute("scene", "json")
	executable.Meta.Executable = true
	device.AddAttribute(executable)
	require.NoError(t, store.Put(context.Background(), device))

	agent := asset.NewAsset("agent1", "Test Agent", asset.KindAgent)
	agent.AddAttribute(asset.NewAttribute("status", "text"))
	require.NoError(t, store.Put(context.Background(), agent))

	return store
}

func newTestGate(t *testing.T, store assetstore.Store) *Gate {
	t.Helper()
	gate, err := NewGate(store, testLogger(), nil, fixedClock())
	require.NoError(t, err)
	return gate
}

func tempEvent(value asset.Value, ts int64) asset.AttributeEvent {
	ref := asset.AttributeRef{AssetID: "sensor1", Name: "temperature"}
	return asset.NewAttributeEventAt(ref, value, ts)
}

func TestNewGateRequiresStore(t *testing.T) {
	_, err := NewGate(nil, testLogger(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestGateAcceptsFirstWrite(t *testing.T) {
	store := seedStore(t)
	gate := newTestGate(t, store)

	state, err := gate.Submit(context.Background(), tempEvent(asset.NumberValue(21.5), gateNow), true)
	require.NoError(t, err)

	assert.Equal(t, "sensor1", state.Asset.ID)
	assert.Equal(t, "temperature", state.AttributeName)
	assert.JSONEq(t, `21.5`, string(state.Value))
	assert.Equal(t, gateNow, state.Timestamp)
	assert.True(t, state.Value.Equal(state.Attribute().Value))
	assert.True(t, state.OldValue.IsNil())
	assert.Equal(t, int64(-1), state.OldTimestamp, "never-written attribute reports -1")
	assert.True(t, state.Northbound)
	assert.Equal(t, asset.StatusPending, state.Status())

	stored, err := store.Get(context.Background(), "sensor1")
	require.NoError(t, err)
	attr := stored.Attributes["temperature"]
	require.NotNil(t, attr)
	assert.JSONEq(t, `21.5`, string(attr.Value))
	assert.Equal(t, gateNow, attr.Timestamp)
}

func TestGateTracksPreviousValue(t *testing.T) {
	store := seedStore(t)
	gate := newTestGate(t, store)

	_, err := gate.Submit(context.Background(), tempEvent(asset.NumberValue(20), gateNow-100), true)
	require.NoError(t, err)

	state, err := gate.Submit(context.Background(), tempEvent(asset.NumberValue(22), gateNow), true)
	require.NoError(t, err)

	assert.JSONEq(t, `20`, string(state.OldValue))
	assert.Equal(t, gateNow-100, state.OldTimestamp)
	assert.JSONEq(t, `22`, string(state.Value))
	assert.True(t, state.ValueChanged())
}

func TestGateRejectsUnknownTargets(t *testing.T) {
	store := seedStore(t)
	gate := newTestGate(t, store)

	missingAsset := asset.NewAttributeEventAt(
		asset.AttributeRef{AssetID: "ghost", Name: "temperature"}, asset.NumberValue(1), gateNow)
	_, err := gate.Submit(context.Background(), missingAsset, true)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrAssetNotFound))

	missingAttr := asset.NewAttributeEventAt(
		asset.AttributeRef{AssetID: "sensor1", Name: "ghost"}, asset.NumberValue(1), gateNow)
	_, err = gate.Submit(context.Background(), missingAttr, true)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrAttributeNotFound))
}

func TestGateRejectsAgentAsset(t *testing.T) {
	store := seedStore(t)
	gate := newTestGate(t, store)

	event := asset.NewAttributeEventAt(
		asset.AttributeRef{AssetID: "agent1", Name: "status"}, asset.StringValue("up"), gateNow)
	_, err := gate.Submit(context.Background(), event, true)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrAgentUpdate))
	assert.True(t, errors.IsInvalid(err))
}

func TestGateReadOnlyAttribute(t *testing.T) {
	store := seedStore(t)
	gate := newTestGate(t, store)
	ref := asset.AttributeRef{AssetID: "sensor1", Name: "serial"}

	// Southbound writes to read-only attributes are rejected.
	_, err := gate.Submit(context.Background(),
		asset.NewAttributeEventAt(ref, asset.StringValue("A-1"), gateNow), false)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrReadOnly))

	// The device itself may still report a value northbound.
	state, err := gate.Submit(context.Background(),
		asset.NewAttributeEventAt(ref, asset.StringValue("A-1"), gateNow), true)
	require.NoError(t, err)
	assert.JSONEq(t, `"A-1"`, string(state.Value))
}

func TestGateExecutableAttribute(t *testing.T) {
	store := seedStore(t)
	gate := newTestGate(t, store)
	ref := asset.AttributeRef{AssetID: "sensor1", Name: "scene"}

	// Southbound writes must be execution requests.
	state, err := gate.Submit(context.Background(),
		asset.NewAttributeEventAt(ref, asset.ExecuteRequestStart.Value(), gateNow), false)
	require.NoError(t, err)
	status, ok := asset.ExecuteStatusFromValue(state.Value)
	require.True(t, ok)
	assert.Equal(t, asset.ExecuteRequestStart, status)

	_, err = gate.Submit(context.Background(),
		asset.NewAttributeEventAt(ref, asset.BoolValue(true), gateNow+1), false)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrInvalidExecutionRequest))

	// A status that only the executor may write is not a request.
	_, err = gate.Submit(context.Background(),
		asset.NewAttributeEventAt(ref, asset.ExecuteRunning.Value(), gateNow+2), false)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrInvalidExecutionRequest))

	// Northbound status reports from the executor pass through.
	_, err = gate.Submit(context.Background(),
		asset.NewAttributeEventAt(ref, asset.ExecuteRunning.Value(), gateNow+3), true)
	require.NoError(t, err)
}

func TestGateFutureTimestampBoundary(t *testing.T) {
	store := seedStore(t)
	gate := newTestGate(t, store)

	_, err := gate.Submit(context.Background(), tempEvent(asset.NumberValue(1), gateNow+999), true)
	require.NoError(t, err, "999 ms ahead is within tolerance")

	_, err = gate.Submit(context.Background(), tempEvent(asset.NumberValue(2), gateNow+1001), true)
	require.Error(t, err, "1001 ms ahead is beyond tolerance")
	assert.True(t, stderrors.Is(err, errors.ErrFutureTimestamp))
}

func TestGateRejectsStaleTimestamp(t *testing.T) {
	store := seedStore(t)
	gate := newTestGate(t, store)

	_, err := gate.Submit(context.Background(), tempEvent(asset.NumberValue(20), gateNow-100), true)
	require.NoError(t, err)

	// Equal to the recorded timestamp counts as stale.
	_, err = gate.Submit(context.Background(), tempEvent(asset.NumberValue(21), gateNow-100), true)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrStaleTimestamp))

	_, err = gate.Submit(context.Background(), tempEvent(asset.NumberValue(21), gateNow-200), true)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrStaleTimestamp))

	// The stale rejections left the stored value untouched.
	stored, err := store.Get(context.Background(), "sensor1")
	require.NoError(t, err)
	assert.JSONEq(t, `20`, string(stored.Attributes["temperature"].Value))

	_, err = gate.Submit(context.Background(), tempEvent(asset.NumberValue(21), gateNow-99), true)
	require.NoError(t, err, "one millisecond newer is enough")
}

func TestGateRejectsConstraintViolation(t *testing.T) {
	store := seedStore(t)
	gate := newTestGate(t, store)

	_, err := gate.Submit(context.Background(), tempEvent(asset.BoolValue(true), gateNow), true)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrConstraintViolation))

	stored, err := store.Get(context.Background(), "sensor1")
	require.NoError(t, err)
	assert.False(t, stored.Attributes["temperature"].HasValue())
}

func TestGateRejectsEventWithoutTimestamp(t *testing.T) {
	store := seedStore(t)
	gate := newTestGate(t, store)

	event := asset.AttributeEvent{AssetID: "sensor1", Attribute: "temperature", Value: asset.NumberValue(1)}
	_, err := gate.Submit(context.Background(), event, true)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
