package asset

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildState(t *testing.T) *AssetState {
	t.Helper()
	a := NewAsset("a1", "Boiler", KindThing)
	attr := NewAttribute("temp", "number")
	require.NoError(t, attr.SetValue(NumberValue(21), 1700000000000))
	a.AddAttribute(attr)
	return NewAssetState(a.Copy(), "temp", NumberValue(20), 1699999999000, NumberValue(21), 1700000000000, true)
}

func TestAssetStateAccessors(t *testing.T) {
	st := buildState(t)

	assert.Equal(t, NewRef("a1", "temp"), st.Ref())
	assert.Equal(t, StatusPending, st.Status())
	assert.True(t, st.Northbound)
	assert.True(t, st.ValueChanged())

	attr := st.Attribute()
	require.NotNil(t, attr)
	assert.Equal(t, "temp", attr.Name)

	ev := st.Event()
	assert.Equal(t, "a1", ev.AssetID)
	assert.Equal(t, int64(1700000000000), ev.Timestamp)
}

func TestStatusMovesForwardOnly(t *testing.T) {
	boom := stderrors.New("boom")

	t.Run("handled is terminal", func(t *testing.T) {
		st := buildState(t)
		st.SetHandled("agent")
		st.SetError("storage", boom)
		st.SetCompleted()

		assert.Equal(t, StatusHandled, st.Status())
		assert.Equal(t, "agent", st.HandledBy())
		assert.Nil(t, st.Cause())
	})

	t.Run("error is terminal", func(t *testing.T) {
		st := buildState(t)
		st.SetError("rules", boom)
		st.SetHandled("agent")
		st.SetCompleted()

		assert.Equal(t, StatusError, st.Status())
		assert.Equal(t, "rules", st.HandledBy())
		assert.Equal(t, boom, st.Cause())
	})

	t.Run("completed is terminal", func(t *testing.T) {
		st := buildState(t)
		st.SetCompleted()
		st.SetHandled("agent")

		assert.Equal(t, StatusCompleted, st.Status())
		assert.Empty(t, st.HandledBy())
	})
}

func TestSnapshotDoesNotAliasSource(t *testing.T) {
	a := NewAsset("a1", "Boiler", KindThing)
	attr := NewAttribute("temp", "number")
	require.NoError(t, attr.SetValue(NumberValue(21), 1700000000000))
	a.AddAttribute(attr)

	snapshot := a.Copy()
	snapshot.Attributes["temp"].Value = NumberValue(99)
	snapshot.Attributes["temp"].Meta.ReadOnly = true

	got, _ := a.Attribute("temp")
	f, _ := got.Value.AsFloat()
	assert.Equal(t, 21.0, f)
	assert.False(t, got.Meta.ReadOnly)
}

func TestExecuteStatusParsing(t *testing.T) {
	st, ok := ParseExecuteStatus("REQUEST_START")
	require.True(t, ok)
	assert.Equal(t, ExecuteRequestStart, st)
	assert.True(t, st.IsWriteRequest())

	st, ok = ParseExecuteStatus("RUNNING")
	require.True(t, ok)
	assert.False(t, st.IsWriteRequest())

	_, ok = ParseExecuteStatus("running")
	assert.False(t, ok)

	st, ok = ExecuteStatusFromValue(StringValue("REQUEST_CANCEL"))
	require.True(t, ok)
	assert.Equal(t, ExecuteRequestCancel, st)

	_, ok = ExecuteStatusFromValue(NumberValue(1))
	assert.False(t, ok)
}

func TestAssetValidate(t *testing.T) {
	a := NewAsset("a1", "Boiler", KindThing)
	a.AddAttribute(NewAttribute("temp", "number"))
	assert.NoError(t, a.Validate())

	a.Attributes["wrong"] = NewAttribute("other", "number")
	assert.Error(t, a.Validate())

	assert.Error(t, NewAsset("", "x", KindThing).Validate())
	assert.Error(t, NewAsset("a2", "", KindThing).Validate())
}
