package service

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopConstructor(_ json.RawMessage, _ *Dependencies) (Service, error) {
	return NewBaseServiceWithOptions("noop", nil), nil
}

func TestRegistryRegister(t *testing.T) {
	r := NewServiceRegistry()

	require.NoError(t, r.Register("alpha", noopConstructor))

	_, exists := r.Constructor("alpha")
	assert.True(t, exists)
	_, exists = r.Constructor("missing")
	assert.False(t, exists)

	assert.ElementsMatch(t, []string{"alpha"}, r.Services())
}

func TestRegistryRejectsInvalid(t *testing.T) {
	r := NewServiceRegistry()

	assert.Error(t, r.Register("", noopConstructor))
	assert.Error(t, r.Register("alpha", nil))

	require.NoError(t, r.Register("alpha", noopConstructor))
	assert.Error(t, r.Register("alpha", noopConstructor), "duplicate registration must fail")
}

func TestRegistryConstructorsCopy(t *testing.T) {
	r := NewServiceRegistry()
	require.NoError(t, r.Register("alpha", noopConstructor))

	c := r.Constructors()
	delete(c, "alpha")

	_, exists := r.Constructor("alpha")
	assert.True(t, exists, "mutating the copy must not touch the registry")
}
