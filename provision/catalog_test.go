package provision

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/assetmesh/errors"
)

func TestLoadCatalogGolden(t *testing.T) {
	cat, err := Load("testdata/full.yaml")
	require.NoError(t, err)

	require.Equal(t, 1, cat.Version)
	require.Len(t, cat.Assets, 2)
	require.Len(t, cat.Configurations, 1)
	require.Len(t, cat.Users, 1)
	require.Len(t, cat.Rules, 1)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	require.NoError(t, enc.Encode(cat))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "full", buf.Bytes())
}

func TestParseAssignsAssetIDs(t *testing.T) {
	cat, err := Parse([]byte(`
version: 1
assets:
  - name: Lobby
    kind: room
  - id: boiler-7
    name: Boiler
    kind: device
`))
	require.NoError(t, err)
	require.Len(t, cat.Assets, 2)

	_, err = uuid.Parse(cat.Assets[0].ID)
	assert.NoError(t, err, "assets without an id get a generated UUID")
	assert.Equal(t, "boiler-7", cat.Assets[1].ID, "explicit ids are kept")
}

func TestParseRejectsBadYAML(t *testing.T) {
	_, err := Parse([]byte("version: [oops"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("testdata/absent.yaml")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestCatalogValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{
			name:    "unsupported version",
			yaml:    "version: 99",
			wantMsg: "unsupported catalog version 99",
		},
		{
			name: "asset without name",
			yaml: `
assets:
  - id: a1
    kind: room
`,
			wantMsg: `asset "a1" has no name`,
		},
		{
			name: "asset without kind",
			yaml: `
assets:
  - id: a1
    name: Lobby
`,
			wantMsg: `asset "a1" has no kind`,
		},
		{
			name: "duplicate asset id",
			yaml: `
assets:
  - id: a1
    name: Lobby
    kind: room
  - id: a1
    name: Lobby Again
    kind: room
`,
			wantMsg: `duplicate asset id "a1"`,
		},
		{
			name: "unnamed attribute",
			yaml: `
assets:
  - id: a1
    name: Lobby
    kind: room
    attributes:
      - type: number
`,
			wantMsg: `asset "a1" has an unnamed attribute`,
		},
		{
			name: "duplicate attribute",
			yaml: `
assets:
  - id: a1
    name: Lobby
    kind: room
    attributes:
      - name: temperature
      - name: temperature
`,
			wantMsg: `asset "a1" declares attribute "temperature" twice`,
		},
		{
			name: "bad agent link",
			yaml: `
assets:
  - id: a1
    name: Lobby
    kind: room
    attributes:
      - name: run
        meta:
          agentLink: notaref
`,
			wantMsg: `bad agent link "notaref"`,
		},
		{
			name: "bad configuration ref",
			yaml: `
configurations:
  - ref: oops
    protocol: macro
`,
			wantMsg: `configuration ref "oops" is not assetID:attribute`,
		},
		{
			name: "configuration without protocol",
			yaml: `
configurations:
  - ref: "agent-1:scene"
`,
			wantMsg: `configuration "agent-1:scene" has no protocol`,
		},
		{
			name: "duplicate configuration ref",
			yaml: `
configurations:
  - ref: "agent-1:scene"
    protocol: macro
  - ref: "agent-1:scene"
    protocol: macro
`,
			wantMsg: `duplicate configuration ref "agent-1:scene"`,
		},
		{
			name: "grant without user",
			yaml: `
users:
  - assets: [a1]
`,
			wantMsg: "user grant with no user",
		},
		{
			name: "grant without assets",
			yaml: `
users:
  - user: sam
`,
			wantMsg: `user "sam" is granted no assets`,
		},
		{
			name: "rule without name",
			yaml: `
rules:
  - when: value > 1
`,
			wantMsg: "rule with no name",
		},
		{
			name: "rule without condition",
			yaml: `
rules:
  - name: r1
`,
			wantMsg: `rule "r1" has no condition`,
		},
		{
			name: "duplicate rule name",
			yaml: `
rules:
  - name: r1
    when: value > 1
  - name: r1
    when: value > 2
`,
			wantMsg: `duplicate rule name "r1"`,
		},
		{
			name: "bad rule target",
			yaml: `
rules:
  - name: r1
    when: value > 1
    then:
      - target: oops
`,
			wantMsg: `rule "r1" then[0]: bad target "oops"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			assert.ErrorContains(t, err, tt.wantMsg)
		})
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	_, err := Parse([]byte(`
assets:
  - id: a1
    kind: room
rules:
  - name: r1
`))
	require.Error(t, err)
	assert.ErrorContains(t, err, `asset "a1" has no name`)
	assert.ErrorContains(t, err, `rule "r1" has no condition`)
}

func TestAssetSpecConversion(t *testing.T) {
	spec := AssetSpec{
		ID:   "room-1",
		Name: "Room 1",
		Kind: "room",
		Attributes: []AttributeSpec{
			{Name: "temperature", Type: "number", Value: 21.5},
			{Name: "label", Type: "text"},
		},
	}

	a, err := spec.toAsset("campus")
	require.NoError(t, err)
	assert.Equal(t, "campus", a.Realm, "realm falls back to the catalog realm")

	temp, ok := a.Attribute("temperature")
	require.True(t, ok)
	assert.True(t, temp.HasTimestamp(), "seed values are stamped")
	assert.JSONEq(t, "21.5", string(temp.Value))

	label, ok := a.Attribute("label")
	require.True(t, ok)
	assert.False(t, label.HasTimestamp(), "attributes without a seed stay unset")

	spec.Realm = "west"
	a, err = spec.toAsset("campus")
	require.NoError(t, err)
	assert.Equal(t, "west", a.Realm, "explicit realm wins")
}

func TestAssetSpecRejectsBadSeedValue(t *testing.T) {
	spec := AssetSpec{
		ID:   "room-1",
		Name: "Room 1",
		Kind: "room",
		Attributes: []AttributeSpec{
			{Name: "temperature", Type: "number", Value: "warm"},
		},
	}

	_, err := spec.toAsset("")
	require.Error(t, err)
	assert.ErrorContains(t, err, "temperature")
}

func TestConfigurationSpecDefaults(t *testing.T) {
	spec := ConfigurationSpec{Ref: "agent-1:scene", Protocol: "macro"}
	cfg, err := spec.toConfiguration()
	require.NoError(t, err)
	assert.True(t, cfg.Enabled, "enabled defaults to true")
	assert.True(t, cfg.Payload.IsNil())

	off := false
	spec.Enabled = &off
	spec.Payload = []any{map[string]any{"target": "room-1:temperature", "value": 1}}
	cfg, err = spec.toConfiguration()
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)
	assert.False(t, cfg.Payload.IsNil())
}
