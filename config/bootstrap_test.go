package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBootstrap(t *testing.T) {
	path := writeConfigFile(t, "bootstrap.json", `{
		"platform": {"org": "c360", "id": "edge-7", "type": "edge"},
		"nats": {"urls": ["nats://hub.local:4222"], "reconnect_wait": "5s"},
		"services": {"processing": true, "gateway": false}
	}`)

	boot, err := LoadBootstrap(path)
	require.NoError(t, err)

	assert.Equal(t, "edge-7", boot.Platform.ID)
	assert.Equal(t, 5*time.Second, boot.NATS.ReconnectWait)
	assert.True(t, boot.Services.Processing)
	assert.False(t, boot.Services.Gateway)
}

func TestLoadBootstrap_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantError string
	}{
		{
			name:      "missing org",
			content:   `{"platform": {"id": "edge-7"}, "nats": {"urls": ["nats://hub:4222"]}}`,
			wantError: "platform.org is required",
		},
		{
			name:      "missing platform ID",
			content:   `{"platform": {"org": "c360"}, "nats": {"urls": ["nats://hub:4222"]}}`,
			wantError: "platform.id is required",
		},
		{
			name:      "missing NATS URLs",
			content:   `{"platform": {"org": "c360", "id": "edge-7"}}`,
			wantError: "nats.urls is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, "bootstrap.json", tt.content)

			_, err := LoadBootstrap(path)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantError)
		})
	}
}

func TestBootstrapExpand(t *testing.T) {
	boot := &BootstrapConfig{
		Platform: PlatformConfig{Org: "c360", ID: "edge-7", Type: "edge"},
		NATS:     NATSConfig{URLs: []string{"nats://hub.local:4222"}},
		Services: CoreServices{Processing: true, Gateway: false},
	}

	cfg := boot.Expand()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "edge-7", cfg.Platform.ID)
	assert.Equal(t, "master", cfg.Platform.Realm, "default realm fills in")
	assert.Equal(t, []string{"nats://hub.local:4222"}, cfg.NATS.URLs)
	assert.Equal(t, -1, cfg.NATS.MaxReconnects, "connection tuning keeps defaults")
	assert.Equal(t, 2*time.Second, cfg.NATS.ReconnectWait)
	assert.True(t, cfg.Services["processing"].Enabled)
	assert.False(t, cfg.Services["gateway"].Enabled)
	assert.False(t, cfg.Services["provision"].Enabled, "provisioning never runs from bootstrap")
}
