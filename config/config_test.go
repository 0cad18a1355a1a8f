package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/assetmesh/types"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestConfig_Structure(t *testing.T) {
	cfg := &Config{
		Platform: PlatformConfig{
			Org:          "c360",
			ID:           "test-platform",
			Type:         "site",
			Realm:        "master",
			Capabilities: []string{"macro", "datapoint"},
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
	}

	assert.Equal(t, "test-platform", cfg.Platform.ID)
	assert.Equal(t, "site", cfg.Platform.Type)
	assert.Contains(t, cfg.Platform.Capabilities, "macro")
}

func TestLoader_LoadJSON(t *testing.T) {
	configFile := writeConfigFile(t, "config.json", `{
		"platform": {
			"org": "c360",
			"id": "campus-north",
			"type": "site",
			"realm": "estates",
			"capabilities": ["macro", "datapoint", "rules"]
		},
		"nats": {
			"urls": ["nats://localhost:4222", "nats://localhost:4223"],
			"max_reconnects": 10,
			"reconnect_wait": "5s"
		},
		"services": {
			"processing": {"enabled": true},
			"provision": {"enabled": true}
		}
	}`)

	loader := NewLoader()
	cfg, err := loader.LoadFile(configFile)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "campus-north", cfg.Platform.ID)
	assert.Equal(t, "site", cfg.Platform.Type)
	assert.Equal(t, "estates", cfg.Platform.Realm)
	assert.Len(t, cfg.Platform.Capabilities, 3)
	assert.Len(t, cfg.NATS.URLs, 2)
	assert.Equal(t, 10, cfg.NATS.MaxReconnects)
	assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait)
	assert.True(t, cfg.Services["processing"].Enabled)
	assert.True(t, cfg.Services["provision"].Enabled)
}

func TestLoader_Defaults(t *testing.T) {
	configFile := writeConfigFile(t, "config.json", `{
		"platform": {
			"org": "c360",
			"id": "test-platform",
			"type": "edge"
		}
	}`)

	loader := NewLoader()
	cfg, err := loader.LoadFile(configFile)
	require.NoError(t, err)

	assert.Equal(t, "master", cfg.Platform.Realm)
	assert.Equal(t, []string{"nats://localhost:4222"}, cfg.NATS.URLs)
	assert.Equal(t, -1, cfg.NATS.MaxReconnects)
	assert.Equal(t, 2*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, StorageModeMemory, cfg.Storage.Mode)
	assert.True(t, cfg.Services["processing"].Enabled)
	assert.False(t, cfg.Services["provision"].Enabled, "provision stays dormant by default")
	assert.True(t, cfg.NATS.JetStream.Enabled)
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("ASSETMESH_PLATFORM_ID", "env-platform")
	t.Setenv("ASSETMESH_NATS_USERNAME", "testuser")
	t.Setenv("ASSETMESH_NATS_PASSWORD", "testpass")
	t.Setenv("ASSETMESH_STORAGE_MODE", "kv")

	configFile := writeConfigFile(t, "config.json", `{
		"platform": {
			"org": "c360",
			"id": "json-platform",
			"type": "site"
		}
	}`)

	loader := NewLoader()
	cfg, err := loader.LoadFile(configFile)
	require.NoError(t, err)

	// Environment wins over the file.
	assert.Equal(t, "env-platform", cfg.Platform.ID)
	assert.Equal(t, "testuser", cfg.NATS.Username)
	assert.Equal(t, "testpass", cfg.NATS.Password)
	assert.Equal(t, StorageModeKV, cfg.Storage.Mode)

	// File values stand where no variable is set.
	assert.Equal(t, "site", cfg.Platform.Type)
}

func TestLoader_Validation(t *testing.T) {
	tests := []struct {
		name      string
		config    string
		wantError string
	}{
		{
			name: "missing org",
			config: `{
				"platform": {
					"id": "platform1",
					"type": "site"
				}
			}`,
			wantError: "platform.org is required",
		},
		{
			name: "missing platform ID",
			config: `{
				"platform": {
					"org": "c360",
					"type": "site"
				}
			}`,
			wantError: "platform.id is required",
		},
		{
			name: "invalid storage mode",
			config: `{
				"platform": {
					"org": "c360",
					"id": "test",
					"type": "site"
				},
				"storage": {
					"mode": "postgres"
				}
			}`,
			wantError: "invalid storage mode",
		},
		{
			name: "component with empty factory name",
			config: `{
				"platform": {
					"org": "c360",
					"id": "test",
					"type": "site"
				},
				"components": {
					"test-component": {
						"type": "consumer",
						"name": "",
						"enabled": true
					}
				}
			}`,
			wantError: "component factory name cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configFile := writeConfigFile(t, "config.json", tt.config)

			loader := NewLoader()
			loader.EnableValidation(true)

			_, err := loader.LoadFile(configFile)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantError)
		})
	}
}

// A site layer overrides a base layer field by field; untouched fields
// keep the base or default values.
func TestLoader_Layering(t *testing.T) {
	basePath := writeConfigFile(t, "base.json", `{
		"platform": {
			"org": "c360",
			"type": "generic"
		},
		"nats": {
			"urls": ["nats://base:4222"],
			"max_reconnects": -1
		}
	}`)
	sitePath := writeConfigFile(t, "site.json", `{
		"platform": {
			"id": "campus-south",
			"type": "site",
			"capabilities": ["macro"]
		},
		"nats": {
			"max_reconnects": 5,
			"username": "site-user"
		},
		"services": {
			"provision": {"enabled": true}
		}
	}`)

	loader := NewLoader()
	loader.AddLayer(basePath)
	loader.AddLayer(sitePath)
	cfg, err := loader.Load()
	require.NoError(t, err)

	// Site layer wins where both set a field.
	assert.Equal(t, "campus-south", cfg.Platform.ID)
	assert.Equal(t, "site", cfg.Platform.Type)
	assert.Equal(t, []string{"macro"}, cfg.Platform.Capabilities)
	assert.Equal(t, 5, cfg.NATS.MaxReconnects)
	assert.Equal(t, "site-user", cfg.NATS.Username)

	// Base layer survives where the site layer is silent.
	assert.Equal(t, "c360", cfg.Platform.Org)
	assert.Equal(t, []string{"nats://base:4222"}, cfg.NATS.URLs)

	// Defaults fill everything no layer touched.
	assert.Equal(t, "master", cfg.Platform.Realm)
	assert.True(t, cfg.Services["processing"].Enabled)
	assert.True(t, cfg.Services["provision"].Enabled, "site layer enables provision")
	assert.Equal(t, "provision", cfg.Services["provision"].Name, "merge keeps the default service name")
}

func TestConfig_Save(t *testing.T) {
	cfg := &Config{
		Platform: PlatformConfig{
			ID:           "save-test",
			Type:         "site",
			Realm:        "estates",
			Capabilities: []string{"macro", "rules"},
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://server1:4222", "nats://server2:4222"},
			MaxReconnects: 10,
		},
		Services: types.ServiceConfigs{
			"processing": types.ServiceConfig{
				Name:    "processing",
				Enabled: true,
			},
			"gateway": types.ServiceConfig{
				Name:    "gateway",
				Enabled: true,
			},
		},
	}

	saveFile := filepath.Join(t.TempDir(), "saved.json")
	require.NoError(t, cfg.SaveToFile(saveFile))

	loader := NewLoader()
	loaded, err := loader.LoadFile(saveFile)
	require.NoError(t, err)

	assert.Equal(t, cfg.Platform.ID, loaded.Platform.ID)
	assert.Equal(t, cfg.Platform.Type, loaded.Platform.Type)
	assert.Equal(t, cfg.Platform.Realm, loaded.Platform.Realm)
	assert.Equal(t, cfg.Platform.Capabilities, loaded.Platform.Capabilities)
	assert.Equal(t, cfg.NATS.URLs, loaded.NATS.URLs)
	assert.Equal(t, cfg.NATS.MaxReconnects, loaded.NATS.MaxReconnects)
	assert.True(t, loaded.Services["processing"].Enabled)
	assert.True(t, loaded.Services["gateway"].Enabled)
}

func TestLoader_ExampleConfig(t *testing.T) {
	loader := NewLoader()
	cfg, err := loader.LoadFile("example_config.json")
	require.NoError(t, err)

	assert.Equal(t, "campus-demo", cfg.Platform.ID)
	assert.Equal(t, "site", cfg.Platform.Type)
	assert.True(t, cfg.Services["processing"].Enabled)
	assert.True(t, cfg.Services["provision"].Enabled)

	// The demo runs hybrid storage with a read cache and two weeks of
	// datapoint history.
	assert.Equal(t, StorageModeHybrid, cfg.Storage.Mode)
	assert.Equal(t, 14*24*time.Hour, cfg.Storage.Datapoints.TTL)
	assert.True(t, cfg.Storage.Cache.Enabled)

	require.Len(t, cfg.Components, 4)

	rules := cfg.Components["rules"]
	assert.Equal(t, types.ComponentTypeConsumer, rules.Type)
	assert.Equal(t, "rules", rules.Name)
	assert.True(t, rules.Enabled)

	macro := cfg.Components["macro"]
	assert.Equal(t, types.ComponentTypeProtocol, macro.Type)
	assert.Equal(t, "macro", macro.Name)
	assert.True(t, macro.Enabled)

	ws := cfg.Components["websocket"]
	assert.Equal(t, types.ComponentTypeGateway, ws.Type)
	assert.Equal(t, "websocket", ws.Name)
	assert.True(t, ws.Enabled)
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		name    string
		v1, v2  string
		want    int
		wantErr bool
	}{
		{name: "equal", v1: "1.2.3", v2: "1.2.3", want: 0},
		{name: "major newer", v1: "2.0.0", v2: "1.9.9", want: 1},
		{name: "minor older", v1: "1.1.0", v2: "1.2.0", want: -1},
		{name: "patch newer", v1: "1.0.10", v2: "1.0.2", want: 1},
		{name: "v prefix accepted", v1: "v1.0.0", v2: "1.0.0", want: 0},
		{name: "empty version", v1: "", v2: "1.0.0", wantErr: true},
		{name: "two components", v1: "1.0", v2: "1.0.0", wantErr: true},
		{name: "non-numeric", v1: "1.0.x", v2: "1.0.0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CompareVersions(tt.v1, tt.v2)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
