package config

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/c360/assetmesh/natsclient"
	"github.com/c360/assetmesh/types"
)

type ManagerIntegrationSuite struct {
	suite.Suite
	testClient *natsclient.TestClient
	manager    *Manager
	kvStore    *natsclient.KVStore
	ctx        context.Context
	cancel     context.CancelFunc
}

func (s *ManagerIntegrationSuite) SetupSuite() {
	s.testClient = natsclient.NewTestClient(s.T(),
		natsclient.WithJetStream(),
		natsclient.WithKV())
}

func (s *ManagerIntegrationSuite) SetupTest() {
	cfg := &Config{
		Platform: PlatformConfig{
			Org:   "c360",
			ID:    "integration-test",
			Type:  "edge",
			Realm: "master",
		},
		Services:   make(types.ServiceConfigs),
		Components: make(ComponentConfigs),
	}

	var err error
	s.manager, err = NewConfigManager(cfg, s.testClient.Client, nil)
	s.Require().NoError(err)

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.Require().NoError(s.manager.Start(s.ctx))
	s.kvStore = s.manager.kvStore

	// Let the watchers land before tests write to the bucket.
	time.Sleep(50 * time.Millisecond)
}

func (s *ManagerIntegrationSuite) TearDownTest() {
	_ = s.manager.Stop(5 * time.Second)
	s.cancel()
}

func (s *ManagerIntegrationSuite) putService(name string, svc types.ServiceConfig) {
	data, err := json.Marshal(svc)
	s.Require().NoError(err)
	_, err = s.kvStore.Put(s.ctx, "services."+name, data)
	s.Require().NoError(err)
}

func (s *ManagerIntegrationSuite) drainInitial(ch <-chan Update) {
	select {
	case <-ch:
	case <-time.After(100 * time.Millisecond):
		s.Fail("no initial snapshot on subscription")
	}
}

// Section keys carry whole JSON documents; property-level keys are not
// part of the config protocol and must never reach subscribers.
func (s *ManagerIntegrationSuite) TestSectionKeysOnly() {
	updates := s.manager.OnChange("services.*")
	s.drainInitial(updates)

	s.putService("processing", types.ServiceConfig{
		Name:    "processing",
		Enabled: true,
		Config:  json.RawMessage(`{"queue_size": 4096, "max_future_skew_ms": 1000}`),
	})

	select {
	case update := <-updates:
		s.Equal("services.processing", update.Path, "update carries the concrete key, not the pattern")
		svc := update.Config.Get().Services["processing"]
		s.Equal("processing", svc.Name)
		s.True(svc.Enabled)
	case <-time.After(500 * time.Millisecond):
		s.Fail("no update for section write")
	}

	// A property-level write is invisible: the watcher patterns are
	// single-level wildcards.
	_, err := s.kvStore.Put(s.ctx, "services.processing.enabled", []byte("false"))
	s.Require().NoError(err)

	select {
	case update := <-updates:
		s.Failf("property-level key leaked to subscriber", "key: %s", update.Path)
	case <-time.After(200 * time.Millisecond):
	}

	// The section document still works after the stray write.
	s.putService("processing", types.ServiceConfig{Name: "processing", Enabled: false})
	select {
	case update := <-updates:
		s.False(update.Config.Get().Services["processing"].Enabled)
	case <-time.After(500 * time.Millisecond):
		s.Fail("no update for second section write")
	}
}

func (s *ManagerIntegrationSuite) TestPatternRouting() {
	serviceUpdates := s.manager.OnChange("services.*")
	componentUpdates := s.manager.OnChange("components.*")
	gatewayUpdates := s.manager.OnChange("services.gateway")
	s.drainInitial(serviceUpdates)
	s.drainInitial(componentUpdates)
	s.drainInitial(gatewayUpdates)

	s.putService("gateway", types.ServiceConfig{
		Name:    "gateway",
		Enabled: true,
		Config:  json.RawMessage(`{"port": 8282}`),
	})

	// Both service channels see the write; the component channel does not.
	received := 0
	deadline := time.After(500 * time.Millisecond)
	for received < 2 {
		select {
		case <-serviceUpdates:
			received++
		case <-gatewayUpdates:
			received++
		case <-componentUpdates:
			s.Fail("component channel received a service update")
		case <-deadline:
			s.Failf("timeout", "received %d of 2 service updates", received)
			return
		}
	}

	select {
	case <-componentUpdates:
		s.Fail("component channel received a service update")
	case <-time.After(50 * time.Millisecond):
	}
}

func (s *ManagerIntegrationSuite) TestConcurrentWrites() {
	updates := s.manager.OnChange("services.*")
	s.drainInitial(updates)

	names := []string{"processing", "gateway", "provision"}
	for _, name := range names {
		data, err := json.Marshal(types.ServiceConfig{
			Name:    name,
			Enabled: true,
			Config:  json.RawMessage(`{}`),
		})
		s.Require().NoError(err)
		go func(key string, payload []byte) {
			_, putErr := s.kvStore.Put(s.ctx, key, payload)
			s.NoError(putErr)
		}("services."+name, data)
	}

	// Slow subscribers may miss intermediate updates, but the final
	// configuration must hold all three services.
	seen := make(map[string]bool)
	deadline := time.After(2 * time.Second)
	for len(seen) < len(names) {
		select {
		case update := <-updates:
			for name := range update.Config.Get().Services {
				seen[name] = true
			}
		case <-deadline:
			s.Failf("timeout waiting for services", "saw: %v", seen)
			return
		}
	}
}

func (s *ManagerIntegrationSuite) TestWriteThenDelete() {
	updates := s.manager.OnChange("services.processing")
	s.drainInitial(updates)

	s.putService("processing", types.ServiceConfig{
		Name:    "processing",
		Enabled: true,
		Config:  json.RawMessage(`{"queue_size": 4096, "consumers": ["rules", "datapoint"]}`),
	})

	select {
	case <-updates:
		cfg := s.manager.GetConfig().Get()
		svc, ok := cfg.Services["processing"]
		s.Require().True(ok)
		s.True(svc.Enabled)

		var inner map[string]any
		s.Require().NoError(json.Unmarshal(svc.Config, &inner))
		s.Equal(float64(4096), inner["queue_size"])
		s.Len(inner["consumers"], 2)
	case <-time.After(500 * time.Millisecond):
		s.Fail("no update for write")
	}

	s.Require().NoError(s.kvStore.Delete(s.ctx, "services.processing"))

	select {
	case <-updates:
		_, ok := s.manager.GetConfig().Get().Services["processing"]
		s.False(ok, "deleted service still present")
	case <-time.After(500 * time.Millisecond):
		s.Fail("no update for delete")
	}
}

// fixtureSchemas serves factory schemas for the round-trip test.
type fixtureSchemas map[string]ConfigSchema

func (f fixtureSchemas) ComponentSchema(factoryName string) (ConfigSchema, error) {
	schema, ok := f[factoryName]
	if !ok {
		return ConfigSchema{}, fmt.Errorf("unknown factory %q", factoryName)
	}
	return schema, nil
}

// PutComponentConfig persists the whole component entry, so the watcher
// path decodes it straight back into the running configuration.
func (s *ManagerIntegrationSuite) TestComponentConfigRoundTrip() {
	updates := s.manager.OnChange("components.datapoint")
	s.drainInitial(updates)

	schemas := fixtureSchemas{
		"datapoint": {
			Properties: map[string]PropertySchema{
				"batch_size": {Type: "int", Minimum: intPtr(1), Maximum: intPtr(10000)},
			},
		},
	}

	err := s.manager.PutComponentConfig(s.ctx, schemas, "datapoint", types.ComponentConfig{
		Type:    types.ComponentTypeConsumer,
		Name:    "datapoint",
		Enabled: true,
		Config:  json.RawMessage(`{"batch_size": 500000}`),
	})
	s.Require().Error(err, "schema violation must not reach the bucket")

	err = s.manager.PutComponentConfig(s.ctx, schemas, "datapoint", types.ComponentConfig{
		Type:    types.ComponentTypeConsumer,
		Name:    "datapoint",
		Enabled: true,
		Config:  json.RawMessage(`{"batch_size": 500}`),
	})
	s.Require().NoError(err)

	select {
	case update := <-updates:
		comp := update.Config.Get().Components["datapoint"]
		s.Equal(types.ComponentTypeConsumer, comp.Type)
		s.Equal("datapoint", comp.Name)
		s.True(comp.Enabled)
	case <-time.After(500 * time.Millisecond):
		s.Fail("no update for component write")
	}
}

// The manager's KVStore enforces optimistic locking, so two operators
// editing the same section cannot silently overwrite each other.
func (s *ManagerIntegrationSuite) TestRevisionConflicts() {
	payload := func(version int) []byte {
		data, err := json.Marshal(types.ServiceConfig{
			Name:    "gateway",
			Enabled: true,
			Config:  json.RawMessage(fmt.Sprintf(`{"version": %d}`, version)),
		})
		s.Require().NoError(err)
		return data
	}

	rev1, err := s.kvStore.Put(s.ctx, "services.gateway", payload(1))
	s.Require().NoError(err)

	entry, err := s.kvStore.Get(s.ctx, "services.gateway")
	s.Require().NoError(err)
	s.Equal(rev1, entry.Revision)

	rev2, err := s.kvStore.Put(s.ctx, "services.gateway", payload(2))
	s.Require().NoError(err)
	s.Greater(rev2, rev1)

	_, err = s.kvStore.Update(s.ctx, "services.gateway", payload(3), rev1)
	s.Require().Error(err)
	s.True(natsclient.IsKVConflictError(err), "stale revision must be a conflict")

	_, err = s.kvStore.Update(s.ctx, "services.gateway", payload(3), rev2)
	s.NoError(err)
}

func TestManagerIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container tests in short mode")
	}
	suite.Run(t, new(ManagerIntegrationSuite))
}
