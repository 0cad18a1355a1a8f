package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/assetmesh/natsclient"
	"github.com/c360/assetmesh/types"
)

const (
	configBucket  = "assetmesh_config"
	configHistory = 5 // revisions kept per key, enough to diagnose a bad push
)

// watchedKeys are the bucket keys the manager tracks. The single-level
// wildcards keep property-level keys (services.gateway.port) out of the
// update stream; only whole-section JSON documents are applied.
var watchedKeys = []string{
	"services.*",
	"components.*",
	"platform",
	"nats",
	"storage",
}

// Update carries a configuration change to a subscriber.
type Update struct {
	Path   string      // bucket key that changed, e.g. "services.gateway"
	Config *SafeConfig // handle on the full current configuration
}

// Manager keeps the runtime configuration in sync with the config bucket
// and fans changes out to subscribers. The file configuration seeds the
// bucket on first boot; afterwards the bucket is the source of truth
// unless the file carries a newer version.
type Manager struct {
	current *SafeConfig
	kv      jetstream.KeyValue
	kvStore *natsclient.KVStore
	logger  *slog.Logger

	mu       sync.RWMutex
	subs     map[string][]chan Update
	watchers []jetstream.KeyWatcher
	applyMu  sync.Mutex // serializes read-modify-write across watchers

	done    chan struct{}
	wg      sync.WaitGroup
	stopped atomic.Bool
}

// NewConfigManager binds a loaded configuration to the config bucket,
// creating the bucket if this platform has never booted before.
func NewConfigManager(cfg *Config, natsClient *natsclient.Client, logger *slog.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if natsClient == nil {
		return nil, fmt.Errorf("nats client cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	kv, err := natsClient.CreateKeyValueBucket(context.Background(), jetstream.KeyValueConfig{
		Bucket:      configBucket,
		Description: "AssetMesh runtime configuration",
		History:     configHistory,
	})
	if err != nil {
		return nil, fmt.Errorf("create config bucket: %w", err)
	}

	return &Manager{
		current: NewSafeConfig(cfg),
		kv:      kv,
		kvStore: natsClient.NewKVStore(kv),
		subs:    make(map[string][]chan Update),
		logger:  logger.With("component", "config-manager"),
	}, nil
}

// GetConfig returns the live configuration handle.
func (cm *Manager) GetConfig() *SafeConfig {
	return cm.current
}

// OnChange subscribes to configuration changes under a pattern and
// returns a channel carrying them. The current configuration is delivered
// immediately so subscribers need no separate initial read.
//
// Patterns are exact keys ("services.gateway"), section wildcards
// ("services.*"), or prefix wildcards ("components.macro-*").
func (cm *Manager) OnChange(pattern string) <-chan Update {
	ch := make(chan Update, 1)

	cm.mu.Lock()
	cm.subs[pattern] = append(cm.subs[pattern], ch)
	cm.mu.Unlock()

	// Buffered, so this cannot block even if the subscriber is slow.
	select {
	case ch <- Update{Path: pattern, Config: cm.current}:
	default:
	}

	return ch
}

// Start reconciles file and bucket state, then begins relaying bucket
// changes to subscribers.
func (cm *Manager) Start(ctx context.Context) error {
	cm.done = make(chan struct{})

	cm.reconcile(ctx)

	for _, pattern := range watchedKeys {
		// UpdatesOnly: reconcile already applied the existing values.
		watcher, err := cm.kv.Watch(ctx, pattern, jetstream.UpdatesOnly())
		if err != nil {
			cm.logger.Debug("watch config pattern", "pattern", pattern, "error", err)
			continue
		}
		cm.watchers = append(cm.watchers, watcher)
	}
	if len(cm.watchers) == 0 {
		return fmt.Errorf("no config watchers could be established")
	}

	for _, watcher := range cm.watchers {
		cm.wg.Add(1)
		go cm.relayUpdates(ctx, watcher)
	}
	return nil
}

// Stop halts the watchers and closes every subscriber channel. Safe to
// call more than once.
func (cm *Manager) Stop(timeout time.Duration) error {
	if !cm.stopped.CompareAndSwap(false, true) {
		return nil
	}

	if cm.done != nil {
		close(cm.done)
	}
	for _, watcher := range cm.watchers {
		if watcher != nil {
			_ = watcher.Stop()
		}
	}

	finished := make(chan struct{})
	go func() {
		cm.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(timeout):
		cm.logger.Warn("config manager shutdown timed out", "timeout", timeout)
	}

	// Subscriber channels close only after the relay goroutines are done,
	// so nothing can send on a closed channel.
	cm.mu.Lock()
	for _, channels := range cm.subs {
		for _, ch := range channels {
			close(ch)
		}
	}
	cm.subs = make(map[string][]chan Update)
	cm.mu.Unlock()

	return nil
}

// reconcile decides which side seeds the other on startup. An empty
// bucket always takes the file; otherwise the semantic versions decide,
// and ties go to the bucket since an operator may have edited it.
func (cm *Manager) reconcile(ctx context.Context) {
	populated, err := cm.kvPopulated(ctx)
	if err != nil {
		cm.logger.Warn("cannot inspect config bucket, assuming empty", "error", err)
	}
	if !populated {
		cm.logger.Info("seeding config bucket from file")
		if err := cm.PushToKV(ctx); err != nil {
			cm.logger.Error("seed config bucket", "error", err)
		}
		return
	}

	fileVersion := cm.current.Get().Version
	kvVersion := cm.kvVersion(ctx)

	cmp, err := CompareVersions(fileVersion, kvVersion)
	switch {
	case err != nil:
		cm.logger.Warn("config version comparison failed, using bucket state",
			"file_version", fileVersion, "kv_version", kvVersion, "error", err)
	case cmp > 0:
		cm.logger.Info("file config is newer, updating bucket",
			"file_version", fileVersion, "kv_version", kvVersion)
		if err := cm.PushToKV(ctx); err != nil {
			cm.logger.Error("update config bucket", "error", err)
		}
		return
	case cmp < 0:
		cm.logger.Warn("file config is older than bucket, using bucket state",
			"file_version", fileVersion, "kv_version", kvVersion,
			"hint", "bump the file version to push file changes")
	default:
		cm.logger.Info("config versions match, using bucket state", "version", fileVersion)
	}

	if err := cm.pullFromKV(ctx); err != nil {
		cm.logger.Warn("pull config from bucket", "error", err)
	}
}

// kvPopulated reports whether the bucket holds any configuration at all.
func (cm *Manager) kvPopulated(ctx context.Context) (bool, error) {
	keys, err := cm.kv.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("list config keys: %w", err)
	}
	return len(keys) > 0, nil
}

// kvVersion reads the bucket's version key. A missing or malformed entry
// counts as 0.0.0 so buckets written before versioning still reconcile.
func (cm *Manager) kvVersion(ctx context.Context) string {
	entry, err := cm.kvStore.Get(ctx, "version")
	if err != nil {
		return "0.0.0"
	}

	var version string
	if err := json.Unmarshal(entry.Value, &version); err != nil {
		cm.logger.Warn("malformed version entry in config bucket", "error", err)
		return "0.0.0"
	}
	return version
}

// pullFromKV applies every section key in the bucket to the current
// configuration. Keys that fail to apply are logged and skipped so one
// bad entry cannot block the rest.
func (cm *Manager) pullFromKV(ctx context.Context) error {
	keys, err := cm.kv.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list config keys: %w", err)
	}

	applied := 0
	for _, key := range keys {
		if strings.Count(key, ".") > 1 {
			continue // property-level key, not a config section
		}
		entry, err := cm.kvStore.Get(ctx, key)
		if err != nil {
			cm.logger.Warn("read config key", "key", key, "error", err)
			continue
		}
		if err := cm.applyKey(key, entry.Value); err != nil {
			cm.logger.Warn("apply config key", "key", key, "error", err)
			continue
		}
		applied++
	}

	cm.logger.Info("configuration pulled from bucket", "keys", applied)
	return nil
}

// relayUpdates forwards one watcher's entries into dispatch until the
// manager stops.
func (cm *Manager) relayUpdates(ctx context.Context, watcher jetstream.KeyWatcher) {
	defer cm.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cm.done:
			return
		case entry := <-watcher.Updates():
			if entry == nil {
				continue
			}
			cm.dispatch(entry.Key(), entry.Value())
		}
	}
}

// dispatch applies one bucket change and notifies matching subscribers.
// A delete arrives as an empty value. Sends never block: a subscriber
// that falls behind misses intermediate updates but can always read the
// latest state through Update.Config.
func (cm *Manager) dispatch(key string, value []byte) {
	if cm.stopped.Load() {
		return
	}

	if err := cm.applyKey(key, value); err != nil {
		cm.logger.Error("rejected config update", "key", key, "error", err)
		return
	}

	update := Update{Path: key, Config: cm.current}

	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for pattern, channels := range cm.subs {
		if !keyMatches(key, pattern) {
			continue
		}
		for _, ch := range channels {
			if cm.stopped.Load() {
				return
			}
			select {
			case ch <- update:
			default:
			}
		}
	}
}

// applyKey folds one bucket entry into the current configuration. The
// updated configuration is validated as a whole before it replaces the
// old one, so a bad entry leaves the running config untouched.
func (cm *Manager) applyKey(key string, value []byte) error {
	if len(value) > 0 {
		if len(value) > maxConfigSize {
			return fmt.Errorf("config value too large: %d bytes > %d", len(value), maxConfigSize)
		}
		if err := validateJSONDepth(value); err != nil {
			return fmt.Errorf("invalid JSON under %s: %w", key, err)
		}
	}

	cm.applyMu.Lock()
	defer cm.applyMu.Unlock()

	section, name, _ := strings.Cut(key, ".")
	next := cm.current.Get()

	switch section {
	case "services":
		if name == "" || strings.Contains(name, ".") {
			return fmt.Errorf("expected services.<name>, got %q", key)
		}
		if len(value) == 0 {
			delete(next.Services, name)
			break
		}
		var svc types.ServiceConfig
		if err := json.Unmarshal(value, &svc); err != nil {
			return fmt.Errorf("parse service config %s: %w", key, err)
		}
		if svc.Name == "" {
			svc.Name = name
		}
		if next.Services == nil {
			next.Services = make(types.ServiceConfigs)
		}
		next.Services[name] = svc

	case "components":
		if name == "" || strings.Contains(name, ".") {
			return fmt.Errorf("expected components.<name>, got %q", key)
		}
		if len(value) == 0 {
			delete(next.Components, name)
			break
		}
		var comp types.ComponentConfig
		if err := json.Unmarshal(value, &comp); err != nil {
			return fmt.Errorf("parse component config %s: %w", key, err)
		}
		if next.Components == nil {
			next.Components = make(ComponentConfigs)
		}
		next.Components[name] = comp

	case "platform":
		if err := json.Unmarshal(value, &next.Platform); err != nil {
			return fmt.Errorf("parse platform config: %w", err)
		}

	case "nats":
		if err := json.Unmarshal(value, &next.NATS); err != nil {
			return fmt.Errorf("parse nats config: %w", err)
		}

	case "storage":
		if err := json.Unmarshal(value, &next.Storage); err != nil {
			return fmt.Errorf("parse storage config: %w", err)
		}

	default:
		// Not a section this manager owns ("version" lands here).
		return nil
	}

	return cm.current.Update(next)
}

// keyMatches reports whether a changed key falls under a subscription
// pattern.
func keyMatches(key, pattern string) bool {
	if pattern == key {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(key, prefix+".")
	}
	if prefix, _, ok := strings.Cut(pattern, "*"); ok {
		return strings.HasPrefix(key, prefix)
	}
	return false
}

// sanitizeKey makes a config name safe for use in a bucket key. NATS keys
// cannot contain spaces.
func sanitizeKey(name string) string {
	return strings.ReplaceAll(name, " ", "_")
}

// putJSON marshals v and writes it under key.
func (cm *Manager) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if _, err := cm.kvStore.Put(ctx, key, data); err != nil {
		return fmt.Errorf("push %s: %w", key, err)
	}
	return nil
}

// PushToKV writes the current configuration into the bucket, one key per
// section. Empty sections are skipped so the bucket only carries what the
// file actually sets.
func (cm *Manager) PushToKV(ctx context.Context) error {
	cfg := cm.current.Get()

	if cfg.Version != "" {
		cm.logger.Info("pushing config version", "version", cfg.Version)
		if err := cm.putJSON(ctx, "version", cfg.Version); err != nil {
			return err
		}
	} else {
		cm.logger.Warn("config has no version, bucket version left unset")
	}

	for name, svc := range cfg.Services {
		if err := cm.putJSON(ctx, "services."+sanitizeKey(name), svc); err != nil {
			return err
		}
	}
	for name, comp := range cfg.Components {
		if err := cm.putJSON(ctx, "components."+sanitizeKey(name), comp); err != nil {
			return err
		}
	}

	sections := []struct {
		key   string
		value any
	}{
		{"platform", cfg.Platform},
		{"nats", cfg.NATS},
		{"storage", cfg.Storage},
	}
	for _, section := range sections {
		data, err := json.Marshal(section.value)
		if err != nil || len(data) <= 2 { // 2 bytes is an empty object
			continue
		}
		if _, err := cm.kvStore.Put(ctx, section.key, data); err != nil {
			return fmt.Errorf("push %s: %w", section.key, err)
		}
	}
	return nil
}
