package config

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/c360/assetmesh/pkg/cache"
	"github.com/c360/assetmesh/pkg/security"
	"github.com/c360/assetmesh/types"
)

// Storage modes for assets and datapoint history.
const (
	StorageModeMemory = "memory" // on-heap only, single node
	StorageModeKV     = "kv"     // NATS JetStream KV buckets
	StorageModeHybrid = "hybrid" // KV fronted by a local read cache
)

// ComponentConfigs holds component instance configurations keyed by
// instance name (e.g. "datapoint", "macro"). A component runs only when
// its factory is registered and its entry here is enabled.
type ComponentConfigs map[string]types.ComponentConfig

// Config is the complete platform configuration.
type Config struct {
	Version    string               `json:"version"` // semver, drives file/bucket reconciliation
	Platform   PlatformConfig       `json:"platform"`
	Security   security.Config      `json:"security,omitempty"`
	NATS       NATSConfig           `json:"nats"`
	Storage    StorageConfig        `json:"storage,omitempty"`
	Services   types.ServiceConfigs `json:"services"`
	Components ComponentConfigs     `json:"components"`
}

// PlatformConfig identifies this platform instance and what it can do.
type PlatformConfig struct {
	Org          string   `json:"org"`                    // organization namespace, e.g. "c360"
	ID           string   `json:"id"`                     // platform identifier, e.g. "site-south"
	Type         string   `json:"type"`                   // edge, site, cloud
	Realm        string   `json:"realm,omitempty"`        // default realm for provisioned assets
	Capabilities []string `json:"capabilities,omitempty"` // macro, datapoint, rules, ...

	// Federation identity for multi-platform deployments.
	InstanceID  string `json:"instance_id,omitempty"`
	Environment string `json:"environment,omitempty"` // prod, dev, test
}

// StorageConfig defines how assets and datapoint history are persisted.
type StorageConfig struct {
	Mode       string       `json:"mode,omitempty"`
	Assets     BucketConfig `json:"assets,omitempty"`     // asset document bucket
	Datapoints BucketConfig `json:"datapoints,omitempty"` // attribute history bucket
	Cache      cache.Config `json:"cache,omitempty"`      // read cache for hybrid mode
}

// BucketConfig tunes a single KV bucket.
type BucketConfig struct {
	Name     string        `json:"name,omitempty"` // override the default bucket name
	TTL      time.Duration `json:"ttl"`            // 0 = no expiration
	History  int           `json:"history"`        // revisions kept per key
	MaxBytes int64         `json:"max_bytes,omitempty"`
	Replicas int           `json:"replicas,omitempty"`
}

// NATSConfig defines the NATS connection.
type NATSConfig struct {
	URLs          []string        `json:"urls,omitempty"`
	MaxReconnects int             `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration   `json:"reconnect_wait,omitempty"`
	Username      string          `json:"username,omitempty"`
	Password      string          `json:"password,omitempty"`
	Token         string          `json:"token,omitempty"`
	TLS           NATSTLSConfig   `json:"tls,omitempty"`
	JetStream     JetStreamConfig `json:"jetstream,omitempty"`
}

// NATSTLSConfig secures the NATS connection.
type NATSTLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`
}

// JetStreamConfig tunes the embedded JetStream domain.
type JetStreamConfig struct {
	Enabled           bool   `json:"enabled"`
	Domain            string `json:"domain,omitempty"`
	MaxMemory         int64  `json:"max_memory,omitempty"`
	MaxFileStore      int64  `json:"max_file_store,omitempty"`
	RetentionPolicy   string `json:"retention_policy,omitempty"`
	ReplicationFactor int    `json:"replication_factor,omitempty"`
}

// Validate checks the configuration and normalizes the org to lowercase.
func (c *Config) Validate() error {
	if c.Platform.Org == "" {
		return errors.New("platform.org is required")
	}
	c.Platform.Org = strings.ToLower(c.Platform.Org)
	if !isValidNATSSubjectPart(c.Platform.Org) {
		return fmt.Errorf(
			"platform.org %q is not valid for NATS subjects (alphanumeric, dots, dashes, underscores)",
			c.Platform.Org)
	}

	if c.Platform.ID == "" {
		return errors.New("platform.id is required")
	}

	if err := c.validateSecurity(); err != nil {
		return fmt.Errorf("security configuration: %w", err)
	}
	if err := c.validateStorage(); err != nil {
		return fmt.Errorf("storage configuration: %w", err)
	}

	if err := c.Services.Validate(); err != nil {
		return err
	}

	for name, comp := range c.Components {
		if name == "" {
			return errors.New("component instance name cannot be empty")
		}
		if err := comp.Validate(); err != nil {
			return fmt.Errorf("component %s: %w", name, err)
		}
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Mode {
	case "", StorageModeMemory, StorageModeKV, StorageModeHybrid:
	default:
		return fmt.Errorf("invalid storage mode %q (must be %q, %q or %q)",
			c.Storage.Mode, StorageModeMemory, StorageModeKV, StorageModeHybrid)
	}
	if c.Storage.Mode == StorageModeHybrid && c.Storage.Cache.Enabled {
		if err := c.Storage.Cache.Validate(); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
	}
	return nil
}

func (c *Config) validateSecurity() error {
	server := c.Security.TLS.Server
	if server.Enabled {
		if server.CertFile == "" {
			return errors.New("tls.server.cert_file is required when TLS is enabled")
		}
		if server.KeyFile == "" {
			return errors.New("tls.server.key_file is required when TLS is enabled")
		}
		if _, err := os.Stat(server.CertFile); err != nil {
			return fmt.Errorf("tls.server.cert_file: %w", err)
		}
		if _, err := os.Stat(server.KeyFile); err != nil {
			return fmt.Errorf("tls.server.key_file: %w", err)
		}
		if server.MinVersion != "" {
			if err := validateTLSVersion(server.MinVersion); err != nil {
				return fmt.Errorf("tls.server.min_version: %w", err)
			}
		}
	}

	client := c.Security.TLS.Client
	for i, caFile := range client.CAFiles {
		if _, err := os.Stat(caFile); err != nil {
			return fmt.Errorf("tls.client.ca_files[%d]: %w", i, err)
		}
	}
	if client.InsecureSkipVerify {
		_, _ = fmt.Fprintln(os.Stderr,
			"WARNING: TLS certificate verification is disabled (insecure_skip_verify=true); development use only")
	}
	if client.MinVersion != "" {
		if err := validateTLSVersion(client.MinVersion); err != nil {
			return fmt.Errorf("tls.client.min_version: %w", err)
		}
	}
	return nil
}

func validateTLSVersion(version string) error {
	switch version {
	case "1.2", "1.3":
		return nil
	default:
		return fmt.Errorf("invalid TLS version %q (must be \"1.2\" or \"1.3\")", version)
	}
}

// isValidNATSSubjectPart reports whether s can appear as a subject token.
func isValidNATSSubjectPart(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

// Clone returns a deep copy via a JSON round trip. Config is plain data
// so the round trip is lossless; if marshaling ever fails the copy
// degrades to a shallow one.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		shallow := *c
		return &shallow
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		shallow := *c
		return &shallow
	}
	return &clone
}

// SaveToFile writes the configuration as indented JSON.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return safeWriteFile(path, data)
}

// GetOrg returns the organization namespace.
func (c *Config) GetOrg() string {
	return c.Platform.Org
}

// GetPlatform returns the platform identity, preferring the federation
// instance ID when one is set.
func (c *Config) GetPlatform() string {
	if c.Platform.InstanceID != "" {
		return c.Platform.InstanceID
	}
	return c.Platform.ID
}

// String renders the configuration as indented JSON.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// UnmarshalJSON accepts reconnect_wait as either a duration string
// ("2s") or nanoseconds, so hand-written files and round-tripped JSON
// both load.
func (n *NATSConfig) UnmarshalJSON(data []byte) error {
	type plain NATSConfig
	aux := struct {
		ReconnectWait json.RawMessage `json:"reconnect_wait"`
		*plain
	}{plain: (*plain)(n)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	wait, err := flexDuration(aux.ReconnectWait)
	if err != nil {
		return fmt.Errorf("reconnect_wait: %w", err)
	}
	n.ReconnectWait = wait
	return nil
}

// UnmarshalJSON accepts ttl as a duration string (including the day
// suffix, "14d") or as nanoseconds.
func (b *BucketConfig) UnmarshalJSON(data []byte) error {
	type plain BucketConfig
	aux := struct {
		TTL json.RawMessage `json:"ttl"`
		*plain
	}{plain: (*plain)(b)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	ttl, err := flexDuration(aux.TTL)
	if err != nil {
		return fmt.Errorf("ttl: %w", err)
	}
	b.TTL = ttl
	return nil
}

// flexDuration decodes a JSON duration given as a string ("2s", "14d")
// or as nanoseconds.
func flexDuration(raw json.RawMessage) (time.Duration, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseDurationWithDays(s)
	}
	var ns int64
	if err := json.Unmarshal(raw, &ns); err != nil {
		return 0, fmt.Errorf("expected duration string or nanoseconds, got %s", raw)
	}
	return time.Duration(ns), nil
}

// SafeConfig wraps a Config for concurrent use. Readers get deep copies;
// writers replace the whole configuration after validation.
type SafeConfig struct {
	mu      sync.RWMutex
	current *Config
}

// NewSafeConfig wraps cfg. A nil cfg becomes an empty configuration.
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{current: cfg}
}

// Get returns a deep copy of the current configuration.
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.current.Clone()
}

// Update validates cfg and makes it the current configuration.
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.current = cfg
	return nil
}

// Loader merges configuration from defaults, layered JSON files and
// environment overrides, in that order of precedence (lowest first).
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader returns a loader with no layers and validation disabled.
func NewLoader() *Loader {
	return &Loader{envPrefix: "ASSETMESH"}
}

// AddLayer appends a configuration file. Later layers override earlier
// ones field by field.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation makes Load reject configurations that fail Validate.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads a single file, replacing any layers added so far.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load folds all layers onto the defaults and applies environment
// overrides to the result.
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(defaultConfig())
	if err != nil {
		return nil, fmt.Errorf("encode defaults: %w", err)
	}

	for _, path := range l.layers {
		layer, err := l.readLayer(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		merged = mergeMaps(merged, layer)
	}

	cfg, err := decodeMap(merged)
	if err != nil {
		return nil, fmt.Errorf("decode merged config: %w", err)
	}

	l.applyEnvOverrides(cfg)
	cfg.Services.Normalize()

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// defaultConfig is the configuration a platform boots with when a layer
// sets nothing. Processing and gateway run by default; provision stays
// dormant until a catalog is configured.
func defaultConfig() *Config {
	return &Config{
		Platform: PlatformConfig{
			Realm: "master",
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			JetStream:     JetStreamConfig{Enabled: true},
		},
		Storage: StorageConfig{
			Mode:       StorageModeMemory,
			Assets:     BucketConfig{History: 5},
			Datapoints: BucketConfig{TTL: 14 * 24 * time.Hour},
			Cache:      cache.DefaultConfig(),
		},
		Services: types.ServiceConfigs{
			"processing": types.ServiceConfig{
				Name:    "processing",
				Enabled: true,
				Config:  json.RawMessage(`{}`),
			},
			"gateway": types.ServiceConfig{
				Name:    "gateway",
				Enabled: true,
				Config:  json.RawMessage(`{}`),
			},
			"provision": types.ServiceConfig{
				Name:    "provision",
				Enabled: false,
				Config:  json.RawMessage(`{}`),
			},
		},
	}
}

// readLayer reads one configuration file into the raw map form used
// for merging. Duration strings pass through untouched; the flexible
// unmarshalers on NATSConfig and BucketConfig decode them after the
// merge.
func (l *Loader) readLayer(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := validateJSONDepth(data); err != nil {
		return nil, fmt.Errorf("invalid JSON structure: %w", err)
	}

	var layer map[string]any
	if err := json.Unmarshal(data, &layer); err != nil {
		return nil, err
	}
	return layer, nil
}

// toMap round-trips a Config into the raw map form used for merging.
func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// decodeMap converts a merged raw map back into a Config.
func decodeMap(m map[string]any) (*Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeMaps overlays override onto base. Maps merge recursively; any
// other value, including arrays, replaces wholesale. Nils in override
// are ignored so JSON null cannot blank a default.
func mergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := result[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = mergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// parseDurationWithDays extends time.ParseDuration with a day suffix,
// so retention windows read naturally ("14d").
func parseDurationWithDays(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// applyEnvOverrides applies environment variables on top of the loaded
// configuration. Values that fail validation are ignored and the file
// value stands.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	if val := envOverride(l.envPrefix + "_PLATFORM_ID"); val != "" {
		cfg.Platform.ID = val
	}
	if val := envOverride(l.envPrefix + "_PLATFORM_TYPE"); val != "" {
		cfg.Platform.Type = val
	}
	if val := envOverride(l.envPrefix + "_PLATFORM_REALM"); val != "" {
		cfg.Platform.Realm = val
	}

	if val := envOverride(l.envPrefix + "_STORAGE_MODE"); val != "" {
		cfg.Storage.Mode = val
	}

	if val := envOverride(l.envPrefix + "_NATS_URLS"); val != "" {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	if val := envOverride(l.envPrefix + "_NATS_USERNAME"); val != "" {
		cfg.NATS.Username = val
	}
	if val := envOverride(l.envPrefix + "_NATS_PASSWORD"); val != "" {
		cfg.NATS.Password = val
	}
	if val := envOverride(l.envPrefix + "_NATS_TOKEN"); val != "" {
		cfg.NATS.Token = val
	}
}

// semver is a parsed major.minor.patch version.
type semver struct {
	major, minor, patch int
}

func (v semver) compare(o semver) int {
	if c := cmp.Compare(v.major, o.major); c != 0 {
		return c
	}
	if c := cmp.Compare(v.minor, o.minor); c != 0 {
		return c
	}
	return cmp.Compare(v.patch, o.patch)
}

// CompareVersions compares two semantic version strings, returning -1,
// 0 or 1. A leading "v" is accepted.
func CompareVersions(v1, v2 string) (int, error) {
	a, err := parseSemVer(v1)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", v1, err)
	}
	b, err := parseSemVer(v2)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", v2, err)
	}
	return a.compare(b), nil
}

func parseSemVer(version string) (semver, error) {
	if version == "" {
		return semver{}, errors.New("version cannot be empty")
	}

	parts := strings.Split(strings.TrimPrefix(version, "v"), ".")
	if len(parts) != 3 {
		return semver{}, fmt.Errorf("expected major.minor.patch, got %q", version)
	}

	nums := make([]int, 3)
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return semver{}, fmt.Errorf("invalid version component %q: %w", part, err)
		}
		nums[i] = n
	}
	return semver{major: nums[0], minor: nums[1], patch: nums[2]}, nil
}
