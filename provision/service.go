package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/c360/assetmesh/errors"
	"github.com/c360/assetmesh/service"
)

const defaultDebounce = 500 * time.Millisecond

// ServiceConfig holds configuration for the provisioning service.
type ServiceConfig struct {
	// Path is the catalog file to apply.
	Path string `json:"path"`

	// Watch re-applies the catalog when the file changes.
	Watch bool `json:"watch"`

	// Debounce is how long after the last file event the re-apply runs.
	Debounce string `json:"debounce"`
}

// Validate checks if the configuration is valid
func (c ServiceConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("catalog path required")
	}
	if c.Debounce != "" {
		d, err := time.ParseDuration(c.Debounce)
		if err != nil {
			return fmt.Errorf("invalid debounce: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("debounce must be positive, got %s", c.Debounce)
		}
	}
	return nil
}

// Deps carries the collaborators the provisioning service is wired with.
type Deps = ProvisionerDeps

// Service applies the catalog at startup and keeps it applied. With
// watching enabled, edits to the catalog file re-apply after a debounce; a
// file that no longer loads or validates is skipped and the previously
// applied state stands.
type Service struct {
	*service.BaseService

	config      ServiceConfig
	debounce    time.Duration
	provisioner *Provisioner
	logger      *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the provisioning service.
func New(rawConfig json.RawMessage, deps Deps) (*Service, error) {
	var cfg ServiceConfig
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Service", "New", "parse provisioning config")
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Service", "New", "validate provisioning config")
	}

	debounce := defaultDebounce
	if cfg.Debounce != "" {
		debounce, _ = time.ParseDuration(cfg.Debounce)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("service", "provision")
	deps.Logger = logger

	provisioner, err := NewProvisioner(deps)
	if err != nil {
		return nil, err
	}

	base := service.NewBaseServiceWithOptions(
		"provision",
		nil,
		service.WithLogger(logger),
		service.WithMetrics(deps.Metrics),
	)

	return &Service{
		BaseService: base,
		config:      cfg,
		debounce:    debounce,
		provisioner: provisioner,
		logger:      logger,
	}, nil
}

// Start loads and applies the catalog, then starts the watcher when
// configured. A catalog that cannot be loaded fails startup; entries that
// fail to apply are logged and the service still starts, since the watcher
// or a restart can complete them.
func (s *Service) Start(ctx context.Context) error {
	if err := s.BaseService.Start(ctx); err != nil {
		return err
	}

	cat, err := Load(s.config.Path)
	if err != nil {
		return err
	}
	if err := s.provisioner.Apply(ctx, cat); err != nil {
		s.logger.Warn("initial catalog apply incomplete", "error", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if s.config.Watch {
		s.wg.Add(1)
		go s.watch(runCtx)
	}

	s.logger.Info("provisioning started",
		"catalog", s.config.Path,
		"watch", s.config.Watch,
	)
	return nil
}

// Stop halts the watcher.
func (s *Service) Stop(timeout time.Duration) error {
	if s.cancel != nil {
		s.cancel()
	}

	if timeout == 0 {
		timeout = 5 * time.Second
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("watcher did not stop in time")
	}

	return s.BaseService.Stop(timeout)
}

// watch re-applies the catalog when the file changes. The parent directory
// is watched because editors replace files by rename, and events are
// debounced so one save burst becomes one apply.
func (s *Service) watch(ctx context.Context) {
	defer s.wg.Done()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Error("catalog watcher unavailable", "error", err)
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(s.config.Path)
	if err := watcher.Add(dir); err != nil {
		s.logger.Error("catalog watch failed", "dir", dir, "error", err)
		return
	}

	base := filepath.Base(s.config.Path)
	debounce := time.NewTimer(s.debounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	armed := false

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if armed && !debounce.Stop() {
				<-debounce.C
			}
			debounce.Reset(s.debounce)
			armed = true

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("catalog watcher error", "error", err)

		case <-debounce.C:
			armed = false
			s.reload(ctx)
		}
	}
}

func (s *Service) reload(ctx context.Context) {
	cat, err := Load(s.config.Path)
	if err != nil {
		s.provisioner.metrics.recordSkipped("skipped")
		s.logger.Warn("catalog reload skipped, previous state kept", "error", err)
		return
	}
	if err := s.provisioner.Apply(ctx, cat); err != nil {
		s.logger.Warn("catalog re-apply incomplete", "error", err)
		return
	}
	s.logger.Info("catalog re-applied",
		"assets", len(cat.Assets),
		"rules", len(cat.Rules),
	)
}
