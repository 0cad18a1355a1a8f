// Package main implements the entry point for the AssetMesh platform.
// AssetMesh is an IoT asset-management core: an attribute event pipeline
// with ordering guarantees, a protocol link registry, a WebSocket gateway
// and catalog provisioning, all wired over NATS.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/c360/assetmesh/assetstore"
	"github.com/c360/assetmesh/config"
	"github.com/c360/assetmesh/consumer/agent"
	"github.com/c360/assetmesh/consumer/datapoint"
	"github.com/c360/assetmesh/consumer/rules"
	"github.com/c360/assetmesh/consumer/storage"
	"github.com/c360/assetmesh/gateway"
	"github.com/c360/assetmesh/identity"
	"github.com/c360/assetmesh/metric"
	"github.com/c360/assetmesh/natsclient"
	"github.com/c360/assetmesh/processing"
	"github.com/c360/assetmesh/protocol"
	"github.com/c360/assetmesh/protocol/macro"
	"github.com/c360/assetmesh/provision"
	"github.com/c360/assetmesh/service"
	"github.com/c360/assetmesh/types"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "assetmesh"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	// Run application with proper error handling
	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	// Parse and validate CLI flags
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	// Load and validate configuration
	cfg, err := initializeConfiguration(cliCfg)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	// Setup core infrastructure
	ctx := context.Background()
	natsClient, metricsRegistry, platform, configManager, err := setupInfrastructure(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer natsClient.Close(ctx)
	defer configManager.Stop(5 * time.Second)

	// Wire the domain: store, link registry, consumer chain, services
	pipe, err := buildPipeline(ctx, cfg, natsClient, metricsRegistry, logger)
	if err != nil {
		return err
	}
	defer pipe.close()

	// Hand the services to the manager for lifecycle and health
	manager, err := assembleManager(cfg, pipe, natsClient, metricsRegistry, logger, platform, configManager)
	if err != nil {
		return err
	}

	// Run application with signal handling
	return runWithSignalHandling(ctx, manager, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting AssetMesh (asset event processing)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// initializeConfiguration loads and validates configuration. A bootstrap
// file takes priority: it expands over the defaults so a freshly imaged
// device starts with nothing but its identity. Otherwise the config path
// loads as comma-separated layers, later files overriding earlier ones.
func initializeConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	var cfg *config.Config

	if cliCfg.BootstrapPath != "" {
		boot, err := config.LoadBootstrap(cliCfg.BootstrapPath)
		if err != nil {
			return nil, fmt.Errorf("load bootstrap config: %w", err)
		}
		cfg = boot.Expand()
	} else {
		loader := config.NewLoader()
		for _, layer := range strings.Split(cliCfg.ConfigPath, ",") {
			loader.AddLayer(strings.TrimSpace(layer))
		}
		loaded, err := loader.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setupInfrastructure creates and connects core infrastructure components
func setupInfrastructure(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
) (*natsclient.Client, *metric.MetricsRegistry, types.PlatformMeta, *config.Manager, error) {
	natsClient, metricsRegistry, platform, err := createCoreDependencies(cfg)
	if err != nil {
		return nil, nil, types.PlatformMeta{}, nil, fmt.Errorf("create dependencies: %w", err)
	}

	if err := connectToNATS(ctx, natsClient); err != nil {
		return nil, nil, types.PlatformMeta{}, nil, err
	}

	configManager, err := config.NewConfigManager(cfg, natsClient, logger)
	if err != nil {
		return nil, nil, types.PlatformMeta{}, nil, fmt.Errorf("create config manager: %w", err)
	}
	if err := configManager.Start(ctx); err != nil {
		return nil, nil, types.PlatformMeta{}, nil, fmt.Errorf("start config manager: %w", err)
	}

	return natsClient, metricsRegistry, platform, configManager, nil
}

// connectToNATS establishes NATS connection and waits for it to be ready
func connectToNATS(ctx context.Context, natsClient *natsclient.Client) error {
	slog.Info("Connecting to NATS")
	if err := natsClient.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := natsClient.WaitForConnection(connCtx); err != nil {
		return fmt.Errorf("NATS connection timeout: %w", err)
	}

	return nil
}

// createCoreDependencies creates the core dependencies needed by services
func createCoreDependencies(
	cfg *config.Config,
) (*natsclient.Client, *metric.MetricsRegistry, types.PlatformMeta, error) {
	natsURL := "nats://localhost:4222"

	// Environment variable override takes precedence. Both forms accept a
	// comma-separated cluster list.
	if envURL := os.Getenv("ASSETMESH_NATS_URLS"); envURL != "" {
		natsURL = envURL
	} else if len(cfg.NATS.URLs) > 0 {
		natsURL = strings.Join(cfg.NATS.URLs, ",")
	}

	metricsRegistry := metric.NewMetricsRegistry()

	opts := []natsclient.Option{
		natsclient.WithName(appName + "-core"),
		natsclient.WithMetrics(metricsRegistry),
	}
	if cfg.NATS.MaxReconnects != 0 {
		opts = append(opts, natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects))
	}
	if cfg.NATS.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.NATS.ReconnectWait))
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}
	if cfg.NATS.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(
			cfg.NATS.TLS.CertFile, cfg.NATS.TLS.KeyFile, cfg.NATS.TLS.CAFile))
	}

	natsClient, err := natsclient.NewClient(natsURL, opts...)
	if err != nil {
		return nil, nil, types.PlatformMeta{}, fmt.Errorf("create NATS client: %w", err)
	}

	// Platform identity (prefer instance_id for federation)
	platformID := cfg.Platform.InstanceID
	if platformID == "" {
		platformID = cfg.Platform.ID
	}

	platform := types.PlatformMeta{
		Org:      cfg.Platform.Org,
		Platform: platformID,
	}

	slog.Info("Platform identity configured",
		"org", platform.Org,
		"platform", platform.Platform,
		"environment", cfg.Platform.Environment)

	return natsClient, metricsRegistry, platform, nil
}

// pipeline holds the wired domain services and the shared state they run on.
type pipeline struct {
	store      assetstore.Store
	registry   *protocol.LinkRegistry
	links      *identity.Links
	rules      *rules.Consumer
	processing *processing.Service
	gateway    *gateway.Service   // nil when disabled in config
	provision  *provision.Service // nil when no catalog is configured
	closers    []interface{ Close() }
}

func (p *pipeline) close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i].Close()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
}

// buildPipeline wires the event pipeline: asset store and datapoint
// recorder per the storage mode, link registry with the configured protocol
// components, the fixed consumer chain (rules, agent, storage, datapoint),
// and the processing, gateway and provision services on top.
func buildPipeline(
	ctx context.Context,
	cfg *config.Config,
	natsClient *natsclient.Client,
	metricsRegistry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*pipeline, error) {
	store, err := assetstore.New(ctx, cfg.Storage, natsClient, logger)
	if err != nil {
		return nil, fmt.Errorf("create asset store: %w", err)
	}

	recorder, err := assetstore.NewRecorder(ctx, cfg.Storage, natsClient)
	if err != nil {
		return nil, fmt.Errorf("create datapoint recorder: %w", err)
	}

	// All pipeline egress rides one publisher: northbound reflections on
	// the sensor subjects, rule writes on the client subject, completions
	// on the completed subjects.
	publisher, err := processing.NewEventPublisher(natsClient, logger)
	if err != nil {
		return nil, fmt.Errorf("create event publisher: %w", err)
	}

	linkRegistry, err := protocol.NewLinkRegistry(publisher, logger)
	if err != nil {
		return nil, fmt.Errorf("create link registry: %w", err)
	}
	closers, err := createProtocols(cfg, linkRegistry, publisher, logger)
	if err != nil {
		return nil, err
	}

	rulesConsumer, err := rules.New(publisher, logger, metricsRegistry)
	if err != nil {
		return nil, fmt.Errorf("create rules consumer: %w", err)
	}
	agentConsumer, err := agent.New(linkRegistry, logger, metricsRegistry)
	if err != nil {
		return nil, fmt.Errorf("create agent consumer: %w", err)
	}
	storageConsumer, err := storage.New(store, logger, metricsRegistry)
	if err != nil {
		return nil, fmt.Errorf("create storage consumer: %w", err)
	}
	datapointConsumer, err := datapoint.New(recorder, logger, metricsRegistry)
	if err != nil {
		return nil, fmt.Errorf("create datapoint consumer: %w", err)
	}

	// The processing service is the pipeline core and is always built;
	// its config entry only tunes it.
	procCfg, _ := serviceConfig(cfg, "processing")
	processingSvc, err := processing.New(procCfg, processing.Deps{
		NATS:  natsClient,
		Store: store,
		Consumers: []processing.Consumer{
			rulesConsumer,
			agentConsumer,
			storageConsumer,
			datapointConsumer,
		},
		Completions: publisher,
		Metrics:     metricsRegistry,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create processing service: %w", err)
	}

	links := identity.NewLinks()
	authorizer, err := identity.NewAuthorizer(store, links)
	if err != nil {
		return nil, fmt.Errorf("create authorizer: %w", err)
	}

	pipe := &pipeline{
		store:      store,
		registry:   linkRegistry,
		links:      links,
		rules:      rulesConsumer,
		processing: processingSvc,
		closers:    closers,
	}

	if gwCfg, enabled := serviceConfig(cfg, "gateway"); enabled {
		gatewaySvc, err := gateway.New(gwCfg, gateway.Deps{
			NATS:       natsClient,
			Writer:     processingSvc,
			Authorizer: authorizer,
			Security:   cfg.Security,
			Metrics:    metricsRegistry,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create gateway service: %w", err)
		}
		pipe.gateway = gatewaySvc
	} else {
		logger.Info("gateway disabled in config")
	}

	if provCfg, enabled := serviceConfig(cfg, "provision"); enabled {
		provisionSvc, err := provision.New(provCfg, provision.Deps{
			Store:    store,
			Registry: linkRegistry,
			Rules:    rulesConsumer,
			Links:    links,
			Metrics:  metricsRegistry,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create provision service: %w", err)
		}
		pipe.provision = provisionSvc
	} else {
		logger.Info("no provisioning catalog configured")
	}

	return pipe, nil
}

// createProtocols registers the protocol factories and instantiates the
// protocol components the config declares. The macro protocol is always
// available; when no component names it, a default instance is created so
// provisioned macro configurations have an owner.
func createProtocols(
	cfg *config.Config,
	registry *protocol.LinkRegistry,
	publisher protocol.Publisher,
	logger *slog.Logger,
) ([]interface{ Close() }, error) {
	if err := macro.Register(registry); err != nil {
		return nil, fmt.Errorf("register macro factory: %w", err)
	}

	deps := protocol.Dependencies{Publisher: publisher, Logger: logger}
	var closers []interface{ Close() }
	macroCreated := false

	for instanceName, comp := range cfg.Components {
		if comp.Type != types.ComponentTypeProtocol {
			continue
		}
		if !comp.Enabled {
			slog.Info("Protocol component disabled", "instance", instanceName)
			continue
		}

		p, err := registry.CreateProtocol(comp.Name, comp.Config, deps)
		if err != nil {
			return nil, fmt.Errorf("create protocol %s: %w", instanceName, err)
		}
		if c, ok := p.(interface{ Close() }); ok {
			closers = append(closers, c)
		}
		if comp.Name == macro.ProtocolName {
			macroCreated = true
		}
		slog.Info("Protocol created", "instance", instanceName, "factory", comp.Name)
	}

	if !macroCreated {
		p, err := registry.CreateProtocol(macro.ProtocolName, nil, deps)
		if err != nil {
			return nil, fmt.Errorf("create macro protocol: %w", err)
		}
		if c, ok := p.(interface{ Close() }); ok {
			closers = append(closers, c)
		}
	}

	return closers, nil
}

// serviceConfig returns the raw config for a service and whether it should
// be built. Absent services default to enabled with defaults; provisioning
// is opt-in because it needs a catalog path.
func serviceConfig(cfg *config.Config, name string) (json.RawMessage, bool) {
	sc, ok := cfg.Services[name]
	if !ok {
		return nil, name != "provision"
	}
	return sc.Config, sc.Enabled
}

// assembleManager hands the wired services to the service manager in start
// order: pipeline first, catalog provisioning after the ingress paths are
// listening, metrics last.
func assembleManager(
	cfg *config.Config,
	pipe *pipeline,
	natsClient *natsclient.Client,
	metricsRegistry *metric.MetricsRegistry,
	logger *slog.Logger,
	platform types.PlatformMeta,
	configManager *config.Manager,
) (*service.Manager, error) {
	registry := service.NewServiceRegistry()
	if err := service.RegisterAll(registry); err != nil {
		return nil, fmt.Errorf("register services: %w", err)
	}

	manager := service.NewServiceManager(registry)

	svcDeps := &service.Dependencies{
		NATSClient:      natsClient,
		MetricsRegistry: metricsRegistry,
		Logger:          logger,
		Platform:        platform,
		Manager:         configManager,
		Store:           pipe.store,
		ServiceManager:  manager,
	}

	if err := manager.ConfigureFromServices(cfg.Services, svcDeps); err != nil {
		return nil, fmt.Errorf("configure service manager: %w", err)
	}

	if err := manager.AddService("processing", pipe.processing); err != nil {
		return nil, err
	}
	if pipe.gateway != nil {
		if err := manager.AddService("gateway", pipe.gateway); err != nil {
			return nil, err
		}
	}
	if pipe.provision != nil {
		if err := manager.AddService("provision", pipe.provision); err != nil {
			return nil, err
		}
	}

	if metricsCfg, enabled := serviceConfig(cfg, "metrics"); enabled {
		if _, err := manager.CreateService("metrics", metricsCfg, svcDeps); err != nil {
			return nil, fmt.Errorf("create metrics service: %w", err)
		}
	}

	return manager, nil
}

// runWithSignalHandling starts services and handles shutdown signals
func runWithSignalHandling(ctx context.Context, manager *service.Manager, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := manager.StartAll(signalCtx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	slog.Info("AssetMesh started successfully (event pipeline ready)")

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := shutdown(shutdownCtx, manager, shutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("AssetMesh shutdown complete")
	return nil
}

// shutdown performs graceful shutdown of all services
func shutdown(ctx context.Context, manager *service.Manager, timeout time.Duration) error {
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining < timeout {
			timeout = remaining
		}
	}

	if err := manager.StopAll(timeout); err != nil {
		slog.Error("Error stopping services", "error", err)
		return err
	}

	return nil
}
