// Package config loads, validates and distributes AssetMesh platform
// configuration.
//
// Configuration comes from three places, lowest precedence first:
// built-in defaults, layered JSON files, and ASSETMESH_* environment
// variables. At runtime the Manager mirrors the merged configuration
// into a NATS KV bucket so every service on the platform converges on
// the same view and reacts to changes without restarting.
//
// # Loading
//
// Layers merge field by field, last layer wins:
//
//	loader := config.NewLoader()
//	loader.AddLayer("config/base.json")
//	loader.AddLayer("config/production.json")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Durations accept Go syntax ("2s", "5m") plus a day suffix for
// retention windows ("14d"). Selected fields can be overridden from the
// environment:
//
//	export ASSETMESH_PLATFORM_ID="prod-cluster-01"
//	export ASSETMESH_NATS_URLS="nats://server1:4222,nats://server2:4222"
//
// # Runtime updates
//
// The Manager reconciles the file configuration with the KV bucket on
// startup (newer file version pushes, newer bucket pulls), then watches
// the bucket and notifies subscribers:
//
//	cm, err := config.NewConfigManager(cfg, natsClient, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cm.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer cm.Stop(5 * time.Second)
//
//	for update := range cm.OnChange("services.*") {
//		log.Printf("service config changed: %s", update.Path)
//	}
//
// # Concurrent access
//
// SafeConfig hands out deep copies to readers and validates before
// swapping in a replacement, so a half-edited configuration is never
// observable:
//
//	cfg := cm.GetConfig().Get()
//	cfg.Services["provision"] = provisionConfig
//	if err := cm.GetConfig().Update(cfg); err != nil {
//		log.Fatal(err)
//	}
//
// # File safety
//
// Configuration files are read defensively: regular files only, a 10MB
// size cap, and a JSON nesting limit, so a bad path or hostile file
// cannot take the process down.
package config
