package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	BootstrapPath   string
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	// Define flags with environment variable fallback
	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("ASSETMESH_CONFIG", "configs/example.json"),
		"Configuration file, or comma-separated layers with later files overriding earlier ones (env: ASSETMESH_CONFIG)")

	flag.StringVar(&cfg.ConfigPath, "c",
		getEnv("ASSETMESH_CONFIG", "configs/example.json"),
		"Configuration file, or comma-separated layers with later files overriding earlier ones (env: ASSETMESH_CONFIG)")

	flag.StringVar(&cfg.BootstrapPath, "bootstrap",
		getEnv("ASSETMESH_BOOTSTRAP", ""),
		"Minimal bootstrap file for first boot; takes priority over -config (env: ASSETMESH_BOOTSTRAP)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("ASSETMESH_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: ASSETMESH_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("ASSETMESH_LOG_FORMAT", "json"),
		"Log format: json, text (env: ASSETMESH_LOG_FORMAT)")

	flag.BoolVar(&cfg.Debug, "debug",
		getEnvBool("ASSETMESH_DEBUG", false),
		"Enable debug mode (env: ASSETMESH_DEBUG)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("ASSETMESH_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: ASSETMESH_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	// Custom usage
	flag.Usage = func() {
		printDetailedHelp()
	}

	flag.Parse()

	// Override log level if debug is set
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	// Skip validation for special flags
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	// Validate config files exist; bootstrap mode ignores -config
	if cfg.BootstrapPath != "" {
		if _, err := os.Stat(cfg.BootstrapPath); err != nil {
			return fmt.Errorf("bootstrap file not found: %s", cfg.BootstrapPath)
		}
	} else {
		for _, layer := range strings.Split(cfg.ConfigPath, ",") {
			layer = strings.TrimSpace(layer)
			if _, err := os.Stat(layer); err != nil {
				return fmt.Errorf("config file not found: %s", layer)
			}
		}
	}

	// Validate log level
	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	// Validate log format
	validFormats := []string{"json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - IoT asset event-processing platform

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run with custom config
  %s --config=/path/to/config.json

  # Layered config: site file overrides base
  %s --config=base.json,site.json

  # First boot of an edge device from a bootstrap file
  %s --bootstrap=/etc/assetmesh/bootstrap.json

  # Run with debug logging
  %s --log-level=debug --log-format=text

  # Run with environment variables
  export ASSETMESH_CONFIG=/etc/assetmesh/config.json
  export ASSETMESH_LOG_LEVEL=debug
  %s

  # Validate configuration only
  %s --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Utility function to check if slice contains string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
