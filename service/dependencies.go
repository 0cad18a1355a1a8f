package service

import (
	"encoding/json"
	"log/slog"

	"github.com/c360/assetmesh/assetstore"
	"github.com/c360/assetmesh/config"
	"github.com/c360/assetmesh/metric"
	"github.com/c360/assetmesh/natsclient"
	"github.com/c360/assetmesh/types"
)

// Dependencies provides the standard dependencies that all services receive.
// The asset store is created once at startup and shared so every service
// sees the same snapshots regardless of storage mode.
type Dependencies struct {
	NATSClient      *natsclient.Client
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
	Platform        types.PlatformMeta // Platform identity
	Manager         *config.Manager    // Centralized configuration management
	Store           assetstore.Store   // Shared asset store
	ServiceManager  *Manager           // Service manager for accessing other services
}

// Constructor defines the standard constructor signature for all services.
// Every service must have a constructor that follows this pattern.
// The constructor receives raw JSON config and must handle its own parsing.
type Constructor func(rawConfig json.RawMessage, deps *Dependencies) (Service, error)
