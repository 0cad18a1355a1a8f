// Package health provides health status reporting for assetmesh services
// with aggregation and sanitized failure messages.
//
// The health package carries the health of individual services and the
// aggregated system view exposed by the service manager's HTTP endpoints.
//
// # Health States
//
// The package supports three health states:
//   - Healthy: service operating normally
//   - Degraded: service operating with reduced functionality (starting, stopping)
//   - Unhealthy: service not functioning properly
//
// The three-state model enables nuanced operational responses. A degraded
// service is still serving and usually recovers on its own; an unhealthy
// one needs attention.
//
// # Core Components
//
// Status: individual service health state containing status level,
// descriptive message, timestamp, optional metrics, and hierarchical
// sub-statuses for composite views.
//
// Helpers: constructors for each state plus Aggregate for building the
// system-wide status from per-service statuses.
//
// # Basic Usage
//
// Reporting service health:
//
//	func (s *Service) Health() health.Status {
//	    if !s.connected() {
//	        return health.NewUnhealthy("gateway", "NATS connection lost")
//	    }
//	    return health.NewHealthy("gateway", "Service operating normally")
//	}
//
// Aggregating system health:
//
//	var subStatuses []health.Status
//	for _, svc := range services {
//	    subStatuses = append(subStatuses, svc.Health())
//	}
//	system := health.Aggregate("system", subStatuses)
//	if system.IsUnhealthy() {
//	    // Return 503 from the health endpoint
//	}
//
// Aggregation uses hierarchical rules:
//   - Any unhealthy service → system unhealthy
//   - Any degraded service (with no unhealthy) → system degraded
//   - All healthy → system healthy
//
// # Security
//
// Failure text passed through NewUnhealthyFromError is sanitized before
// exposure to remove potentially sensitive information:
//
//	// Original error with sensitive data
//	err := "failed to connect to https://api.example.com/v1 with password=secret123"
//
//	// After sanitization
//	// "failed to connect to [URL] with [REDACTED]"
//
// Sanitization patterns:
//   - URLs: http://, https://, nats://, ws://, wss:// → [URL]
//   - File paths: /path/to/file, C:\path\to\file → [PATH]
//   - IP addresses: 192.168.1.100 → [IP]
//   - Ports: :8080 → [PORT]
//   - Credentials: password=X, token=X, key=X, secret=X → [REDACTED]
//
// This prevents accidental exposure of connection strings and credentials
// in health dashboards and logs. Sanitization is on by default with no
// opt-out, even if it occasionally over-redacts during debugging.
//
// # Error Handling Philosophy
//
// The health package does not return errors because it represents the
// *result* of error handling, not part of error propagation. Health status
// is an observability output.
//
// Services creating Status objects should use the assetmesh/errors package
// for any error wrapping before converting to health status messages.
//
// # Design Decisions
//
// Value-Based Status: Status is a struct, not *Status, making it immutable
// in practice. WithMetrics returns a copy rather than modifying the
// original, and Aggregate copies the sub-status slice it is given, so a
// status handed to an HTTP encoder cannot change underneath it.
//
// Conservative Aggregation: system health follows "worst case" rules - a
// single unhealthy service marks the entire system unhealthy so problems
// are not masked by healthy neighbors.
package health
