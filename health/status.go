package health

import "time"

// State strings carried in Status.Status. They appear verbatim in the
// manager's health endpoint responses, so they are wire contract.
const (
	stateHealthy   = "healthy"
	stateDegraded  = "degraded"
	stateUnhealthy = "unhealthy"
)

// Status is the health of one service, or of the whole system when it
// carries sub-statuses. The JSON shape is served as-is by the service
// manager's health endpoints.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"` // true if status is "healthy"
	Status      string    `json:"status"`  // "healthy", "unhealthy", "degraded"
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics is the runtime counter snapshot a service attaches to its
// status, so the health endpoint answers "how long up, how busy, how
// many failures" without a second round trip.
type Metrics struct {
	Uptime            time.Duration `json:"uptime"`
	ErrorCount        int           `json:"error_count"`
	MessagesProcessed int64         `json:"messages_processed,omitempty"`
	LastActivity      time.Time     `json:"last_activity,omitempty"`
}

// IsHealthy reports whether the component is operating normally.
func (s Status) IsHealthy() bool {
	return s.Status == stateHealthy
}

// IsDegraded reports whether the component is running but impaired.
func (s Status) IsDegraded() bool {
	return s.Status == stateDegraded
}

// IsUnhealthy reports whether the component cannot do its job.
func (s Status) IsUnhealthy() bool {
	return s.Status == stateUnhealthy
}

// WithMetrics returns a copy of the status with metrics attached.
func (s Status) WithMetrics(metrics *Metrics) Status {
	s.Metrics = metrics
	return s
}
