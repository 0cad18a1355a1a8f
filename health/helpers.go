package health

import (
	"fmt"
	"time"
)

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == stateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy reports a component operating normally.
func NewHealthy(component, message string) Status {
	return newStatus(component, stateHealthy, message)
}

// NewUnhealthy reports a component that cannot do its job.
func NewUnhealthy(component, message string) Status {
	return newStatus(component, stateUnhealthy, message)
}

// NewDegraded reports a component that is running but impaired, for
// example while starting or stopping.
func NewDegraded(component, message string) Status {
	return newStatus(component, stateDegraded, message)
}

// NewUnhealthyFromError reports a failing component from raw error text.
// The text is sanitized before exposure so health endpoints never leak
// connection strings, file paths or credentials carried in errors.
func NewUnhealthyFromError(component, lastError string) Status {
	message := "Component unhealthy"
	if lastError != "" {
		message = sanitizeErrorMessage(lastError)
	}
	return newStatus(component, stateUnhealthy, message)
}

// Aggregate rolls sub-statuses up into one status. Unhealthy wins over
// degraded, degraded wins over healthy, and the sub-statuses ride along
// for the health endpoints.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "No sub-components to aggregate")
	}

	var unhealthy, degraded int
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			unhealthy++
		case sub.IsDegraded():
			degraded++
		}
	}

	var agg Status
	switch {
	case unhealthy > 0:
		agg = NewUnhealthy(component,
			fmt.Sprintf("%d of %d sub-components unhealthy", unhealthy, len(subStatuses)))
	case degraded > 0:
		agg = NewDegraded(component,
			fmt.Sprintf("%d of %d sub-components degraded", degraded, len(subStatuses)))
	default:
		agg = NewHealthy(component, "All sub-components are healthy")
	}

	agg.SubStatuses = make([]Status, len(subStatuses))
	copy(agg.SubStatuses, subStatuses)
	return agg
}
