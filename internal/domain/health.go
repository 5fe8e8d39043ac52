package domain

import "time"

// HealthStatus is the coarse state of a service or of the whole layer.
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// Severity orders statuses so the worst can be picked.
func (s HealthStatus) Severity() int {
	switch s {
	case Healthy:
		return 0
	case Degraded:
		return 1
	case Unhealthy:
		return 2
	}
	return 0
}

// DomainServiceHealth tracks liveness of one analytics domain.
type DomainServiceHealth struct {
	IsHealthy         bool         `json:"isHealthy"`
	Status            HealthStatus `json:"status"`
	LastChecked       time.Time    `json:"lastChecked"`
	ErrorCount        int          `json:"errorCount"`
	ConsecutiveErrors int          `json:"consecutiveErrors"`
	LastError         string       `json:"lastError,omitempty"`
}
