package types

import "time"

type HealthStatus string

const (
	HealthStatusUp       HealthStatus = "up"
	HealthStatusDown     HealthStatus = "down"
	HealthStatusDegraded HealthStatus = "degraded"
)

type ComponentHealth struct {
	Name      string       `json:"name"`
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	CheckedAt time.Time    `json:"checked_at"`
}

// HealthManager aggregates per-component status reports. Components push
// status transitions; they never block on it.
type HealthManager interface {
	LifecycleManager
	SetStatus(component string, status HealthStatus, message string)
	GetStatus(component string) (ComponentHealth, bool)
	Snapshot() map[string]ComponentHealth
	IsHealthy() bool
}
