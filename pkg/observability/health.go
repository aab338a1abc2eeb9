package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Status    string            `json:"status"`
}

// PingFunc checks one dependency
type PingFunc func(ctx context.Context) error

// HealthChecker manages health checks for the service
type HealthChecker struct {
	checks map[string]PingFunc
}

// NewHealthChecker creates a HealthChecker over named dependency checks.
// A nil check reports the dependency as not configured.
func NewHealthChecker(checks map[string]PingFunc) *HealthChecker {
	return &HealthChecker{checks: checks}
}

// Check performs health checks and returns the status
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	results := make(map[string]string, len(h.checks))
	overallStatus := "healthy"

	for name, ping := range h.checks {
		if ping == nil {
			results[name] = "not configured"
			continue
		}

		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := ping(checkCtx)
		cancel()

		if err != nil {
			results[name] = "unhealthy: " + err.Error()
			overallStatus = "unhealthy"
		} else {
			results[name] = "healthy"
		}
	}

	return HealthStatus{
		Status:    overallStatus,
		Timestamp: time.Now().UTC(),
		Checks:    results,
	}
}

// HealthHandler returns an HTTP handler for health checks
func (h *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if status.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		_ = json.NewEncoder(w).Encode(status)
	}
}
