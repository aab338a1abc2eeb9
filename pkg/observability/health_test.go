package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthChecker_Check(t *testing.T) {
	healthy := NewHealthChecker(map[string]PingFunc{
		"database": func(ctx context.Context) error { return nil },
		"redis":    nil,
	})

	status := healthy.Check(context.Background())
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "healthy", status.Checks["database"])
	assert.Equal(t, "not configured", status.Checks["redis"])

	unhealthy := NewHealthChecker(map[string]PingFunc{
		"redis": func(ctx context.Context) error { return errors.New("connection refused") },
	})
	status = unhealthy.Check(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Contains(t, status.Checks["redis"], "connection refused")
}

func TestHealthChecker_Handler(t *testing.T) {
	checker := NewHealthChecker(map[string]PingFunc{
		"database": func(ctx context.Context) error { return errors.New("down") },
	})

	rec := httptest.NewRecorder()
	checker.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"unhealthy"`)
}
