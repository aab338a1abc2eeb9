package shutdown

import (
	"context"
	"net/http"
	"sync"

	"github.com/kevin07696/payout-service/internal/domain/ports"
)

// InFlightTracker tracks in-flight work (webhook reconciliations, payouts)
// so shutdown waits for it to complete
type InFlightTracker struct {
	logger     ports.Logger
	shutdownCh chan struct{}
	name       string
	wg         sync.WaitGroup
	mu         sync.Mutex
	closed     bool
}

// NewInFlightTracker creates a new in-flight work tracker
func NewInFlightTracker(name string, logger ports.Logger) *InFlightTracker {
	return &InFlightTracker{
		shutdownCh: make(chan struct{}),
		logger:     logger,
		name:       name,
	}
}

// Add registers one unit of work.
// Returns false if shutdown has been initiated (don't start new work)
func (ift *InFlightTracker) Add() bool {
	ift.mu.Lock()
	defer ift.mu.Unlock()
	if ift.closed {
		return false
	}
	ift.wg.Add(1)
	return true
}

// Done marks one unit of work complete
func (ift *InFlightTracker) Done() {
	ift.wg.Done()
}

// Shutdown rejects new work and waits for in-flight work or ctx
func (ift *InFlightTracker) Shutdown(ctx context.Context) error {
	ift.mu.Lock()
	if !ift.closed {
		ift.closed = true
		close(ift.shutdownCh)
	}
	ift.mu.Unlock()

	done := make(chan struct{})
	go func() {
		ift.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		ift.logger.Info("All in-flight work completed", ports.String("tracker", ift.name))
		return nil
	case <-ctx.Done():
		ift.logger.Warn("Shutdown timeout - some work may be incomplete", ports.String("tracker", ift.name))
		return ctx.Err()
	}
}

// IsShuttingDown returns true if shutdown has been initiated
func (ift *InFlightTracker) IsShuttingDown() bool {
	select {
	case <-ift.shutdownCh:
		return true
	default:
		return false
	}
}

// Middleware wraps a handler so each request counts as in-flight work.
// Requests arriving after shutdown began get 503.
func (ift *InFlightTracker) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ift.Add() {
			w.Header().Set("Retry-After", "5")
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		defer ift.Done()
		next.ServeHTTP(w, r)
	})
}
