package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kevin07696/payout-service/internal/domain/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	shutdownDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shutdown_duration_seconds",
		Help:    "Total time taken to shutdown gracefully",
		Buckets: []float64{1, 5, 10, 15, 20, 25, 30},
	})

	shutdownErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shutdown_errors_total",
		Help: "Total number of shutdown errors by component",
	}, []string{"component"})
)

// ShutdownFunc represents a function that shuts down a component
type ShutdownFunc func(context.Context) error

// Component represents a registered shutdown component
type Component struct {
	Name         string
	ShutdownFunc ShutdownFunc
}

// Manager coordinates graceful shutdown of all service components.
// Components shut down one at a time in REVERSE registration order (LIFO):
// register the database first and the HTTP servers and workers last.
type Manager struct {
	logger     ports.Logger
	components []Component
	mu         sync.Mutex
	timeout    time.Duration
}

// NewManager creates a new shutdown manager
func NewManager(logger ports.Logger, timeout time.Duration) *Manager {
	return &Manager{
		logger:  logger,
		timeout: timeout,
	}
}

// Register adds a shutdown function to be called during graceful shutdown
func (sm *Manager) Register(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.components = append(sm.components, Component{Name: name, ShutdownFunc: fn})
	sm.logger.Debug("Registered shutdown component",
		ports.String("component", name),
		ports.Int("registration_order", len(sm.components)),
	)
}

// RegisterCloser registers a component with a Close() method
func (sm *Manager) RegisterCloser(name string, closer interface{ Close() error }) {
	sm.Register(name, func(ctx context.Context) error {
		return closer.Close()
	})
}

// RegisterNoErr registers a shutdown function that cannot fail
func (sm *Manager) RegisterNoErr(name string, fn func()) {
	sm.Register(name, func(ctx context.Context) error {
		fn()
		return nil
	})
}

// WaitForShutdown blocks until SIGINT or SIGTERM, then shuts everything down
func (sm *Manager) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	sm.logger.Info("Received shutdown signal - initiating graceful shutdown",
		ports.String("signal", sig.String()),
		ports.Duration("timeout", sm.timeout),
	)

	sm.Shutdown()
}

// Shutdown runs every registered component in LIFO order.
// It returns the errors keyed by component name.
func (sm *Manager) Shutdown() map[string]error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	sm.mu.Lock()
	components := make([]Component, len(sm.components))
	copy(components, sm.components)
	sm.mu.Unlock()

	errs := make(map[string]error)
	for i := len(components) - 1; i >= 0; i-- {
		comp := components[i]
		if ctx.Err() != nil {
			sm.logger.Warn("Shutdown timeout exceeded - skipping component",
				ports.String("component", comp.Name),
			)
			errs[comp.Name] = ctx.Err()
			continue
		}

		compStart := time.Now()
		if err := comp.ShutdownFunc(ctx); err != nil {
			errs[comp.Name] = err
			shutdownErrors.WithLabelValues(comp.Name).Inc()
			sm.logger.Error("Component shutdown failed",
				ports.String("component", comp.Name),
				ports.Err(err),
			)
			continue
		}
		sm.logger.Info("Component shut down",
			ports.String("component", comp.Name),
			ports.Duration("elapsed", time.Since(compStart)),
		)
	}

	shutdownDuration.Observe(time.Since(start).Seconds())
	sm.logger.Info("Graceful shutdown finished",
		ports.Int("error_count", len(errs)),
		ports.Duration("elapsed", time.Since(start)),
	)
	return errs
}
