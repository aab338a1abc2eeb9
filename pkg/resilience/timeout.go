package resilience

import (
	"context"
	"time"
)

// TimeoutConfig defines timeout values for the service's timeout hierarchy
//
// Timeout Hierarchy (from outermost to innermost):
//
//	HTTP Handler / Cron run
//	  ↓
//	Lock wait (aggregation)
//	  ↓
//	Provider API call
//	  ↓
//	Notification delivery
//
// Each layer completes before its parent times out.
type TimeoutConfig struct {
	HTTPHandler          time.Duration // Webhook and API requests (default: 30s)
	CronJob              time.Duration // Aggregation and payout sweeps (default: 5m)
	LockWait             time.Duration // Max wait for the per-company batch lock (default: 10s)
	ProviderAPI          time.Duration // One transfer provider call (default: 30s)
	NotificationDelivery time.Duration // One mailer webhook POST (default: 10s)
}

// DefaultTimeoutConfig returns production timeout values
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		HTTPHandler:          30 * time.Second,
		CronJob:              5 * time.Minute,
		LockWait:             10 * time.Second,
		ProviderAPI:          30 * time.Second,
		NotificationDelivery: 10 * time.Second,
	}
}

// HandlerContext creates a context with timeout for HTTP handlers
func (tc *TimeoutConfig) HandlerContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.HTTPHandler)
}

// CronContext creates a context with timeout for cron jobs
func (tc *TimeoutConfig) CronContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.CronJob)
}

// NotificationContext creates a context for one notification delivery
func (tc *TimeoutConfig) NotificationContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.NotificationDelivery)
}
