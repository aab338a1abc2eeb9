package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kevin07696/payout-service/internal/domain"
	"github.com/kevin07696/payout-service/internal/domain/ports"
	"github.com/kevin07696/payout-service/pkg/observability"
	"github.com/kevin07696/payout-service/pkg/resilience"
	"github.com/kevin07696/payout-service/pkg/timeutil"
)

// Config controls outbox draining
type Config struct {
	BatchSize   int32
	MaxAttempts int
}

// DrainStats counts the outcome of one drain pass
type DrainStats struct {
	Delivered int `json:"delivered"`
	Retrying  int `json:"retrying"`
	Failed    int `json:"failed"`
}

// retriable is implemented by delivery errors that know whether a retry can help
type retriable interface {
	Retriable() bool
}

// Dispatcher delivers pending outbox rows through a Notifier
type Dispatcher struct {
	db       ports.DBPort
	outbox   ports.NotificationOutbox
	notifier ports.Notifier
	backoff  resilience.BackoffStrategy
	timeouts *resilience.TimeoutConfig
	logger   ports.Logger
	now      func() time.Time
	cfg      Config
}

// NewDispatcher creates a new outbox dispatcher
func NewDispatcher(
	db ports.DBPort,
	outbox ports.NotificationOutbox,
	notifier ports.Notifier,
	cfg Config,
	logger ports.Logger,
) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	return &Dispatcher{
		db:       db,
		outbox:   outbox,
		notifier: notifier,
		backoff:  resilience.NotificationBackoff(),
		timeouts: resilience.DefaultTimeoutConfig(),
		cfg:      cfg,
		logger:   logger,
		now:      timeutil.Now,
	}
}

// DrainOnce claims due rows and attempts each once. Claimed rows stay locked
// until the pass commits, so concurrent dispatchers never deliver the same row.
func (d *Dispatcher) DrainOnce(ctx context.Context) (DrainStats, error) {
	var stats DrainStats
	err := d.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		due, err := d.outbox.ClaimDue(ctx, tx, d.now(), d.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("claim notifications: %w", err)
		}

		for _, n := range due {
			status, err := d.attempt(ctx, tx, n)
			if err != nil {
				return err
			}
			observability.RecordNotificationDelivery(string(n.Type), status)
			switch status {
			case "delivered":
				stats.Delivered++
			case "retrying":
				stats.Retrying++
			default:
				stats.Failed++
			}
		}
		return nil
	})
	if err != nil {
		return DrainStats{}, err
	}

	if stats != (DrainStats{}) {
		d.logger.Info("notification outbox drained",
			ports.Int("delivered", stats.Delivered),
			ports.Int("retrying", stats.Retrying),
			ports.Int("failed", stats.Failed))
	}
	return stats, nil
}

func (d *Dispatcher) attempt(ctx context.Context, tx ports.DBTX, n *domain.Notification) (string, error) {
	deliverCtx, cancel := d.timeouts.NotificationContext(ctx)
	deliveryErr := d.notifier.Deliver(deliverCtx, n)
	cancel()

	now := d.now()
	if deliveryErr == nil {
		if err := d.outbox.MarkDelivered(ctx, tx, n.ID, now); err != nil {
			return "", fmt.Errorf("mark notification %s delivered: %w", n.ID, err)
		}
		return "delivered", nil
	}

	attempts := n.Attempts + 1
	var next *time.Time
	if attempts < d.cfg.MaxAttempts && canRetry(deliveryErr) {
		at := now.Add(d.backoff.NextDelay(n.Attempts))
		next = &at
	}

	if err := d.outbox.MarkAttemptFailed(ctx, tx, n.ID, deliveryErr.Error(), next); err != nil {
		return "", fmt.Errorf("record notification %s failure: %w", n.ID, err)
	}

	if next == nil {
		d.logger.Error("notification delivery abandoned",
			ports.String("notification_id", n.ID),
			ports.String("type", string(n.Type)),
			ports.Int("attempts", attempts),
			ports.Err(deliveryErr))
		return "failed", nil
	}

	d.logger.Warn("notification delivery failed, will retry",
		ports.String("notification_id", n.ID),
		ports.Int("attempts", attempts),
		ports.String("next_attempt_at", next.Format(time.RFC3339)),
		ports.Err(deliveryErr))
	return "retrying", nil
}

func canRetry(err error) bool {
	var r retriable
	if errors.As(err, &r) {
		return r.Retriable()
	}
	return true
}

// Worker drains the outbox on a fixed interval until its context ends
type Worker struct {
	dispatcher *Dispatcher
	logger     ports.Logger
	done       chan struct{}
	interval   time.Duration
}

// NewWorker creates a periodic outbox worker
func NewWorker(dispatcher *Dispatcher, interval time.Duration, logger ports.Logger) *Worker {
	return &Worker{
		dispatcher: dispatcher,
		interval:   interval,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Run blocks until ctx is cancelled
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("notification worker started", ports.Duration("interval", w.interval))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("notification worker stopped")
			return
		case <-ticker.C:
			if _, err := w.dispatcher.DrainOnce(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("notification drain failed", ports.Err(err))
			}
		}
	}
}

// Done is closed once Run has returned
func (w *Worker) Done() <-chan struct{} {
	return w.done
}
