package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/kevin07696/payout-service/internal/domain"
	"github.com/kevin07696/payout-service/internal/domain/ports"
)

// BatchCloser moves a batch to its end state from the obligations still
// linked to it. Every method runs inside the caller's transaction.
type BatchCloser struct {
	batches     ports.BatchRepository
	obligations ports.ObligationRepository
	payments    ports.PaymentRepository
	logger      ports.Logger
}

// NewBatchCloser creates a new batch closer
func NewBatchCloser(
	batches ports.BatchRepository,
	obligations ports.ObligationRepository,
	payments ports.PaymentRepository,
	logger ports.Logger,
) *BatchCloser {
	return &BatchCloser{
		batches:     batches,
		obligations: obligations,
		payments:    payments,
		logger:      logger,
	}
}

// Fail marks a sent batch failed and returns its payment_pending members that
// no payment covers to the retry pool. A batch whose remaining live members
// are all paid is settled instead of left failed.
func (c *BatchCloser) Fail(ctx context.Context, tx ports.DBTX, batchID string, now time.Time) (int, error) {
	return c.close(ctx, tx, batchID, now, func(b *domain.Batch) bool { return b.MarkFailed(now) })
}

// Refund marks the batch refunded and releases its unattempted members
func (c *BatchCloser) Refund(ctx context.Context, tx ports.DBTX, batchID string, now time.Time) (int, error) {
	return c.close(ctx, tx, batchID, now, func(b *domain.Batch) bool { return b.MarkRefunded(now) })
}

func (c *BatchCloser) close(ctx context.Context, tx ports.DBTX, batchID string, now time.Time, mark func(*domain.Batch) bool) (int, error) {
	b, err := c.batches.GetForUpdate(ctx, tx, batchID)
	if err != nil {
		return 0, fmt.Errorf("lock batch: %w", err)
	}
	if mark(b) {
		if err := c.batches.UpdateState(ctx, tx, b.ID, b.State, now); err != nil {
			return 0, fmt.Errorf("update batch state: %w", err)
		}
	}

	released, err := c.release(ctx, tx, b, now)
	if err != nil {
		return 0, err
	}
	if _, err := c.settle(ctx, tx, b, now); err != nil {
		return released, err
	}
	return released, nil
}

// release fails every payment_pending member that has no payment in flight,
// which also clears its batch reference.
func (c *BatchCloser) release(ctx context.Context, tx ports.DBTX, b *domain.Batch, now time.Time) (int, error) {
	members, err := c.obligations.ListByBatch(ctx, tx, b.ID)
	if err != nil {
		return 0, fmt.Errorf("list batch members: %w", err)
	}
	var pending []string
	for _, o := range members {
		if o.State == domain.ObligationStatePaymentPending {
			pending = append(pending, o.ID)
		}
	}
	if len(pending) == 0 {
		return 0, nil
	}

	open, err := c.payments.ListOpenObligationIDs(ctx, tx, pending)
	if err != nil {
		return 0, fmt.Errorf("list open payments: %w", err)
	}
	inFlight := make(map[string]bool, len(open))
	for _, id := range open {
		inFlight[id] = true
	}

	released := 0
	for _, id := range pending {
		if inFlight[id] {
			continue
		}
		o, err := c.obligations.GetForUpdate(ctx, tx, id)
		if err != nil {
			return released, fmt.Errorf("lock obligation %s: %w", id, err)
		}
		if o.BatchID == nil || *o.BatchID != b.ID {
			continue
		}
		changed, err := o.MarkFailed(now)
		if err != nil {
			return released, err
		}
		if !changed {
			continue
		}
		if err := c.obligations.Update(ctx, tx, o); err != nil {
			return released, fmt.Errorf("release obligation %s: %w", id, err)
		}
		released++
	}

	if released > 0 {
		c.logger.Warn("released unattempted batch members",
			ports.String("batch_id", b.ID),
			ports.String("batch_state", string(b.State)),
			ports.Int("released", released))
	}
	return released, nil
}

// Settle marks the batch paid once every obligation still linked to it is
// paid. Members that left the batch after a failure are settled elsewhere.
func (c *BatchCloser) Settle(ctx context.Context, tx ports.DBTX, batchID string, now time.Time) (bool, error) {
	b, err := c.batches.GetForUpdate(ctx, tx, batchID)
	if err != nil {
		return false, fmt.Errorf("lock batch: %w", err)
	}
	return c.settle(ctx, tx, b, now)
}

func (c *BatchCloser) settle(ctx context.Context, tx ports.DBTX, b *domain.Batch, now time.Time) (bool, error) {
	live, err := c.obligations.ListByBatch(ctx, tx, b.ID)
	if err != nil {
		return false, fmt.Errorf("list batch members: %w", err)
	}
	if len(live) == 0 {
		return false, nil
	}
	for _, o := range live {
		if o.State != domain.ObligationStatePaid {
			return false, nil
		}
	}
	if !b.MarkPaid(now) {
		return false, nil
	}
	if err := c.batches.UpdateState(ctx, tx, b.ID, b.State, now); err != nil {
		return false, fmt.Errorf("mark batch paid: %w", err)
	}
	c.logger.Info("batch settled",
		ports.String("batch_id", b.ID),
		ports.Int("live_members", len(live)))
	return true, nil
}
