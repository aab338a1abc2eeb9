package ports

import (
	"context"
	"time"

	"github.com/kevin07696/payout-service/internal/domain"
)

// ObligationFilter narrows ListByCompany
type ObligationFilter struct {
	Kind   *domain.ObligationKind
	State  *domain.ObligationState
	Limit  int32
	Offset int32
}

// ObligationRepository defines persistence for obligations and their approvals
type ObligationRepository interface {
	// Create inserts a new obligation
	Create(ctx context.Context, tx DBTX, o *domain.Obligation) error

	// GetByID retrieves an obligation with its approvers
	GetByID(ctx context.Context, db DBTX, id string) (*domain.Obligation, error)

	// GetForUpdate retrieves and row-locks an obligation inside tx
	GetForUpdate(ctx context.Context, tx DBTX, id string) (*domain.Obligation, error)

	// GetByIDsForUpdate row-locks every id; missing ids are simply absent from the result
	GetByIDsForUpdate(ctx context.Context, tx DBTX, ids []string) ([]*domain.Obligation, error)

	// ListChargeable returns unbatched invoices of a company in approved or failed state, row-locked
	ListChargeable(ctx context.Context, tx DBTX, companyID string) ([]*domain.Obligation, error)

	// ListByBatch returns obligations whose live batch reference is batchID
	ListByBatch(ctx context.Context, db DBTX, batchID string) ([]*domain.Obligation, error)

	// ListByCompany lists obligations for a company with optional filters
	ListByCompany(ctx context.Context, db DBTX, companyID string, filter ObligationFilter) ([]*domain.Obligation, error)

	// AddApproval records a distinct approver; returns false if already recorded
	AddApproval(ctx context.Context, tx DBTX, obligationID, approverID string, at time.Time) (bool, error)

	// ClearApprovals deletes every approval of an obligation
	ClearApprovals(ctx context.Context, tx DBTX, obligationID string) error

	// Update persists state, batch link, retention, rejection and paid-at
	Update(ctx context.Context, tx DBTX, o *domain.Obligation) error
}

// BatchRepository defines persistence for batches
type BatchRepository interface {
	// Create inserts the batch and its membership rows
	Create(ctx context.Context, tx DBTX, b *domain.Batch) error

	// GetByID retrieves a batch with its member ids
	GetByID(ctx context.Context, db DBTX, id string) (*domain.Batch, error)

	// GetForUpdate row-locks a batch inside tx
	GetForUpdate(ctx context.Context, tx DBTX, id string) (*domain.Batch, error)

	// ListAwaitingPayout returns sent batches that still have a payment_pending
	// member with no payment in flight
	ListAwaitingPayout(ctx context.Context, db DBTX, limit int32) ([]*domain.Batch, error)

	// UpdateState persists the batch state
	UpdateState(ctx context.Context, tx DBTX, id string, state domain.BatchState, at time.Time) error
}

// PaymentRepository defines persistence for payment attempts
type PaymentRepository interface {
	// Create inserts the payment and its obligation links
	Create(ctx context.Context, tx DBTX, p *domain.Payment) error

	// GetByID retrieves a payment with its obligation ids
	GetByID(ctx context.Context, db DBTX, id string) (*domain.Payment, error)

	// GetForUpdate row-locks a payment inside tx
	GetForUpdate(ctx context.Context, tx DBTX, id string) (*domain.Payment, error)

	// ListOpenObligationIDs returns the subset of obligationIDs linked to a
	// payment that is not yet terminal
	ListOpenObligationIDs(ctx context.Context, tx DBTX, obligationIDs []string) ([]string, error)

	// GetByTransfer resolves a payment from the provider transfer id and profile id
	GetByTransfer(ctx context.Context, db DBTX, transferID, profileID string) (*domain.Payment, error)

	// TransitionState moves a payment to `to` only if its current state is in `from`.
	// Returns false when the guard did not match, which callers treat as a no-op.
	TransitionState(ctx context.Context, tx DBTX, id string, from []domain.PaymentState, to domain.PaymentState, at time.Time) (bool, error)

	// Update persists provider fields (quote, transfer, amounts, estimate, failure reason)
	Update(ctx context.Context, tx DBTX, p *domain.Payment) error

	// RecordTransferStatus stores the raw provider status and its bucket
	RecordTransferStatus(ctx context.Context, tx DBTX, id, status string, bucket domain.TransferBucket, at time.Time) error
}

// NotificationOutbox stores notifications for asynchronous delivery
type NotificationOutbox interface {
	// Enqueue inserts a pending notification, normally inside the transaction that caused it
	Enqueue(ctx context.Context, tx DBTX, n *domain.Notification) error

	// ClaimDue locks up to limit pending rows whose next attempt is due
	ClaimDue(ctx context.Context, tx DBTX, now time.Time, limit int32) ([]*domain.Notification, error)

	// MarkDelivered records a successful delivery
	MarkDelivered(ctx context.Context, tx DBTX, id string, at time.Time) error

	// MarkAttemptFailed schedules a retry, or fails the row permanently when next is nil
	MarkAttemptFailed(ctx context.Context, tx DBTX, id string, errMsg string, next *time.Time) error
}
