package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kevin07696/payout-service/internal/domain"
	"github.com/kevin07696/payout-service/internal/domain/ports"
)

const batchColumns = `
	b.id, b.company_id, b.state, b.invoice_date, b.period_start, b.period_end,
	b.principal_cents, b.fee_cents, b.total_cents, b.created_at, b.updated_at,
	COALESCE((SELECT array_agg(m.obligation_id::text ORDER BY m.obligation_id)
	          FROM batch_obligations m WHERE m.batch_id = b.id), '{}')`

// BatchRepository implements ports.BatchRepository
type BatchRepository struct {
	pool *pgxpool.Pool
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db ports.DBPort) *BatchRepository {
	return &BatchRepository{pool: db.GetDB()}
}

// Create inserts the batch and its membership rows
func (r *BatchRepository) Create(ctx context.Context, tx ports.DBTX, b *domain.Batch) error {
	q := executor(r.pool, tx)

	_, err := q.Exec(ctx, `
		INSERT INTO batches (
			id, company_id, state, invoice_date, period_start, period_end,
			principal_cents, fee_cents, total_cents, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		b.ID, b.CompanyID, string(b.State), b.InvoiceDate, b.PeriodStart, b.PeriodEnd,
		b.PrincipalCents, b.FeeCents, b.TotalCents, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create batch: %w", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO batch_obligations (batch_id, obligation_id)
		SELECT $1, unnest($2::uuid[])`, b.ID, b.ObligationIDs)
	if err != nil {
		return fmt.Errorf("create batch membership: %w", err)
	}
	return nil
}

// GetByID retrieves a batch with its member ids
func (r *BatchRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*domain.Batch, error) {
	b, err := scanBatch(executor(r.pool, db).QueryRow(ctx, `SELECT `+batchColumns+` FROM batches b WHERE b.id = $1`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrorCodeBatchNotFound, "get batch", "batch_id", id)
	}
	return b, nil
}

// GetForUpdate row-locks a batch
func (r *BatchRepository) GetForUpdate(ctx context.Context, tx ports.DBTX, id string) (*domain.Batch, error) {
	b, err := scanBatch(executor(r.pool, tx).QueryRow(ctx, `SELECT `+batchColumns+` FROM batches b WHERE b.id = $1 FOR UPDATE OF b`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrorCodeBatchNotFound, "get batch for update", "batch_id", id)
	}
	return b, nil
}

// ListAwaitingPayout returns sent batches that still have a payment_pending
// member with no payment in flight
func (r *BatchRepository) ListAwaitingPayout(ctx context.Context, db ports.DBTX, limit int32) ([]*domain.Batch, error) {
	rows, err := executor(r.pool, db).Query(ctx, `
		SELECT `+batchColumns+` FROM batches b
		WHERE b.state = 'sent'
		  AND EXISTS (
			SELECT 1 FROM obligations o
			WHERE o.batch_id = b.id
			  AND o.state = 'payment_pending'
			  AND NOT EXISTS (
				SELECT 1 FROM payment_obligations po
				JOIN payments p ON p.id = po.payment_id
				WHERE po.obligation_id = o.id
				  AND p.state IN ('initialized', 'processing')))
		ORDER BY b.created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list batches awaiting payout: %w", err)
	}
	defer rows.Close()

	var out []*domain.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// UpdateState persists the batch state
func (r *BatchRepository) UpdateState(ctx context.Context, tx ports.DBTX, id string, state domain.BatchState, at time.Time) error {
	tag, err := executor(r.pool, tx).Exec(ctx,
		`UPDATE batches SET state = $2, updated_at = $3 WHERE id = $1`, id, string(state), at)
	if err != nil {
		return fmt.Errorf("update batch state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.WrapError(domain.ErrorCodeBatchNotFound, "update batch state", nil).WithDetail("batch_id", id)
	}
	return nil
}

func scanBatch(row pgx.Row) (*domain.Batch, error) {
	var (
		b     domain.Batch
		state string
	)
	err := row.Scan(
		&b.ID, &b.CompanyID, &state, &b.InvoiceDate, &b.PeriodStart, &b.PeriodEnd,
		&b.PrincipalCents, &b.FeeCents, &b.TotalCents, &b.CreatedAt, &b.UpdatedAt,
		&b.ObligationIDs,
	)
	if err != nil {
		return nil, err
	}
	b.State = domain.BatchState(state)
	return &b, nil
}
