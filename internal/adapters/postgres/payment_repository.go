package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kevin07696/payout-service/internal/domain"
	"github.com/kevin07696/payout-service/internal/domain/ports"
)

const paymentColumns = `
	p.id, p.company_id, p.payee_id, p.batch_id, p.kind, p.state,
	p.amount_cents, p.withheld_cents, p.source_currency, p.recipient_id, p.provider_profile_id,
	p.processor_reference::text, p.quote_id, p.transfer_id, p.transfer_status, p.transfer_bucket,
	p.total_transaction_cents, p.fee_cents, p.transfer_amount, p.transfer_currency,
	p.transfer_estimate, p.failure_reason, p.created_at, p.updated_at,
	COALESCE((SELECT array_agg(po.obligation_id::text ORDER BY po.obligation_id)
	          FROM payment_obligations po WHERE po.payment_id = p.id), '{}')`

// PaymentRepository implements ports.PaymentRepository
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db ports.DBPort) *PaymentRepository {
	return &PaymentRepository{pool: db.GetDB()}
}

// Create inserts the payment and its obligation links
func (r *PaymentRepository) Create(ctx context.Context, tx ports.DBTX, p *domain.Payment) error {
	q := executor(r.pool, tx)

	amount, err := decimalToNumeric(p.TransferAmount)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO payments (
			id, company_id, payee_id, batch_id, kind, state,
			amount_cents, withheld_cents, source_currency, recipient_id, provider_profile_id,
			processor_reference, quote_id, transfer_id, total_transaction_cents, fee_cents,
			transfer_amount, transfer_currency, failure_reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		p.ID, p.CompanyID, p.PayeeID, textPtr(p.BatchID), string(p.Kind), string(p.State),
		p.AmountCents, p.WithheldCents, p.SourceCurrency, p.RecipientID, p.ProviderProfileID,
		p.ProcessorReference, textPtr(p.QuoteID), textPtr(p.TransferID), int8Ptr(p.TotalTransactionCents), int8Ptr(p.FeeCents),
		amount, textPtr(p.TransferCurrency), textPtr(p.FailureReason), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create payment: %w", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO payment_obligations (payment_id, obligation_id)
		SELECT $1, unnest($2::uuid[])`, p.ID, p.ObligationIDs)
	if err != nil {
		return fmt.Errorf("link payment obligations: %w", err)
	}
	return nil
}

// GetByID retrieves a payment with its obligation ids
func (r *PaymentRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*domain.Payment, error) {
	p, err := scanPayment(executor(r.pool, db).QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments p WHERE p.id = $1`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrorCodePaymentNotFound, "get payment", "payment_id", id)
	}
	return p, nil
}

// GetForUpdate row-locks a payment
func (r *PaymentRepository) GetForUpdate(ctx context.Context, tx ports.DBTX, id string) (*domain.Payment, error) {
	p, err := scanPayment(executor(r.pool, tx).QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments p WHERE p.id = $1 FOR UPDATE OF p`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrorCodePaymentNotFound, "get payment for update", "payment_id", id)
	}
	return p, nil
}

// ListOpenObligationIDs returns the obligations among ids that an
// initialized or processing payment already covers
func (r *PaymentRepository) ListOpenObligationIDs(ctx context.Context, tx ports.DBTX, obligationIDs []string) ([]string, error) {
	rows, err := executor(r.pool, tx).Query(ctx, `
		SELECT DISTINCT po.obligation_id::text
		FROM payment_obligations po
		JOIN payments p ON p.id = po.payment_id
		WHERE po.obligation_id = ANY($1::uuid[])
		  AND p.state IN ('initialized', 'processing')
		ORDER BY 1`, obligationIDs)
	if err != nil {
		return nil, fmt.Errorf("list open payment obligations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan obligation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetByTransfer resolves a payment from the provider's transfer and profile ids
func (r *PaymentRepository) GetByTransfer(ctx context.Context, db ports.DBTX, transferID, profileID string) (*domain.Payment, error) {
	p, err := scanPayment(executor(r.pool, db).QueryRow(ctx, `
		SELECT `+paymentColumns+` FROM payments p
		WHERE p.transfer_id = $1 AND p.provider_profile_id = $2`, transferID, profileID))
	if err != nil {
		return nil, notFound(err, domain.ErrorCodePaymentNotFound, "get payment by transfer", "transfer_id", transferID)
	}
	return p, nil
}

// TransitionState is a compare-and-set on the state column
func (r *PaymentRepository) TransitionState(ctx context.Context, tx ports.DBTX, id string, from []domain.PaymentState, to domain.PaymentState, at time.Time) (bool, error) {
	sources := make([]string, len(from))
	for i, s := range from {
		sources[i] = string(s)
	}
	tag, err := executor(r.pool, tx).Exec(ctx, `
		UPDATE payments SET state = $2, updated_at = $3
		WHERE id = $1 AND state = ANY($4::text[])`, id, string(to), at, sources)
	if err != nil {
		return false, fmt.Errorf("transition payment state: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Update persists provider fields. State is only changed through TransitionState.
func (r *PaymentRepository) Update(ctx context.Context, tx ports.DBTX, p *domain.Payment) error {
	amount, err := decimalToNumeric(p.TransferAmount)
	if err != nil {
		return err
	}
	_, err = executor(r.pool, tx).Exec(ctx, `
		UPDATE payments SET
			quote_id = $2,
			transfer_id = $3,
			total_transaction_cents = $4,
			fee_cents = $5,
			transfer_amount = $6,
			transfer_currency = $7,
			transfer_estimate = $8,
			failure_reason = $9,
			updated_at = $10
		WHERE id = $1`,
		p.ID, textPtr(p.QuoteID), textPtr(p.TransferID), int8Ptr(p.TotalTransactionCents), int8Ptr(p.FeeCents),
		amount, textPtr(p.TransferCurrency), timestamptzPtr(p.TransferEstimate), textPtr(p.FailureReason), p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	return nil
}

// RecordTransferStatus stores the raw provider status and its bucket
func (r *PaymentRepository) RecordTransferStatus(ctx context.Context, tx ports.DBTX, id, status string, bucket domain.TransferBucket, at time.Time) error {
	_, err := executor(r.pool, tx).Exec(ctx, `
		UPDATE payments SET transfer_status = $2, transfer_bucket = $3, updated_at = $4
		WHERE id = $1`, id, status, string(bucket), at)
	if err != nil {
		return fmt.Errorf("record transfer status: %w", err)
	}
	return nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var (
		p                                            domain.Payment
		kind, state                                  string
		batchID, quoteID, transferID, status, bucket pgtype.Text
		currency, failure                            pgtype.Text
		total, fee                                   pgtype.Int8
		amount                                       pgtype.Numeric
		estimate                                     pgtype.Timestamptz
	)
	err := row.Scan(
		&p.ID, &p.CompanyID, &p.PayeeID, &batchID, &kind, &state,
		&p.AmountCents, &p.WithheldCents, &p.SourceCurrency, &p.RecipientID, &p.ProviderProfileID,
		&p.ProcessorReference, &quoteID, &transferID, &status, &bucket,
		&total, &fee, &amount, &currency,
		&estimate, &failure, &p.CreatedAt, &p.UpdatedAt,
		&p.ObligationIDs,
	)
	if err != nil {
		return nil, err
	}

	p.Kind = domain.ObligationKind(kind)
	p.State = domain.PaymentState(state)
	p.BatchID = stringFromText(batchID)
	p.QuoteID = stringFromText(quoteID)
	p.TransferID = stringFromText(transferID)
	p.TransferStatus = stringFromText(status)
	p.TransferCurrency = stringFromText(currency)
	p.FailureReason = stringFromText(failure)
	p.TotalTransactionCents = int64FromInt8(total)
	p.FeeCents = int64FromInt8(fee)
	p.TransferEstimate = timeFromTimestamptz(estimate)
	if bucket.Valid {
		b := domain.TransferBucket(bucket.String)
		p.TransferBucket = &b
	}
	if amount.Valid {
		d, err := pgNumericToDecimal(amount)
		if err != nil {
			return nil, err
		}
		p.TransferAmount = &d
	}
	return &p, nil
}
