package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kevin07696/payout-service/internal/domain"
	"github.com/kevin07696/payout-service/internal/domain/ports"
)

const obligationColumns = `
	o.id, o.company_id, o.payee_id, o.kind, o.state,
	o.gross_amount_cents, o.cash_amount_cents, o.equity_amount_cents, o.equity_units, o.fee_cents,
	o.required_approvals, o.retained_reason, o.rejection_reason, o.batch_id, o.details,
	o.obligation_date, o.paid_at, o.created_at, o.updated_at,
	COALESCE((SELECT array_agg(a.approver_id ORDER BY a.approved_at, a.approver_id)
	          FROM obligation_approvals a WHERE a.obligation_id = o.id), '{}')`

// obligationDetails is the JSONB payload column; exactly one field is set
type obligationDetails struct {
	Invoice  *domain.InvoiceDetails  `json:"invoice,omitempty"`
	Dividend *domain.DividendDetails `json:"dividend,omitempty"`
	Buyback  *domain.BuybackDetails  `json:"buyback,omitempty"`
}

// ObligationRepository implements ports.ObligationRepository
type ObligationRepository struct {
	pool *pgxpool.Pool
}

// NewObligationRepository creates a new obligation repository
func NewObligationRepository(db ports.DBPort) *ObligationRepository {
	return &ObligationRepository{pool: db.GetDB()}
}

// Create inserts a new obligation
func (r *ObligationRepository) Create(ctx context.Context, tx ports.DBTX, o *domain.Obligation) error {
	details, err := json.Marshal(obligationDetails{Invoice: o.Invoice, Dividend: o.Dividend, Buyback: o.Buyback})
	if err != nil {
		return fmt.Errorf("marshal obligation details: %w", err)
	}

	_, err = executor(r.pool, tx).Exec(ctx, `
		INSERT INTO obligations (
			id, company_id, payee_id, kind, state,
			gross_amount_cents, cash_amount_cents, equity_amount_cents, equity_units, fee_cents,
			required_approvals, retained_reason, rejection_reason, batch_id, details,
			obligation_date, paid_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		o.ID, o.CompanyID, o.PayeeID, string(o.Kind), string(o.State),
		o.GrossAmountCents, o.CashAmountCents, o.EquityAmountCents, o.EquityUnits, o.FeeCents,
		o.RequiredApprovals, retainedText(o.RetainedReason), textPtr(o.RejectionReason), textPtr(o.BatchID), details,
		o.ObligationDate, timestamptzPtr(o.PaidAt), o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create obligation: %w", err)
	}
	return nil
}

// GetByID retrieves an obligation with its approvers
func (r *ObligationRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*domain.Obligation, error) {
	row := executor(r.pool, db).QueryRow(ctx, `SELECT `+obligationColumns+` FROM obligations o WHERE o.id = $1`, id)
	o, err := scanObligation(row)
	if err != nil {
		return nil, notFound(err, domain.ErrorCodeObligationNotFound, "get obligation", "obligation_id", id)
	}
	return o, nil
}

// GetForUpdate retrieves and row-locks an obligation
func (r *ObligationRepository) GetForUpdate(ctx context.Context, tx ports.DBTX, id string) (*domain.Obligation, error) {
	row := executor(r.pool, tx).QueryRow(ctx, `SELECT `+obligationColumns+` FROM obligations o WHERE o.id = $1 FOR UPDATE OF o`, id)
	o, err := scanObligation(row)
	if err != nil {
		return nil, notFound(err, domain.ErrorCodeObligationNotFound, "get obligation for update", "obligation_id", id)
	}
	return o, nil
}

// GetByIDsForUpdate locks rows in id order so concurrent callers cannot deadlock
func (r *ObligationRepository) GetByIDsForUpdate(ctx context.Context, tx ports.DBTX, ids []string) ([]*domain.Obligation, error) {
	return r.query(ctx, tx, "get obligations for update",
		`SELECT `+obligationColumns+` FROM obligations o WHERE o.id = ANY($1::uuid[]) ORDER BY o.id FOR UPDATE OF o`, ids)
}

// ListChargeable returns unbatched approved or failed invoices, row-locked
func (r *ObligationRepository) ListChargeable(ctx context.Context, tx ports.DBTX, companyID string) ([]*domain.Obligation, error) {
	return r.query(ctx, tx, "list chargeable obligations", `
		SELECT `+obligationColumns+` FROM obligations o
		WHERE o.company_id = $1
		  AND o.kind = 'invoice'
		  AND o.batch_id IS NULL
		  AND o.state IN ('approved', 'failed')
		ORDER BY o.id
		FOR UPDATE OF o`, companyID)
}

// ListByBatch returns obligations whose live batch reference is batchID
func (r *ObligationRepository) ListByBatch(ctx context.Context, db ports.DBTX, batchID string) ([]*domain.Obligation, error) {
	return r.query(ctx, db, "list obligations by batch",
		`SELECT `+obligationColumns+` FROM obligations o WHERE o.batch_id = $1 ORDER BY o.payee_id, o.id`, batchID)
}

// ListByCompany lists obligations for a company, newest first
func (r *ObligationRepository) ListByCompany(ctx context.Context, db ports.DBTX, companyID string, f ports.ObligationFilter) ([]*domain.Obligation, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	var kind, state pgtype.Text
	if f.Kind != nil {
		kind = nullText(string(*f.Kind))
	}
	if f.State != nil {
		state = nullText(string(*f.State))
	}
	return r.query(ctx, db, "list obligations by company", `
		SELECT `+obligationColumns+` FROM obligations o
		WHERE o.company_id = $1
		  AND ($2::text IS NULL OR o.kind = $2)
		  AND ($3::text IS NULL OR o.state = $3)
		ORDER BY o.created_at DESC, o.id
		LIMIT $4 OFFSET $5`, companyID, kind, state, limit, f.Offset)
}

// AddApproval records a distinct approver; returns false if already recorded
func (r *ObligationRepository) AddApproval(ctx context.Context, tx ports.DBTX, obligationID, approverID string, at time.Time) (bool, error) {
	tag, err := executor(r.pool, tx).Exec(ctx, `
		INSERT INTO obligation_approvals (obligation_id, approver_id, approved_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (obligation_id, approver_id) DO NOTHING`, obligationID, approverID, at)
	if err != nil {
		return false, fmt.Errorf("add approval: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClearApprovals deletes every approval of an obligation
func (r *ObligationRepository) ClearApprovals(ctx context.Context, tx ports.DBTX, obligationID string) error {
	if _, err := executor(r.pool, tx).Exec(ctx, `DELETE FROM obligation_approvals WHERE obligation_id = $1`, obligationID); err != nil {
		return fmt.Errorf("clear approvals: %w", err)
	}
	return nil
}

// Update persists the mutable columns
func (r *ObligationRepository) Update(ctx context.Context, tx ports.DBTX, o *domain.Obligation) error {
	tag, err := executor(r.pool, tx).Exec(ctx, `
		UPDATE obligations SET
			state = $2,
			batch_id = $3,
			retained_reason = $4,
			rejection_reason = $5,
			paid_at = $6,
			cash_amount_cents = $7,
			equity_amount_cents = $8,
			equity_units = $9,
			updated_at = $10
		WHERE id = $1`,
		o.ID, string(o.State), textPtr(o.BatchID), retainedText(o.RetainedReason), textPtr(o.RejectionReason),
		timestamptzPtr(o.PaidAt), o.CashAmountCents, o.EquityAmountCents, o.EquityUnits, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update obligation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.WrapError(domain.ErrorCodeObligationNotFound, "update obligation", nil).WithDetail("obligation_id", o.ID)
	}
	return nil
}

func (r *ObligationRepository) query(ctx context.Context, db ports.DBTX, op, sql string, args ...interface{}) ([]*domain.Obligation, error) {
	rows, err := executor(r.pool, db).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []*domain.Obligation
	for rows.Next() {
		o, err := scanObligation(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func scanObligation(row pgx.Row) (*domain.Obligation, error) {
	var (
		o                          domain.Obligation
		kind, state                string
		retained, rejection, batch pgtype.Text
		paidAt                     pgtype.Timestamptz
		details                    []byte
	)
	err := row.Scan(
		&o.ID, &o.CompanyID, &o.PayeeID, &kind, &state,
		&o.GrossAmountCents, &o.CashAmountCents, &o.EquityAmountCents, &o.EquityUnits, &o.FeeCents,
		&o.RequiredApprovals, &retained, &rejection, &batch, &details,
		&o.ObligationDate, &paidAt, &o.CreatedAt, &o.UpdatedAt,
		&o.Approvers,
	)
	if err != nil {
		return nil, err
	}

	o.Kind = domain.ObligationKind(kind)
	o.State = domain.ObligationState(state)
	o.RejectionReason = stringFromText(rejection)
	o.BatchID = stringFromText(batch)
	o.PaidAt = timeFromTimestamptz(paidAt)
	if retained.Valid {
		reason := domain.RetainedReason(retained.String)
		o.RetainedReason = &reason
	}

	var d obligationDetails
	if err := json.Unmarshal(details, &d); err != nil {
		return nil, fmt.Errorf("unmarshal obligation details: %w", err)
	}
	o.Invoice, o.Dividend, o.Buyback = d.Invoice, d.Dividend, d.Buyback

	return &o, nil
}

func retainedText(r *domain.RetainedReason) pgtype.Text {
	if r == nil {
		return pgtype.Text{Valid: false}
	}
	return nullText(string(*r))
}
