package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kevin07696/payout-service/internal/domain"
	"github.com/kevin07696/payout-service/internal/domain/ports"
	"github.com/kevin07696/payout-service/pkg/observability"
	"github.com/kevin07696/payout-service/pkg/timeutil"
)

// AggregateRequest selects what to batch for one company.
// An empty ObligationIDs auto-selects every chargeable invoice.
type AggregateRequest struct {
	CompanyID     string   `json:"company_id" validate:"required"`
	ObligationIDs []string `json:"obligation_ids,omitempty" validate:"omitempty,dive,uuid"`
}

// AggregateResult is the outcome of one aggregation run
type AggregateResult struct {
	Batch       *domain.Batch        `json:"batch,omitempty"`
	Obligations []*domain.Obligation `json:"obligations,omitempty"`
	NothingToDo bool                 `json:"nothing_to_do"`
}

// CompanyRun is one company's result in a sweep
type CompanyRun struct {
	Result    *AggregateResult
	Err       error
	CompanyID string
}

// Aggregator consolidates a company's payable invoices into one batch
type Aggregator struct {
	db          ports.DBPort
	obligations ports.ObligationRepository
	batches     ports.BatchRepository
	companies   ports.CompanyDirectory
	payees      ports.PayeeDirectory
	locker      ports.Locker
	logger      ports.Logger
	now         func() time.Time
	lockTimeout time.Duration
}

// NewAggregator creates a new batch aggregator
func NewAggregator(
	db ports.DBPort,
	obligations ports.ObligationRepository,
	batches ports.BatchRepository,
	companies ports.CompanyDirectory,
	payees ports.PayeeDirectory,
	locker ports.Locker,
	lockTimeout time.Duration,
	logger ports.Logger,
) *Aggregator {
	return &Aggregator{
		db:          db,
		obligations: obligations,
		batches:     batches,
		companies:   companies,
		payees:      payees,
		locker:      locker,
		lockTimeout: lockTimeout,
		logger:      logger,
		now:         timeutil.Now,
	}
}

// LockKey is the per-company key serializing batch creation
func LockKey(companyID string) string {
	return "batch:" + companyID
}

// Run creates at most one batch for req.CompanyID. The selection, the batch
// insert and every member transition commit together or not at all.
func (a *Aggregator) Run(ctx context.Context, req AggregateRequest) (*AggregateResult, error) {
	company, err := a.companies.GetCompany(ctx, nil, req.CompanyID)
	if err != nil {
		return nil, err
	}
	if !company.Active {
		observability.RecordBatchCreated("failed", 0, 0, 0)
		a.logger.Warn("aggregation refused for inactive company", ports.String("company_id", company.ID))
		return nil, domain.WrapError(domain.ErrorCodeCompanyInactive, "company is not active", nil).
			WithDetail("company_id", company.ID)
	}

	var result *AggregateResult
	err = a.locker.WithLock(ctx, LockKey(company.ID), a.lockTimeout, func(ctx context.Context) error {
		return a.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
			var err error
			result, err = a.aggregate(ctx, tx, company.ID, req.ObligationIDs)
			return err
		})
	})
	if err != nil {
		observability.RecordBatchCreated("failed", 0, 0, 0)
		a.logger.Error("aggregation failed",
			ports.String("company_id", company.ID),
			ports.Bool("fatal", domain.IsFatal(err)),
			ports.Err(err))
		return nil, err
	}

	if result.NothingToDo {
		observability.RecordBatchCreated("nothing_to_do", 0, 0, 0)
		a.logger.Debug("nothing to aggregate", ports.String("company_id", company.ID))
		return result, nil
	}

	b := result.Batch
	observability.RecordBatchCreated("created", b.PrincipalCents, b.FeeCents, len(b.ObligationIDs))
	a.logger.Info("batch created",
		ports.String("batch_id", b.ID),
		ports.String("company_id", b.CompanyID),
		ports.Int("obligations", len(b.ObligationIDs)),
		ports.Int64("principal_cents", b.PrincipalCents),
		ports.Int64("fee_cents", b.FeeCents),
		ports.Int64("total_cents", b.TotalCents))

	return result, nil
}

func (a *Aggregator) aggregate(ctx context.Context, tx ports.DBTX, companyID string, ids []string) (*AggregateResult, error) {
	elections := newElectionLookup(a.payees, tx)

	var (
		members []*domain.Obligation
		err     error
	)
	if len(ids) > 0 {
		members, err = a.selectExplicit(ctx, tx, companyID, ids, elections)
	} else {
		members, err = a.selectChargeable(ctx, tx, companyID, elections)
	}
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return &AggregateResult{NothingToDo: true}, nil
	}

	now := a.now()
	batch, err := domain.NewBatch(uuid.NewString(), companyID, timeutil.StartOfDay(now), members)
	if err != nil {
		return nil, err
	}
	batch.CreatedAt = now
	batch.UpdatedAt = now

	if err := a.batches.Create(ctx, tx, batch); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}

	for _, o := range members {
		locked, err := elections.locked(ctx, o)
		if err != nil {
			return nil, err
		}
		if err := o.MarkChargeable(batch.ID, locked, now); err != nil {
			return nil, err
		}
		if err := a.obligations.Update(ctx, tx, o); err != nil {
			return nil, fmt.Errorf("update obligation %s: %w", o.ID, err)
		}
	}

	return &AggregateResult{Batch: batch, Obligations: members}, nil
}

// selectExplicit aborts the run if any requested obligation cannot be charged
func (a *Aggregator) selectExplicit(ctx context.Context, tx ports.DBTX, companyID string, ids []string, elections *electionLookup) ([]*domain.Obligation, error) {
	unique := dedupe(ids)
	found, err := a.obligations.GetByIDsForUpdate(ctx, tx, unique)
	if err != nil {
		return nil, fmt.Errorf("load obligations: %w", err)
	}

	byID := make(map[string]*domain.Obligation, len(found))
	for _, o := range found {
		byID[o.ID] = o
	}

	members := make([]*domain.Obligation, 0, len(unique))
	for _, id := range unique {
		o, ok := byID[id]
		if !ok {
			return nil, domain.WrapError(domain.ErrorCodeObligationNotChargeable, "obligation does not exist", nil).
				WithDetail("obligation_id", id)
		}
		if o.CompanyID != companyID {
			return nil, domain.WrapError(domain.ErrorCodeObligationNotChargeable, "obligation belongs to another company", nil).
				WithDetail("obligation_id", id)
		}
		locked, err := elections.locked(ctx, o)
		if err != nil {
			return nil, err
		}
		if !o.CanBeCharged(locked) {
			return nil, domain.WrapError(domain.ErrorCodeObligationNotChargeable, "obligation is not chargeable", nil).
				WithDetail("obligation_id", id).
				WithDetail("kind", o.Kind).
				WithDetail("state", o.State)
		}
		members = append(members, o)
	}
	return members, nil
}

// selectChargeable keeps fully approved or failed invoices whose equity election is locked
func (a *Aggregator) selectChargeable(ctx context.Context, tx ports.DBTX, companyID string, elections *electionLookup) ([]*domain.Obligation, error) {
	candidates, err := a.obligations.ListChargeable(ctx, tx, companyID)
	if err != nil {
		return nil, fmt.Errorf("list chargeable obligations: %w", err)
	}

	members := make([]*domain.Obligation, 0, len(candidates))
	for _, o := range candidates {
		locked, err := elections.locked(ctx, o)
		if err != nil {
			return nil, err
		}
		if o.CanBeCharged(locked) {
			members = append(members, o)
		}
	}
	return members, nil
}

// RunAll aggregates every active company. One company's failure does not stop the sweep.
func (a *Aggregator) RunAll(ctx context.Context) ([]CompanyRun, error) {
	ids, err := a.companies.ListActiveCompanyIDs(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list active companies: %w", err)
	}

	runs := make([]CompanyRun, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return runs, err
		}
		res, err := a.Run(ctx, AggregateRequest{CompanyID: id})
		runs = append(runs, CompanyRun{CompanyID: id, Result: res, Err: err})
	}
	return runs, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
