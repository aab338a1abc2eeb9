package payout

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/kevin07696/payout-service/internal/domain"
	"github.com/kevin07696/payout-service/internal/domain/ports"
	"github.com/kevin07696/payout-service/internal/services/settlement"
	pkgerrors "github.com/kevin07696/payout-service/pkg/errors"
	"github.com/kevin07696/payout-service/pkg/observability"
	"github.com/kevin07696/payout-service/pkg/timeutil"
)

// Config holds the money rules applied before a transfer is attempted
type Config struct {
	SourceCurrency     string
	PayoutMinimumCents int64
	LockTimeout        time.Duration
	SweepLimit         int32
}

// PaymentTarget names the obligations one payment should cover.
// All obligations must belong to CompanyID and PayeeID and share a kind.
type PaymentTarget struct {
	BatchID       *string  `json:"batch_id,omitempty"`
	CompanyID     string   `json:"company_id" validate:"required"`
	PayeeID       string   `json:"payee_id" validate:"required"`
	ObligationIDs []string `json:"obligation_ids" validate:"required,min=1,dive,required"`
}

// ExecutionResult is the outcome of one Execute call. Exactly one of Payment
// and Policy is set.
type ExecutionResult struct {
	Payment *domain.Payment       `json:"payment,omitempty"`
	Policy  *domain.PolicyOutcome `json:"policy,omitempty"`
	PayeeID string                `json:"payee_id"`
}

// PayeeRun is one payee group's outcome within a batch
type PayeeRun struct {
	Result  *ExecutionResult
	Err     error
	PayeeID string
}

// Executor turns chargeable obligations into provider transfers
type Executor struct {
	db            ports.DBPort
	obligations   ports.ObligationRepository
	batches       ports.BatchRepository
	payments      ports.PaymentRepository
	outbox        ports.NotificationOutbox
	payees        ports.PayeeDirectory
	jurisdictions ports.JurisdictionPolicy
	provider      ports.TransferProvider
	locker        ports.Locker
	closer        *settlement.BatchCloser
	logger        ports.Logger
	now           func() time.Time
	cfg           Config
}

// NewExecutor creates a new payment executor
func NewExecutor(
	db ports.DBPort,
	obligations ports.ObligationRepository,
	batches ports.BatchRepository,
	payments ports.PaymentRepository,
	outbox ports.NotificationOutbox,
	payees ports.PayeeDirectory,
	jurisdictions ports.JurisdictionPolicy,
	provider ports.TransferProvider,
	locker ports.Locker,
	cfg Config,
	logger ports.Logger,
) *Executor {
	if cfg.SweepLimit <= 0 {
		cfg.SweepLimit = 100
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 30 * time.Second
	}
	return &Executor{
		db:            db,
		obligations:   obligations,
		batches:       batches,
		payments:      payments,
		outbox:        outbox,
		payees:        payees,
		jurisdictions: jurisdictions,
		provider:      provider,
		locker:        locker,
		closer:        settlement.NewBatchCloser(batches, obligations, payments, logger),
		cfg:           cfg,
		logger:        logger,
		now:           timeutil.Now,
	}
}

// LockKey is the key serializing payout runs over target's obligations.
// Batched targets share their batch's key with ExecuteBatch.
func LockKey(target PaymentTarget) string {
	if target.BatchID != nil {
		return BatchLockKey(*target.BatchID)
	}
	return "payout:payee:" + target.CompanyID + ":" + target.PayeeID
}

// BatchLockKey is the key serializing payout runs over one batch
func BatchLockKey(batchID string) string {
	return "payout:batch:" + batchID
}

// Execute runs the pre-flight gates and, when they pass, the quote, transfer
// and fund protocol for one payee. A policy rejection is a result, not an error.
func (e *Executor) Execute(ctx context.Context, target PaymentTarget) (*ExecutionResult, error) {
	var res *ExecutionResult
	err := e.locker.WithLock(ctx, LockKey(target), e.cfg.LockTimeout, func(ctx context.Context) error {
		var (
			attempt *domain.Payment
			err     error
		)
		res, attempt, err = e.execute(ctx, target)
		if failedInBatch(attempt) {
			e.failBatch(ctx, *attempt.BatchID)
		}
		return err
	})
	return res, err
}

// execute does the work of Execute under the caller's lock. attempt is the
// payment row it created, if any.
func (e *Executor) execute(ctx context.Context, target PaymentTarget) (*ExecutionResult, *domain.Payment, error) {
	members, err := e.loadTargets(ctx, target)
	if err != nil {
		return nil, nil, err
	}
	kind := members[0].Kind

	payee, err := e.payees.GetPayee(ctx, nil, target.PayeeID)
	if err != nil {
		return nil, nil, fmt.Errorf("get payee: %w", err)
	}
	rule, err := e.jurisdictions.RuleFor(ctx, nil, payee.CountryCode)
	if err != nil {
		return nil, nil, fmt.Errorf("get jurisdiction rule: %w", err)
	}

	if rule.RequiresTaxInfo && !payee.TaxInfoConfirmed {
		return e.notPayable(target, kind, domain.PolicyOutcome{
			Reason: domain.RetainedReasonMissingTaxInfo,
			Detail: "payee has not confirmed tax information",
		}), nil, nil
	}
	if rule.IsDisallowed() {
		res, err := e.retain(ctx, target, kind, domain.RetainedReasonSanctionedJurisdiction, "payouts to "+payee.CountryCode+" are not allowed")
		return res, nil, err
	}

	amount, withheld := payableAmount(members, rule)
	if amount < e.cfg.PayoutMinimumCents {
		res, err := e.retain(ctx, target, kind, domain.RetainedReasonBelowMinimum,
			fmt.Sprintf("%d cents is below the %d cent minimum", amount, e.cfg.PayoutMinimumCents))
		return res, nil, err
	}

	recipient, err := e.payees.GetActiveRecipient(ctx, nil, target.PayeeID)
	if err != nil {
		return nil, nil, fmt.Errorf("get recipient: %w", err)
	}
	if recipient == nil {
		res, err := e.retain(ctx, target, kind, domain.RetainedReasonNoPayoutMethod, "payee has no active recipient")
		return res, nil, err
	}

	balance, err := e.provider.GetBalance(ctx, e.cfg.SourceCurrency)
	if err != nil {
		observability.RecordPayoutAttempt(string(kind), "error")
		return nil, nil, providerError("balance check failed", err)
	}
	if balance.LessThan(centsToDecimal(amount)) {
		observability.RecordPayoutAttempt(string(kind), "insufficient_balance")
		e.logger.Warn("platform balance does not cover payout",
			ports.String("payee_id", target.PayeeID),
			ports.Int64("amount_cents", amount),
			ports.String("balance", balance.String()))
		return nil, nil, domain.WrapError(domain.ErrorCodeInsufficientBalance, "platform balance does not cover payout", nil).
			WithDetail("amount_cents", amount).
			WithDetail("balance", balance.String())
	}

	now := e.now()
	payment := &domain.Payment{
		ID:                 uuid.NewString(),
		CompanyID:          target.CompanyID,
		PayeeID:            target.PayeeID,
		RecipientID:        recipient.ID,
		ProviderProfileID:  e.provider.ProfileID(),
		ProcessorReference: uuid.NewString(),
		SourceCurrency:     e.cfg.SourceCurrency,
		Kind:               kind,
		State:              domain.PaymentStateInitialized,
		AmountCents:        amount,
		WithheldCents:      withheld,
		BatchID:            target.BatchID,
		ObligationIDs:      idsOf(members),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := e.claim(ctx, target, payment); err != nil {
		return nil, nil, err
	}

	if err := e.transfer(ctx, payment, recipient); err != nil {
		observability.RecordPayoutAttempt(string(kind), "failed")
		return nil, payment, err
	}

	observability.RecordPayoutAttempt(string(kind), "processing")
	e.logger.Info("payout funded",
		ports.String("payment_id", payment.ID),
		ports.String("payee_id", payment.PayeeID),
		ports.String("transfer_id", *payment.TransferID),
		ports.Int64("amount_cents", payment.AmountCents))

	return &ExecutionResult{Payment: payment, PayeeID: target.PayeeID}, payment, nil
}

// claim re-checks the target obligations under row locks and inserts the
// payment in the same transaction. An obligation already covered by a
// payment in flight is refused, so two runs never fund the same obligations.
func (e *Executor) claim(ctx context.Context, target PaymentTarget, p *domain.Payment) error {
	return e.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		for _, id := range target.ObligationIDs {
			o, err := e.obligations.GetForUpdate(ctx, tx, id)
			if err != nil {
				return fmt.Errorf("lock obligation %s: %w", id, err)
			}
			if err := checkTarget(o, target); err != nil {
				return err
			}
		}

		open, err := e.payments.ListOpenObligationIDs(ctx, tx, target.ObligationIDs)
		if err != nil {
			return fmt.Errorf("check payments in flight: %w", err)
		}
		if len(open) > 0 {
			return domain.WrapError(domain.ErrorCodeObligationNotChargeable, "obligation already has a payment in flight", nil).
				WithDetail("obligation_ids", open)
		}

		if err := e.payments.Create(ctx, tx, p); err != nil {
			return fmt.Errorf("create payment: %w", err)
		}
		return nil
	})
}

// transfer drives quote, transfer and fund. Any failure fails the payment and
// its obligations before returning.
func (e *Executor) transfer(ctx context.Context, p *domain.Payment, recipient *domain.Recipient) error {
	quote, err := e.provider.CreateQuote(ctx, ports.QuoteRequest{
		ProfileID:      p.ProviderProfileID,
		SourceCurrency: p.SourceCurrency,
		TargetCurrency: recipient.Currency,
		SourceAmount:   centsToDecimal(p.AmountCents),
	})
	if err != nil {
		return e.abort(ctx, p, nil, providerError("quote failed", err))
	}
	fee := quote.Fee.Shift(2).Round(0).IntPart()
	p.QuoteID = &quote.ID
	p.FeeCents = &fee
	p.UpdatedAt = e.now()
	if err := e.payments.Update(ctx, nil, p); err != nil {
		return fmt.Errorf("save quote: %w", err)
	}

	transfer, err := e.provider.CreateTransfer(ctx, ports.TransferRequest{
		TargetAccountID:       recipient.ProviderAccountID,
		QuoteID:               quote.ID,
		CustomerTransactionID: p.ProcessorReference,
		Reference:             reference(p),
	})
	if err != nil {
		return e.abort(ctx, p, nil, providerError("transfer creation failed", err))
	}
	p.TransferID = &transfer.ID
	if !transfer.TargetValue.IsZero() {
		p.TransferAmount = &transfer.TargetValue
	}
	if transfer.TargetCurrency != "" {
		p.TransferCurrency = &transfer.TargetCurrency
	}
	p.UpdatedAt = e.now()
	if err := e.payments.Update(ctx, nil, p); err != nil {
		return fmt.Errorf("save transfer: %w", err)
	}

	result, err := e.provider.FundTransfer(ctx, transfer.ID)
	if err != nil {
		return e.abort(ctx, p, nil, providerError("funding failed", err))
	}
	if !result.Accepted() {
		var invalid *domain.Recipient
		if result.Rejection == ports.FundRejectionRecipientInactive {
			invalid = recipient
		}
		return e.abort(ctx, p, invalid, rejectionError(result))
	}

	return e.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := e.now()
		if _, err := e.payments.TransitionState(ctx, tx, p.ID, domain.AllowedSources(domain.PaymentStateProcessing), domain.PaymentStateProcessing, now); err != nil {
			return fmt.Errorf("mark payment processing: %w", err)
		}
		p.Transition(domain.PaymentStateProcessing, now)
		return e.forEachObligation(ctx, tx, p.ObligationIDs, func(o *domain.Obligation) (bool, error) {
			return o.MarkProcessing(now)
		})
	})
}

// abort fails the payment and returns its obligations to the retry pool.
// cause is returned unless the bookkeeping itself fails.
func (e *Executor) abort(ctx context.Context, p *domain.Payment, invalidRecipient *domain.Recipient, cause error) error {
	reason := cause.Error()
	err := e.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := e.now()
		moved, err := e.payments.TransitionState(ctx, tx, p.ID, domain.AllowedSources(domain.PaymentStateFailed), domain.PaymentStateFailed, now)
		if err != nil {
			return fmt.Errorf("mark payment failed: %w", err)
		}
		if !moved {
			return nil
		}
		p.Fail(reason, now)
		if err := e.payments.Update(ctx, tx, p); err != nil {
			return fmt.Errorf("save failure reason: %w", err)
		}

		if err := e.forEachObligation(ctx, tx, p.ObligationIDs, func(o *domain.Obligation) (bool, error) {
			return o.MarkFailed(now)
		}); err != nil {
			return err
		}

		if invalidRecipient != nil {
			if err := e.payees.InvalidateRecipient(ctx, tx, invalidRecipient.ID); err != nil {
				return fmt.Errorf("invalidate recipient: %w", err)
			}
			n := domain.NewNotification(uuid.NewString(), p.PayeeID, domain.NotificationRecipientInvalid, &p.ID,
				map[string]interface{}{"recipient_id": invalidRecipient.ID}, now)
			if err := e.outbox.Enqueue(ctx, tx, n); err != nil {
				return fmt.Errorf("enqueue recipient notification: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		e.logger.Error("failed to record payout failure",
			ports.String("payment_id", p.ID),
			ports.String("cause", reason),
			ports.Err(err))
		return err
	}

	e.logger.Warn("payout failed",
		ports.String("payment_id", p.ID),
		ports.String("payee_id", p.PayeeID),
		ports.Bool("recipient_invalidated", invalidRecipient != nil),
		ports.Err(cause))
	return cause
}

// failBatch fails the batch after one of its payments failed and releases
// the members no payment covers, so they can be batched again. An error is
// logged rather than returned: the batch stays sent and the sweep retries it.
func (e *Executor) failBatch(ctx context.Context, batchID string) {
	var released int
	err := e.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		released, err = e.closer.Fail(ctx, tx, batchID, e.now())
		return err
	})
	if err != nil {
		e.logger.Error("failed to close failed batch", ports.String("batch_id", batchID), ports.Err(err))
		return
	}
	e.logger.Warn("batch failed",
		ports.String("batch_id", batchID),
		ports.Int("released", released))
}

func failedInBatch(p *domain.Payment) bool {
	return p != nil && p.BatchID != nil && p.State == domain.PaymentStateFailed
}

func (e *Executor) forEachObligation(ctx context.Context, tx ports.DBTX, ids []string, apply func(o *domain.Obligation) (bool, error)) error {
	for _, id := range ids {
		o, err := e.obligations.GetForUpdate(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("lock obligation %s: %w", id, err)
		}
		changed, err := apply(o)
		if err != nil {
			return err
		}
		if !changed {
			continue
		}
		if err := e.obligations.Update(ctx, tx, o); err != nil {
			return fmt.Errorf("update obligation %s: %w", id, err)
		}
	}
	return nil
}

// retain withholds every target obligation for reason
func (e *Executor) retain(ctx context.Context, target PaymentTarget, kind domain.ObligationKind, reason domain.RetainedReason, detail string) (*ExecutionResult, error) {
	err := e.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := e.now()
		return e.forEachObligation(ctx, tx, target.ObligationIDs, func(o *domain.Obligation) (bool, error) {
			return o.MarkRetained(reason, now)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("retain obligations: %w", err)
	}

	outcome := domain.PolicyOutcome{Reason: reason, Detail: detail, Retained: true}
	return e.notPayable(target, kind, outcome), nil
}

func (e *Executor) notPayable(target PaymentTarget, kind domain.ObligationKind, outcome domain.PolicyOutcome) *ExecutionResult {
	observability.RecordPayoutAttempt(string(kind), string(outcome.Reason))
	e.logger.Info("payout withheld by policy",
		ports.String("payee_id", target.PayeeID),
		ports.String("reason", string(outcome.Reason)),
		ports.Bool("retained", outcome.Retained))
	return &ExecutionResult{Policy: &outcome, PayeeID: target.PayeeID}
}

// loadTargets checks that every target obligation is ready to be paid
func (e *Executor) loadTargets(ctx context.Context, target PaymentTarget) ([]*domain.Obligation, error) {
	if len(target.ObligationIDs) == 0 {
		return nil, domain.WrapError(domain.ErrorCodeValidationFailed, "at least one obligation is required", nil)
	}

	members := make([]*domain.Obligation, 0, len(target.ObligationIDs))
	for _, id := range target.ObligationIDs {
		o, err := e.obligations.GetByID(ctx, nil, id)
		if err != nil {
			return nil, err
		}
		if err := checkTarget(o, target); err != nil {
			return nil, err
		}
		if len(members) > 0 && o.Kind != members[0].Kind {
			return nil, domain.WrapError(domain.ErrorCodeValidationFailed, "a payment cannot mix obligation kinds", nil).
				WithDetail("obligation_id", o.ID)
		}
		members = append(members, o)
	}
	return members, nil
}

func checkTarget(o *domain.Obligation, target PaymentTarget) error {
	notPayable := func(msg string) error {
		return domain.WrapError(domain.ErrorCodeObligationNotChargeable, msg, nil).
			WithDetail("obligation_id", o.ID).
			WithDetail("state", o.State)
	}

	if o.CompanyID != target.CompanyID || o.PayeeID != target.PayeeID {
		return notPayable("obligation belongs to another company or payee")
	}
	if target.BatchID != nil {
		if o.BatchID == nil || *o.BatchID != *target.BatchID {
			return notPayable("obligation is not a live member of the batch")
		}
		if o.State != domain.ObligationStatePaymentPending {
			return notPayable("batched obligation is not awaiting payment")
		}
		return nil
	}

	// Invoices are charged to the company through a batch before anyone is paid.
	if o.Kind == domain.ObligationKindInvoice {
		return notPayable("invoices are paid through their batch")
	}
	if o.State == domain.ObligationStateFailed || o.IsPayable(true) {
		return nil
	}
	return notPayable("obligation is not payable")
}

// ExecuteBatch pays each payee group of a sent batch. One payee's failure does
// not stop the others; once every group has run, a failed payment fails the
// batch and releases the members nothing paid.
func (e *Executor) ExecuteBatch(ctx context.Context, batchID string) ([]PayeeRun, error) {
	var runs []PayeeRun
	err := e.locker.WithLock(ctx, BatchLockKey(batchID), e.cfg.LockTimeout, func(ctx context.Context) error {
		var err error
		runs, err = e.executeBatch(ctx, batchID)
		return err
	})
	return runs, err
}

func (e *Executor) executeBatch(ctx context.Context, batchID string) ([]PayeeRun, error) {
	batch, err := e.batches.GetByID(ctx, nil, batchID)
	if err != nil {
		return nil, err
	}
	if batch.State != domain.BatchStateSent {
		return nil, domain.WrapError(domain.ErrorCodeInvalidTransition, "batch is not awaiting payout", nil).
			WithDetail("batch_id", batch.ID).
			WithDetail("state", batch.State)
	}

	members, err := e.obligations.ListByBatch(ctx, nil, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("list batch members: %w", err)
	}
	var pending []string
	for _, o := range members {
		if o.State == domain.ObligationStatePaymentPending {
			pending = append(pending, o.ID)
		}
	}
	if len(pending) == 0 {
		return []PayeeRun{}, nil
	}
	open, err := e.payments.ListOpenObligationIDs(ctx, nil, pending)
	if err != nil {
		return nil, fmt.Errorf("list payments in flight: %w", err)
	}
	inFlight := make(map[string]bool, len(open))
	for _, id := range open {
		inFlight[id] = true
	}

	groups := make(map[string][]string)
	for _, o := range members {
		if o.State != domain.ObligationStatePaymentPending || inFlight[o.ID] {
			continue
		}
		groups[o.PayeeID] = append(groups[o.PayeeID], o.ID)
	}
	payees := make([]string, 0, len(groups))
	for payeeID := range groups {
		payees = append(payees, payeeID)
	}
	sort.Strings(payees)

	runs := make([]PayeeRun, 0, len(payees))
	failed := false
	for _, payeeID := range payees {
		if err := ctx.Err(); err != nil {
			if failed {
				e.failBatch(context.WithoutCancel(ctx), batch.ID)
			}
			return runs, err
		}
		res, attempt, err := e.execute(ctx, PaymentTarget{
			BatchID:       &batch.ID,
			CompanyID:     batch.CompanyID,
			PayeeID:       payeeID,
			ObligationIDs: groups[payeeID],
		})
		failed = failed || failedInBatch(attempt)
		runs = append(runs, PayeeRun{PayeeID: payeeID, Result: res, Err: err})
	}
	if failed {
		e.failBatch(ctx, batch.ID)
	}
	return runs, nil
}

// ExecuteAwaiting pays every sent batch that still has unattempted members
func (e *Executor) ExecuteAwaiting(ctx context.Context) (map[string][]PayeeRun, error) {
	batches, err := e.batches.ListAwaitingPayout(ctx, nil, e.cfg.SweepLimit)
	if err != nil {
		return nil, fmt.Errorf("list batches awaiting payout: %w", err)
	}

	out := make(map[string][]PayeeRun, len(batches))
	for _, b := range batches {
		runs, err := e.ExecuteBatch(ctx, b.ID)
		if err != nil {
			e.logger.Error("batch payout failed", ports.String("batch_id", b.ID), ports.Err(err))
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			continue
		}
		out[b.ID] = runs
	}
	return out, nil
}

// payableAmount sums the cash owed. Dividends are paid net of withholding.
func payableAmount(members []*domain.Obligation, rule domain.JurisdictionRule) (amount, withheld int64) {
	for _, o := range members {
		if o.Kind == domain.ObligationKindDividend {
			net, w := rule.Withhold(o.CashAmountCents)
			amount += net
			withheld += w
			continue
		}
		amount += o.CashAmountCents
	}
	return amount, withheld
}

func providerError(msg string, err error) error {
	de := domain.WrapError(domain.ErrorCodeProviderError, msg, err)
	if pe, ok := pkgerrors.AsPaymentError(err); ok {
		de.WithDetail("category", pe.Category).WithDetail("retriable", pe.IsRetriable)
	}
	return de
}

func rejectionError(r *ports.FundResult) error {
	switch r.Rejection {
	case ports.FundRejectionInsufficientBalance:
		return domain.WrapError(domain.ErrorCodeInsufficientBalance, "provider refused funding",
			pkgerrors.NewPaymentError(r.ErrorCode, "insufficient balance", pkgerrors.CategoryInsufficientFunds, false))
	case ports.FundRejectionRecipientInactive:
		return providerError("funding rejected",
			pkgerrors.NewPaymentError(r.ErrorCode, "recipient account is inactive", pkgerrors.CategoryRecipientInvalid, false))
	default:
		return providerError("funding rejected",
			pkgerrors.NewPaymentError(r.ErrorCode, "funding status "+r.Status, pkgerrors.CategoryInvalidRequest, false))
	}
}

func centsToDecimal(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

func idsOf(obligations []*domain.Obligation) []string {
	ids := make([]string, len(obligations))
	for i, o := range obligations {
		ids[i] = o.ID
	}
	return ids
}

// reference is the short text shown on the payee's statement
func reference(p *domain.Payment) string {
	ref := p.ProcessorReference
	if len(ref) > 8 {
		ref = ref[:8]
	}
	return "PAYOUT " + ref
}
