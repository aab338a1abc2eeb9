package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kevin07696/payout-service/internal/domain"
	"github.com/kevin07696/payout-service/internal/domain/ports"
	"github.com/kevin07696/payout-service/internal/services/settlement"
	"github.com/kevin07696/payout-service/pkg/observability"
	"github.com/kevin07696/payout-service/pkg/timeutil"
)

// Effect describes what an event did to its payment
type Effect string

const (
	EffectIgnored      Effect = "ignored"
	EffectTransitioned Effect = "transitioned"
	EffectDuplicate    Effect = "duplicate"
)

// ReconcileResult is the outcome of processing one provider event
type ReconcileResult struct {
	PaymentID string                `json:"payment_id,omitempty"`
	State     domain.PaymentState   `json:"state,omitempty"`
	Bucket    domain.TransferBucket `json:"bucket"`
	Effect    Effect                `json:"effect"`
}

// Reconciler applies provider transfer events to payments. It takes no locks:
// every state change is a guarded compare-and-set, so duplicate and
// out-of-order events converge.
type Reconciler struct {
	db          ports.DBPort
	payments    ports.PaymentRepository
	obligations ports.ObligationRepository
	closer      *settlement.BatchCloser
	outbox      ports.NotificationOutbox
	provider    ports.TransferProvider
	validate    *validator.Validate
	hooks       map[domain.ObligationKind]KindHooks
	logger      ports.Logger
	now         func() time.Time
}

// NewReconciler creates a new transfer reconciler
func NewReconciler(
	db ports.DBPort,
	payments ports.PaymentRepository,
	obligations ports.ObligationRepository,
	batches ports.BatchRepository,
	outbox ports.NotificationOutbox,
	provider ports.TransferProvider,
	logger ports.Logger,
) *Reconciler {
	return &Reconciler{
		db:          db,
		payments:    payments,
		obligations: obligations,
		closer:      settlement.NewBatchCloser(batches, obligations, payments, logger),
		outbox:      outbox,
		provider:    provider,
		validate:    validator.New(),
		hooks:       DefaultHooks(),
		logger:      logger,
		now:         timeutil.Now,
	}
}

// Process applies one event. Unknown transfers are ignored without error.
func (r *Reconciler) Process(ctx context.Context, ev domain.TransferEvent) (*ReconcileResult, error) {
	if err := r.validate.Struct(ev); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeMalformedEvent, "invalid transfer event", err)
	}

	bucket := ev.Bucket()
	p, err := r.payments.GetByTransfer(ctx, nil, ev.ResourceID, ev.ProfileID)
	if err != nil {
		if domain.IsNotFoundError(err) {
			observability.RecordReconcileEvent(string(bucket), string(EffectIgnored))
			r.logger.Debug("event for unknown transfer ignored",
				ports.String("transfer_id", ev.ResourceID),
				ports.String("profile_id", ev.ProfileID))
			return &ReconcileResult{Bucket: bucket, Effect: EffectIgnored}, nil
		}
		return nil, fmt.Errorf("resolve payment: %w", err)
	}

	refund := ev.IsRefundOf(p)
	if refund {
		bucket = domain.TransferBucketFailure
	}

	var moved bool
	switch bucket {
	case domain.TransferBucketSuccess:
		moved, err = r.succeed(ctx, p, ev)
	case domain.TransferBucketFailure:
		moved, err = r.fail(ctx, p, ev, refund)
	default:
		moved, err = r.progress(ctx, p, ev)
	}
	if err != nil {
		r.logger.Error("failed to reconcile transfer event",
			ports.String("payment_id", p.ID),
			ports.String("transfer_id", ev.ResourceID),
			ports.String("state", ev.CurrentState),
			ports.Err(err))
		return nil, err
	}

	effect := EffectDuplicate
	if moved {
		effect = EffectTransitioned
	}
	observability.RecordReconcileEvent(string(bucket), string(effect))
	r.logger.Info("transfer event processed",
		ports.String("payment_id", p.ID),
		ports.String("state", ev.CurrentState),
		ports.String("bucket", string(bucket)),
		ports.String("effect", string(effect)))

	return &ReconcileResult{PaymentID: p.ID, State: p.State, Bucket: bucket, Effect: effect}, nil
}

func (r *Reconciler) succeed(ctx context.Context, p *domain.Payment, ev domain.TransferEvent) (bool, error) {
	var (
		transfer *ports.Transfer
		estimate *time.Time
	)
	if p.State != domain.PaymentStateSucceeded {
		var err error
		transfer, err = r.provider.GetTransfer(ctx, ev.ResourceID)
		if err != nil {
			return false, domain.WrapError(domain.ErrorCodeProviderError, "re-query transfer", err)
		}
		at, err := r.provider.GetDeliveryEstimate(ctx, ev.ResourceID)
		if err != nil {
			r.logger.Warn("delivery estimate unavailable", ports.String("transfer_id", ev.ResourceID), ports.Err(err))
		} else {
			estimate = &at
		}
	}

	var moved bool
	err := r.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := r.now()
		if err := r.recordStatus(ctx, tx, p, ev, now); err != nil {
			return err
		}

		var err error
		moved, err = r.payments.TransitionState(ctx, tx, p.ID, domain.AllowedSources(domain.PaymentStateSucceeded), domain.PaymentStateSucceeded, now)
		if err != nil {
			return fmt.Errorf("mark payment succeeded: %w", err)
		}
		if !moved {
			return nil
		}
		p.Transition(domain.PaymentStateSucceeded, now)

		if transfer != nil {
			total := transfer.SourceValue.Shift(2).Round(0).IntPart()
			p.TotalTransactionCents = &total
			target := transfer.TargetValue
			p.TransferAmount = &target
			if transfer.TargetCurrency != "" {
				p.TransferCurrency = &transfer.TargetCurrency
			}
		}
		p.TransferEstimate = estimate
		if !p.CoversAmount() {
			r.logger.Warn("provider total does not match principal plus fee",
				ports.String("payment_id", p.ID),
				ports.Int64("amount_cents", p.AmountCents),
				ports.Int64("total_cents", *p.TotalTransactionCents))
		}
		if err := r.payments.Update(ctx, tx, p); err != nil {
			return fmt.Errorf("save transfer amounts: %w", err)
		}

		if err := r.applyToObligations(ctx, tx, p, ev.OccurredAt, func(h KindHooks) func(*domain.Obligation, time.Time) (bool, error) {
			return h.OnPaid
		}); err != nil {
			return err
		}
		if p.BatchID != nil {
			if _, err := r.closer.Settle(ctx, tx, *p.BatchID, now); err != nil {
				return err
			}
		}
		return r.notify(ctx, tx, p, domain.NotificationPaymentSucceeded, now)
	})
	return moved, err
}

func (r *Reconciler) fail(ctx context.Context, p *domain.Payment, ev domain.TransferEvent, refund bool) (bool, error) {
	target := domain.PaymentStateFailed
	switch {
	case refund:
		target = domain.PaymentStateRefunded
	case ev.CurrentState == domain.TransferStateCancelled:
		target = domain.PaymentStateCancelled
	}

	var moved bool
	err := r.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := r.now()
		if err := r.recordStatus(ctx, tx, p, ev, now); err != nil {
			return err
		}

		var err error
		moved, err = r.payments.TransitionState(ctx, tx, p.ID, domain.AllowedSources(target), target, now)
		if err != nil {
			return fmt.Errorf("mark payment %s: %w", target, err)
		}
		if !moved {
			return nil
		}
		p.Transition(target, now)
		reason := ev.CurrentState
		p.FailureReason = &reason
		if err := r.payments.Update(ctx, tx, p); err != nil {
			return fmt.Errorf("save failure reason: %w", err)
		}

		if err := r.applyToObligations(ctx, tx, p, now, func(h KindHooks) func(*domain.Obligation, time.Time) (bool, error) {
			return h.OnFailed
		}); err != nil {
			return err
		}

		if p.BatchID != nil {
			closeBatch := r.closer.Fail
			if refund {
				closeBatch = r.closer.Refund
			}
			if _, err := closeBatch(ctx, tx, *p.BatchID, now); err != nil {
				return err
			}
		}

		return r.notify(ctx, tx, p, domain.NotificationPaymentFailed, now)
	})
	return moved, err
}

func (r *Reconciler) progress(ctx context.Context, p *domain.Payment, ev domain.TransferEvent) (bool, error) {
	var moved bool
	err := r.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := r.now()
		// A terminal event may have committed since p was loaded.
		cur, err := r.payments.GetForUpdate(ctx, tx, p.ID)
		if err != nil {
			return fmt.Errorf("lock payment: %w", err)
		}
		p.State = cur.State
		if err := r.recordStatus(ctx, tx, p, ev, now); err != nil {
			return err
		}
		if p.State.IsTerminal() {
			return nil
		}

		moved, err = r.payments.TransitionState(ctx, tx, p.ID, domain.AllowedSources(domain.PaymentStateProcessing), domain.PaymentStateProcessing, now)
		if err != nil {
			return fmt.Errorf("mark payment processing: %w", err)
		}
		if moved {
			p.Transition(domain.PaymentStateProcessing, now)
		}
		return r.applyToObligations(ctx, tx, p, now, func(h KindHooks) func(*domain.Obligation, time.Time) (bool, error) {
			return h.OnProcessing
		})
	})
	return moved, err
}

// recordStatus stores the raw provider status; the last event wins
func (r *Reconciler) recordStatus(ctx context.Context, tx ports.DBTX, p *domain.Payment, ev domain.TransferEvent, now time.Time) error {
	p.RecordTransferStatus(ev.CurrentState)
	if err := r.payments.RecordTransferStatus(ctx, tx, p.ID, ev.CurrentState, *p.TransferBucket, now); err != nil {
		return fmt.Errorf("record transfer status: %w", err)
	}
	return nil
}

func (r *Reconciler) applyToObligations(
	ctx context.Context,
	tx ports.DBTX,
	p *domain.Payment,
	at time.Time,
	pick func(KindHooks) func(*domain.Obligation, time.Time) (bool, error),
) error {
	for _, id := range p.ObligationIDs {
		o, err := r.obligations.GetForUpdate(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("lock obligation %s: %w", id, err)
		}
		hooks, ok := r.hooks[o.Kind]
		if !ok {
			return domain.WrapError(domain.ErrorCodeValidationFailed, "no reconciliation hooks for kind", nil).
				WithDetail("kind", o.Kind)
		}
		changed, err := pick(hooks)(o, at)
		if err != nil {
			return err
		}
		if !changed {
			continue
		}
		if err := r.obligations.Update(ctx, tx, o); err != nil {
			return fmt.Errorf("update obligation %s: %w", id, err)
		}
	}
	return nil
}

func (r *Reconciler) notify(ctx context.Context, tx ports.DBTX, p *domain.Payment, t domain.NotificationType, now time.Time) error {
	payload := map[string]interface{}{
		"payment_id":   p.ID,
		"amount_cents": p.AmountCents,
		"currency":     p.SourceCurrency,
		"state":        string(p.State),
	}
	if p.TransferEstimate != nil {
		payload["transfer_estimate"] = p.TransferEstimate.Format(time.RFC3339)
	}
	n := domain.NewNotification(uuid.NewString(), p.PayeeID, t, &p.ID, payload, now)
	if err := r.outbox.Enqueue(ctx, tx, n); err != nil {
		return fmt.Errorf("enqueue %s notification: %w", t, err)
	}
	return nil
}
