package fakes

import (
	"context"
	"sort"
	"time"

	"github.com/kevin07696/payout-service/internal/domain"
	"github.com/kevin07696/payout-service/internal/domain/ports"
)

// ObligationRepo implements ports.ObligationRepository
type ObligationRepo struct{ s *Store }

func (r *ObligationRepo) Create(_ context.Context, _ ports.DBTX, o *domain.Obligation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("obligations.Create"); err != nil {
		return err
	}
	r.s.data.order = append(r.s.data.order, o.ID)
	r.s.data.obligations[o.ID] = cloneObligation(o)
	return nil
}

func (r *ObligationRepo) GetByID(_ context.Context, _ ports.DBTX, id string) (*domain.Obligation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.data.obligations[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrorCodeObligationNotFound, "obligation not found", nil).WithDetail("obligation_id", id)
	}
	return cloneObligation(o), nil
}

func (r *ObligationRepo) GetForUpdate(ctx context.Context, tx ports.DBTX, id string) (*domain.Obligation, error) {
	return r.GetByID(ctx, tx, id)
}

func (r *ObligationRepo) GetByIDsForUpdate(_ context.Context, _ ports.DBTX, ids []string) ([]*domain.Obligation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*domain.Obligation, 0, len(ids))
	for _, id := range ids {
		if o, ok := r.s.data.obligations[id]; ok {
			out = append(out, cloneObligation(o))
		}
	}
	return out, nil
}

func (r *ObligationRepo) ListChargeable(_ context.Context, _ ports.DBTX, companyID string) ([]*domain.Obligation, error) {
	return r.list(func(o *domain.Obligation) bool {
		return o.CompanyID == companyID &&
			o.Kind == domain.ObligationKindInvoice &&
			o.BatchID == nil &&
			(o.State == domain.ObligationStateApproved || o.State == domain.ObligationStateFailed)
	}), nil
}

func (r *ObligationRepo) ListByBatch(_ context.Context, _ ports.DBTX, batchID string) ([]*domain.Obligation, error) {
	return r.list(func(o *domain.Obligation) bool {
		return o.BatchID != nil && *o.BatchID == batchID
	}), nil
}

func (r *ObligationRepo) ListByCompany(_ context.Context, _ ports.DBTX, companyID string, f ports.ObligationFilter) ([]*domain.Obligation, error) {
	all := r.list(func(o *domain.Obligation) bool {
		if o.CompanyID != companyID {
			return false
		}
		if f.Kind != nil && o.Kind != *f.Kind {
			return false
		}
		return f.State == nil || o.State == *f.State
	})
	start := int(f.Offset)
	if start > len(all) {
		return nil, nil
	}
	all = all[start:]
	if f.Limit > 0 && int(f.Limit) < len(all) {
		all = all[:f.Limit]
	}
	return all, nil
}

func (r *ObligationRepo) list(match func(*domain.Obligation) bool) []*domain.Obligation {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Obligation
	for _, id := range r.s.data.order {
		if o := r.s.data.obligations[id]; o != nil && match(o) {
			out = append(out, cloneObligation(o))
		}
	}
	return out
}

func (r *ObligationRepo) AddApproval(_ context.Context, _ ports.DBTX, obligationID, approverID string, _ time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("obligations.AddApproval"); err != nil {
		return false, err
	}
	o, ok := r.s.data.obligations[obligationID]
	if !ok {
		return false, domain.ErrObligationNotFound
	}
	if o.HasApproved(approverID) {
		return false, nil
	}
	o.Approvers = append(o.Approvers, approverID)
	return true, nil
}

func (r *ObligationRepo) ClearApprovals(_ context.Context, _ ports.DBTX, obligationID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if o, ok := r.s.data.obligations[obligationID]; ok {
		o.Approvers = nil
	}
	return nil
}

func (r *ObligationRepo) Update(_ context.Context, _ ports.DBTX, o *domain.Obligation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("obligations.Update"); err != nil {
		return err
	}
	cur, ok := r.s.data.obligations[o.ID]
	if !ok {
		return domain.ErrObligationNotFound
	}
	approvers := cur.Approvers
	c := cloneObligation(o)
	c.Approvers = approvers
	r.s.data.obligations[o.ID] = c
	return nil
}

// BatchRepo implements ports.BatchRepository
type BatchRepo struct{ s *Store }

func (r *BatchRepo) Create(_ context.Context, _ ports.DBTX, b *domain.Batch) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("batches.Create"); err != nil {
		return err
	}
	r.s.data.batches[b.ID] = cloneBatch(b)
	return nil
}

func (r *BatchRepo) GetByID(_ context.Context, _ ports.DBTX, id string) (*domain.Batch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.data.batches[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrorCodeBatchNotFound, "batch not found", nil).WithDetail("batch_id", id)
	}
	return cloneBatch(b), nil
}

func (r *BatchRepo) GetForUpdate(ctx context.Context, tx ports.DBTX, id string) (*domain.Batch, error) {
	return r.GetByID(ctx, tx, id)
}

func (r *BatchRepo) ListAwaitingPayout(_ context.Context, _ ports.DBTX, limit int32) ([]*domain.Batch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	open := r.s.openObligations()
	waiting := map[string]bool{}
	for _, o := range r.s.data.obligations {
		if o.BatchID != nil && o.State == domain.ObligationStatePaymentPending && !open[o.ID] {
			waiting[*o.BatchID] = true
		}
	}
	var out []*domain.Batch
	for _, b := range r.s.data.batches {
		if b.State == domain.BatchStateSent && waiting[b.ID] {
			out = append(out, cloneBatch(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && int(limit) < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *BatchRepo) UpdateState(_ context.Context, _ ports.DBTX, id string, st domain.BatchState, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.data.batches[id]
	if !ok {
		return domain.ErrBatchNotFound
	}
	b.State = st
	b.UpdatedAt = at
	return nil
}

// PaymentRepo implements ports.PaymentRepository
type PaymentRepo struct{ s *Store }

func (r *PaymentRepo) Create(_ context.Context, _ ports.DBTX, p *domain.Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("payments.Create"); err != nil {
		return err
	}
	r.s.data.payments[p.ID] = clonePayment(p)
	return nil
}

func (r *PaymentRepo) GetByID(_ context.Context, _ ports.DBTX, id string) (*domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.data.payments[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrorCodePaymentNotFound, "payment not found", nil).WithDetail("payment_id", id)
	}
	return clonePayment(p), nil
}

func (r *PaymentRepo) GetForUpdate(ctx context.Context, tx ports.DBTX, id string) (*domain.Payment, error) {
	return r.GetByID(ctx, tx, id)
}

func (r *PaymentRepo) ListOpenObligationIDs(_ context.Context, _ ports.DBTX, obligationIDs []string) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("payments.ListOpenObligationIDs"); err != nil {
		return nil, err
	}
	open := r.s.openObligations()
	var out []string
	for _, id := range obligationIDs {
		if open[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *PaymentRepo) GetByTransfer(_ context.Context, _ ports.DBTX, transferID, profileID string) (*domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.data.payments {
		if p.TransferID != nil && *p.TransferID == transferID && p.ProviderProfileID == profileID {
			return clonePayment(p), nil
		}
	}
	return nil, domain.WrapError(domain.ErrorCodePaymentNotFound, "payment not found", nil).WithDetail("transfer_id", transferID)
}

func (r *PaymentRepo) TransitionState(_ context.Context, _ ports.DBTX, id string, from []domain.PaymentState, to domain.PaymentState, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("payments.TransitionState"); err != nil {
		return false, err
	}
	p, ok := r.s.data.payments[id]
	if !ok {
		return false, domain.ErrPaymentNotFound
	}
	for _, f := range from {
		if p.State == f {
			p.State = to
			p.UpdatedAt = at
			return true, nil
		}
	}
	return false, nil
}

func (r *PaymentRepo) Update(_ context.Context, _ ports.DBTX, p *domain.Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("payments.Update"); err != nil {
		return err
	}
	cur, ok := r.s.data.payments[p.ID]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	c := clonePayment(p)
	c.State = cur.State
	c.TransferStatus = cur.TransferStatus
	c.TransferBucket = cur.TransferBucket
	r.s.data.payments[p.ID] = c
	return nil
}

func (r *PaymentRepo) RecordTransferStatus(_ context.Context, _ ports.DBTX, id, status string, bucket domain.TransferBucket, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.data.payments[id]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	p.TransferStatus = &status
	p.TransferBucket = &bucket
	p.UpdatedAt = at
	return nil
}

// Outbox implements ports.NotificationOutbox
type Outbox struct{ s *Store }

func (r *Outbox) Enqueue(_ context.Context, _ ports.DBTX, n *domain.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("outbox.Enqueue"); err != nil {
		return err
	}
	c := *n
	r.s.data.notifications[n.ID] = &c
	return nil
}

func (r *Outbox) ClaimDue(_ context.Context, _ ports.DBTX, now time.Time, limit int32) ([]*domain.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Notification
	for _, n := range r.s.data.notifications {
		if n.Status == domain.NotificationStatusPending && !n.NextAttemptAt.After(now) {
			c := *n
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && int(limit) < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *Outbox) MarkDelivered(_ context.Context, _ ports.DBTX, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n, ok := r.s.data.notifications[id]
	if !ok {
		return domain.ErrInternalError
	}
	n.Status = domain.NotificationStatusDelivered
	n.DeliveredAt = &at
	n.Attempts++
	return nil
}

func (r *Outbox) MarkAttemptFailed(_ context.Context, _ ports.DBTX, id string, errMsg string, next *time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n, ok := r.s.data.notifications[id]
	if !ok {
		return domain.ErrInternalError
	}
	n.Attempts++
	n.LastError = &errMsg
	if next == nil {
		n.Status = domain.NotificationStatusFailed
		return nil
	}
	n.NextAttemptAt = *next
	return nil
}
