package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

func newInvoice(state ObligationState, required int) *Obligation {
	return &Obligation{
		ID:                "obl-1",
		CompanyID:         "co-1",
		PayeeID:           "payee-1",
		Kind:              ObligationKindInvoice,
		State:             state,
		GrossAmountCents:  10000,
		CashAmountCents:   10000,
		FeeCents:          200,
		RequiredApprovals: required,
		Invoice:           &InvoiceDetails{InvoiceNumber: "INV-1"},
	}
}

// TestObligation_Approve tests distinct approver counting
func TestObligation_Approve(t *testing.T) {
	o := newInvoice(ObligationStateReceived, 2)

	changed, err := o.Approve("alice", testNow)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, ObligationStateApproved, o.State)
	assert.False(t, o.IsFullyApproved(), "one of two approvals is partial")

	changed, err = o.Approve("alice", testNow)
	require.NoError(t, err)
	assert.False(t, changed, "same approver counts once")
	assert.Equal(t, 1, o.ApprovalCount())

	changed, err = o.Approve("bob", testNow)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, o.IsFullyApproved())
	assert.True(t, o.IsPayable(false))
}

// TestObligation_Approve_NoOpStates tests approvals on settled obligations
func TestObligation_Approve_NoOpStates(t *testing.T) {
	for _, state := range []ObligationState{ObligationStateRejected, ObligationStatePaid, ObligationStatePaymentPending} {
		t.Run(string(state), func(t *testing.T) {
			o := newInvoice(state, 1)
			changed, err := o.Approve("alice", testNow)
			require.NoError(t, err)
			assert.False(t, changed)
			assert.Equal(t, state, o.State)
			assert.Zero(t, o.ApprovalCount())
		})
	}

	_, err := newInvoice(ObligationStateReceived, 1).Approve("", testNow)
	assert.True(t, IsDomainError(err, ErrorCodeValidationFailed))
}

// TestObligation_Reject tests rejection clears approvals
func TestObligation_Reject(t *testing.T) {
	o := newInvoice(ObligationStateReceived, 2)
	_, _ = o.Approve("alice", testNow)

	changed, err := o.Reject("duplicate invoice", testNow)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, ObligationStateRejected, o.State)
	assert.Zero(t, o.ApprovalCount())
	require.NotNil(t, o.RejectionReason)
	assert.Equal(t, "duplicate invoice", *o.RejectionReason)

	changed, err = o.Reject("again", testNow)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = newInvoice(ObligationStatePaid, 1).Reject("late", testNow)
	assert.True(t, IsDomainError(err, ErrorCodeInvalidTransition))
}

// TestObligation_Reject_Sources tests which states may be rejected
func TestObligation_Reject_Sources(t *testing.T) {
	tests := []struct {
		state   ObligationState
		allowed bool
	}{
		{ObligationStateReceived, true},
		{ObligationStateApproved, true},
		{ObligationStateFailed, true},
		{ObligationStateRetained, true},
		{ObligationStatePaymentPending, false},
		{ObligationStateProcessing, false},
		{ObligationStatePaid, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			o := newInvoice(tt.state, 1)
			o.Approvers = []string{"alice"}
			if tt.state == ObligationStateRetained {
				reason := RetainedReasonSanctionedJurisdiction
				o.RetainedReason = &reason
			}

			changed, err := o.Reject("withdrawn", testNow)

			if !tt.allowed {
				assert.True(t, IsDomainError(err, ErrorCodeInvalidTransition))
				assert.Equal(t, tt.state, o.State)
				return
			}
			require.NoError(t, err)
			assert.True(t, changed)
			assert.Equal(t, ObligationStateRejected, o.State)
			assert.Zero(t, o.ApprovalCount())
			assert.Nil(t, o.RetainedReason)
			assert.False(t, o.CanBeCharged(true), "rejected obligations never return to a batch")
		})
	}
}

// TestObligation_IsPayable tests the equity election requirement
func TestObligation_IsPayable(t *testing.T) {
	tests := []struct {
		name           string
		equityCents    int64
		approvals      []string
		electionLocked bool
		expected       bool
	}{
		{"cash only fully approved", 0, []string{"a"}, false, true},
		{"equity with unlocked election", 4000, []string{"a"}, false, false},
		{"equity with locked election", 4000, []string{"a"}, true, true},
		{"not approved", 0, nil, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newInvoice(ObligationStateReceived, 1)
			o.EquityAmountCents = tt.equityCents
			o.CashAmountCents = o.GrossAmountCents - tt.equityCents
			for _, a := range tt.approvals {
				_, _ = o.Approve(a, testNow)
			}
			assert.Equal(t, tt.expected, o.IsPayable(tt.electionLocked))
		})
	}
}

// TestObligation_MarkChargeable tests batch linking rules
func TestObligation_MarkChargeable(t *testing.T) {
	t.Run("payable moves to payment pending", func(t *testing.T) {
		o := newInvoice(ObligationStateApproved, 1)
		o.Approvers = []string{"a"}
		require.NoError(t, o.MarkChargeable("batch-1", false, testNow))
		assert.Equal(t, ObligationStatePaymentPending, o.State)
		require.NotNil(t, o.BatchID)
		assert.Equal(t, "batch-1", *o.BatchID)

		require.NoError(t, o.MarkChargeable("batch-1", false, testNow), "relinking same batch is a no-op")
		err := o.MarkChargeable("batch-2", false, testNow)
		assert.True(t, IsDomainError(err, ErrorCodeObligationNotChargeable))
	})

	t.Run("failed is retried", func(t *testing.T) {
		o := newInvoice(ObligationStateFailed, 1)
		require.NoError(t, o.MarkChargeable("batch-2", false, testNow))
		assert.Equal(t, ObligationStatePaymentPending, o.State)
	})

	t.Run("paid but uncharged keeps paid state", func(t *testing.T) {
		o := newInvoice(ObligationStatePaid, 1)
		require.NoError(t, o.MarkChargeable("batch-3", false, testNow))
		assert.Equal(t, ObligationStatePaid, o.State)
		assert.Equal(t, "batch-3", *o.BatchID)
	})

	t.Run("partial approval rejected", func(t *testing.T) {
		o := newInvoice(ObligationStateApproved, 2)
		o.Approvers = []string{"a"}
		err := o.MarkChargeable("batch-1", false, testNow)
		assert.True(t, IsDomainError(err, ErrorCodeObligationNotChargeable))
		assert.Nil(t, o.BatchID)
	})

	t.Run("dividends are never batched", func(t *testing.T) {
		o := newInvoice(ObligationStateApproved, 1)
		o.Kind = ObligationKindDividend
		o.Approvers = []string{"a"}
		assert.Error(t, o.MarkChargeable("batch-1", false, testNow))
	})
}

// TestObligation_MarkPaid tests paid idempotency
func TestObligation_MarkPaid(t *testing.T) {
	o := newInvoice(ObligationStateProcessing, 1)
	first := testNow.Add(time.Hour)

	changed, err := o.MarkPaid(first)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, ObligationStatePaid, o.State)
	assert.Equal(t, first, *o.PaidAt)

	changed, err = o.MarkPaid(first)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = o.MarkPaid(first.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, first, *o.PaidAt, "first paid-at wins")

	_, err = newInvoice(ObligationStateRejected, 1).MarkPaid(first)
	assert.True(t, IsDomainError(err, ErrorCodeInvalidTransition))
}

// TestObligation_MarkFailed tests failure clears the live batch reference
func TestObligation_MarkFailed(t *testing.T) {
	batchID := "batch-1"
	o := newInvoice(ObligationStatePaymentPending, 1)
	o.BatchID = &batchID

	changed, err := o.MarkFailed(testNow)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, ObligationStateFailed, o.State)
	assert.Nil(t, o.BatchID)
	assert.Nil(t, o.PaidAt)

	paid := newInvoice(ObligationStatePaid, 1)
	changed, err = paid.MarkFailed(testNow)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, ObligationStatePaid, paid.State)
}

// TestObligation_Processing tests the in-transit transition
func TestObligation_Processing(t *testing.T) {
	o := newInvoice(ObligationStatePaymentPending, 1)
	changed, err := o.MarkProcessing(testNow)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = o.MarkProcessing(testNow)
	require.NoError(t, err)
	assert.False(t, changed)

	paid := newInvoice(ObligationStatePaid, 1)
	changed, err = paid.MarkProcessing(testNow)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, ObligationStatePaid, paid.State)
}

// TestObligation_Retention tests withholding and release
func TestObligation_Retention(t *testing.T) {
	o := newInvoice(ObligationStateProcessing, 1)

	changed, err := o.MarkRetained(RetainedReasonSanctionedJurisdiction, testNow)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, RetainedReasonSanctionedJurisdiction, *o.RetainedReason)

	changed, err = o.MarkRetained(RetainedReasonSanctionedJurisdiction, testNow)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = o.ReleaseRetention(testNow)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, ObligationStateApproved, o.State)
	assert.Nil(t, o.RetainedReason)

	_, err = newInvoice(ObligationStateRejected, 1).MarkRetained(RetainedReasonBelowMinimum, testNow)
	assert.Error(t, err)
}

// TestObligation_Validate tests structural checks
func TestObligation_Validate(t *testing.T) {
	valid := newInvoice(ObligationStateReceived, 1)
	require.NoError(t, valid.Validate())

	mismatch := newInvoice(ObligationStateReceived, 1)
	mismatch.CashAmountCents = 9000
	assert.True(t, IsDomainError(mismatch.Validate(), ErrorCodeInvariantViolation))

	dividend := newInvoice(ObligationStateReceived, 1)
	dividend.Kind = ObligationKindDividend
	dividend.Invoice = nil
	assert.True(t, IsDomainError(dividend.Validate(), ErrorCodeValidationFailed))
	dividend.Dividend = &DividendDetails{DividendRoundID: "round-1", NumberOfShares: 10}
	require.NoError(t, dividend.Validate())
	dividend.EquityAmountCents = 100
	dividend.CashAmountCents = 9900
	assert.True(t, IsDomainError(dividend.Validate(), ErrorCodeInvariantViolation))

	noApprovals := newInvoice(ObligationStateReceived, 0)
	assert.Error(t, noApprovals.Validate())
}
