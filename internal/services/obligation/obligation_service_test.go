package obligation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevin07696/payout-service/internal/domain"
	"github.com/kevin07696/payout-service/internal/domain/ports"
	"github.com/kevin07696/payout-service/internal/testutil/fakes"
	"github.com/kevin07696/payout-service/internal/testutil/fixtures"
	"github.com/kevin07696/payout-service/internal/testutil/mocks"
)

var testNow = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func setupService(t *testing.T, cfg Config) (*Service, *fakes.Store) {
	t.Helper()
	store := fakes.NewStore()
	store.PutCompany(domain.Company{ID: "co_1", Name: "Acme", Active: true, RequiredApprovals: 2})
	store.PutPayee(domain.Payee{ID: "payee_1", CompanyID: "co_1", CountryCode: "US", TaxInfoConfirmed: true})

	if cfg.FeeSchedule.Rate.IsZero() && cfg.FeeSchedule.BaseCents == 0 {
		cfg.FeeSchedule = domain.DefaultFeeSchedule
	}
	svc := NewService(store, store.ObligationRepo(), store.PaymentRepo(), store.Companies(), store.Payees(), cfg, mocks.NoopLogger{})
	svc.now = func() time.Time { return testNow }
	return svc, store
}

func invoiceRequest(gross int64, sharePrice *int64) CreateObligationRequest {
	return CreateObligationRequest{
		CompanyID:        "co_1",
		PayeeID:          "payee_1",
		Kind:             domain.ObligationKindInvoice,
		GrossAmountCents: gross,
		ObligationDate:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Invoice: &domain.InvoiceDetails{
			InvoiceNumber:   "INV-1",
			SharePriceCents: sharePrice,
		},
	}
}

func TestCreate_InvoiceSplitsByElection(t *testing.T) {
	svc, store := setupService(t, Config{})
	store.PutElection(domain.EquityElection{PayeeID: "payee_1", CompanyID: "co_1", Year: 2024, EquityPercent: 60, Locked: true})

	o, err := svc.Create(context.Background(), invoiceRequest(72037, fixtures.Int64Ptr(234)))

	require.NoError(t, err)
	assert.Equal(t, domain.ObligationStateReceived, o.State)
	assert.Equal(t, int64(28815), o.CashAmountCents)
	assert.Equal(t, int64(43222), o.EquityAmountCents)
	assert.Equal(t, int64(185), o.EquityUnits)
	assert.Equal(t, 60, o.Invoice.EquityPercent)
	assert.Equal(t, domain.DefaultFeeSchedule.FeeCents(72037), o.FeeCents)
	assert.Equal(t, 2, o.RequiredApprovals, "defaults to the company's approval count")

	stored := store.Obligation(o.ID)
	require.NotNil(t, stored)
	assert.Equal(t, o.CashAmountCents, stored.CashAmountCents)
}

func TestCreate_FloorToCashKeepsElectionByDefault(t *testing.T) {
	svc, store := setupService(t, Config{})
	store.PutElection(domain.EquityElection{PayeeID: "payee_1", CompanyID: "co_1", Year: 2024, EquityPercent: 1, Locked: true})

	o, err := svc.Create(context.Background(), invoiceRequest(72037, fixtures.Int64Ptr(1490)))

	require.NoError(t, err)
	assert.Equal(t, int64(72037), o.CashAmountCents)
	assert.Zero(t, o.EquityAmountCents)
	assert.Zero(t, o.EquityUnits)
	assert.Equal(t, 1, store.Election("payee_1", 2024).EquityPercent)
}

func TestCreate_FloorToCashResetsElectionWhenEnabled(t *testing.T) {
	svc, store := setupService(t, Config{ResetElectionOnZeroUnits: true})
	store.PutElection(domain.EquityElection{PayeeID: "payee_1", CompanyID: "co_1", Year: 2024, EquityPercent: 1, Locked: true})

	_, err := svc.Create(context.Background(), invoiceRequest(72037, fixtures.Int64Ptr(1490)))

	require.NoError(t, err)
	assert.Equal(t, 0, store.Election("payee_1", 2024).EquityPercent)
}

func TestCreate_DividendIsCashOnlyWithoutFee(t *testing.T) {
	svc, _ := setupService(t, Config{})

	o, err := svc.Create(context.Background(), CreateObligationRequest{
		CompanyID:         "co_1",
		PayeeID:           "payee_1",
		Kind:              domain.ObligationKindDividend,
		GrossAmountCents:  50000,
		RequiredApprovals: 1,
		Dividend:          &domain.DividendDetails{DividendRoundID: "round_1", NumberOfShares: 10},
	})

	require.NoError(t, err)
	assert.Equal(t, int64(50000), o.CashAmountCents)
	assert.Zero(t, o.FeeCents)
	assert.Equal(t, testNow, o.ObligationDate)
}

func TestCreate_Validation(t *testing.T) {
	svc, _ := setupService(t, Config{})

	tests := []struct {
		name string
		req  CreateObligationRequest
		code domain.ErrorCode
	}{
		{
			name: "unknown company",
			req:  CreateObligationRequest{CompanyID: "co_x", PayeeID: "payee_1", Kind: domain.ObligationKindInvoice},
			code: domain.ErrorCodeCompanyNotFound,
		},
		{
			name: "unknown kind",
			req:  CreateObligationRequest{CompanyID: "co_1", PayeeID: "payee_1", Kind: "bonus"},
			code: domain.ErrorCodeValidationFailed,
		},
		{
			name: "missing payload",
			req:  CreateObligationRequest{CompanyID: "co_1", PayeeID: "payee_1", Kind: domain.ObligationKindDividend, GrossAmountCents: 10},
			code: domain.ErrorCodeValidationFailed,
		},
		{
			name: "negative gross",
			req:  invoiceRequest(-1, nil),
			code: domain.ErrorCodeInvariantViolation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, domain.GetErrorCode(err))
		})
	}

	list, err := svc.ListByCompany(context.Background(), "co_1", ports.ObligationFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestApprove_CountsDistinctApprovers(t *testing.T) {
	svc, store := setupService(t, Config{})
	o := fixtures.NewInvoice("co_1", "payee_1", 10000).WithRequiredApprovals(2).Build()
	store.PutObligation(o)
	ctx := context.Background()

	res, err := svc.Approve(ctx, o.ID, "alice")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.False(t, res.Obligation.IsFullyApproved())

	res, err = svc.Approve(ctx, o.ID, "alice")
	require.NoError(t, err)
	assert.False(t, res.Changed, "same approver counts once")

	res, err = svc.Approve(ctx, o.ID, "bob")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.True(t, res.Obligation.IsFullyApproved())

	stored := store.Obligation(o.ID)
	assert.Equal(t, domain.ObligationStateApproved, stored.State)
	assert.ElementsMatch(t, []string{"alice", "bob"}, stored.Approvers)
}

func TestApprove_NoOpOnClosedObligations(t *testing.T) {
	for _, st := range []domain.ObligationState{domain.ObligationStateRejected, domain.ObligationStatePaid} {
		t.Run(string(st), func(t *testing.T) {
			svc, store := setupService(t, Config{})
			o := fixtures.NewInvoice("co_1", "payee_1", 10000).WithState(st).Build()
			store.PutObligation(o)

			res, err := svc.Approve(context.Background(), o.ID, "alice")

			require.NoError(t, err)
			assert.False(t, res.Changed)
			assert.Empty(t, store.Obligation(o.ID).Approvers)
		})
	}
}

func TestApprove_RollsBackOnPersistenceError(t *testing.T) {
	svc, store := setupService(t, Config{})
	o := fixtures.NewInvoice("co_1", "payee_1", 10000).Build()
	store.PutObligation(o)
	store.FailOn("obligations.Update", errors.New("connection reset"))

	_, err := svc.Approve(context.Background(), o.ID, "alice")

	require.Error(t, err)
	stored := store.Obligation(o.ID)
	assert.Equal(t, domain.ObligationStateReceived, stored.State)
	assert.Empty(t, stored.Approvers)
}

func TestApprove_NotFound(t *testing.T) {
	svc, _ := setupService(t, Config{})

	_, err := svc.Approve(context.Background(), "missing", "alice")

	assert.True(t, domain.IsNotFoundError(err))
}

func TestReject_ClearsApprovals(t *testing.T) {
	svc, store := setupService(t, Config{})
	o := fixtures.NewInvoice("co_1", "payee_1", 10000).Approved().Build()
	store.PutObligation(o)

	res, err := svc.Reject(context.Background(), o.ID, "duplicate invoice")

	require.NoError(t, err)
	assert.True(t, res.Changed)
	stored := store.Obligation(o.ID)
	assert.Equal(t, domain.ObligationStateRejected, stored.State)
	assert.Empty(t, stored.Approvers)
	require.NotNil(t, stored.RejectionReason)
	assert.Equal(t, "duplicate invoice", *stored.RejectionReason)

	res, err = svc.Reject(context.Background(), o.ID, "again")
	require.NoError(t, err)
	assert.False(t, res.Changed)
}

func TestReject_NotAllowedOncePaymentStarted(t *testing.T) {
	svc, store := setupService(t, Config{})
	o := fixtures.NewInvoice("co_1", "payee_1", 10000).WithState(domain.ObligationStateProcessing).Build()
	store.PutObligation(o)

	_, err := svc.Reject(context.Background(), o.ID, "too late")

	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestReject_RetainedAndFailedObligations(t *testing.T) {
	tests := []struct {
		name  string
		build func() *domain.Obligation
	}{
		{
			name: "retained in a sanctioned jurisdiction",
			build: func() *domain.Obligation {
				o := fixtures.NewDividend("co_1", "payee_1", 10000).Approved().Build()
				_, err := o.MarkRetained(domain.RetainedReasonSanctionedJurisdiction, testNow)
				require.NoError(t, err)
				return o
			},
		},
		{
			name: "failed and out of any batch",
			build: func() *domain.Obligation {
				return fixtures.NewInvoice("co_1", "payee_1", 10000).Approved().WithState(domain.ObligationStateFailed).Build()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := setupService(t, Config{})
			o := tt.build()
			store.PutObligation(o)

			res, err := svc.Reject(context.Background(), o.ID, "withdrawn by company")

			require.NoError(t, err)
			assert.True(t, res.Changed)
			stored := store.Obligation(o.ID)
			assert.Equal(t, domain.ObligationStateRejected, stored.State)
			assert.Nil(t, stored.RetainedReason)
			assert.Empty(t, stored.Approvers)
		})
	}
}

func TestReject_RefusedWhileRetryPaymentInFlight(t *testing.T) {
	svc, store := setupService(t, Config{})
	o := fixtures.NewDividend("co_1", "payee_1", 10000).Approved().WithState(domain.ObligationStateFailed).Build()
	store.PutObligation(o)
	store.PutPayment(&domain.Payment{
		ID:            "pay_retry",
		CompanyID:     "co_1",
		PayeeID:       "payee_1",
		Kind:          domain.ObligationKindDividend,
		State:         domain.PaymentStateInitialized,
		AmountCents:   10000,
		ObligationIDs: []string{o.ID},
	})

	_, err := svc.Reject(context.Background(), o.ID, "withdrawn")

	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, domain.ObligationStateFailed, store.Obligation(o.ID).State)
}

func TestReleaseRetention(t *testing.T) {
	svc, store := setupService(t, Config{})
	o := fixtures.NewInvoice("co_1", "payee_1", 10000).Approved().Build()
	_, err := o.MarkRetained(domain.RetainedReasonNoPayoutMethod, testNow)
	require.NoError(t, err)
	store.PutObligation(o)

	released, err := svc.ReleaseRetention(context.Background(), o.ID)

	require.NoError(t, err)
	assert.Equal(t, domain.ObligationStateApproved, released.State)
	assert.Nil(t, store.Obligation(o.ID).RetainedReason)

	_, err = svc.ReleaseRetention(context.Background(), o.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestListByCompany_Filters(t *testing.T) {
	svc, store := setupService(t, Config{})
	store.PutObligation(fixtures.NewInvoice("co_1", "payee_1", 100).Build())
	store.PutObligation(fixtures.NewInvoice("co_1", "payee_1", 200).Approved().Build())
	store.PutObligation(fixtures.NewDividend("co_1", "payee_1", 300).Build())
	store.PutObligation(fixtures.NewInvoice("co_2", "payee_9", 400).Build())

	kind := domain.ObligationKindInvoice
	list, err := svc.ListByCompany(context.Background(), "co_1", ports.ObligationFilter{Kind: &kind})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	state := domain.ObligationStateApproved
	list, err = svc.ListByCompany(context.Background(), "co_1", ports.ObligationFilter{State: &state})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(200), list[0].GrossAmountCents)

	got, err := svc.Get(context.Background(), list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, list[0].ID, got.ID)
}
