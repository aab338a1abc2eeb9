package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevin07696/payout-service/internal/adapters/lock"
	"github.com/kevin07696/payout-service/internal/domain"
	"github.com/kevin07696/payout-service/internal/testutil/fakes"
	"github.com/kevin07696/payout-service/internal/testutil/fixtures"
	"github.com/kevin07696/payout-service/internal/testutil/mocks"
)

var testNow = time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)

func setupAggregator(t *testing.T) (*Aggregator, *fakes.Store) {
	t.Helper()
	store := fakes.NewStore()
	store.PutCompany(domain.Company{ID: "co_1", Name: "Acme", Active: true, RequiredApprovals: 1})

	agg := NewAggregator(store, store.ObligationRepo(), store.BatchRepo(), store.Companies(), store.Payees(),
		lock.NewMemoryLocker(lock.DefaultRetryPolicy()), 5*time.Second, mocks.NoopLogger{})
	agg.now = func() time.Time { return testNow }
	return agg, store
}

func TestRun_BatchesPayableInvoices(t *testing.T) {
	agg, store := setupAggregator(t)
	early := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	a := fixtures.NewInvoice("co_1", "payee_1", 100000).WithDate(late).Approved().Build()
	b := fixtures.NewInvoice("co_1", "payee_2", 1000000).WithDate(early).Approved().Build()
	failed := fixtures.NewInvoice("co_1", "payee_3", 5000).WithState(domain.ObligationStateFailed).Build()
	received := fixtures.NewInvoice("co_1", "payee_4", 7000).Build()
	dividend := fixtures.NewDividend("co_1", "payee_5", 9000).Approved().Build()
	for _, o := range []*domain.Obligation{a, b, failed, received, dividend} {
		store.PutObligation(o)
	}

	res, err := agg.Run(context.Background(), AggregateRequest{CompanyID: "co_1"})

	require.NoError(t, err)
	require.False(t, res.NothingToDo)
	batch := res.Batch
	assert.Equal(t, domain.BatchStateSent, batch.State)
	assert.ElementsMatch(t, []string{a.ID, b.ID, failed.ID}, batch.ObligationIDs)
	assert.Equal(t, int64(100000+1000000+5000), batch.PrincipalCents)
	assert.Equal(t, int64(1500+1500+125), batch.FeeCents)
	assert.Equal(t, batch.PrincipalCents+batch.FeeCents, batch.TotalCents)
	assert.Equal(t, early, batch.PeriodStart)
	assert.Equal(t, late, batch.PeriodEnd)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), batch.InvoiceDate)

	for _, id := range batch.ObligationIDs {
		o := store.Obligation(id)
		assert.Equal(t, domain.ObligationStatePaymentPending, o.State)
		require.NotNil(t, o.BatchID)
		assert.Equal(t, batch.ID, *o.BatchID)
	}
	assert.Equal(t, domain.ObligationStateReceived, store.Obligation(received.ID).State)
	assert.Nil(t, store.Obligation(dividend.ID).BatchID)
}

func TestRun_NothingToDo(t *testing.T) {
	agg, store := setupAggregator(t)
	store.PutObligation(fixtures.NewInvoice("co_1", "payee_1", 100).Build())

	res, err := agg.Run(context.Background(), AggregateRequest{CompanyID: "co_1"})

	require.NoError(t, err)
	assert.True(t, res.NothingToDo)
	assert.Empty(t, store.Batches())
}

func TestRun_InactiveCompanyIsFatal(t *testing.T) {
	agg, store := setupAggregator(t)
	store.PutCompany(domain.Company{ID: "co_2", Active: false, RequiredApprovals: 1})
	store.PutObligation(fixtures.NewInvoice("co_2", "payee_1", 100000).Approved().Build())

	_, err := agg.Run(context.Background(), AggregateRequest{CompanyID: "co_2"})

	require.ErrorIs(t, err, domain.ErrCompanyInactive)
	assert.True(t, domain.IsFatal(err))
	assert.Empty(t, store.Batches())
}

func TestRun_SkipsUnlockedEquityElections(t *testing.T) {
	agg, store := setupAggregator(t)
	equity := fixtures.NewInvoice("co_1", "payee_1", 72037).WithSplit(28815, 43222, 185).Approved().Build()
	store.PutObligation(equity)
	store.PutElection(domain.EquityElection{PayeeID: "payee_1", CompanyID: "co_1", Year: 2024, EquityPercent: 60, Locked: false})

	res, err := agg.Run(context.Background(), AggregateRequest{CompanyID: "co_1"})
	require.NoError(t, err)
	assert.True(t, res.NothingToDo)

	store.PutElection(domain.EquityElection{PayeeID: "payee_1", CompanyID: "co_1", Year: 2024, EquityPercent: 60, Locked: true})

	res, err = agg.Run(context.Background(), AggregateRequest{CompanyID: "co_1"})
	require.NoError(t, err)
	require.NotNil(t, res.Batch)
	assert.Equal(t, int64(28815), res.Batch.PrincipalCents, "equity is never charged to the company")
}

func TestRun_ExplicitSelection(t *testing.T) {
	agg, store := setupAggregator(t)
	a := fixtures.NewInvoice("co_1", "payee_1", 1000).Approved().Build()
	b := fixtures.NewInvoice("co_1", "payee_2", 2000).Approved().Build()
	store.PutObligation(a)
	store.PutObligation(b)

	res, err := agg.Run(context.Background(), AggregateRequest{CompanyID: "co_1", ObligationIDs: []string{a.ID, a.ID}})

	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, res.Batch.ObligationIDs)
	assert.Nil(t, store.Obligation(b.ID).BatchID)
}

func TestRun_ExplicitSelectionAbortsOnUnchargeable(t *testing.T) {
	tests := []struct {
		name  string
		build func(store *fakes.Store) string
	}{
		{
			name: "not approved",
			build: func(store *fakes.Store) string {
				o := fixtures.NewInvoice("co_1", "payee_1", 1000).Build()
				store.PutObligation(o)
				return o.ID
			},
		},
		{
			name: "other company",
			build: func(store *fakes.Store) string {
				o := fixtures.NewInvoice("co_9", "payee_1", 1000).Approved().Build()
				store.PutObligation(o)
				return o.ID
			},
		},
		{
			name: "dividend",
			build: func(store *fakes.Store) string {
				o := fixtures.NewDividend("co_1", "payee_1", 1000).Approved().Build()
				store.PutObligation(o)
				return o.ID
			},
		},
		{
			name: "already batched",
			build: func(store *fakes.Store) string {
				o := fixtures.NewInvoice("co_1", "payee_1", 1000).Approved().WithBatch("other").Build()
				store.PutObligation(o)
				return o.ID
			},
		},
		{
			name:  "missing",
			build: func(*fakes.Store) string { return "6f1c1bb4-3bd5-4d41-9d0b-5c5f43c1e2a1" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg, store := setupAggregator(t)
			good := fixtures.NewInvoice("co_1", "payee_1", 5000).Approved().Build()
			store.PutObligation(good)
			bad := tt.build(store)

			_, err := agg.Run(context.Background(), AggregateRequest{CompanyID: "co_1", ObligationIDs: []string{good.ID, bad}})

			require.ErrorIs(t, err, domain.ErrObligationNotChargeable)
			assert.Empty(t, store.Batches())
			assert.Nil(t, store.Obligation(good.ID).BatchID)
			assert.Equal(t, domain.ObligationStateApproved, store.Obligation(good.ID).State)
		})
	}
}

func TestRun_InvariantViolationAborts(t *testing.T) {
	agg, store := setupAggregator(t)
	good := fixtures.NewInvoice("co_1", "payee_1", 5000).Approved().Build()
	broken := fixtures.NewInvoice("co_1", "payee_2", 5000).WithSplit(4000, 0, 0).Approved().Build()
	store.PutObligation(good)
	store.PutObligation(broken)

	_, err := agg.Run(context.Background(), AggregateRequest{CompanyID: "co_1"})

	require.ErrorIs(t, err, domain.ErrInvariantViolation)
	assert.Empty(t, store.Batches())
	assert.Nil(t, store.Obligation(good.ID).BatchID)
}

func TestRun_RollsBackOnPersistenceError(t *testing.T) {
	agg, store := setupAggregator(t)
	a := fixtures.NewInvoice("co_1", "payee_1", 5000).Approved().Build()
	store.PutObligation(a)
	store.FailOn("obligations.Update", errors.New("deadlock detected"))

	_, err := agg.Run(context.Background(), AggregateRequest{CompanyID: "co_1"})

	require.Error(t, err)
	assert.Empty(t, store.Batches())
	assert.Equal(t, domain.ObligationStateApproved, store.Obligation(a.ID).State)

	store.ClearFaults()
	res, err := agg.Run(context.Background(), AggregateRequest{CompanyID: "co_1"})
	require.NoError(t, err)
	assert.NotNil(t, res.Batch)
}

func TestRun_LockTimeoutCreatesNothing(t *testing.T) {
	store := fakes.NewStore()
	store.PutCompany(domain.Company{ID: "co_1", Active: true, RequiredApprovals: 1})
	store.PutObligation(fixtures.NewInvoice("co_1", "payee_1", 5000).Approved().Build())

	locker := new(mocks.MockLocker)
	locker.On("WithLock", LockKey("co_1")).Return(domain.ErrLockTimeout)

	agg := NewAggregator(store, store.ObligationRepo(), store.BatchRepo(), store.Companies(), store.Payees(),
		locker, time.Second, mocks.NoopLogger{})

	_, err := agg.Run(context.Background(), AggregateRequest{CompanyID: "co_1"})

	assert.ErrorIs(t, err, domain.ErrLockTimeout)
	assert.Empty(t, store.Batches())
}

func TestRun_ConcurrentRunsChargeEachObligationOnce(t *testing.T) {
	agg, store := setupAggregator(t)
	var ids []string
	for i := 0; i < 20; i++ {
		o := fixtures.NewInvoice("co_1", "payee_1", int64(1000+i)).Approved().Build()
		store.PutObligation(o)
		ids = append(ids, o.ID)
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := agg.Run(context.Background(), AggregateRequest{CompanyID: "co_1"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	batches := store.Batches()
	require.Len(t, batches, 1)
	assert.ElementsMatch(t, ids, batches[0].ObligationIDs)
}

func TestRunAll_ContinuesPastFailures(t *testing.T) {
	agg, store := setupAggregator(t)
	store.PutCompany(domain.Company{ID: "co_2", Active: true, RequiredApprovals: 1})
	store.PutCompany(domain.Company{ID: "co_3", Active: false, RequiredApprovals: 1})
	store.PutObligation(fixtures.NewInvoice("co_1", "payee_1", 5000).Approved().Build())
	store.PutObligation(fixtures.NewInvoice("co_2", "payee_2", 5000).WithSplit(1, 0, 0).Approved().Build())

	runs, err := agg.RunAll(context.Background())

	require.NoError(t, err)
	require.Len(t, runs, 2, "inactive companies are not swept")
	assert.Equal(t, "co_1", runs[0].CompanyID)
	assert.NoError(t, runs[0].Err)
	assert.NotNil(t, runs[0].Result.Batch)
	assert.Equal(t, "co_2", runs[1].CompanyID)
	assert.ErrorIs(t, runs[1].Err, domain.ErrInvariantViolation)
}
