package mocks

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/kevin07696/payout-service/internal/domain"
	"github.com/kevin07696/payout-service/internal/domain/ports"
)

// MockTransferProvider mocks ports.TransferProvider
type MockTransferProvider struct {
	mock.Mock
	Profile string
}

func (m *MockTransferProvider) ProfileID() string {
	return m.Profile
}

func (m *MockTransferProvider) CreateQuote(ctx context.Context, req ports.QuoteRequest) (*ports.Quote, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.Quote), args.Error(1)
}

func (m *MockTransferProvider) CreateTransfer(ctx context.Context, req ports.TransferRequest) (*ports.Transfer, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.Transfer), args.Error(1)
}

func (m *MockTransferProvider) FundTransfer(ctx context.Context, transferID string) (*ports.FundResult, error) {
	args := m.Called(ctx, transferID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.FundResult), args.Error(1)
}

func (m *MockTransferProvider) GetTransfer(ctx context.Context, transferID string) (*ports.Transfer, error) {
	args := m.Called(ctx, transferID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.Transfer), args.Error(1)
}

func (m *MockTransferProvider) GetDeliveryEstimate(ctx context.Context, transferID string) (time.Time, error) {
	args := m.Called(ctx, transferID)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *MockTransferProvider) GetBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	args := m.Called(ctx, currency)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

// MockNotifier mocks ports.Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Deliver(ctx context.Context, n *domain.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

// MockCredentialStore mocks ports.CredentialStore
type MockCredentialStore struct {
	mock.Mock
}

func (m *MockCredentialStore) GetSecret(ctx context.Context, path string) (string, error) {
	args := m.Called(ctx, path)
	return args.String(0), args.Error(1)
}
