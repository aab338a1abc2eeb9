package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kevin07696/payout-service/internal/domain"
	"github.com/kevin07696/payout-service/internal/services/reconcile"
	"github.com/kevin07696/payout-service/internal/testutil/mocks"
	"github.com/kevin07696/payout-service/pkg/crypto"
)

type mockProcessor struct {
	mock.Mock
}

func (m *mockProcessor) Process(ctx context.Context, ev domain.TransferEvent) (*reconcile.ReconcileResult, error) {
	args := m.Called(ctx, ev)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconcile.ReconcileResult), args.Error(1)
}

const stateChangeBody = `{
  "data": {
    "resource": {"type": "transfer", "id": 16521632, "profile_id": 217896, "account_id": 0},
    "current_state": "outgoing_payment_sent",
    "previous_state": "processing",
    "occurred_at": "2024-03-22T09:30:00Z"
  },
  "subscription_id": "f2264fe5-a0f5-4dab-a1a5-3a5d26e3d6d3",
  "event_type": "transfers#state-change",
  "schema_version": "2.0.0",
  "sent_at": "2024-03-22T09:30:01Z"
}`

func post(h *TransferHandler, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/transfers", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.HandleTransferEvent(rec, req)
	return rec
}

func TestHandleTransferEvent_MapsEnvelope(t *testing.T) {
	processor := new(mockProcessor)
	want := domain.TransferEvent{
		ResourceID:   "16521632",
		ProfileID:    "217896",
		CurrentState: domain.TransferStateOutgoingPaymentSent,
		OccurredAt:   time.Date(2024, 3, 22, 9, 30, 0, 0, time.UTC),
		EventType:    domain.EventTypeTransferStateChange,
	}
	processor.On("Process", mock.Anything, want).Return(&reconcile.ReconcileResult{
		PaymentID: "pay_1",
		Bucket:    domain.TransferBucketSuccess,
		Effect:    reconcile.EffectTransitioned,
	}, nil)

	rec := post(NewTransferHandler(processor, nil, mocks.NoopLogger{}), stateChangeBody, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"effect":"transitioned"`)
	processor.AssertExpectations(t)
}

func TestHandleTransferEvent_RefundWithoutState(t *testing.T) {
	processor := new(mockProcessor)
	processor.On("Process", mock.Anything, mock.MatchedBy(func(ev domain.TransferEvent) bool {
		return ev.EventType == domain.EventTypeTransferRefund && ev.CurrentState == domain.TransferStateFundsRefunded
	})).Return(&reconcile.ReconcileResult{Effect: reconcile.EffectTransitioned}, nil)

	body := `{"data":{"resource":{"id":1,"profile_id":2},"occurred_at":"2024-03-22T09:30:00Z"},"event_type":"transfers#refund"}`
	rec := post(NewTransferHandler(processor, nil, mocks.NoopLogger{}), body, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	processor.AssertExpectations(t)
}

func TestHandleTransferEvent_MalformedBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"missing resource id", `{"data":{"resource":{"profile_id":2},"current_state":"processing","occurred_at":"2024-03-22T09:30:00Z"},"event_type":"transfers#state-change"}`},
		{"missing occurred_at", `{"data":{"resource":{"id":1,"profile_id":2},"current_state":"processing"},"event_type":"transfers#state-change"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processor := new(mockProcessor)
			rec := post(NewTransferHandler(processor, nil, mocks.NoopLogger{}), tt.body, nil)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "MALFORMED_EVENT")
			processor.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
		})
	}
}

func TestHandleTransferEvent_VerifiesSignature(t *testing.T) {
	kp, err := crypto.GenerateRSAKeyPair()
	require.NoError(t, err)
	priv, err := crypto.ParsePrivateKey(kp.PrivateKeyPEM)
	require.NoError(t, err)
	pub, err := crypto.ParsePublicKey(kp.PublicKeyPEM)
	require.NoError(t, err)

	processor := new(mockProcessor)
	processor.On("Process", mock.Anything, mock.Anything).Return(&reconcile.ReconcileResult{Effect: reconcile.EffectDuplicate}, nil)
	h := NewTransferHandler(processor, pub, mocks.NoopLogger{})

	sig, err := crypto.SignSHA256(priv, []byte(stateChangeBody))
	require.NoError(t, err)

	rec := post(h, stateChangeBody, map[string]string{SignatureHeader: sig})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = post(h, stateChangeBody, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(h, strings.Replace(stateChangeBody, "217896", "999999", 1), map[string]string{SignatureHeader: sig})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	processor.AssertNumberOfCalls(t, "Process", 1)
}

func TestHandleTransferEvent_ProcessingErrorIsRetriedByProvider(t *testing.T) {
	processor := new(mockProcessor)
	processor.On("Process", mock.Anything, mock.Anything).Return(nil, domain.ErrProviderError)

	rec := post(NewTransferHandler(processor, nil, mocks.NoopLogger{}), stateChangeBody, nil)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
