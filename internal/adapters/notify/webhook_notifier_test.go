package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevin07696/payout-service/internal/domain"
	"github.com/kevin07696/payout-service/internal/testutil/fixtures"
	"github.com/kevin07696/payout-service/internal/testutil/mocks"
)

func testNotification() *domain.Notification {
	return &domain.Notification{
		ID:        "11111111-1111-1111-1111-111111111111",
		PayeeID:   "payee_1",
		PaymentID: fixtures.StringPtr("pay_1"),
		Type:      domain.NotificationPaymentSucceeded,
		Status:    domain.NotificationStatusPending,
		Payload:   map[string]interface{}{"amount_cents": float64(125000)},
		CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestWebhookNotifier_DeliverSignsPayload(t *testing.T) {
	var (
		gotBody    []byte
		gotHeaders http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, "shh", server.Client(), mocks.NoopLogger{})
	n.now = func() time.Time { return time.Unix(1709294400, 0) }

	require.NoError(t, n.Deliver(context.Background(), testNotification()))

	assert.Equal(t, "1709294400", gotHeaders.Get(HeaderTimestamp))
	assert.Equal(t, "payment_succeeded", gotHeaders.Get(HeaderEventType))
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", gotHeaders.Get(HeaderDelivery))
	assert.Equal(t, Sign("shh", "1709294400", gotBody), gotHeaders.Get(HeaderSignature))

	var env map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &env))
	assert.Equal(t, "payee_1", env["payee_id"])
	assert.Equal(t, "pay_1", env["payment_id"])
}

func TestWebhookNotifier_Non2xx(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retriable bool
	}{
		{"bad request", http.StatusBadRequest, false},
		{"throttled", http.StatusTooManyRequests, true},
		{"unavailable", http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("nope"))
			}))
			defer server.Close()

			n := NewWebhookNotifier(server.URL, "shh", server.Client(), mocks.NoopLogger{})
			err := n.Deliver(context.Background(), testNotification())

			var de *DeliveryError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, tt.status, de.StatusCode)
			assert.Equal(t, "nope", de.Body)
			assert.Equal(t, tt.retriable, de.Retriable())
		})
	}
}

func TestSign_DependsOnTimestamp(t *testing.T) {
	body := []byte(`{"a":1}`)
	assert.NotEqual(t, Sign("k", "1", body), Sign("k", "2", body))
	assert.Equal(t, Sign("k", "1", body), Sign("k", "1", body))
}

func TestLogNotifier(t *testing.T) {
	logger := mocks.NewMockLogger()
	require.NoError(t, NewLogNotifier(logger).Deliver(context.Background(), testNotification()))
	assert.Len(t, logger.InfoCalls, 1)
}
