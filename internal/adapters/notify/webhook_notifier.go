package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/kevin07696/payout-service/internal/domain"
	"github.com/kevin07696/payout-service/internal/domain/ports"
)

const (
	HeaderSignature = "X-Payout-Signature"
	HeaderEventType = "X-Payout-Event-Type"
	HeaderTimestamp = "X-Payout-Timestamp"
	HeaderDelivery  = "X-Payout-Delivery"
)

// DeliveryError is a non-2xx answer from the mailer
type DeliveryError struct {
	Body       string
	StatusCode int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("mailer returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Retriable reports whether the mailer may accept the same delivery later
func (e *DeliveryError) Retriable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

type envelope struct {
	Payload   map[string]interface{} `json:"payload"`
	PaymentID *string                `json:"payment_id,omitempty"`
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	PayeeID   string                 `json:"payee_id"`
	CreatedAt time.Time              `json:"created_at"`
}

// WebhookNotifier posts notifications to the mailer, signed with HMAC-SHA256
// over "timestamp.body".
type WebhookNotifier struct {
	httpClient ports.HTTPClient
	logger     ports.Logger
	now        func() time.Time
	url        string
	secret     string
}

// NewWebhookNotifier creates a notifier delivering to url
func NewWebhookNotifier(url, secret string, httpClient ports.HTTPClient, logger ports.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:        url,
		secret:     secret,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
	}
}

// Deliver sends one notification. The notification id is sent as the delivery
// id so the mailer can drop redeliveries.
func (n *WebhookNotifier) Deliver(ctx context.Context, notification *domain.Notification) error {
	payload, err := json.Marshal(envelope{
		ID:        notification.ID,
		Type:      string(notification.Type),
		PayeeID:   notification.PayeeID,
		PaymentID: notification.PaymentID,
		Payload:   notification.Payload,
		CreatedAt: notification.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	timestamp := strconv.FormatInt(n.now().Unix(), 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventType, string(notification.Type))
	req.Header.Set(HeaderDelivery, notification.ID)
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, Sign(n.secret, timestamp, payload))

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	n.logger.Debug("Notification delivered",
		ports.String("notification_id", notification.ID),
		ports.String("type", string(notification.Type)),
		ports.Int("status", resp.StatusCode))
	return nil
}

// Sign returns the hex HMAC-SHA256 of "timestamp.payload"
func Sign(secret, timestamp string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(timestamp))
	h.Write([]byte("."))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// LogNotifier only logs. Used when no mailer webhook is configured.
type LogNotifier struct {
	logger ports.Logger
}

// NewLogNotifier creates a notifier that logs every notification
func NewLogNotifier(logger ports.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Deliver logs the notification and reports success
func (n *LogNotifier) Deliver(_ context.Context, notification *domain.Notification) error {
	n.logger.Info("Notification (no mailer configured)",
		ports.String("notification_id", notification.ID),
		ports.String("type", string(notification.Type)),
		ports.String("payee_id", notification.PayeeID))
	return nil
}

var (
	_ ports.Notifier = (*WebhookNotifier)(nil)
	_ ports.Notifier = (*LogNotifier)(nil)
)
