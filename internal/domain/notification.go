package domain

import "time"

// NotificationType identifies the message sent to a payee
type NotificationType string

const (
	NotificationPaymentSucceeded NotificationType = "payment_succeeded"
	NotificationPaymentFailed    NotificationType = "payment_failed"
	NotificationRecipientInvalid NotificationType = "recipient_invalid"
)

// NotificationStatus tracks outbox delivery
type NotificationStatus string

const (
	NotificationStatusPending   NotificationStatus = "pending"
	NotificationStatusDelivered NotificationStatus = "delivered"
	NotificationStatusFailed    NotificationStatus = "failed"
)

// Notification is an outbox row written in the same transaction as the
// state change it announces.
type Notification struct {
	NextAttemptAt time.Time              `json:"next_attempt_at"`
	CreatedAt     time.Time              `json:"created_at"`
	DeliveredAt   *time.Time             `json:"delivered_at,omitempty"`
	PaymentID     *string                `json:"payment_id,omitempty"`
	LastError     *string                `json:"last_error,omitempty"`
	Payload       map[string]interface{} `json:"payload"`
	ID            string                 `json:"id"`
	PayeeID       string                 `json:"payee_id"`
	Type          NotificationType       `json:"type"`
	Status        NotificationStatus     `json:"status"`
	Attempts      int                    `json:"attempts"`
}

// NewNotification builds a pending notification due immediately
func NewNotification(id, payeeID string, t NotificationType, paymentID *string, payload map[string]interface{}, at time.Time) *Notification {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return &Notification{
		ID:            id,
		PayeeID:       payeeID,
		Type:          t,
		PaymentID:     paymentID,
		Payload:       payload,
		Status:        NotificationStatusPending,
		CreatedAt:     at,
		NextAttemptAt: at,
	}
}
