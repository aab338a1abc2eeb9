package domain

import (
	"time"
)

// TransferBucket normalizes the provider's transfer states
type TransferBucket string

const (
	TransferBucketSuccess      TransferBucket = "success"
	TransferBucketFailure      TransferBucket = "failure"
	TransferBucketIntermediate TransferBucket = "intermediate"
)

// Provider transfer states
const (
	TransferStateIncomingPaymentWaiting   = "incoming_payment_waiting"
	TransferStateIncomingPaymentInitiated = "incoming_payment_initiated"
	TransferStateProcessing               = "processing"
	TransferStateFundsConverted           = "funds_converted"
	TransferStateOutgoingPaymentSent      = "outgoing_payment_sent"
	TransferStateBouncedBack              = "bounced_back"
	TransferStateCancelled                = "cancelled"
	TransferStateFundsRefunded            = "funds_refunded"
	TransferStateChargedBack              = "charged_back"
)

// Provider webhook event types
const (
	EventTypeTransferStateChange = "transfers#state-change"
	EventTypeTransferRefund      = "transfers#refund"
)

// ClassifyTransferState maps a raw provider state to its bucket.
// Unknown states are treated as in transit.
func ClassifyTransferState(state string) TransferBucket {
	switch state {
	case TransferStateOutgoingPaymentSent:
		return TransferBucketSuccess
	case TransferStateCancelled, TransferStateFundsRefunded, TransferStateChargedBack:
		return TransferBucketFailure
	default:
		return TransferBucketIntermediate
	}
}

// TransferEvent is a provider status callback, tenant-scoped by ProfileID
type TransferEvent struct {
	OccurredAt   time.Time `json:"occurred_at" validate:"required"`
	ResourceID   string    `json:"resource_id" validate:"required"`
	ProfileID    string    `json:"profile_id" validate:"required"`
	CurrentState string    `json:"current_state" validate:"required"`
	EventType    string    `json:"event_type"`
}

// Bucket classifies the event's current state
func (e TransferEvent) Bucket() TransferBucket {
	return ClassifyTransferState(e.CurrentState)
}

// IsRefundOf reports whether the event refunds a payment that already succeeded
func (e TransferEvent) IsRefundOf(p *Payment) bool {
	if e.EventType == EventTypeTransferRefund {
		return true
	}
	return e.CurrentState == TransferStateFundsRefunded && p.State == PaymentStateSucceeded
}
