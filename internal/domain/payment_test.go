package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestClassifyTransferState tests bucket mapping
func TestClassifyTransferState(t *testing.T) {
	tests := []struct {
		state    string
		expected TransferBucket
	}{
		{TransferStateOutgoingPaymentSent, TransferBucketSuccess},
		{TransferStateCancelled, TransferBucketFailure},
		{TransferStateFundsRefunded, TransferBucketFailure},
		{TransferStateChargedBack, TransferBucketFailure},
		{TransferStateBouncedBack, TransferBucketIntermediate},
		{TransferStateProcessing, TransferBucketIntermediate},
		{TransferStateFundsConverted, TransferBucketIntermediate},
		{TransferStateIncomingPaymentWaiting, TransferBucketIntermediate},
		{"something_new", TransferBucketIntermediate},
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyTransferState(tt.state))
		})
	}
}

// TestPayment_Transition tests monotonic payment transitions
func TestPayment_Transition(t *testing.T) {
	p := &Payment{State: PaymentStateInitialized}

	assert.True(t, p.Transition(PaymentStateProcessing, testNow))
	assert.False(t, p.Transition(PaymentStateProcessing, testNow))
	assert.True(t, p.Transition(PaymentStateSucceeded, testNow))
	assert.False(t, p.Transition(PaymentStateSucceeded, testNow), "duplicate success is a no-op")
	assert.False(t, p.Transition(PaymentStateFailed, testNow), "success never regresses to failed")
	assert.True(t, p.Transition(PaymentStateRefunded, testNow))
	assert.False(t, p.Transition(PaymentStateProcessing, testNow))
	assert.True(t, PaymentStateRefunded.IsTerminal())
}

// TestPayment_Fail tests failure bookkeeping
func TestPayment_Fail(t *testing.T) {
	p := &Payment{State: PaymentStateInitialized}
	require.True(t, p.Fail("quote rejected", testNow))
	assert.Equal(t, PaymentStateFailed, p.State)
	assert.Equal(t, "quote rejected", *p.FailureReason)
	assert.False(t, p.Fail("again", testNow))
	assert.Equal(t, "quote rejected", *p.FailureReason)
}

// TestPayment_RecordTransferStatus tests raw status is always overwritten
func TestPayment_RecordTransferStatus(t *testing.T) {
	p := &Payment{State: PaymentStateSucceeded}
	p.RecordTransferStatus(TransferStateOutgoingPaymentSent)
	p.RecordTransferStatus(TransferStateProcessing)
	assert.Equal(t, TransferStateProcessing, *p.TransferStatus)
	assert.Equal(t, TransferBucketIntermediate, *p.TransferBucket)
}

// TestTransferEvent_IsRefundOf tests refund detection
func TestTransferEvent_IsRefundOf(t *testing.T) {
	succeeded := &Payment{State: PaymentStateSucceeded}
	processing := &Payment{State: PaymentStateProcessing}

	assert.True(t, TransferEvent{CurrentState: TransferStateFundsRefunded}.IsRefundOf(succeeded))
	assert.False(t, TransferEvent{CurrentState: TransferStateFundsRefunded}.IsRefundOf(processing))
	assert.True(t, TransferEvent{CurrentState: TransferStateCancelled, EventType: EventTypeTransferRefund}.IsRefundOf(processing))
	assert.False(t, TransferEvent{CurrentState: TransferStateCancelled}.IsRefundOf(succeeded))
}

// TestJurisdictionRule_Withhold tests dividend withholding
func TestJurisdictionRule_Withhold(t *testing.T) {
	rule := JurisdictionRule{Treatment: JurisdictionWithholding, WithholdingPercent: 30}
	net, withheld := rule.Withhold(10001)
	assert.Equal(t, int64(3000), withheld)
	assert.Equal(t, int64(7001), net)

	net, withheld = DefaultJurisdictionRule("US").Withhold(10001)
	assert.Equal(t, int64(10001), net)
	assert.Zero(t, withheld)
}
