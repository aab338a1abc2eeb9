package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

// TestFeeSchedule_FeeCents tests the default service fee formula
func TestFeeSchedule_FeeCents(t *testing.T) {
	tests := []struct {
		name     string
		gross    int64
		expected int64
	}{
		{"zero gross pays base fee", 0, 50},
		{"small invoice", 10000, 200},
		{"rounds half up", 100, 52},
		{"reaches cap", 96666, 1500},
		{"capped", 1000000, 1500},
		{"large invoice capped", 987654321, 1500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DefaultFeeSchedule.FeeCents(tt.gross))
		})
	}
}

// TestFeeSchedule_Uncapped tests a schedule without a cap
func TestFeeSchedule_Uncapped(t *testing.T) {
	schedule := FeeSchedule{BaseCents: 0, Rate: decimal.RequireFromString("0.01")}
	assert.Equal(t, int64(10000), schedule.FeeCents(1000000))
}
