package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }

// TestCalculateSplit covers rounding, residue and floor-to-cash behaviour
func TestCalculateSplit(t *testing.T) {
	tests := []struct {
		name       string
		gross      int64
		percent    int
		sharePrice *int64
		expected   Split
	}{
		{
			name:       "sixty percent equity",
			gross:      72037,
			percent:    60,
			sharePrice: int64Ptr(234),
			expected:   Split{CashCents: 28815, EquityCents: 43222, EquityUnits: 185},
		},
		{
			name:       "sub-unit equity floors to cash",
			gross:      72037,
			percent:    1,
			sharePrice: int64Ptr(1490),
			expected:   Split{CashCents: 72037, FlooredToCash: true},
		},
		{
			name:       "zero percent is cash only",
			gross:      50000,
			percent:    0,
			sharePrice: int64Ptr(100),
			expected:   Split{CashCents: 50000},
		},
		{
			name:     "missing share price is cash only",
			gross:    50000,
			percent:  40,
			expected: Split{CashCents: 50000},
		},
		{
			name:       "non-positive share price is cash only",
			gross:      50000,
			percent:    40,
			sharePrice: int64Ptr(0),
			expected:   Split{CashCents: 50000},
		},
		{
			name:       "all equity",
			gross:      10000,
			percent:    100,
			sharePrice: int64Ptr(100),
			expected:   Split{CashCents: 0, EquityCents: 10000, EquityUnits: 100},
		},
		{
			name:       "half cent rounds up into equity",
			gross:      101,
			percent:    50,
			sharePrice: int64Ptr(10),
			expected:   Split{CashCents: 50, EquityCents: 51, EquityUnits: 5},
		},
		{
			name:       "half unit rounds up",
			gross:      234,
			percent:    50,
			sharePrice: int64Ptr(234),
			expected:   Split{CashCents: 117, EquityCents: 117, EquityUnits: 1},
		},
		{
			name:       "zero gross",
			gross:      0,
			percent:    50,
			sharePrice: int64Ptr(234),
			expected:   Split{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			split, err := CalculateSplit(tt.gross, tt.percent, tt.sharePrice)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, split)
			assert.Equal(t, tt.gross, split.CashCents+split.EquityCents)
		})
	}
}

// TestCalculateSplit_RejectsInvalidInput tests input validation
func TestCalculateSplit_RejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		gross   int64
		percent int
	}{
		{"negative gross", -1, 10},
		{"percent below zero", 100, -1},
		{"percent above hundred", 100, 101},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CalculateSplit(tt.gross, tt.percent, int64Ptr(100))
			require.Error(t, err)
			assert.True(t, IsDomainError(err, ErrorCodeInvariantViolation))
		})
	}
}

// TestCalculateSplit_SumsToGross sweeps every percent over a range of amounts
func TestCalculateSplit_SumsToGross(t *testing.T) {
	for _, gross := range []int64{0, 1, 99, 100, 72037, 1000000, 987654321} {
		for pct := 0; pct <= 100; pct++ {
			split, err := CalculateSplit(gross, pct, int64Ptr(234))
			require.NoError(t, err)
			require.Equal(t, gross, split.CashCents+split.EquityCents, "gross=%d pct=%d", gross, pct)
			if split.EquityCents > 0 {
				require.Positive(t, split.EquityUnits, "gross=%d pct=%d", gross, pct)
			} else {
				require.Zero(t, split.EquityUnits)
			}
		}
	}
}
