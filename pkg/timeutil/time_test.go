package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNow_AlwaysUTC(t *testing.T) {
	assert.Equal(t, time.UTC, Now().Location())
}

func TestStartOfDay(t *testing.T) {
	newYork, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}

	tests := []struct {
		name  string
		input time.Time
		want  time.Time
	}{
		{"midnight", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"afternoon", time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC), time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"last nanosecond", time.Date(2024, 3, 15, 23, 59, 59, 999999999, time.UTC), time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"local evening is next UTC day", time.Date(2024, 3, 15, 21, 0, 0, 0, newYork), time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StartOfDay(tt.input)
			assert.True(t, tt.want.Equal(got), "got %v want %v", got, tt.want)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}
