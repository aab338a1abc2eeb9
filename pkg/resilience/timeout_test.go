package resilience

import (
	"context"
	"testing"
	"time"
)

func TestDefaultTimeoutConfig_Hierarchy(t *testing.T) {
	tc := DefaultTimeoutConfig()

	if tc.LockWait >= tc.CronJob {
		t.Errorf("LockWait (%v) must be shorter than CronJob (%v)", tc.LockWait, tc.CronJob)
	}
	if tc.NotificationDelivery >= tc.HTTPHandler {
		t.Errorf("NotificationDelivery (%v) must be shorter than HTTPHandler (%v)", tc.NotificationDelivery, tc.HTTPHandler)
	}
}

func TestTimeoutConfig_Contexts(t *testing.T) {
	tc := &TimeoutConfig{
		HTTPHandler:          time.Second,
		CronJob:              2 * time.Second,
		NotificationDelivery: 500 * time.Millisecond,
	}

	tests := []struct {
		name string
		fn   func(context.Context) (context.Context, context.CancelFunc)
		want time.Duration
	}{
		{"handler", tc.HandlerContext, time.Second},
		{"cron", tc.CronContext, 2 * time.Second},
		{"notification", tc.NotificationContext, 500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := tt.fn(context.Background())
			defer cancel()

			deadline, ok := ctx.Deadline()
			if !ok {
				t.Fatal("expected a deadline")
			}
			if remaining := time.Until(deadline); remaining > tt.want || remaining < tt.want-100*time.Millisecond {
				t.Errorf("remaining = %v, want ~%v", remaining, tt.want)
			}
		})
	}
}
