package ports

import (
	"context"

	"github.com/kevin07696/payout-service/internal/domain"
)

// Notifier delivers one notification to the mailer collaborator
type Notifier interface {
	Deliver(ctx context.Context, n *domain.Notification) error
}
