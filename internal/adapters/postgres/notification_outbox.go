package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kevin07696/payout-service/internal/domain"
	"github.com/kevin07696/payout-service/internal/domain/ports"
)

// NotificationOutbox implements ports.NotificationOutbox on the notifications table
type NotificationOutbox struct {
	pool *pgxpool.Pool
}

// NewNotificationOutbox creates a new outbox
func NewNotificationOutbox(db ports.DBPort) *NotificationOutbox {
	return &NotificationOutbox{pool: db.GetDB()}
}

// Enqueue inserts a pending notification
func (r *NotificationOutbox) Enqueue(ctx context.Context, tx ports.DBTX, n *domain.Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	_, err = executor(r.pool, tx).Exec(ctx, `
		INSERT INTO notifications (id, payee_id, payment_id, type, status, payload, attempts, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8)`,
		n.ID, n.PayeeID, textPtr(n.PaymentID), string(n.Type), string(domain.NotificationStatusPending),
		payload, n.NextAttemptAt, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

// ClaimDue locks due rows; concurrent dispatchers skip each other's rows
func (r *NotificationOutbox) ClaimDue(ctx context.Context, tx ports.DBTX, now time.Time, limit int32) ([]*domain.Notification, error) {
	rows, err := executor(r.pool, tx).Query(ctx, `
		SELECT id, payee_id, payment_id::text, type, status, payload, attempts, last_error,
		       next_attempt_at, delivered_at, created_at
		FROM notifications
		WHERE status = 'pending' AND next_attempt_at <= $1
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim notifications: %w", err)
	}
	defer rows.Close()

	var out []*domain.Notification
	for rows.Next() {
		var (
			n                  domain.Notification
			typ, status        string
			paymentID, lastErr pgtype.Text
			delivered          pgtype.Timestamptz
			payload            []byte
		)
		if err := rows.Scan(&n.ID, &n.PayeeID, &paymentID, &typ, &status, &payload, &n.Attempts, &lastErr,
			&n.NextAttemptAt, &delivered, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Type = domain.NotificationType(typ)
		n.Status = domain.NotificationStatus(status)
		n.PaymentID = stringFromText(paymentID)
		n.LastError = stringFromText(lastErr)
		n.DeliveredAt = timeFromTimestamptz(delivered)
		if err := json.Unmarshal(payload, &n.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal notification payload: %w", err)
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// MarkDelivered records a successful delivery
func (r *NotificationOutbox) MarkDelivered(ctx context.Context, tx ports.DBTX, id string, at time.Time) error {
	_, err := executor(r.pool, tx).Exec(ctx, `
		UPDATE notifications
		SET status = 'delivered', delivered_at = $2, attempts = attempts + 1, last_error = NULL
		WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark notification delivered: %w", err)
	}
	return nil
}

// MarkAttemptFailed schedules a retry, or fails the row permanently when next is nil
func (r *NotificationOutbox) MarkAttemptFailed(ctx context.Context, tx ports.DBTX, id string, errMsg string, next *time.Time) error {
	var err error
	if next == nil {
		_, err = executor(r.pool, tx).Exec(ctx, `
			UPDATE notifications SET status = 'failed', attempts = attempts + 1, last_error = $2
			WHERE id = $1`, id, errMsg)
	} else {
		_, err = executor(r.pool, tx).Exec(ctx, `
			UPDATE notifications SET attempts = attempts + 1, last_error = $2, next_attempt_at = $3
			WHERE id = $1`, id, errMsg, *next)
	}
	if err != nil {
		return fmt.Errorf("mark notification attempt failed: %w", err)
	}
	return nil
}
