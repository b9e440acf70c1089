// Package notifications provides the durable per-user reminder mailbox.
// Delivery is pull-based: the client fetches pending items and acknowledges
// them by id, so the queue only promises at-least-once delivery and FIFO
// order within a single user's mailbox.
package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dtravers/tokenward/internal/database"
)

// ErrStorage wraps backing-store failures. Callers surface it and apply
// their own retry policy; it is never swallowed here.
var ErrStorage = errors.New("notification storage error")

// Notification is one pending or delivered reminder.
type Notification struct {
	ID          int64           `json:"id"`
	UserID      string          `json:"user_id"`
	Title       string          `json:"title"`
	Body        string          `json:"body"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	DeliveredAt *time.Time      `json:"delivered_at,omitempty"`
}

// Queue is the durable notification mailbox.
type Queue struct {
	db *database.DB
}

// NewQueue creates a notification queue.
func NewQueue(db *database.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue durably appends a reminder to the user's mailbox and returns its
// monotonic id.
func (q *Queue) Enqueue(ctx context.Context, userID, title, body, kind string, payload json.RawMessage) (int64, error) {
	var payloadStr interface{}
	if len(payload) > 0 {
		payloadStr = string(payload)
	}

	res, err := q.db.ExecContext(ctx, `
		INSERT INTO notifications (user_id, title, body, kind, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, userID, title, body, kind, payloadStr, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return id, nil
}

// FetchPending returns the user's undelivered notifications in creation
// order, oldest first. It does not mutate delivery state: a client crash
// between fetch and acknowledge must not lose anything.
func (q *Queue) FetchPending(ctx context.Context, userID string) ([]Notification, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, title, body, kind, payload, created_at
		FROM notifications
		WHERE user_id = ? AND delivered_at IS NULL
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		var payload *string
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Body, &n.Kind, &payload, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		if payload != nil {
			n.Payload = json.RawMessage(*payload)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return out, nil
}

// ackChunkSize keeps each statement under SQLite's bound-variable limit.
const ackChunkSize = 500

// Acknowledge marks the given ids delivered. Idempotent: ids already
// delivered, unknown, or belonging to another user are silently skipped.
// Large batches are applied in chunks; a failure mid-batch leaves earlier
// chunks acknowledged, which idempotency makes safe to retry.
func (q *Queue) Acknowledge(ctx context.Context, userID string, ids []int64) error {
	now := time.Now().UTC()

	for len(ids) > 0 {
		chunk := ids
		if len(chunk) > ackChunkSize {
			chunk = chunk[:ackChunkSize]
		}
		ids = ids[len(chunk):]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]interface{}, 0, len(chunk)+2)
		args = append(args, now, userID)
		for _, id := range chunk {
			args = append(args, id)
		}

		_, err := q.db.ExecContext(ctx, fmt.Sprintf(`
			UPDATE notifications SET delivered_at = ?
			WHERE user_id = ? AND id IN (%s) AND delivered_at IS NULL
		`, placeholders), args...)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStorage, err)
		}
	}
	return nil
}

// PurgeExpired deletes notifications older than the retention window,
// delivered or not. Returns the number of rows removed.
func (q *Queue) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)

	res, err := q.db.ExecContext(ctx, `
		DELETE FROM notifications WHERE created_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	rows, _ := res.RowsAffected()
	return rows, nil
}
