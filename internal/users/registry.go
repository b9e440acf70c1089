// Package users issues and tracks stable client identities. An id is
// generated exactly once per registration and never silently regenerated;
// callers treat an unknown id as an explicit unregistered state.
package users

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dtravers/tokenward/internal/database"
)

// Registry manages user ids.
type Registry struct {
	db *database.DB
}

// NewRegistry creates a user registry.
func NewRegistry(db *database.DB) *Registry {
	return &Registry{db: db}
}

// Register issues a new immutable user id and persists it.
func (r *Registry) Register(ctx context.Context) (string, error) {
	id := uuid.NewString()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, created_at) VALUES (?, ?)
	`, id, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to register user: %w", err)
	}

	return id, nil
}

// Exists reports whether the id belongs to a registered user.
func (r *Registry) Exists(ctx context.Context, userID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM users WHERE id = ?
	`, userID).Scan(&one)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("database error: %w", err)
	}
	return true, nil
}

// Erase hard-deletes the user and, via foreign keys, every credential and
// notification belonging to them. Only called on an explicit data-erasure
// request.
func (r *Registry) Erase(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to erase user: %w", err)
	}
	return nil
}
