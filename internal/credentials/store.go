// Package credentials provides the durable, encrypted credential store.
package credentials

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dtravers/tokenward/internal/crypto"
	"github.com/dtravers/tokenward/internal/database"
	"github.com/dtravers/tokenward/internal/util"
)

// Record is the decrypted-on-read view of one (user, provider) credential.
// Secrets only live for the duration of the call that requested them.
type Record struct {
	UserID          string
	Provider        string
	AccessSecret    []byte
	RefreshSecret   []byte
	TokenKind       string
	ExpiresAt       time.Time
	CreatedAt       time.Time
	LastRefreshedAt sql.NullTime
	LastUsedAt      sql.NullTime
	Scope           string
	Active          bool
}

// Metadata is the secret-free view used by the scheduler and status surface.
type Metadata struct {
	UserID          string
	Provider        string
	ExpiresAt       time.Time
	LastRefreshedAt sql.NullTime
	Active          bool
}

// Store persists credentials, encrypting secrets through the vault before
// any byte reaches disk. All mutations are committed before returning.
type Store struct {
	db    *database.DB
	vault *crypto.Vault
}

// NewStore creates a credential store.
func NewStore(db *database.DB, vault *crypto.Vault) *Store {
	return &Store{
		db:    db,
		vault: vault,
	}
}

// Put upserts a credential record from an authorization hand-off. A prior
// record for the same key is overwritten in a single atomic statement; its
// created_at is preserved and the write reactivates a soft-deleted record.
// last_refreshed_at is cleared: this is new material from the user, not a
// refresh. The scheduler persists through UpdateSecrets instead.
func (s *Store) Put(ctx context.Context, userID, provider string, access, refresh []byte, tokenKind string, expiresAt time.Time, scope string) error {
	if expiresAt.IsZero() {
		return fmt.Errorf("expires_at must be set")
	}
	if tokenKind == "" {
		tokenKind = "bearer"
	}

	accessEnc, err := s.vault.Encrypt(access)
	if err != nil {
		return fmt.Errorf("failed to encrypt access secret: %w", err)
	}
	refreshEnc, err := s.vault.Encrypt(refresh)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh secret: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (user_id, provider, access_enc, refresh_enc, token_kind, expires_at, created_at, scope, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(user_id, provider) DO UPDATE SET
			access_enc = excluded.access_enc,
			refresh_enc = excluded.refresh_enc,
			token_kind = excluded.token_kind,
			expires_at = excluded.expires_at,
			scope = excluded.scope,
			last_refreshed_at = NULL,
			active = 1
	`, userID, provider, accessEnc, refreshEnc, tokenKind, expiresAt.UTC(), now, scope)

	if err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

// UpdateSecrets replaces the token material of an active record after a
// successful refresh, setting last_refreshed_at. Returns ErrNotFound when
// the record is missing or no longer active, so a logout issued while the
// exchange was in flight is never undone.
func (s *Store) UpdateSecrets(ctx context.Context, userID, provider string, access, refresh []byte, tokenKind string, expiresAt time.Time) error {
	if expiresAt.IsZero() {
		return fmt.Errorf("expires_at must be set")
	}
	if tokenKind == "" {
		tokenKind = "bearer"
	}

	accessEnc, err := s.vault.Encrypt(access)
	if err != nil {
		return fmt.Errorf("failed to encrypt access secret: %w", err)
	}
	refreshEnc, err := s.vault.Encrypt(refresh)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh secret: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE credentials
		SET access_enc = ?, refresh_enc = ?, token_kind = ?, expires_at = ?, last_refreshed_at = ?
		WHERE user_id = ? AND provider = ? AND active = 1
	`, accessEnc, refreshEnc, tokenKind, expiresAt.UTC(), time.Now().UTC(), userID, provider)
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns the decrypted record for the key.
// Returns ErrNotFound when no active record exists, and wraps
// crypto.ErrDecrypt when stored ciphertext cannot be decrypted; callers
// must treat the latter as "re-authentication required", not transient.
func (s *Store) Get(ctx context.Context, userID, provider string) (*Record, error) {
	rec := &Record{
		UserID:   userID,
		Provider: provider,
	}

	var accessEnc, refreshEnc []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT access_enc, refresh_enc, token_kind, expires_at, created_at, last_refreshed_at, last_used_at, scope, active
		FROM credentials
		WHERE user_id = ? AND provider = ? AND active = 1
	`, userID, provider).Scan(
		&accessEnc, &refreshEnc, &rec.TokenKind, &rec.ExpiresAt, &rec.CreatedAt,
		&rec.LastRefreshedAt, &rec.LastUsedAt, &rec.Scope, &rec.Active,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	if rec.AccessSecret, err = s.vault.Decrypt(accessEnc); err != nil {
		return nil, fmt.Errorf("access secret for %s/%s: %w", userID, provider, err)
	}
	if rec.RefreshSecret, err = s.vault.Decrypt(refreshEnc); err != nil {
		return nil, fmt.Errorf("refresh secret for %s/%s: %w", userID, provider, err)
	}

	return rec, nil
}

// MarkUsed updates last_used_at. Best-effort: failures are logged, never
// propagated.
func (s *Store) MarkUsed(ctx context.Context, userID, provider string) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE credentials SET last_used_at = ? WHERE user_id = ? AND provider = ?
	`, time.Now().UTC(), userID, provider)
	if err != nil {
		util.Warn("Failed to mark credential used",
			"user_id", userID,
			"provider", provider,
			"error", err,
		)
	}
}

// Deactivate soft-deletes the record. Idempotent.
func (s *Store) Deactivate(ctx context.Context, userID, provider string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE credentials SET active = 0 WHERE user_id = ? AND provider = ?
	`, userID, provider)
	if err != nil {
		return fmt.Errorf("failed to deactivate credential: %w", err)
	}
	return nil
}

// ListActive returns metadata for every active credential, oldest expiry
// first. No secrets are decrypted or exposed.
func (s *Store) ListActive(ctx context.Context) ([]Metadata, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, provider, expires_at, last_refreshed_at
		FROM credentials
		WHERE active = 1
		ORDER BY expires_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var out []Metadata
	for rows.Next() {
		m := Metadata{Active: true}
		if err := rows.Scan(&m.UserID, &m.Provider, &m.ExpiresAt, &m.LastRefreshedAt); err != nil {
			return nil, fmt.Errorf("failed to scan credential row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListForUser returns metadata for all of a user's credentials, active or
// not, for the status surface.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]Metadata, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, provider, expires_at, last_refreshed_at, active
		FROM credentials
		WHERE user_id = ?
		ORDER BY provider
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var out []Metadata
	for rows.Next() {
		var m Metadata
		if err := rows.Scan(&m.UserID, &m.Provider, &m.ExpiresAt, &m.LastRefreshedAt, &m.Active); err != nil {
			return nil, fmt.Errorf("failed to scan credential row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
