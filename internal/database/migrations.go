// Package database handles database migrations.
package database

import (
	"fmt"
)

// migrate runs all database migrations.
func (db *DB) migrate() error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT DEFAULT (datetime('now'))
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	migrations := getAllMigrations()
	for _, m := range migrations {
		if m.version > currentVersion {
			if err := db.runMigration(m); err != nil {
				return fmt.Errorf("migration %d failed: %w", m.version, err)
			}
		}
	}

	return nil
}

type migration struct {
	version int
	sql     string
}

func (db *DB) runMigration(m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.sql); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", m.version); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

func getAllMigrations() []migration {
	return []migration{
		{
			version: 1,
			sql:     migration001InitialSchema,
		},
	}
}

const migration001InitialSchema = `
-- Users table
-- One row per registered client; ids are issued once and never regenerated.
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,                    -- UUID, unguessable
    created_at TIMESTAMP NOT NULL
);

-- Credentials table
-- One row per (user, provider). Secrets are stored only in encrypted form
-- (AES-256-GCM, nonce prepended).
CREATE TABLE IF NOT EXISTS credentials (
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    provider TEXT NOT NULL,                 -- e.g. 'jira'
    access_enc BLOB NOT NULL,
    refresh_enc BLOB NOT NULL,
    token_kind TEXT NOT NULL DEFAULT 'bearer',
    expires_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    last_refreshed_at TIMESTAMP,
    last_used_at TIMESTAMP,
    scope TEXT NOT NULL DEFAULT '',
    active INTEGER NOT NULL DEFAULT 1,      -- 0 = soft-deleted
    PRIMARY KEY (user_id, provider)
);

CREATE INDEX IF NOT EXISTS idx_credentials_active
    ON credentials(active, expires_at);

-- Notifications table
-- Durable per-user mailbox. The AUTOINCREMENT id is monotonic and doubles
-- as the per-user FIFO sort key.
CREATE TABLE IF NOT EXISTS notifications (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    title TEXT NOT NULL,
    body TEXT NOT NULL,
    kind TEXT NOT NULL DEFAULT '',          -- e.g. 'task-due', 'assignment', 'comment'
    payload TEXT,                           -- opaque JSON, e.g. a deep link
    created_at TIMESTAMP NOT NULL,
    delivered_at TIMESTAMP                  -- NULL = pending
);

CREATE INDEX IF NOT EXISTS idx_notifications_pending
    ON notifications(user_id, id) WHERE delivered_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_notifications_created
    ON notifications(created_at);
`
