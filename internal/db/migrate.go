package db

import (
	"database/sql"
	"fmt"
	"time"
)

// migration is one versioned schema change, applied in a transaction.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "create sync_queue",
		SQL: `
		CREATE TABLE IF NOT EXISTS sync_queue (
			id TEXT PRIMARY KEY,
			product_id TEXT NOT NULL,
			action TEXT NOT NULL CHECK(action IN ('sync', 'delete')),
			status TEXT NOT NULL CHECK(status IN ('pending', 'processing', 'completed', 'failed')),
			attempts INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			created_at INTEGER NOT NULL,
			processed_at INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_sync_queue_status_created ON sync_queue(status, created_at);
		CREATE INDEX IF NOT EXISTS idx_sync_queue_product ON sync_queue(product_id, action, status);`,
	},
	{
		Version:     2,
		Description: "create listing_meta",
		SQL: `
		CREATE TABLE IF NOT EXISTS listing_meta (
			product_id TEXT PRIMARY KEY,
			listing_id TEXT,
			last_sync INTEGER,
			last_error TEXT,
			synced_images TEXT,
			updated_at INTEGER NOT NULL
		);`,
	},
	{
		Version:     3,
		Description: "create app_state",
		SQL: `
		CREATE TABLE IF NOT EXISTS app_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
	},
}

// Migrate applies all pending schema migrations in order.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL,
		description TEXT NOT NULL
	);`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.Version, time.Now().Unix(), m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}
