package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// migration is one forward-only schema step.
type migration struct {
	Version int
	Name    string
	Up      string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "alert_history",
		Up: `
			CREATE TABLE IF NOT EXISTS alert_history (
				id TEXT PRIMARY KEY,
				entity_id TEXT NOT NULL,
				entity_name TEXT NOT NULL,
				parent_id TEXT NOT NULL,
				metric_name TEXT NOT NULL,
				direction TEXT NOT NULL,
				severity TEXT NOT NULL,
				value REAL NOT NULL,
				threshold_context TEXT NOT NULL DEFAULT '',
				threshold REAL NOT NULL DEFAULT 0,
				down_since INTEGER,
				error_code INTEGER NOT NULL DEFAULT 0,
				error_message TEXT NOT NULL DEFAULT '',
				ts INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_alert_history_ts ON alert_history(ts);
			CREATE INDEX IF NOT EXISTS idx_alert_history_entity ON alert_history(entity_id, ts);
		`,
	},
	{
		Version: 2,
		Name:    "alert_history_severity",
		Up:      `CREATE INDEX IF NOT EXISTS idx_alert_history_severity ON alert_history(severity, ts);`,
	},
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var current int
	err = db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.Up); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now().Unix(),
		)
		if err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}
