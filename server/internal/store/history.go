package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Pure-Go SQLite driver, registered as "sqlite".
	_ "modernc.org/sqlite"

	"github.com/nodealert/nodealert/pkg/types"
)

// History persists published alerts in SQLite and prunes them after the
// retention period.
type History struct {
	db        *sql.DB
	retention time.Duration
	now       func() time.Time
}

// OpenHistory opens (creating if needed) the database at path and migrates it.
func OpenHistory(ctx context.Context, path string, retention time.Duration) (*History, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping database: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: execute %s: %w", pragma, err)
		}
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: %w", err)
	}

	return &History{db: db, retention: retention, now: time.Now}, nil
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}

// Ping checks the database connection.
func (h *History) Ping(ctx context.Context) error {
	return h.db.PingContext(ctx)
}

// Insert stores alerts in one transaction. Alerts whose ID already exists are
// ignored, so redelivered alerts are not duplicated.
func (h *History) Insert(ctx context.Context, alerts []types.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO alert_history (id, entity_id, entity_name, parent_id,
			metric_name, direction, severity, value, threshold_context, threshold,
			down_since, error_code, error_message, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("history: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range alerts {
		var downSince sql.NullInt64
		if a.DownSince != nil {
			downSince = sql.NullInt64{Int64: a.DownSince.UnixNano(), Valid: true}
		}
		_, err := stmt.ExecContext(ctx,
			a.ID, a.EntityID, a.EntityName, a.ParentID,
			a.MetricName, a.Direction, a.Severity, a.Value, a.ThresholdContext, a.Threshold,
			downSince, a.ErrorCode, a.ErrorMessage, a.Timestamp.UnixNano(),
		)
		if err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("history: insert alert %s: %w", a.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history: commit: %w", err)
	}
	return nil
}

// Query selects history rows. Zero fields match everything.
type Query struct {
	EntityID string
	ParentID string
	Severity string
	Since    time.Time
	Until    time.Time
	Limit    int
	Offset   int
}

// List returns alerts matching q, newest first, and the total match count.
func (h *History) List(ctx context.Context, q Query) ([]types.Alert, int64, error) {
	var (
		where []string
		args  []any
	)
	if q.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, q.EntityID)
	}
	if q.ParentID != "" {
		where = append(where, "parent_id = ?")
		args = append(args, q.ParentID)
	}
	if q.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, q.Severity)
	}
	if !q.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, q.Since.UnixNano())
	}
	if !q.Until.IsZero() {
		where = append(where, "ts < ?")
		args = append(args, q.Until.UnixNano())
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := h.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alert_history"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("history: count: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, entity_id, entity_name, parent_id, metric_name, direction, severity,
			value, threshold_context, threshold, down_since, error_code, error_message, ts
		FROM alert_history`+clause+` ORDER BY ts DESC, id LIMIT ? OFFSET ?`,
		append(args, limit, q.Offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []types.Alert
	for rows.Next() {
		var (
			a         types.Alert
			downSince sql.NullInt64
			ts        int64
		)
		err := rows.Scan(&a.ID, &a.EntityID, &a.EntityName, &a.ParentID, &a.MetricName,
			&a.Direction, &a.Severity, &a.Value, &a.ThresholdContext, &a.Threshold,
			&downSince, &a.ErrorCode, &a.ErrorMessage, &ts)
		if err != nil {
			return nil, 0, fmt.Errorf("history: scan: %w", err)
		}
		a.Timestamp = time.Unix(0, ts).UTC()
		if downSince.Valid {
			d := time.Unix(0, downSince.Int64).UTC()
			a.DownSince = &d
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

// Prune deletes alerts older than now minus the retention period. A zero
// retention keeps everything.
func (h *History) Prune(ctx context.Context, now time.Time) (int64, error) {
	if h.retention <= 0 {
		return 0, nil
	}
	res, err := h.db.ExecContext(ctx, "DELETE FROM alert_history WHERE ts < ?", now.Add(-h.retention).UnixNano())
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	return res.RowsAffected()
}

// Run prunes expired alerts every interval until ctx is cancelled.
func (h *History) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := h.Prune(ctx, h.now())
			if err != nil {
				slog.Error("store: history prune failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Info("store: pruned alert history", "count", n)
			}
		}
	}
}
