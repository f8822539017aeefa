// Package audit records every privileged command invocation in SQLite so
// operator actions can be reviewed after the fact.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Entry is one audited command invocation.
type Entry struct {
	ID        int64     `json:"id"`
	Actor     string    `json:"actor"`
	Command   string    `json:"command"`
	Result    string    `json:"result"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Results recorded per invocation.
const (
	ResultAllowed = "allowed"
	ResultDenied  = "denied"
	ResultError   = "error"
)

// Log is the SQLite-backed audit trail.
type Log struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (or creates) the audit database and applies the schema.
func Open(dsn string, logger zerolog.Logger) (*Log, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	// WAL mode for concurrent API reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("wal mode: %w", err)
	}

	l := &Log{db: db, logger: logger.With().Str("component", "audit").Logger()}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	return l, nil
}

func (l *Log) migrate() error {
	_, err := l.db.Exec(`
	CREATE TABLE IF NOT EXISTS audit_log (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		actor      TEXT NOT NULL,
		command    TEXT NOT NULL,
		result     TEXT NOT NULL,
		detail     TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at);
	`)
	return err
}

// Record appends one entry. Failures are returned for the caller to log;
// the command itself must not fail because auditing did.
func (l *Log) Record(ctx context.Context, actor, command, result, detail string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO audit_log (actor, command, result, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		actor, command, result, detail, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, actor, command, result, COALESCE(detail, ''), created_at
		FROM audit_log
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.Actor, &e.Command, &e.Result, &e.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.CreatedAt = time.UnixMilli(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Ping verifies the database is reachable.
func (l *Log) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close closes the underlying database.
func (l *Log) Close() error { return l.db.Close() }
