// Package sqlite implements the catalog, user and auth repositories on an
// embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/RustyBraze/Stickerwall/internal/platform/retry"
	"github.com/mattn/go-sqlite3"
)

// Every transaction takes the write lock up front, so concurrent upserts
// queue on SQLite's single writer instead of failing on lock upgrade.
const dsnParams = "?_txlock=immediate&_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000"

var busyRetryPolicy = retry.Policy{
	MaxAttempts:    3,
	InitialBackoff: 25 * time.Millisecond,
	MaxBackoff:     200 * time.Millisecond,
}

// Open creates the database file (and its directory) if needed and verifies the connection.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", "file:"+path+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// HealthCheck pings the database.
func HealthCheck(db *sql.DB) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}
		return nil
	}
}

// IsBusy reports whether err is a transient lock conflict.
func IsBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

// inTx runs fn in a transaction and commits it, retrying the whole unit on
// lock conflicts. fn must be safe to re-run.
func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	return retry.DoVoid(ctx, busyRetryPolicy, IsBusy, func(ctx context.Context) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // no-op after commit

		if err := fn(tx); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
}

func RunMigrations(ctx context.Context, db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS stickers (
			uuid TEXT PRIMARY KEY,
			sticker_id TEXT NOT NULL UNIQUE,
			storage_path TEXT NOT NULL,
			file_extension TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			visible INTEGER NOT NULL DEFAULT 1,
			banned INTEGER NOT NULL DEFAULT 0,
			ban_reason TEXT,
			boost_factor INTEGER NOT NULL DEFAULT 0,
			CHECK (banned = 0 OR visible = 0)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stickers_wall ON stickers(visible, banned, boost_factor DESC)`,
		`CREATE TABLE IF NOT EXISTS submitting_users (
			user_id TEXT PRIMARY KEY,
			username TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL DEFAULT '',
			last_chat_ref TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			last_submission_at INTEGER NOT NULL,
			banned INTEGER NOT NULL DEFAULT 0,
			ban_reason TEXT,
			policy TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS submissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL REFERENCES submitting_users(user_id),
			sticker_uuid TEXT NOT NULL REFERENCES stickers(uuid),
			submitted_at INTEGER NOT NULL,
			blocked_by_policy INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_user_time ON submissions(user_id, submitted_at)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_sticker ON submissions(sticker_uuid)`,
		`CREATE TABLE IF NOT EXISTS admin_accounts (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			is_admin INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS access_tokens (
			id TEXT PRIMARY KEY,
			token_hash TEXT NOT NULL UNIQUE,
			token_prefix TEXT NOT NULL,
			kind TEXT NOT NULL,
			owner_label TEXT NOT NULL,
			is_admin INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			last_used_at INTEGER,
			expires_at INTEGER NOT NULL,
			window_ms INTEGER NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_access_tokens_kind ON access_tokens(kind, is_active)`,
	}

	for _, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}

	slog.Info("Database migrations completed", "count", len(migrations))
	return nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
