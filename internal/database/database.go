package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// DB wraps the database connection and provides methods for data access.
//
// The connection pool is capped at one open connection and transactions are
// opened with an immediate lock, so every mutating sequence (count-then-insert
// on the allocation check, check-then-flip on coupon consumption) is fully
// serialized. This is the sqlite stand-in for SELECT ... FOR UPDATE.
type DB struct {
	conn *sql.DB
	queries
}

// Tx is an open write transaction exposing the same query methods as DB.
type Tx struct {
	queries
}

// NewDB creates a new database connection and initializes the schema.
func NewDB(dbPath string) (*DB, error) {
	dsn := dbPath + "?_foreign_keys=1&_busy_timeout=5000&_txlock=immediate"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, queries: queries{q: conn}}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// WithTx runs fn inside a single write transaction, committing on nil and
// rolling back otherwise.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&Tx{queries: queries{q: tx}}); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// dbtx is the common surface of *sql.DB and *sql.Tx used by queries.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// queries carries every data-access method; DB and Tx both embed it.
type queries struct {
	q dbtx
}

// IsUniqueViolation reports whether err is a sqlite unique-constraint
// violation. Get-or-create paths treat it as "already exists".
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// ErrNoRows is re-exported so callers do not import database/sql for it.
var ErrNoRows = sql.ErrNoRows

const timeFormat = time.RFC3339

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}

func formatNullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// initSchema creates the necessary tables if they don't exist.
func (db *DB) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS fragments (
			uuid TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			product TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS broadcasts (
			uuid TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS spreads (
			uuid TEXT PRIMARY KEY,
			identifier TEXT NOT NULL UNIQUE,
			source_kind TEXT NOT NULL,
			source_uuid TEXT NOT NULL,
			allocation INTEGER NOT NULL DEFAULT 0,
			start_at TEXT NOT NULL,
			expiry_at TEXT,
			url TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rewards (
			uuid TEXT PRIMARY KEY,
			source_kind TEXT NOT NULL,
			source_uuid TEXT NOT NULL,
			provider TEXT NOT NULL,
			label TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			term TEXT NOT NULL DEFAULT '',
			allocation INTEGER NOT NULL DEFAULT 0,
			start_at TEXT NOT NULL,
			expiry_at TEXT NOT NULL,
			type TEXT NOT NULL,
			amount TEXT NOT NULL,
			unit_slug TEXT NOT NULL,
			unit_label TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS suggests (
			uuid TEXT PRIMARY KEY,
			spread_uuid TEXT NOT NULL REFERENCES spreads(uuid) ON DELETE CASCADE,
			user_id TEXT NOT NULL DEFAULT '',
			rating INTEGER NOT NULL,
			description TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS canals (
			uuid TEXT PRIMARY KEY,
			suggest_uuid TEXT NOT NULL REFERENCES suggests(uuid) ON DELETE CASCADE,
			method TEXT NOT NULL,
			value TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS coupons (
			uuid TEXT PRIMARY KEY,
			suggest_uuid TEXT NOT NULL REFERENCES suggests(uuid) ON DELETE CASCADE,
			reward_uuid TEXT NOT NULL REFERENCES rewards(uuid) ON DELETE CASCADE,
			identifier TEXT NOT NULL UNIQUE,
			is_active INTEGER NOT NULL DEFAULT 0,
			is_used INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS redeems (
			uuid TEXT PRIMARY KEY,
			coupon_uuid TEXT NOT NULL UNIQUE REFERENCES coupons(uuid) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS takens (
			uuid TEXT PRIMARY KEY,
			redeem_uuid TEXT NOT NULL REFERENCES redeems(uuid) ON DELETE CASCADE,
			actor_id TEXT NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS targets (
			uuid TEXT PRIMARY KEY,
			broadcast_uuid TEXT NOT NULL REFERENCES broadcasts(uuid) ON DELETE CASCADE,
			suggest_uuid TEXT NOT NULL REFERENCES suggests(uuid) ON DELETE CASCADE,
			moment INTEGER NOT NULL,
			method TEXT NOT NULL,
			value TEXT NOT NULL,
			price INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			uuid TEXT PRIMARY KEY,
			identifier TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			broadcast_uuid TEXT NOT NULL REFERENCES broadcasts(uuid) ON DELETE CASCADE,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS order_metas (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_uuid TEXT NOT NULL REFERENCES orders(uuid) ON DELETE CASCADE,
			meta_key TEXT NOT NULL,
			meta_value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			uuid TEXT PRIMARY KEY,
			order_uuid TEXT NOT NULL REFERENCES orders(uuid) ON DELETE CASCADE,
			target_uuid TEXT NOT NULL,
			price INTEGER NOT NULL DEFAULT 0,
			method TEXT NOT NULL,
			value TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS verified_channels (
			user_id TEXT NOT NULL,
			method TEXT NOT NULL,
			value TEXT NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE(user_id, method, value)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_suggests_spread ON suggests(spread_uuid)`,
		`CREATE INDEX IF NOT EXISTS idx_canals_suggest ON canals(suggest_uuid)`,
		`CREATE INDEX IF NOT EXISTS idx_canals_method_value ON canals(method, value)`,
		`CREATE INDEX IF NOT EXISTS idx_coupons_suggest ON coupons(suggest_uuid)`,
		`CREATE INDEX IF NOT EXISTS idx_coupons_reward ON coupons(reward_uuid)`,
		`CREATE INDEX IF NOT EXISTS idx_rewards_source ON rewards(source_kind, source_uuid)`,
		`CREATE INDEX IF NOT EXISTS idx_spreads_source ON spreads(source_kind, source_uuid)`,
		`CREATE INDEX IF NOT EXISTS idx_targets_broadcast ON targets(broadcast_uuid)`,
		`CREATE INDEX IF NOT EXISTS idx_targets_moment ON targets(moment)`,
		`CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_uuid)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}
