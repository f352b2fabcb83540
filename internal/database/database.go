package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrDuplicate              = errors.New("duplicate")
)

// Options tune the SQLite connection.
type Options struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DB wraps the sqlx pool.
type DB struct {
	*sqlx.DB
	path   string
	logger *zerolog.Logger
}

// NewDB opens the database at path and creates tables if they don't exist.
// Every transaction starts with BEGIN IMMEDIATE so a write transaction holds
// the database write lock from its first statement.
func NewDB(path string, opts Options, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 10 * time.Second
	}
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d&_foreign_keys=on&_txlock=immediate",
		path, busy.Milliseconds())
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{DB: db, path: path, logger: logger}
	if err := instance.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	instance.ensureNewColumns()

	logger.Info().Str("path", path).Msg("Database initialized")
	return instance, nil
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS spaces (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			host_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			rate_per_hour INTEGER NOT NULL DEFAULT 0,
			min_hours INTEGER NOT NULL DEFAULT 0,
			discount_hours INTEGER NOT NULL DEFAULT 0,
			discount_percent INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'draft',
			timezone TEXT NOT NULL DEFAULT 'UTC',
			jurisdiction TEXT NOT NULL DEFAULT '',
			payout_account TEXT NOT NULL DEFAULT '',
			deleted_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS availability (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			space_id INTEGER NOT NULL,
			day TEXT NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			FOREIGN KEY (space_id) REFERENCES spaces(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS bookings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ref TEXT UNIQUE NOT NULL,
			client_id INTEGER NOT NULL,
			host_id INTEGER NOT NULL,
			space_id INTEGER NOT NULL,
			vehicle_id INTEGER,
			license_plate TEXT NOT NULL DEFAULT '',
			day TEXT NOT NULL,
			start_at DATETIME NOT NULL,
			end_at DATETIME NOT NULL,
			gross_amount INTEGER NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			type TEXT NOT NULL,
			canceled_by TEXT,
			version INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (space_id) REFERENCES spaces(id)
		)`,

		`CREATE TABLE IF NOT EXISTS booking_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			booking_id INTEGER UNIQUE NOT NULL,
			check_in_at DATETIME,
			check_out_at DATETIME,
			FOREIGN KEY (booking_id) REFERENCES bookings(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS time_changes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			booking_id INTEGER NOT NULL,
			proposed_by INTEGER NOT NULL,
			responded_by INTEGER,
			old_start_at DATETIME NOT NULL,
			old_end_at DATETIME NOT NULL,
			new_start_at DATETIME NOT NULL,
			new_end_at DATETIME NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (booking_id) REFERENCES bookings(id)
		)`,

		`CREATE TABLE IF NOT EXISTS payments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			booking_id INTEGER NOT NULL,
			gross_amount INTEGER NOT NULL,
			stripe_fee INTEGER NOT NULL DEFAULT 0,
			platform_fee INTEGER NOT NULL DEFAULT 0,
			tax_fee INTEGER NOT NULL DEFAULT 0,
			total_amount INTEGER NOT NULL,
			currency TEXT NOT NULL,
			stripe_payment_intent_id TEXT UNIQUE NOT NULL,
			client_secret TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			attempt INTEGER NOT NULL DEFAULT 1,
			superseded BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (booking_id) REFERENCES bookings(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS payouts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			host_id INTEGER NOT NULL,
			account_id TEXT NOT NULL,
			amount INTEGER NOT NULL DEFAULT 0,
			currency TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			transfer_id TEXT NOT NULL DEFAULT '',
			last_error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS payout_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			payout_id INTEGER NOT NULL,
			booking_id INTEGER UNIQUE NOT NULL,
			gross_amount INTEGER NOT NULL,
			stripe_fee INTEGER NOT NULL,
			platform_fee INTEGER NOT NULL,
			tax_fee INTEGER NOT NULL,
			net_amount INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (payout_id) REFERENCES payouts(id),
			FOREIGN KEY (booking_id) REFERENCES bookings(id)
		)`,

		`CREATE TABLE IF NOT EXISTS blocked_users (
			user_id INTEGER PRIMARY KEY,
			blocked_at DATETIME NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			blocked_by INTEGER NOT NULL
		)`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_availability_space ON availability(space_id, day)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_space_times ON bookings(space_id, start_at, end_at)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_time_changes_one_pending ON time_changes(booking_id) WHERE status = 'pending'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_one_current ON payments(booking_id) WHERE superseded = 0`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_payouts_one_open ON payouts(account_id, currency) WHERE status = 'pending'`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

// ensureNewColumns adds columns introduced after the first schema.
func (db *DB) ensureNewColumns() {
	migrations := []string{
		`ALTER TABLE spaces ADD COLUMN deleted_at DATETIME`,
		`ALTER TABLE payouts ADD COLUMN last_error TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE bookings ADD COLUMN reminded_at DATETIME`,
	}

	for _, m := range migrations {
		_, err := db.Exec(m)
		if err != nil && !strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
			db.logger.Debug().Err(err).Str("migration", m).Msg("Migration skipped")
		}
	}
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type Queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Repo runs queries on a pool or a transaction.
type Repo struct {
	q Queryer
}

// Repo returns a repository bound to the pool (no transaction).
func (db *DB) Repo() *Repo {
	return &Repo{q: db.DB}
}

// WithTx runs fn inside one transaction. The transaction commits only when
// fn returns nil; any error or panic rolls it back.
func (db *DB) WithTx(ctx context.Context, fn func(r *Repo) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&Repo{q: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ts normalizes instants before they are bound so stored strings compare
// lexicographically in time order.
func ts(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConcurrentModification
	}
	return nil
}
