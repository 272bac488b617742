package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultLoanPeriod  = 14 * 24 * time.Hour
	defaultBusyTimeout = 5 * time.Second
)

// Database owns the SQLite connection pool shared by every request.
type Database struct {
	db     *sqlx.DB
	clock  Clock
	logger *slog.Logger

	loanPeriod     time.Duration
	busyTimeout    time.Duration
	syncBeforeRead bool
	retry          retryPolicy
}

// Option configures a Database.
type Option func(*Database)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c Clock) Option {
	return func(d *Database) { d.clock = c }
}

// WithLogger sets the structured logger. Drift corrections, contention retries and
// no-op returns are reported through it.
func WithLogger(l *slog.Logger) Option {
	return func(d *Database) { d.logger = l }
}

// WithLoanPeriod overrides the 14 day lending period.
func WithLoanPeriod(p time.Duration) Option {
	return func(d *Database) {
		if p > 0 {
			d.loanPeriod = p
		}
	}
}

// WithBusyTimeout bounds how long SQLite waits on a held write lock.
func WithBusyTimeout(t time.Duration) Option {
	return func(d *Database) {
		if t > 0 {
			d.busyTimeout = t
		}
	}
}

// WithSyncBeforeRead toggles the availability recomputation that runs ahead of
// every read exposing available_copies.
func WithSyncBeforeRead(enabled bool) Option {
	return func(d *Database) { d.syncBeforeRead = enabled }
}

// WithRetry sets the attempts and base backoff used on lock contention.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(d *Database) {
		if maxAttempts > 0 {
			d.retry.maxAttempts = maxAttempts
		}
		if baseDelay >= 0 {
			d.retry.baseDelay = baseDelay
		}
	}
}

// NewDatabase opens (or creates) the SQLite database at dbPath and applies schema
// migrations.
func NewDatabase(dbPath string, opts ...Option) (*Database, error) {
	d := &Database{
		clock:          SystemClock{},
		logger:         slog.Default(),
		loanPeriod:     defaultLoanPeriod,
		busyTimeout:    defaultBusyTimeout,
		syncBeforeRead: true,
		retry:          defaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(d)
	}

	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	// Immediate transactions take the write lock at BEGIN, so two checkouts of the
	// same book serialize instead of racing to upgrade a read lock.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=1&_txlock=immediate",
		dbPath, d.busyTimeout.Milliseconds())
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	d.db = db
	return d, nil
}

// Close closes the DB.
func (d *Database) Close() error { return d.db.Close() }

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applyMigrations(db *sqlx.DB) error {
	// WAL improves write concurrency.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	err := db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Dates are TEXT (YYYY-MM-DD) so the driver never converts them to time.Time.
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            username TEXT NOT NULL UNIQUE,
            password_digest TEXT NOT NULL,
            role TEXT NOT NULL CHECK (role IN ('admin','lender'))
        );`,
		`CREATE TABLE IF NOT EXISTS books (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            title TEXT NOT NULL,
            author TEXT NOT NULL,
            isbn TEXT NOT NULL UNIQUE,
            year_of_publication INTEGER,
            genre TEXT,
            total_copies INTEGER NOT NULL CHECK (total_copies >= 0),
            available_copies INTEGER NOT NULL
                CHECK (available_copies >= 0 AND available_copies <= total_copies)
        );`,
		`CREATE TABLE IF NOT EXISTS loans (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id INTEGER NOT NULL REFERENCES users(id),
            book_id INTEGER NOT NULL REFERENCES books(id),
            checkout_date TEXT NOT NULL,
            due_date TEXT NOT NULL,
            return_date TEXT
        );`,
		// At most one active loan per user and book.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_loans_active_user_book
            ON loans(user_id, book_id) WHERE return_date IS NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_loans_book ON loans(book_id);`,
		`CREATE TABLE IF NOT EXISTS sessions (
            token TEXT PRIMARY KEY,
            username TEXT NOT NULL,
            role TEXT NOT NULL,
            expires_at INTEGER NOT NULL
        );`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, schemaVersion); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------------------

// inTx runs fn inside one transaction, retrying the whole unit on lock contention.
// Business errors returned by fn abort the transaction and are passed through as is;
// anything else is reported as a StoreError.
func (d *Database) inTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	return d.withRetry(ctx, op, func(ctx context.Context) error {
		tx, err := d.db.BeginTxx(ctx, nil)
		if err != nil {
			return storeErr(op, err)
		}
		defer tx.Rollback()

		if err := fn(tx); err != nil {
			return storeErr(op, err)
		}
		return storeErr(op, tx.Commit())
	})
}
