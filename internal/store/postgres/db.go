package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

const (
	defaultStatementTimeoutMS = 30000
	maxStatementTimeoutMS     = 3_600_000

	// DefaultQueryTimeout bounds single non-transactional queries.
	DefaultQueryTimeout = 30 * time.Second

	// LongQueryTimeout is used for migrations and gap scans over wide
	// block ranges.
	LongQueryTimeout = 5 * time.Minute

	// migrationLockID serializes migrations between archive processes
	// sharing one database.
	migrationLockID    = 0x5ab57a7e
	migrationLockWait  = "10s"
	defaultConnMaxIdle = 2 * time.Minute
)

// withTimeout returns a child context that will be cancelled after d.
// Callers must defer the returned CancelFunc.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}

type DB struct {
	*sql.DB
}

type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// StatementTimeoutMS is applied server-side to every pooled session;
	// zero selects the default of 30s.
	StatementTimeoutMS int
}

// New opens the pool and verifies the server answers.
func New(cfg Config) (*DB, error) {
	timeoutMS, err := resolveStatementTimeoutMS(cfg.StatementTimeoutMS)
	if err != nil {
		return nil, fmt.Errorf("resolve statement timeout: %w", err)
	}

	db, err := sql.Open("postgres", appendStatementTimeout(cfg.URL, timeoutMS))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	idle := cfg.ConnMaxIdleTime
	if idle <= 0 {
		idle = defaultConnMaxIdle
	}
	db.SetConnMaxIdleTime(idle)

	ctx, cancel := withTimeout(context.Background(), DefaultQueryTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}

// appendStatementTimeout appends statement_timeout to the connection URL
// so it applies to all connections in the pool, not just one session.
func appendStatementTimeout(url string, timeoutMS int) string {
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + "options=-c%20statement_timeout%3D" + strconv.Itoa(timeoutMS)
}

func resolveStatementTimeoutMS(ms int) (int, error) {
	switch {
	case ms == 0:
		return defaultStatementTimeoutMS, nil
	case ms < 0 || ms > maxStatementTimeoutMS:
		return 0, fmt.Errorf("statement timeout %dms out of allowed range [1, %d]", ms, maxStatementTimeoutMS)
	}
	return ms, nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// RunMigrations applies the *.up.sql files of dir in name order, each at
// most once. Every file runs in its own transaction together with its
// schema_migrations row, under an advisory lock held for the whole run.
func (db *DB) RunMigrations(ctx context.Context, dir string) (err error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no migrations found in %q", dir)
	}
	sort.Strings(files)

	ctx, cancel := withTimeout(ctx, LongQueryTimeout)
	defer cancel()

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		if _, uerr := conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockID); uerr != nil {
			err = errors.Join(err, fmt.Errorf("release migration lock: %w", uerr))
		}
	}()

	if _, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, f := range files {
		if err := applyMigration(ctx, conn, f); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, conn *sql.Conn, path string) error {
	version := filepath.Base(path)

	var applied bool
	if err := conn.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", version,
	).Scan(&applied); err != nil {
		return fmt.Errorf("check migration %s: %w", version, err)
	}
	if applied {
		return nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", version, err)
	}

	start := time.Now()
	slog.Info("migration starting", "version", version)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SET LOCAL lock_timeout = '"+migrationLockWait+"'"); err != nil {
		return fmt.Errorf("set lock_timeout for migration %s: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("exec migration %s: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
		return fmt.Errorf("record migration %s: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", version, err)
	}

	slog.Info("migration completed", "version", version, "elapsed", time.Since(start).String())
	return nil
}
