package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/steps-tracker/internal/common"
)

const currentVersion = 1

// DB is a dialect-aware handle. Postgres goes through a pgx pool; anything
// else is treated as a SQLite path.
type DB struct {
	drv    *entsql.Driver
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Open connects using cfg.DSN and runs migrations.
func Open(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DSN == "" {
		return nil, common.NewAppError("DB_ERROR", "DB_URL is required", common.ErrInvalidInput)
	}
	if !isPostgresDSN(cfg.DSN) {
		return OpenSQLite(strings.TrimPrefix(cfg.DSN, "sqlite://"), logger)
	}

	logger.Info("connecting to database", "dialect", dialect.Postgres)
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}

	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "steps-tracker"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = cfg.StatementTimeout.String()
	}

	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}

	// Wrap pool as *sql.DB for the ent driver
	db := &DB{
		drv:    entsql.OpenDB(dialect.Postgres, stdlib.OpenDBFromPool(pool)),
		pool:   pool,
		logger: logger,
	}
	if err := db.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("successfully connected to database")
	return db, nil
}

// OpenSQLite opens (or creates) the SQLite database at path and runs migrations.
func OpenSQLite(path string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqldb.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := sqldb.Exec(p); err != nil {
			sqldb.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", p, err)
		}
	}

	db := &DB{drv: entsql.OpenDB(dialect.SQLite, sqldb), logger: logger}
	if err := db.migrate(context.Background()); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Debug("sqlite database ready", "path", path)
	return db, nil
}

// NewMemory creates an in-memory database for testing.
func NewMemory() (*DB, error) {
	return OpenSQLite(":memory:", slog.New(slog.DiscardHandler))
}

// Dialect reports the SQL dialect in use.
func (d *DB) Dialect() string { return d.drv.Dialect() }

// Close closes the database connections gracefully
func (d *DB) Close() {
	d.logger.Debug("closing database connections")
	if err := d.drv.Close(); err != nil {
		d.logger.Error("failed to close database", "error", err)
	}
	if d.pool != nil {
		d.pool.Close()
	}
}

// HealthCheck pings the database to catch DSN issues early.
func (d *DB) HealthCheck(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if d.pool != nil {
		return d.pool.Ping(ctx)
	}
	return d.drv.DB().PingContext(ctx)
}

func (d *DB) migrate(ctx context.Context) error {
	if d.Dialect() != dialect.SQLite {
		return d.drv.Exec(ctx, schemaDDL(d.Dialect()), []any{}, nil)
	}

	var version int
	if err := d.drv.DB().QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if version >= currentVersion {
		return nil
	}
	if err := d.drv.Exec(ctx, schemaDDL(dialect.SQLite), []any{}, nil); err != nil {
		return err
	}
	return d.drv.Exec(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentVersion), []any{}, nil)
}

func schemaDDL(d string) string {
	boolType, falseLit := "INTEGER", "0"
	if d == dialect.Postgres {
		boolType, falseLit = "BOOLEAN", "FALSE"
	}
	return fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS step_records (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		date        TEXT NOT NULL,
		steps       INTEGER NOT NULL,
		verified    %s NOT NULL DEFAULT %s,
		proof_ref   TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL,
		UNIQUE(user_id, date)
	);

	CREATE INDEX IF NOT EXISTS idx_step_records_date ON step_records(date);
	`, boolType, falseLit)
}
