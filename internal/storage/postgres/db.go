// Package postgres implements the ingestion engine's repositories against
// PostgreSQL via pgx/pgxpool, with goose-managed embedded migrations and
// array-unnest bulk inserts.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Config controls pool sizing and the synchronous_commit session setting.
type Config struct {
	DSN               string
	MaxConns          int32
	SynchronousCommit string // "off", "local", "on"; empty defaults to "off"
}

// Store wraps a pgxpool.Pool and implements ingest.EventRepository,
// ingest.CheckpointRepository, and ingest.TxExecutor.
type Store struct {
	pool *pgxpool.Pool
	cfg  Config
}

// New connects to Postgres, runs embedded migrations, and returns a Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.SynchronousCommit == "" {
		cfg.SynchronousCommit = "off"
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, fmt.Sprintf("SET synchronous_commit = '%s'", cfg.SynchronousCommit))
		logSessionSettingFailure(err, "synchronous_commit")
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if err := runMigrations(cfg.DSN); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrations: %w", err)
	}

	return &Store{pool: pool, cfg: cfg}, nil
}

// runMigrations applies embedded SQL migrations through goose, using the
// pgx stdlib adapter since goose operates on database/sql.
func runMigrations(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	fsys, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("sub fs: %w", err)
	}
	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	return goose.Up(db, ".")
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func logSessionSettingFailure(err error, setting string) {
	if err != nil {
		slog.Warn("postgres: session setting failed, continuing", "setting", setting, "error", err)
	}
}
