// Package storage persists configuration, run state, run history and
// provider aggregates in SQL. The same queries run on sqlite and postgres.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/spherical/ocr-bench/internal/config"
	"github.com/spherical/ocr-bench/internal/domain"
)

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// TxDB is a DB that can open transactions.
type TxDB interface {
	DB
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Open connects to the configured database and applies the schema.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	var (
		driver string
		dsn    string
	)

	switch cfg.Driver {
	case "sqlite":
		driver = "sqlite3"
		dsn = sqliteDSN(cfg.SQLite)
		if cfg.SQLite.Path != ":memory:" {
			if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, domain.StorageError("create database directory", err)
				}
			}
		}
	case "postgres":
		driver = "postgres"
		dsn = cfg.Postgres.DSN
	default:
		return nil, domain.ConfigurationError(fmt.Sprintf("unsupported database driver: %s", cfg.Driver), nil)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, domain.StorageError("open database", err)
	}

	if cfg.Driver == "sqlite" {
		// Every :memory: connection is a separate database.
		if cfg.SQLite.Path == ":memory:" || cfg.SQLite.MaxOpenConns <= 0 {
			db.SetMaxOpenConns(1)
		} else {
			db.SetMaxOpenConns(cfg.SQLite.MaxOpenConns)
		}
	} else {
		db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, domain.StorageError("ping database", err)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// OpenMemory opens a private in-memory sqlite database with the schema applied.
func OpenMemory(ctx context.Context) (*sql.DB, error) {
	return Open(ctx, config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: ":memory:", MaxOpenConns: 1},
	})
}

func sqliteDSN(cfg config.SQLiteConfig) string {
	if cfg.Path == ":memory:" {
		return ":memory:"
	}
	params := []string{"_busy_timeout=5000"}
	if cfg.JournalMode != "" {
		params = append(params, "_journal_mode="+cfg.JournalMode)
	}
	return "file:" + cfg.Path + "?" + strings.Join(params, "&")
}

// Migrate creates any missing tables. It is safe to run repeatedly.
func Migrate(ctx context.Context, db DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return domain.StorageError("apply schema", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS configurations (
		provider   TEXT PRIMARY KEY,
		config     TEXT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS task_store (
		run_id     TEXT PRIMARY KEY,
		status     TEXT NOT NULL,
		progress   INTEGER NOT NULL DEFAULT 0,
		payload    TEXT,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS test_history (
		run_id        TEXT PRIMARY KEY,
		document_name TEXT NOT NULL,
		providers     TEXT NOT NULL,
		results       TEXT NOT NULL,
		statistics    TEXT NOT NULL,
		created_at    BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_test_history_created_at ON test_history (created_at)`,
	`CREATE TABLE IF NOT EXISTS statistics (
		provider     TEXT PRIMARY KEY,
		runs_counted INTEGER NOT NULL DEFAULT 0,
		data         TEXT NOT NULL,
		updated_at   BIGINT NOT NULL
	)`,
}
