package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/spherical-ai/docscan/internal/config"
)

// Open opens the database described by cfg and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)

	switch cfg.Driver {
	case "sqlite", "":
		if p := cfg.SQLite.Path; p != "" && p != ":memory:" && !strings.HasPrefix(p, "file:") {
			if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		db, err = sql.Open("sqlite3", sqliteDSN(cfg.SQLite))
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// A single connection keeps writes serialized and in-memory databases intact.
		maxConns := cfg.SQLite.MaxOpenConns
		if maxConns < 1 {
			maxConns = 1
		}
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
	case "postgres":
		db, err = sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

func sqliteDSN(cfg config.SQLiteConfig) string {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	params := []string{"_foreign_keys=on", "_busy_timeout=5000"}
	if cfg.JournalMode != "" && path != ":memory:" {
		params = append(params, "_journal_mode="+cfg.JournalMode)
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(params, "&")
}

// now returns the current time at the precision both drivers round-trip.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
