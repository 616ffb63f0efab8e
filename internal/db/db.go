// Package db opens the station's SQLite reading history.
package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// Open opens the SQLite database at path and checks that it is reachable.
// With a logger enabled at debug level every statement is logged.
func Open(ctx context.Context, path string, logger *slog.Logger) (*sql.DB, error) {
	dsn, err := buildDSN(path)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	if logger != nil && logger.Enabled(ctx, slog.LevelDebug) {
		db = sql.OpenDB(NewTracingConnector(dsn, logger))
	} else {
		db = sql.OpenDB(&plainConnector{dsn: dsn})
	}

	// SQLite is best with a single writer connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}

func buildDSN(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("sqlite path is empty")
	}

	params := []string{
		"_foreign_keys=on",
		"_busy_timeout=5000",
	}

	if path == ":memory:" {
		return "file::memory:?" + strings.Join(params, "&"), nil
	}
	params = append(params, "_journal_mode=WAL")

	// A "file:" URI is taken as is, apart from our parameters.
	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}

type plainConnector struct {
	dsn string
}

func (c *plainConnector) Connect(context.Context) (driver.Conn, error) {
	return (&sqlite3.SQLiteDriver{}).Open(c.dsn)
}

func (c *plainConnector) Driver() driver.Driver {
	return &sqlite3.SQLiteDriver{}
}
