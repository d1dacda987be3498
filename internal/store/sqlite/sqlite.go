package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/resultset/internal/store"
)

// Dialect for SQLite (modernc.org/sqlite driver, CGO-free).
var Dialect = store.Dialect{
	Name: "sqlite",
	Create: func(table string) []string {
		return []string{
			`CREATE TABLE IF NOT EXISTS ` + table + `(
				ID TEXT NOT NULL PRIMARY KEY,
				created INTEGER NOT NULL,
				updated INTEGER NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_result_set_updated ON ` + table + `(updated);`,
		}
	},
}

// New opens the SQLite database named by cfg.Database. Use ":memory:" for an in-memory database.
func New(cfg store.Config) (*store.SQLStore, error) {
	p := strings.TrimSpace(cfg.Database)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	p = strings.TrimPrefix(p, "sqlite://")
	if p != ":memory:" && !strings.HasPrefix(p, "file:") {
		if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if cfg.MaxOpenConns <= 0 {
		// a single connection keeps :memory: databases alive and serializes writers
		d.SetMaxOpenConns(1)
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")

	s := store.NewSQLStore(d, Dialect, store.Table, cfg)
	if err := s.Ping(context.Background()); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	return s, nil
}
