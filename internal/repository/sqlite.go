package repository

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/opensource-finance/arbiter/internal/domain"
)

const sqlitePragmas = "_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"

// openSQLite opens a SQLite database with modernc.org/sqlite (no cgo).
// The path ":memory:" opens a private in-memory database.
func openSQLite(cfg domain.RepositoryConfig) (*sql.DB, error) {
	dsn, memory, err := sqliteDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// Every connection to :memory: is a new database.
	if memory {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	return db, nil
}

func sqliteDSN(cfg domain.RepositoryConfig) (dsn string, memory bool, err error) {
	if cfg.DSN != "" {
		return cfg.DSN, strings.Contains(cfg.DSN, ":memory:"), nil
	}

	path := cfg.SQLitePath
	if path == "" {
		path = "./arbiter.db"
	}
	if path == ":memory:" {
		return "file::memory:?_pragma=foreign_keys(ON)", true, nil
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", false, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return fmt.Sprintf("file:%s?%s", path, sqlitePragmas), false, nil
}
