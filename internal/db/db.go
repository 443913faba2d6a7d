package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Open creates the data directory if needed and opens the SQLite database
// with WAL and a busy timeout suitable for one writer and occasional readers.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir data dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA synchronous=NORMAL; PRAGMA temp_store=MEMORY;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies the schema. Statements are idempotent.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS stats (
			server_name TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			cpu_percent REAL NOT NULL,
			ram_percent REAL NOT NULL,
			disk_percent REAL NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_stats_server_ts ON stats(server_name, timestamp DESC);`,
		`CREATE TABLE IF NOT EXISTS alert_rules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			server_pattern TEXT NOT NULL,
			resource TEXT NOT NULL,
			threshold REAL NOT NULL,
			window_minutes INTEGER NOT NULL,
			recipients TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			last_triggered_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_rules_enabled ON alert_rules(enabled, resource, server_pattern);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate failed: %w", err)
		}
	}
	return nil
}
