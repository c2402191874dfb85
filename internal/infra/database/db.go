package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	defaultConnMaxLifetime = 5 * time.Minute
	defaultConnMaxIdleTime = 1 * time.Minute
)

const createTable = `
CREATE TABLE IF NOT EXISTS payday_data (
    identity TEXT PRIMARY KEY,
    display_name TEXT NOT NULL,
    minutes_played INTEGER NOT NULL DEFAULT 0,
    pending_balance REAL NOT NULL DEFAULT 0.0,
    last_updated INTEGER NOT NULL,
    total_paydays INTEGER NOT NULL DEFAULT 0
)`

// NewSQLiteConnection opens (creating if needed) the file-backed SQLite
// database at path and ensures the payday schema exists.
func NewSQLiteConnection(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; a single connection sidesteps
	// SQLITE_BUSY between the tick saves and admin operations.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err = db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create payday_data table: %w", err)
	}

	return db, nil
}
