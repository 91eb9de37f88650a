// Package sqlite provides a SQLite-backed implementation of the storage.Store interface.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/fairsettle/fairsettle/internal/storage"
)

// Ensure SQLiteStore implements storage.Store
var _ storage.Store = (*SQLiteStore)(nil)

// SQLiteStore implements storage.Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLiteStore with the given database path.
// It creates the parent directories and runs migrations automatically.
func New(dbPath string) (*SQLiteStore, error) {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database with pure Go driver
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Run migrations
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// nextCounter increments and returns the named monotonic counter inside tx.
func nextCounter(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	var value int64
	err := tx.QueryRowContext(ctx,
		"SELECT value FROM counters WHERE name = ?", name,
	).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("failed to read counter %s: %w", name, err)
	}

	value++
	if _, err := tx.ExecContext(ctx,
		"UPDATE counters SET value = ? WHERE name = ?", value, name,
	); err != nil {
		return 0, fmt.Errorf("failed to advance counter %s: %w", name, err)
	}
	return value, nil
}

// creditAccount adds amount to a party's payout balance inside tx.
func creditAccount(ctx context.Context, tx *sql.Tx, party string, amount int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (party, balance) VALUES (?, ?)
		ON CONFLICT(party) DO UPDATE SET balance = balance + excluded.balance`,
		party, amount,
	)
	if err != nil {
		return fmt.Errorf("failed to credit account %s: %w", party, err)
	}
	return nil
}
