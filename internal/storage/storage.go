// Package storage provides persistent storage using SQLite.
//
// Every row is scoped to a wallet identity. Opening the same database for a
// different wallet yields a disjoint view of keys, swaps and secrets.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
)

// DefaultWalletID is used when no wallet identity is configured.
const DefaultWalletID = "default"

// Storage provides persistent storage for the swap client.
type Storage struct {
	db       *sql.DB
	dbPath   string
	walletID string
	mu       *sync.RWMutex
	owner    bool
}

// Config holds storage configuration.
type Config struct {
	DataDir  string
	WalletID string
}

// New creates a new Storage instance.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "swapclient.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	walletID := cfg.WalletID
	if walletID == "" {
		walletID = DefaultWalletID
	}

	s := &Storage{
		db:       db,
		dbPath:   dbPath,
		walletID: walletID,
		mu:       &sync.RWMutex{},
		owner:    true,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// ForWallet returns a view of the same database scoped to another wallet.
// Closing the view does not close the database.
func (s *Storage) ForWallet(walletID string) *Storage {
	return &Storage{db: s.db, dbPath: s.dbPath, walletID: walletID, mu: s.mu}
}

// WalletID returns the wallet identity this view is scoped to.
func (s *Storage) WalletID() string {
	return s.walletID
}

// Path returns the database file path.
func (s *Storage) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *Storage) Close() error {
	if !s.owner {
		return nil
	}
	return s.db.Close()
}

// initSchema creates all database tables.
func (s *Storage) initSchema() error {
	schema := `
	-- Durable key/value pairs: key material, claim markers, settings
	CREATE TABLE IF NOT EXISTS kv (
		wallet_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (wallet_id, key)
	);

	-- Swaps created by this client
	CREATE TABLE IF NOT EXISTS swaps (
		wallet_id TEXT NOT NULL,
		id TEXT NOT NULL,
		direction TEXT NOT NULL,
		status TEXT NOT NULL,

		-- Full record (JSON). Never contains the secret.
		record TEXT NOT NULL,

		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (wallet_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_swaps_status ON swaps(wallet_id, status);

	-- Secrets table (separate from swap records)
	CREATE TABLE IF NOT EXISTS secrets (
		wallet_id TEXT NOT NULL,
		swap_id TEXT NOT NULL,

		-- SHA-256 of the secret, hex with 0x prefix
		hash_lock TEXT NOT NULL,

		-- The secret, possibly sealed
		secret BLOB NOT NULL,
		sealed INTEGER NOT NULL DEFAULT 0,

		created_at INTEGER NOT NULL,
		revealed_at INTEGER,
		PRIMARY KEY (wallet_id, swap_id)
	);

	CREATE INDEX IF NOT EXISTS idx_secrets_hash ON secrets(hash_lock);
	`

	_, err := s.db.Exec(schema)
	return err
}

// isUniqueConstraintError checks if an error is a SQLite unique or primary
// key constraint violation.
func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
