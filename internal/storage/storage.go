// Package storage persists swap records in SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage is the bridge's swap database.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New opens or creates the database under cfg.DataDir.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "ldsbridge.db")

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

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Storage) Path() string {
	return s.dbPath
}

// initSchema creates all database tables. Secrets never reach the
// database: there is no preimage or private key column.
func (s *Storage) initSchema() error {
	schema := `
	-- Settings/config table
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at INTEGER
	);

	-- One row per flow, updated on every step
	CREATE TABLE IF NOT EXISTS swaps (
		id TEXT PRIMARY KEY,                  -- local flow id
		swap_id TEXT,                         -- swap service id, once created
		direction TEXT NOT NULL,
		status TEXT,                          -- last swap service status
		step TEXT NOT NULL,
		preimage_hash TEXT,

		from_currency TEXT NOT NULL,
		to_currency TEXT NOT NULL,
		amount INTEGER NOT NULL,

		lockup_address TEXT,
		lock_tx_hash TEXT,
		claim_tx_id TEXT,
		refund_tx_hash TEXT,

		-- Seed index of the refund key, NULL for random keys
		refund_key_index INTEGER,
		timeout_block_height INTEGER DEFAULT 0,

		error TEXT,
		error_class TEXT,

		-- Full public swap record (JSON)
		data TEXT,

		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		completed_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_swaps_swap_id ON swaps(swap_id);
	CREATE INDEX IF NOT EXISTS idx_swaps_step ON swaps(step);
	CREATE INDEX IF NOT EXISTS idx_swaps_created ON swaps(created_at);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return err
	}

	return s.runMigrations()
}

// runMigrations adds columns to databases created by older versions.
// Errors are ignored since columns may already exist.
func (s *Storage) runMigrations() error {
	migrations := []string{
		"ALTER TABLE swaps ADD COLUMN refund_tx_hash TEXT",
		"ALTER TABLE swaps ADD COLUMN error_class TEXT",
	}

	for _, migration := range migrations {
		_, _ = s.db.Exec(migration)
	}

	return nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

func timeToUnixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
