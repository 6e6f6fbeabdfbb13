package sqlite

import (
	"database/sql"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/tandemfamily/tandem/internal/ledger/storage/integrity"
	"github.com/tandemfamily/tandem/internal/ledger/storage/sqlite/migrations"
	"github.com/tandemfamily/tandem/internal/platform/storage/sqlitemigrate"
	_ "modernc.org/sqlite"
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis reverses toMillis for persisted millisecond timestamps.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store provides a SQLite-backed incident ledger store.
type Store struct {
	sqlDB   *sql.DB
	keyring *integrity.Keyring
}

// Open opens a SQLite ledger store at the provided path.
//
// This path wires integrity key material so every appended record is signed
// in one place.
func Open(path string, keyring *integrity.Keyring) (*Store, error) {
	return openStore(path, migrations.LedgerFS, "ledger", keyring)
}

// Close closes the underlying SQLite database.
//
// Close is intentionally nil-safe so callers can defer it in all startup paths.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// openStore boots a SQLite bundle and applies embedded migrations before the
// store is handed to higher layers.
func openStore(path string, migrationFS fs.FS, migrationRoot string, keyring *integrity.Keyring) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	// modernc.org/sqlite takes PRAGMAs as _pragma=name(value) pairs; the
	// mattn-style _journal_mode=WAL form is silently ignored. _txlock=immediate
	// makes append transactions take the write lock up front so concurrent
	// writers queue on busy_timeout instead of failing a lock upgrade.
	dsn := cleanPath + "?_txlock=immediate" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(ON)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{
		sqlDB:   sqlDB,
		keyring: keyring,
	}

	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrationFS, migrationRoot); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}
