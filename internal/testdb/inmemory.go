// Package testdb opens throwaway in-memory databases for tests.
package testdb

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/kuitang/note-organizer/internal/db"
)

// TestKey is the SQLCipher key used by every in-memory test database.
var TestKey = bytes.Repeat([]byte{0x42}, db.EncryptionKeySize)

var seq atomic.Uint64

// NewInMemory creates an encrypted, migrated, in-memory notes database.
// Each call gets its own database.
func NewInMemory() (*db.DB, error) {
	name := fmt.Sprintf("notes-test-%d", seq.Add(1))
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma_key=x'%s'&_pragma_cipher_page_size=4096",
		name, hex.EncodeToString(TestKey))

	sqlDB, err := sql.Open(db.SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}

	// A single connection keeps the shared-cache database alive and avoids
	// SQLITE_LOCKED between pooled connections.
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(1)

	var sqliteVersion string
	if err := sqlDB.QueryRow("SELECT sqlite_version()").Scan(&sqliteVersion); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to verify in-memory database: %w", err)
	}

	if err := applyFastSQLitePragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to apply fast SQLite pragmas: %w", err)
	}

	store := db.NewFromSQL(sqlDB)
	if err := store.Migrate(context.Background()); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return store, nil
}

// New is NewInMemory for tests: it fails the test on error and closes the
// database on cleanup.
func New(tb testing.TB) *db.DB {
	tb.Helper()
	store, err := NewInMemory()
	if err != nil {
		tb.Fatalf("testdb: %v", err)
	}
	tb.Cleanup(func() { store.Close() })
	return store
}

func applyFastSQLitePragmas(sqlDB *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=MEMORY",
		"PRAGMA synchronous=OFF",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA secure_delete=OFF",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return err
		}
	}
	return nil
}
