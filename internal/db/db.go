package db

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jmoiron/sqlx"

	"github.com/kuitang/note-organizer/internal/obs"
)

const (
	// DefaultPath is the database file used when none is configured.
	DefaultPath = "./data/notes.db"

	// MaxOpenConns bounds the pool. SQLite is single-writer, so high
	// connection counts are counterproductive.
	MaxOpenConns = 10

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns = 2

	// EncryptionKeySize is the SQLCipher raw key length in bytes.
	EncryptionKeySize = 32

	defaultPingAttempts = 5
)

var logger = obs.Pkg("db")

// Options configures Open.
type Options struct {
	Path string
	// EncryptionKey enables SQLCipher at-rest encryption when non-empty.
	EncryptionKey []byte
	MaxOpenConns  int
	PingAttempts  uint
}

// DB wraps the notes database connection.
type DB struct {
	db *sqlx.DB
}

// Open creates the parent directory, opens the database, waits for it to
// answer a ping and runs Migrate.
func Open(ctx context.Context, opts Options) (*DB, error) {
	path := opts.Path
	if path == "" {
		path = DefaultPath
	}
	if len(opts.EncryptionKey) != 0 && len(opts.EncryptionKey) != EncryptionKeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", EncryptionKeySize, len(opts.EncryptionKey))
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
		}
	}

	sqlDB, err := sql.Open(SQLiteDriverName, DSN(path, opts.EncryptionKey))
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = MaxOpenConns
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(MaxIdleConns)

	attempts := opts.PingAttempts
	if attempts == 0 {
		attempts = defaultPingAttempts
	}
	if err := retry.Do(
		func() error { return sqlDB.PingContext(ctx) },
		retry.Context(ctx),
		retry.Delay(100*time.Millisecond),
		retry.Attempts(attempts),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			logger.Warn("failed ping to database",
				slog.String("path", path),
				slog.Any("err", err),
				slog.Uint64("attempt", uint64(attempt)),
			)
		}),
	); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database %s: %w", path, err)
	}

	d := NewFromSQL(sqlDB)
	if err := d.Migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}

	logger.Info("database opened", "path", path, "encrypted", len(opts.EncryptionKey) != 0)
	return d, nil
}

// DSN builds the connection string for a database file.
func DSN(path string, key []byte) string {
	params := []string{
		"_journal_mode=WAL",
		"_synchronous=NORMAL",
		"_busy_timeout=5000",
		"_foreign_keys=on",
		"_txlock=immediate",
	}
	if len(key) != 0 {
		params = append([]string{
			fmt.Sprintf("_pragma_key=x'%s'", hex.EncodeToString(key)),
			"_pragma_cipher_page_size=4096",
		}, params...)
	}
	return "file:" + path + "?" + strings.Join(params, "&")
}

// DecodeKey parses a hex-encoded SQLCipher key. Empty input means no encryption.
func DecodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid hex: %w", err)
	}
	if len(key) != EncryptionKeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes (%d hex chars), got %d bytes", EncryptionKeySize, EncryptionKeySize*2, len(key))
	}
	return key, nil
}

// NewFromSQL wraps an existing sql.DB opened with SQLiteDriverName.
// It does not migrate.
func NewFromSQL(sqlDB *sql.DB) *DB {
	return &DB{db: sqlx.NewDb(sqlDB, SQLiteDriverName)}
}

// DB returns the underlying sql.DB for direct access when needed.
func (d *DB) DB() *sql.DB {
	return d.db.DB
}

// Close closes the connection pool.
func (d *DB) Close() error {
	return d.db.Close()
}

// Migrate brings the notes table to the current schema. It only ever adds
// columns and indexes, and running it again is a no-op.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, NotesSchema); err != nil {
		return fmt.Errorf("failed to create notes table: %w", err)
	}

	for _, col := range notesColumns {
		stmt := fmt.Sprintf("ALTER TABLE notes ADD COLUMN %s %s", col.Name, col.Decl)
		if _, err := d.db.ExecContext(ctx, stmt); err != nil && !isDuplicateColumn(err) {
			return fmt.Errorf("failed to add column %s: %w", col.Name, err)
		}
	}

	if err := d.backfillLegacyTimestamps(ctx); err != nil {
		return err
	}
	if err := d.canonicalizeTimestamps(ctx); err != nil {
		return err
	}

	if _, err := d.db.ExecContext(ctx, NotesIndexes); err != nil {
		return fmt.Errorf("failed to create notes indexes: %w", err)
	}
	return nil
}

// backfillLegacyTimestamps copies camelCase timestamp columns into their
// canonical columns without overwriting canonical values.
func (d *DB) backfillLegacyTimestamps(ctx context.Context) error {
	columns, err := d.columnNames(ctx)
	if err != nil {
		return err
	}

	var sets []string
	for _, pair := range legacyTimestampColumns {
		if columns[pair.Legacy] {
			sets = append(sets, fmt.Sprintf("%s = COALESCE(%s, %q)", pair.Canonical, pair.Canonical, pair.Legacy))
		}
	}
	if len(sets) == 0 {
		return nil
	}

	res, err := d.db.ExecContext(ctx, "UPDATE notes SET "+strings.Join(sets, ", "))
	if err != nil {
		return fmt.Errorf("failed to backfill legacy timestamps: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		logger.Info("legacy timestamp columns backfilled", "rows", n)
	}
	return nil
}

type timestampRow struct {
	ID        string         `db:"id"`
	CreatedAt sql.NullString `db:"created_at"`
	UpdatedAt sql.NullString `db:"updated_at"`
	DeletedAt sql.NullString `db:"deleted_at"`
}

// canonicalizeTimestamps rewrites timestamps stored in an older format into
// TimestampLayout, since ordering compares them as text. Values that do not
// parse are left alone.
func (d *DB) canonicalizeTimestamps(ctx context.Context) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin timestamp rewrite: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var rows []timestampRow
	if err := tx.SelectContext(ctx, &rows, `SELECT id, created_at, updated_at, deleted_at FROM notes
WHERE (created_at IS NOT NULL AND NOT `+canonicalTimestampSQL("created_at")+`)
   OR (updated_at IS NOT NULL AND NOT `+canonicalTimestampSQL("updated_at")+`)
   OR (deleted_at IS NOT NULL AND NOT `+canonicalTimestampSQL("deleted_at")+`)`); err != nil {
		return fmt.Errorf("failed to scan timestamps: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	rewritten := 0
	for _, row := range rows {
		created, c1 := canonicalTimestamp(row.CreatedAt)
		updated, c2 := canonicalTimestamp(row.UpdatedAt)
		deleted, c3 := canonicalTimestamp(row.DeletedAt)
		if !c1 && !c2 && !c3 {
			logger.Warn("unparseable note timestamp left as is", "note_id", row.ID)
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE notes SET created_at = ?, updated_at = ?, deleted_at = ? WHERE id = ?`,
			created, updated, deleted, row.ID); err != nil {
			return fmt.Errorf("failed to rewrite timestamps of note %s: %w", row.ID, err)
		}
		rewritten++
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit timestamp rewrite: %w", err)
	}
	logger.Info("note timestamps canonicalized", "rows", rewritten)
	return nil
}

// canonicalTimestampSQL matches values already in TimestampLayout.
func canonicalTimestampSQL(col string) string {
	return fmt.Sprintf("(length(%[1]s) = 30 AND %[1]s GLOB '[0-9][0-9][0-9][0-9]-[0-9][0-9]-[0-9][0-9]T[0-9][0-9]:[0-9][0-9]:[0-9][0-9].[0-9][0-9][0-9][0-9][0-9][0-9][0-9][0-9][0-9]Z')", col)
}

// canonicalTimestamp returns v in TimestampLayout and whether it changed.
func canonicalTimestamp(v sql.NullString) (sql.NullString, bool) {
	if !v.Valid {
		return v, false
	}
	t, err := ParseTimestamp(v.String)
	if err != nil {
		return v, false
	}
	out := FormatTimestamp(t)
	return sql.NullString{String: out, Valid: true}, out != v.String
}

func (d *DB) columnNames(ctx context.Context) (map[string]bool, error) {
	var names []string
	if err := d.db.SelectContext(ctx, &names, "SELECT name FROM pragma_table_info('notes')"); err != nil {
		return nil, fmt.Errorf("failed to inspect notes columns: %w", err)
	}
	out := make(map[string]bool, len(names))
	for _, name := range names {
		out[name] = true
	}
	return out, nil
}

func isDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// VacuumInto writes a consistent, compacted copy of the database to path.
// The copy uses the same encryption key as the source. path must not exist.
func (d *DB) VacuumInto(ctx context.Context, path string) error {
	if _, err := d.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return fmt.Errorf("failed to vacuum into %s: %w", path, err)
	}
	return nil
}

// CountNotes returns the number of rows, including soft-deleted ones.
func (d *DB) CountNotes(ctx context.Context) (int, error) {
	var n int
	if err := d.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM notes"); err != nil {
		return 0, fmt.Errorf("failed to count notes: %w", err)
	}
	return n, nil
}
