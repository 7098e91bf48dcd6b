package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// NoteRow is one row of the notes table as stored.
type NoteRow struct {
	ID        string         `db:"id"`
	Title     string         `db:"title"`
	Content   string         `db:"content"`
	Tags      string         `db:"tags"`
	Pinned    bool           `db:"pinned"`
	CreatedAt sql.NullString `db:"created_at"`
	UpdatedAt sql.NullString `db:"updated_at"`
	DeletedAt sql.NullString `db:"deleted_at"`
}

// ListParams filters ListNotes. Zero values mean "no filter".
type ListParams struct {
	// Query is a case-insensitive substring matched against title, content
	// and the raw tags blob.
	Query string
	// Tag is an exact tag membership test.
	Tag    string
	Pinned *bool
}

const noteColumns = `id,
    COALESCE(title, '') AS title,
    COALESCE(content, '') AS content,
    COALESCE(tags, '[]') AS tags,
    COALESCE(pinned, 0) != 0 AS pinned,
    created_at,
    updated_at,
    deleted_at`

const noteOrder = `ORDER BY pinned DESC, COALESCE(updated_at, created_at) DESC, id ASC`

// InsertNote stores a new row.
func (d *DB) InsertNote(ctx context.Context, row NoteRow) error {
	_, err := d.db.NamedExecContext(ctx, `
INSERT INTO notes (id, title, content, tags, pinned, created_at, updated_at, deleted_at)
VALUES (:id, :title, :content, :tags, :pinned, :created_at, :updated_at, :deleted_at)`, row)
	if err != nil {
		return fmt.Errorf("failed to insert note %s: %w", row.ID, err)
	}
	return nil
}

// GetNote returns a live row, or sql.ErrNoRows when the id is unknown or
// soft-deleted.
func (d *DB) GetNote(ctx context.Context, id string) (NoteRow, error) {
	return getLiveNote(ctx, d.db, id)
}

func getLiveNote(ctx context.Context, q sqlxQueryer, id string) (NoteRow, error) {
	var row NoteRow
	err := q.GetContext(ctx, &row, `SELECT `+noteColumns+` FROM notes WHERE id = ? AND deleted_at IS NULL`, id)
	if err != nil {
		return NoteRow{}, err
	}
	return row, nil
}

// ListNotes returns live rows matching params, pinned first, then most
// recently updated, ties broken by id.
func (d *DB) ListNotes(ctx context.Context, params ListParams) ([]NoteRow, error) {
	conds := []string{"deleted_at IS NULL"}
	var args []any

	if params.Query != "" {
		like := "%" + EscapeLike(params.Query) + "%"
		conds = append(conds, `(title LIKE ? ESCAPE '\' OR content LIKE ? ESCAPE '\' OR tags LIKE ? ESCAPE '\')`)
		args = append(args, like, like, like)
	}
	if params.Tag != "" {
		conds = append(conds, "json_has_tag(tags, ?)")
		args = append(args, params.Tag)
	}
	if params.Pinned != nil {
		conds = append(conds, "(COALESCE(pinned, 0) != 0) = ?")
		args = append(args, *params.Pinned)
	}

	query := `SELECT ` + noteColumns + ` FROM notes WHERE ` + strings.Join(conds, " AND ") + " " + noteOrder
	rows := []NoteRow{}
	if err := d.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	return rows, nil
}

// ListAllNotes returns every row including soft-deleted ones, oldest first.
func (d *DB) ListAllNotes(ctx context.Context) ([]NoteRow, error) {
	rows := []NoteRow{}
	if err := d.db.SelectContext(ctx, &rows, `SELECT `+noteColumns+` FROM notes ORDER BY created_at ASC, id ASC`); err != nil {
		return nil, fmt.Errorf("failed to list all notes: %w", err)
	}
	return rows, nil
}

// ModifyNote reads a live row, passes it to mutate and writes the result back
// inside one transaction. mutate must not change the id. sql.ErrNoRows is
// returned when the row is absent or soft-deleted; an error from mutate
// aborts the transaction and is returned unchanged.
func (d *DB) ModifyNote(ctx context.Context, id string, mutate func(NoteRow) (NoteRow, error)) (NoteRow, error) {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return NoteRow{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := getLiveNote(ctx, tx, id)
	if err != nil {
		return NoteRow{}, err
	}

	next, err := mutate(current)
	if err != nil {
		return NoteRow{}, err
	}
	next.ID = current.ID

	_, err = tx.NamedExecContext(ctx, `
UPDATE notes
SET title = :title, content = :content, tags = :tags, pinned = :pinned, updated_at = :updated_at
WHERE id = :id AND deleted_at IS NULL`, next)
	if err != nil {
		return NoteRow{}, fmt.Errorf("failed to update note %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return NoteRow{}, fmt.Errorf("failed to commit note update: %w", err)
	}
	return next, nil
}

// SoftDeleteNote marks a live row deleted at ts. updated_at only moves
// forward. It reports whether a row changed.
func (d *DB) SoftDeleteNote(ctx context.Context, id, ts string) (bool, error) {
	res, err := d.db.ExecContext(ctx, `
UPDATE notes
SET deleted_at = ?, updated_at = max(COALESCE(updated_at, ''), ?)
WHERE id = ? AND deleted_at IS NULL`, ts, ts, id)
	if err != nil {
		return false, fmt.Errorf("failed to soft delete note %s: %w", id, err)
	}
	return affected(res)
}

// HardDeleteNote physically removes a row whatever its state.
func (d *DB) HardDeleteNote(ctx context.Context, id string) (bool, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete note %s: %w", id, err)
	}
	return affected(res)
}

// EscapeLike escapes LIKE wildcards so s matches literally with ESCAPE '\'.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

type sqlxQueryer interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}
