package notes

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kuitang/note-organizer/internal/clock"
	"github.com/kuitang/note-organizer/internal/db"
	"github.com/kuitang/note-organizer/internal/obs"
)

// Service handles note queries and commands on top of the record store.
type Service struct {
	store *db.DB
	clock clock.Clock
	newID func() string
}

// NewService creates a notes service. A nil clock means the wall clock.
func NewService(store *db.DB, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	return &Service{
		store: store,
		clock: clk,
		newID: func() string { return uuid.New().String() },
	}
}

// List returns live notes matching filter, pinned first, then most recently
// updated. The result is never nil.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Note, error) {
	rows, err := s.store.ListNotes(ctx, db.ListParams{
		Query:  filter.Query,
		Tag:    filter.Tag,
		Pinned: filter.Pinned,
	})
	if err != nil {
		return nil, err
	}
	out := make([]Note, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToNote(ctx, row))
	}
	return out, nil
}

// Get returns a live note or ErrNoteNotFound.
func (s *Service) Get(ctx context.Context, id string) (*Note, error) {
	if id == "" {
		return nil, ErrNoteNotFound
	}
	row, err := s.store.GetNote(ctx, id)
	if db.IsNotFound(err) {
		return nil, ErrNoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read note: %w", err)
	}
	note := rowToNote(ctx, row)
	return &note, nil
}

// Create stores a new note with a fresh id and createdAt == updatedAt == now.
func (s *Service) Create(ctx context.Context, params CreateNoteParams) (*Note, error) {
	now := s.now()
	stamp := sql.NullString{String: db.FormatTimestamp(now), Valid: true}
	row := db.NoteRow{
		ID:        s.newID(),
		Title:     params.Title,
		Content:   params.Content,
		Tags:      EncodeTags(params.Tags),
		Pinned:    params.Pinned,
		CreatedAt: stamp,
		UpdatedAt: stamp,
	}
	if err := s.store.InsertNote(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to create note: %w", err)
	}
	obs.From(ctx).Debug("note created", "pkg", "notes", "note_id", row.ID)

	note := rowToNote(ctx, row)
	return &note, nil
}

// Update merges the set fields of params into a live note. updatedAt always
// moves strictly forward, even when the clock has not.
func (s *Service) Update(ctx context.Context, id string, params UpdateNoteParams) (*Note, error) {
	if id == "" {
		return nil, ErrNoteNotFound
	}
	row, err := s.store.ModifyNote(ctx, id, func(cur db.NoteRow) (db.NoteRow, error) {
		if params.Title != nil {
			cur.Title = *params.Title
		}
		if params.Content != nil {
			cur.Content = *params.Content
		}
		if params.Tags != nil {
			cur.Tags = EncodeTags(*params.Tags)
		}
		if params.Pinned != nil {
			cur.Pinned = *params.Pinned
		}

		now := s.now()
		if prev, ok := lastUpdate(cur); ok && !now.After(prev) {
			now = prev.Add(time.Microsecond)
		}
		cur.UpdatedAt = sql.NullString{String: db.FormatTimestamp(now), Valid: true}
		if !cur.CreatedAt.Valid {
			cur.CreatedAt = cur.UpdatedAt
		}
		return cur, nil
	})
	if db.IsNotFound(err) {
		return nil, ErrNoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update note: %w", err)
	}
	obs.From(ctx).Debug("note updated", "pkg", "notes", "note_id", id)

	note := rowToNote(ctx, row)
	return &note, nil
}

// Remove deletes a note, softly unless opts.Hard is set. It reports whether a
// row was affected: a second soft delete of the same id returns false.
func (s *Service) Remove(ctx context.Context, id string, opts RemoveOptions) (bool, error) {
	if id == "" {
		return false, nil
	}
	var (
		ok  bool
		err error
	)
	if opts.Hard {
		ok, err = s.store.HardDeleteNote(ctx, id)
	} else {
		ok, err = s.store.SoftDeleteNote(ctx, id, db.FormatTimestamp(s.now()))
	}
	if err != nil {
		return false, fmt.Errorf("failed to remove note: %w", err)
	}
	if ok {
		obs.From(ctx).Debug("note removed", "pkg", "notes", "note_id", id, "hard", opts.Hard)
	}
	return ok, nil
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

// lastUpdate is the row's effective updatedAt: updated_at, else created_at.
func lastUpdate(row db.NoteRow) (time.Time, bool) {
	for _, v := range []sql.NullString{row.UpdatedAt, row.CreatedAt} {
		if !v.Valid {
			continue
		}
		if t, err := db.ParseTimestamp(v.String); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func rowToNote(ctx context.Context, row db.NoteRow) Note {
	note := Note{
		ID:      row.ID,
		Title:   row.Title,
		Content: row.Content,
		Tags:    DecodeTags(row.Tags),
		Pinned:  row.Pinned,
	}

	created, createdOK := parseColumn(ctx, row.ID, "created_at", row.CreatedAt)
	updated, updatedOK := parseColumn(ctx, row.ID, "updated_at", row.UpdatedAt)
	switch {
	case createdOK && updatedOK:
	case createdOK:
		updated = created
	case updatedOK:
		created = updated
	}
	if updated.Before(created) {
		updated = created
	}
	note.CreatedAt = created
	note.UpdatedAt = updated

	if row.DeletedAt.Valid {
		if t, ok := parseColumn(ctx, row.ID, "deleted_at", row.DeletedAt); ok {
			note.DeletedAt = &t
		}
	}
	return note
}

func parseColumn(ctx context.Context, id, column string, v sql.NullString) (time.Time, bool) {
	if !v.Valid || v.String == "" {
		return time.Time{}, false
	}
	t, err := db.ParseTimestamp(v.String)
	if err != nil {
		obs.From(ctx).Warn("unparseable note timestamp", "pkg", "notes", "note_id", id, "column", column, "error", err)
		return time.Time{}, false
	}
	return t, true
}
