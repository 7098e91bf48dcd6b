package notes

import (
	"time"

	"github.com/kuitang/note-organizer/internal/errs"
)

// ErrNoteNotFound is returned when a note does not exist or is soft-deleted.
var ErrNoteNotFound = errs.New(errs.NotFound, "Note not found")

// Note is the public shape of a note. DeletedAt is never serialized.
type Note struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Tags      []string   `json:"tags"`
	Pinned    bool       `json:"pinned"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"-"`
}

// CreateNoteParams holds the fields of a new note. Zero values are the defaults.
type CreateNoteParams struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
	Pinned  bool     `json:"pinned"`
}

// UpdateNoteParams is a partial update: nil fields are left unchanged.
type UpdateNoteParams struct {
	Title   *string   `json:"title,omitempty"`
	Content *string   `json:"content,omitempty"`
	Tags    *[]string `json:"tags,omitempty"`
	Pinned  *bool     `json:"pinned,omitempty"`
}

// IsEmpty reports whether no field is set.
func (p UpdateNoteParams) IsEmpty() bool {
	return p.Title == nil && p.Content == nil && p.Tags == nil && p.Pinned == nil
}

// ListFilter narrows List. Zero values mean "no filter".
type ListFilter struct {
	Query  string
	Tag    string
	Pinned *bool
}

// RemoveOptions selects soft (default) or hard deletion.
type RemoveOptions struct {
	Hard bool
}
