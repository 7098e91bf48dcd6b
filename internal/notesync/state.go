// Package notesync keeps a client-side copy of the note collection that
// reflects local edits immediately and reconciles them with the server.
//
// State transitions go through the pure Reduce function. Syncer is the effect
// scheduler: it debounces searches and saves, issues API calls, and dispatches
// follow-up events, including compensating ones when a write fails.
package notesync

import (
	"slices"
	"strings"
	"time"

	"github.com/kuitang/note-organizer/internal/notes"
)

// State is a snapshot of the client view.
type State struct {
	Notes    []notes.Note
	Filtered []notes.Note
	ActiveID string
	Query    string
	Loading  bool
	Saving   bool
	Error    string
	Toast    string
}

// Event is one reducer input.
type Event interface {
	event()
}

type (
	// NotesLoaded replaces the collection.
	NotesLoaded struct{ Notes []notes.Note }
	// NoteUpserted replaces the note with the same id, or prepends it.
	NoteUpserted struct{ Note notes.Note }
	// NoteDeleted removes a note locally.
	NoteDeleted struct{ ID string }
	// PlaceholderResolved swaps a placeholder for the record the server created.
	PlaceholderResolved struct {
		TempID string
		Note   notes.Note
	}
	QueryChanged struct{ Query string }
	ActiveSet    struct{ ID string }
	LoadingSet   struct{ Loading bool }
	SavingSet    struct{ Saving bool }
	ErrorSet     struct{ Error string }
	ToastSet     struct{ Toast string }
)

func (NotesLoaded) event()         {}
func (NoteUpserted) event()        {}
func (NoteDeleted) event()         {}
func (PlaceholderResolved) event() {}
func (QueryChanged) event()        {}
func (ActiveSet) event()           {}
func (LoadingSet) event()          {}
func (SavingSet) event()           {}
func (ErrorSet) event()            {}
func (ToastSet) event()            {}

// Reduce returns the state after ev. It never mutates s.
func Reduce(s State, ev Event) State {
	switch ev := ev.(type) {
	case NotesLoaded:
		s.Notes = SortNotes(ev.Notes)
		s.Filtered = FilterNotes(s.Notes, s.Query)
	case NoteUpserted:
		s.Notes = SortNotes(upsert(s.Notes, ev.Note))
		s.Filtered = FilterNotes(s.Notes, s.Query)
	case NoteDeleted:
		s = removeNote(s, ev.ID)
	case PlaceholderResolved:
		wasActive := s.ActiveID == ev.TempID
		s.Notes = SortNotes(upsert(without(s.Notes, ev.TempID), ev.Note))
		s.Filtered = FilterNotes(s.Notes, s.Query)
		if wasActive {
			s.ActiveID = ev.Note.ID
		}
	case QueryChanged:
		s.Query = ev.Query
		s.Filtered = FilterNotes(s.Notes, s.Query)
	case ActiveSet:
		s.ActiveID = ev.ID
	case LoadingSet:
		s.Loading = ev.Loading
	case SavingSet:
		s.Saving = ev.Saving
	case ErrorSet:
		s.Error = ev.Error
	case ToastSet:
		s.Toast = ev.Toast
	}
	return s
}

func removeNote(s State, id string) State {
	s.Notes = without(s.Notes, id)
	s.Filtered = FilterNotes(s.Notes, s.Query)
	if s.ActiveID == id {
		s.ActiveID = ""
		if len(s.Filtered) > 0 {
			s.ActiveID = s.Filtered[0].ID
		}
	}
	return s
}

func upsert(list []notes.Note, n notes.Note) []notes.Note {
	if i := indexOf(list, n.ID); i >= 0 {
		out := slices.Clone(list)
		out[i] = n
		return out
	}
	out := make([]notes.Note, 0, len(list)+1)
	out = append(out, n)
	return append(out, list...)
}

func without(list []notes.Note, id string) []notes.Note {
	out := make([]notes.Note, 0, len(list))
	for _, n := range list {
		if n.ID != id {
			out = append(out, n)
		}
	}
	return out
}

func indexOf(list []notes.Note, id string) int {
	return slices.IndexFunc(list, func(n notes.Note) bool { return n.ID == id })
}

// SortNotes returns a copy ordered pinned first, then most recently updated.
// A zero UpdatedAt falls back to CreatedAt.
func SortNotes(list []notes.Note) []notes.Note {
	out := slices.Clone(list)
	if out == nil {
		out = []notes.Note{}
	}
	slices.SortStableFunc(out, func(a, b notes.Note) int {
		if a.Pinned != b.Pinned {
			if a.Pinned {
				return -1
			}
			return 1
		}
		return sortTime(b).Compare(sortTime(a))
	})
	return out
}

func sortTime(n notes.Note) time.Time {
	if n.UpdatedAt.IsZero() {
		return n.CreatedAt
	}
	return n.UpdatedAt
}

// FilterNotes keeps notes whose title, content or any tag contains query,
// ignoring case. An empty query keeps everything.
func FilterNotes(list []notes.Note, query string) []notes.Note {
	if query == "" {
		return slices.Clone(list)
	}
	q := strings.ToLower(query)
	out := make([]notes.Note, 0, len(list))
	for _, n := range list {
		if matches(n, q) {
			out = append(out, n)
		}
	}
	return out
}

func matches(n notes.Note, lowerQuery string) bool {
	if strings.Contains(strings.ToLower(n.Title), lowerQuery) ||
		strings.Contains(strings.ToLower(n.Content), lowerQuery) {
		return true
	}
	return slices.ContainsFunc(n.Tags, func(tag string) bool {
		return strings.Contains(strings.ToLower(tag), lowerQuery)
	})
}
