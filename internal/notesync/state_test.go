package notesync

import (
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/note-organizer/internal/notes"
)

var epoch = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func note(id string, pinned bool, updated time.Duration, title string, tags ...string) notes.Note {
	if tags == nil {
		tags = []string{}
	}
	return notes.Note{
		ID:        id,
		Title:     title,
		Tags:      tags,
		Pinned:    pinned,
		CreatedAt: epoch,
		UpdatedAt: epoch.Add(updated),
	}
}

func ids(list []notes.Note) []string {
	out := make([]string, len(list))
	for i, n := range list {
		out[i] = n.ID
	}
	return out
}

func TestSortNotes_PinnedFirstThenNewest(t *testing.T) {
	createdOnly := notes.Note{ID: "c", CreatedAt: epoch.Add(5 * time.Minute)}
	sorted := SortNotes([]notes.Note{
		note("a", false, time.Minute, "a"),
		note("b", true, 0, "b"),
		createdOnly,
		note("d", true, time.Hour, "d"),
	})
	assert.Equal(t, []string{"d", "b", "c", "a"}, ids(sorted))
	assert.NotNil(t, SortNotes(nil))
}

func TestFilterNotes_CaseInsensitiveOverTitleContentTags(t *testing.T) {
	list := []notes.Note{
		note("1", false, 0, "Groceries"),
		{ID: "2", Content: "buy MILK"},
		note("3", false, 0, "x", "Work", "Urgent"),
		note("4", false, 0, "unrelated"),
	}
	assert.Equal(t, []string{"1"}, ids(FilterNotes(list, "GROC")))
	assert.Equal(t, []string{"2"}, ids(FilterNotes(list, "milk")))
	assert.Equal(t, []string{"3"}, ids(FilterNotes(list, "urg")))
	assert.Len(t, FilterNotes(list, ""), 4)
	assert.Empty(t, FilterNotes(list, "zzz"))
}

func TestReduce_UpsertReplacesOrPrepends(t *testing.T) {
	s := Reduce(State{}, NotesLoaded{Notes: []notes.Note{note("a", false, 0, "a")}})
	s = Reduce(s, NoteUpserted{Note: note("b", false, 0, "b")})
	assert.Equal(t, []string{"b", "a"}, ids(s.Notes), "equal timestamps keep prepend order")

	renamed := note("a", false, time.Minute, "renamed")
	s = Reduce(s, NoteUpserted{Note: renamed})
	require.Len(t, s.Notes, 2)
	assert.Equal(t, renamed, s.Notes[0])
}

func TestReduce_DeleteActiveSelectsFirstFiltered(t *testing.T) {
	s := Reduce(State{}, NotesLoaded{Notes: []notes.Note{
		note("a", false, 3*time.Minute, "alpha"),
		note("b", false, 2*time.Minute, "beta"),
		note("c", false, time.Minute, "alphabet"),
	}})
	s = Reduce(s, QueryChanged{Query: "alpha"})
	s = Reduce(s, ActiveSet{ID: "a"})

	s = Reduce(s, NoteDeleted{ID: "a"})
	assert.Equal(t, "c", s.ActiveID)
	assert.Equal(t, []string{"b", "c"}, ids(s.Notes))

	s = Reduce(s, ActiveSet{ID: "b"})
	s = Reduce(s, NoteDeleted{ID: "c"})
	assert.Equal(t, "b", s.ActiveID, "deleting an inactive note keeps the selection")

	s = Reduce(s, QueryChanged{Query: "nomatch"})
	s = Reduce(s, NoteDeleted{ID: "b"})
	assert.Empty(t, s.ActiveID)
}

func TestReduce_PlaceholderResolvedMovesSelection(t *testing.T) {
	temp := note(PlaceholderPrefix+"1", false, 0, notes.UntitledLabel)
	s := Reduce(State{}, NoteUpserted{Note: temp})
	s = Reduce(s, ActiveSet{ID: temp.ID})

	s = Reduce(s, PlaceholderResolved{TempID: temp.ID, Note: note("real", false, 0, notes.UntitledLabel)})
	assert.Equal(t, []string{"real"}, ids(s.Notes))
	assert.Equal(t, "real", s.ActiveID)
}

func TestReduce_Flags(t *testing.T) {
	s := Reduce(State{}, LoadingSet{Loading: true})
	s = Reduce(s, SavingSet{Saving: true})
	s = Reduce(s, ErrorSet{Error: "boom"})
	s = Reduce(s, ToastSet{Toast: ToastSaved})
	assert.Equal(t, State{Loading: true, Saving: true, Error: "boom", Toast: ToastSaved}, s)
}

func eventGen(idPool []string) *rapid.Generator[Event] {
	id := rapid.SampledFrom(idPool)
	return rapid.OneOf(
		rapid.Custom(func(t *rapid.T) Event {
			return NoteUpserted{Note: note(
				id.Draw(t, "id"),
				rapid.Bool().Draw(t, "pinned"),
				time.Duration(rapid.IntRange(0, 100).Draw(t, "minutes"))*time.Minute,
				rapid.SampledFrom([]string{"Alpha", "beta", "GAMMA", ""}).Draw(t, "title"),
			)}
		}),
		rapid.Custom(func(t *rapid.T) Event { return NoteDeleted{ID: id.Draw(t, "id")} }),
		rapid.Custom(func(t *rapid.T) Event { return ActiveSet{ID: id.Draw(t, "id")} }),
		rapid.Custom(func(t *rapid.T) Event {
			return QueryChanged{Query: rapid.SampledFrom([]string{"", "a", "ALP", "ta"}).Draw(t, "q")}
		}),
	)
}

func testReduce_KeepsCollectionConsistent(t *rapid.T) {
	pool := []string{"n1", "n2", "n3", "n4"}
	events := rapid.SliceOfN(eventGen(pool), 1, 40).Draw(t, "events")

	var s State
	for i, ev := range events {
		before := fmt.Sprintf("%+v", s)
		next := Reduce(s, ev)
		if after := fmt.Sprintf("%+v", s); after != before {
			t.Fatalf("event %d mutated its input state", i)
		}
		s = next

		seen := map[string]bool{}
		for _, n := range s.Notes {
			if seen[n.ID] {
				t.Fatalf("duplicate id %q after event %d", n.ID, i)
			}
			seen[n.ID] = true
		}
		if !slices.Equal(ids(s.Notes), ids(SortNotes(s.Notes))) {
			t.Fatalf("notes not sorted after event %d: %v", i, ids(s.Notes))
		}
		if !slices.Equal(ids(s.Filtered), ids(FilterNotes(s.Notes, s.Query))) {
			t.Fatalf("filtered view stale after event %d", i)
		}
	}
}

func TestReduce_KeepsCollectionConsistent(t *testing.T) {
	rapid.Check(t, testReduce_KeepsCollectionConsistent)
}

func FuzzReduce_KeepsCollectionConsistent(f *testing.F) {
	f.Fuzz(rapid.MakeFuzz(testReduce_KeepsCollectionConsistent))
}
