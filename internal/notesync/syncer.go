package notesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kuitang/note-organizer/internal/clock"
	"github.com/kuitang/note-organizer/internal/errs"
	"github.com/kuitang/note-organizer/internal/notes"
	"github.com/kuitang/note-organizer/internal/obs"
)

const (
	DefaultSearchDelay   = 300 * time.Millisecond
	DefaultSaveDelay     = 700 * time.Millisecond
	DefaultToastDuration = 1800 * time.Millisecond

	// PlaceholderPrefix marks ids that exist only locally.
	PlaceholderPrefix = "temp-"
)

// Toast messages.
const (
	ToastNoteCreated  = "Note created"
	ToastCreateFailed = "Create failed"
	ToastSaved        = "Saved"
	ToastSaveFailed   = "Save failed"
	ToastDeleted      = "Deleted"
	ToastDeleteFailed = "Delete failed"
	ToastPinned       = "Pinned"
	ToastUnpinned     = "Unpinned"
	ToastPinFailed    = "Pin failed"
)

// ErrUnknownNote is returned for ids that are not in the local collection.
var ErrUnknownNote = errs.New(errs.NotFound, "Note not found")

const msgNotRolledBack = "newer local edits were kept, so the change could not be rolled back"

// NotesAPI is the server surface the syncer needs. *apiclient.Client
// implements it.
type NotesAPI interface {
	List(ctx context.Context, filter notes.ListFilter) ([]notes.Note, error)
	Create(ctx context.Context, params notes.CreateNoteParams) (*notes.Note, error)
	Update(ctx context.Context, id string, params notes.UpdateNoteParams) (*notes.Note, error)
	Delete(ctx context.Context, id string) error
}

// Options tunes a Syncer. Zero values select the defaults.
type Options struct {
	Clock         clock.Clock
	SearchDelay   time.Duration
	SaveDelay     time.Duration
	ToastDuration time.Duration
	// NewID generates the suffix of placeholder ids.
	NewID func() string
}

type pendingCreate struct {
	deleted bool
}

// Syncer applies local edits optimistically and reconciles them with the
// server. All methods are safe for concurrent use.
type Syncer struct {
	api           NotesAPI
	clk           clock.Clock
	log           *slog.Logger
	newID         func() string
	searchDelay   time.Duration
	saveDelay     time.Duration
	toastDuration time.Duration

	search *Slot
	toast  *Slot

	mu     sync.Mutex
	state  State
	closed bool
	saves  map[string]*Slot
	// gen counts local edits per note; synced is the generation the server
	// last acknowledged. They differ while a note has unsaved edits.
	gen        map[string]uint64
	synced     map[string]uint64
	confirmed  map[string]notes.Note
	tombstones map[string]struct{}
	creating   map[string]*pendingCreate
	inflight   int

	bg   context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// New returns a Syncer with an empty collection.
func New(api NotesAPI, opts Options) *Syncer {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.SearchDelay <= 0 {
		opts.SearchDelay = DefaultSearchDelay
	}
	if opts.SaveDelay <= 0 {
		opts.SaveDelay = DefaultSaveDelay
	}
	if opts.ToastDuration <= 0 {
		opts.ToastDuration = DefaultToastDuration
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	bg, stop := context.WithCancel(context.Background())
	return &Syncer{
		api:           api,
		clk:           opts.Clock,
		log:           obs.Pkg("notesync"),
		newID:         opts.NewID,
		searchDelay:   opts.SearchDelay,
		saveDelay:     opts.SaveDelay,
		toastDuration: opts.ToastDuration,
		search:        NewSlot(opts.Clock),
		toast:         NewSlot(opts.Clock),
		saves:         make(map[string]*Slot),
		gen:           make(map[string]uint64),
		synced:        make(map[string]uint64),
		confirmed:     make(map[string]notes.Note),
		tombstones:    make(map[string]struct{}),
		creating:      make(map[string]*pendingCreate),
		bg:            bg,
		stop:          stop,
	}
}

// IsPlaceholder reports whether id belongs to a note not yet created on the server.
func IsPlaceholder(id string) bool {
	return strings.HasPrefix(id, PlaceholderPrefix)
}

// State returns a snapshot of the current state.
func (s *Syncer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Notes = slices.Clone(st.Notes)
	st.Filtered = slices.Clone(st.Filtered)
	return st
}

// Note returns the local copy of a note.
func (s *Syncer) Note(id string) (notes.Note, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(id)
}

// ActiveNote returns the selected note, if any.
func (s *Syncer) ActiveNote() (notes.Note, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(s.state.ActiveID)
}

// Pending reports whether a debounced save is waiting for id.
func (s *Syncer) Pending(id string) bool {
	s.mu.Lock()
	slot := s.saves[id]
	s.mu.Unlock()
	return slot != nil && slot.Pending()
}

// FetchNotes loads the collection from the server. Notes with unsaved local
// edits keep their local copy, placeholders stay, and deleted ids stay gone.
func (s *Syncer) FetchNotes(ctx context.Context) error {
	s.mu.Lock()
	s.dispatchLocked(LoadingSet{Loading: true})
	s.mu.Unlock()

	list, err := s.api.List(ctx, notes.ListFilter{})

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.dispatchLocked(LoadingSet{Loading: false})
	if err != nil {
		s.dispatchLocked(ErrorSet{Error: err.Error()})
		return err
	}

	merged := make([]notes.Note, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, n := range list {
		if s.tombstonedLocked(n.ID) {
			continue
		}
		seen[n.ID] = true
		s.confirmed[n.ID] = n
		if local, ok := s.findLocked(n.ID); ok && s.dirtyLocked(n.ID) {
			merged = append(merged, local)
			continue
		}
		merged = append(merged, n)
	}
	for _, n := range s.state.Notes {
		if IsPlaceholder(n.ID) && !seen[n.ID] {
			merged = append(merged, n)
		}
	}
	s.dispatchLocked(NotesLoaded{Notes: merged})
	if s.state.ActiveID == "" && len(s.state.Notes) > 0 {
		s.dispatchLocked(ActiveSet{ID: s.state.Notes[0].ID})
	}
	return nil
}

// SetActive selects a note. An empty id clears the selection.
func (s *Syncer) SetActive(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatchLocked(ActiveSet{ID: id})
}

// SetQuery updates the search filter once typing pauses.
func (s *Syncer) SetQuery(q string) {
	s.search.Schedule(s.searchDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.dispatchLocked(QueryChanged{Query: q})
	})
}

// CreateNote inserts and selects a placeholder, then creates the note on the
// server and swaps the placeholder for the real record.
func (s *Syncer) CreateNote(ctx context.Context) (notes.Note, error) {
	now := s.clk.Now()
	temp := notes.Note{
		ID:        PlaceholderPrefix + s.newID(),
		Title:     notes.UntitledLabel,
		Tags:      []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	pending := &pendingCreate{}

	s.mu.Lock()
	s.dispatchLocked(NoteUpserted{Note: temp})
	s.dispatchLocked(ActiveSet{ID: temp.ID})
	s.creating[temp.ID] = pending
	s.mu.Unlock()

	created, err := s.api.Create(ctx, notes.CreateNoteParams{Title: temp.Title, Tags: []string{}})

	s.mu.Lock()
	delete(s.creating, temp.ID)
	local, present := s.findLocked(temp.ID)
	edited := s.gen[temp.ID] > 0
	delete(s.gen, temp.ID)

	if err != nil {
		s.dispatchLocked(NoteDeleted{ID: temp.ID})
		s.failLocked(err, ToastCreateFailed, true)
		s.mu.Unlock()
		return notes.Note{}, err
	}

	s.confirmed[created.ID] = *created
	if pending.deleted || !present {
		s.tombstones[created.ID] = struct{}{}
		s.mu.Unlock()
		return *created, s.discardCreated(ctx, *created)
	}

	resolved := *created
	if edited {
		resolved.Title = local.Title
		resolved.Content = local.Content
		resolved.Tags = local.Tags
		resolved.Pinned = local.Pinned
		resolved.UpdatedAt = local.UpdatedAt
		s.gen[created.ID] = 1
	}
	s.dispatchLocked(PlaceholderResolved{TempID: temp.ID, Note: resolved})
	s.dispatchLocked(ActiveSet{ID: created.ID})
	s.toastLocked(ToastNoteCreated)
	if edited {
		s.scheduleSaveLocked(created.ID)
	}
	s.mu.Unlock()
	return resolved, nil
}

// discardCreated deletes a note whose placeholder was removed while the
// create was in flight. If that fails the note comes back.
func (s *Syncer) discardCreated(ctx context.Context, created notes.Note) error {
	err := s.api.Delete(ctx, created.ID)
	if err == nil || errs.CodeOf(err) == errs.NotFound {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tombstones, created.ID)
	s.dispatchLocked(NoteUpserted{Note: created})
	s.failLocked(err, ToastDeleteFailed, true)
	return err
}

// UpdateDraft applies an edit locally and schedules a save for when edits
// pause. Placeholders are never saved; their edits are carried over once the
// create completes.
func (s *Syncer) UpdateDraft(note notes.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tombstonedLocked(note.ID) {
		return ErrUnknownNote
	}
	if _, ok := s.findLocked(note.ID); !ok {
		return ErrUnknownNote
	}
	note.UpdatedAt = s.clk.Now()
	if note.Tags == nil {
		note.Tags = []string{}
	}
	s.gen[note.ID]++
	s.dispatchLocked(NoteUpserted{Note: note})
	if !IsPlaceholder(note.ID) {
		s.scheduleSaveLocked(note.ID)
	}
	return nil
}

// SaveNow writes a note immediately, replacing any pending debounced save.
func (s *Syncer) SaveNow(ctx context.Context, id string) error {
	s.mu.Lock()
	if slot := s.saves[id]; slot != nil {
		slot.Cancel()
	}
	s.mu.Unlock()
	return s.save(ctx, id)
}

// Flush runs every pending save now and applies a pending search.
func (s *Syncer) Flush(ctx context.Context) error {
	s.search.Flush()

	s.mu.Lock()
	var due []string
	for id, slot := range s.saves {
		if slot.Cancel() {
			due = append(due, id)
		}
	}
	s.mu.Unlock()
	slices.Sort(due)

	var errList []error
	for _, id := range due {
		if err := s.save(ctx, id); err != nil {
			errList = append(errList, fmt.Errorf("save %s: %w", id, err))
		}
	}
	return errors.Join(errList...)
}

// TogglePin flips the pinned flag locally and persists it.
func (s *Syncer) TogglePin(ctx context.Context, id string) error {
	s.mu.Lock()
	pre, ok := s.findLocked(id)
	if !ok || s.tombstonedLocked(id) {
		s.mu.Unlock()
		return ErrUnknownNote
	}
	wasClean := !s.dirtyLocked(id)
	flipped := pre
	flipped.Pinned = !pre.Pinned
	flipped.UpdatedAt = s.clk.Now()
	s.gen[id]++
	sent := s.gen[id]
	s.dispatchLocked(NoteUpserted{Note: flipped})
	if IsPlaceholder(id) {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	saved, err := s.api.Update(ctx, id, notes.UpdateNoteParams{Pinned: &flipped.Pinned})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tombstonedLocked(id) {
		return nil
	}
	if err != nil {
		if s.goneLocked(id, err, ToastPinFailed) {
			return err
		}
		rolledBack := true
		switch cur, _ := s.findLocked(id); {
		case s.gen[id] == sent:
			s.dispatchLocked(NoteUpserted{Note: pre})
			if wasClean {
				s.synced[id] = sent
			}
		case cur.Pinned == flipped.Pinned:
			cur.Pinned = pre.Pinned
			s.dispatchLocked(NoteUpserted{Note: cur})
		default:
			rolledBack = false
		}
		s.failLocked(err, ToastPinFailed, rolledBack)
		return err
	}
	s.confirmLocked(*saved, sent, wasClean)
	if flipped.Pinned {
		s.toastLocked(ToastPinned)
	} else {
		s.toastLocked(ToastUnpinned)
	}
	return nil
}

// DeleteNote removes a note locally and on the server. A failed delete puts
// the note back; a 404 counts as deleted.
func (s *Syncer) DeleteNote(ctx context.Context, id string) error {
	s.mu.Lock()
	pre, ok := s.findLocked(id)
	if !ok {
		s.mu.Unlock()
		return ErrUnknownNote
	}
	if slot := s.saves[id]; slot != nil {
		slot.Cancel()
	}
	s.dispatchLocked(NoteDeleted{ID: id})
	if IsPlaceholder(id) {
		if pending := s.creating[id]; pending != nil {
			pending.deleted = true
		}
		delete(s.gen, id)
		s.toastLocked(ToastDeleted)
		s.mu.Unlock()
		return nil
	}
	s.tombstones[id] = struct{}{}
	s.mu.Unlock()

	err := s.api.Delete(ctx, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil && errs.CodeOf(err) != errs.NotFound {
		delete(s.tombstones, id)
		s.dispatchLocked(NoteUpserted{Note: pre})
		if s.dirtyLocked(id) {
			s.scheduleSaveLocked(id)
		}
		s.failLocked(err, ToastDeleteFailed, true)
		return err
	}
	s.forgetLocked(id)
	s.toastLocked(ToastDeleted)
	return nil
}

// Close stops pending timers and waits for saves already running.
// Pending saves are dropped; call Flush first to keep them.
func (s *Syncer) Close() {
	s.mu.Lock()
	s.closed = true
	for _, slot := range s.saves {
		slot.Cancel()
	}
	s.mu.Unlock()
	s.search.Cancel()
	s.toast.Cancel()
	s.wg.Wait()
	s.stop()
}

// save writes the full local copy of a note.
func (s *Syncer) save(ctx context.Context, id string) error {
	s.mu.Lock()
	note, ok := s.findLocked(id)
	if !ok || IsPlaceholder(id) || s.tombstonedLocked(id) {
		s.mu.Unlock()
		return nil
	}
	sent := s.gen[id]
	s.beginSavingLocked()
	s.mu.Unlock()

	tags := slices.Clone(note.Tags)
	saved, err := s.api.Update(ctx, id, notes.UpdateNoteParams{
		Title:   &note.Title,
		Content: &note.Content,
		Tags:    &tags,
		Pinned:  &note.Pinned,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.endSavingLocked()
	if s.tombstonedLocked(id) {
		return nil
	}
	if err != nil {
		if s.goneLocked(id, err, ToastSaveFailed) {
			return err
		}
		rolledBack := false
		if pre, ok := s.confirmed[id]; ok && s.gen[id] == sent {
			s.dispatchLocked(NoteUpserted{Note: pre})
			s.synced[id] = sent
			rolledBack = true
		}
		s.failLocked(err, ToastSaveFailed, rolledBack)
		return err
	}
	s.confirmLocked(*saved, sent, true)
	s.toastLocked(ToastSaved)
	return nil
}

func (s *Syncer) scheduleSaveLocked(id string) {
	slot := s.saves[id]
	if slot == nil {
		slot = NewSlot(s.clk)
		s.saves[id] = slot
	}
	slot.Schedule(s.saveDelay, func() {
		if !s.enter() {
			return
		}
		defer s.wg.Done()
		if err := s.save(s.bg, id); err != nil {
			s.log.Warn("debounced save failed", "note_id", id, "err", err)
		}
	})
}

// enter registers a timer callback with Close. It reports false once closed.
func (s *Syncer) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

// confirmLocked records a server acknowledgement of the write sent at
// generation sent. The local copy is replaced only when no edit landed since
// and the write covered every unsaved change; otherwise a save of the local
// copy is queued unless one is already waiting.
func (s *Syncer) confirmLocked(saved notes.Note, sent uint64, covers bool) {
	s.confirmed[saved.ID] = saved
	if s.gen[saved.ID] != sent || !covers {
		if slot := s.saves[saved.ID]; slot == nil || !slot.Pending() {
			s.scheduleSaveLocked(saved.ID)
		}
		return
	}
	s.synced[saved.ID] = sent
	s.dispatchLocked(NoteUpserted{Note: saved})
}

// goneLocked handles a write that found the note deleted on the server.
func (s *Syncer) goneLocked(id string, err error, toast string) bool {
	if errs.CodeOf(err) != errs.NotFound {
		return false
	}
	if slot := s.saves[id]; slot != nil {
		slot.Cancel()
	}
	s.tombstones[id] = struct{}{}
	s.dispatchLocked(NoteDeleted{ID: id})
	s.forgetLocked(id)
	s.failLocked(err, toast, true)
	return true
}

func (s *Syncer) failLocked(err error, toast string, rolledBack bool) {
	msg := err.Error()
	if !rolledBack {
		msg += ": " + msgNotRolledBack
	}
	s.log.Warn("sync failed", "toast", toast, "err", err, "rolled_back", rolledBack)
	s.dispatchLocked(ErrorSet{Error: msg})
	s.toastLocked(toast)
}

func (s *Syncer) toastLocked(msg string) {
	s.dispatchLocked(ToastSet{Toast: msg})
	s.toast.Schedule(s.toastDuration, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.dispatchLocked(ToastSet{})
	})
}

func (s *Syncer) beginSavingLocked() {
	s.inflight++
	s.dispatchLocked(SavingSet{Saving: true})
}

func (s *Syncer) endSavingLocked() {
	s.inflight--
	if s.inflight == 0 {
		s.dispatchLocked(SavingSet{Saving: false})
	}
}

func (s *Syncer) forgetLocked(id string) {
	delete(s.saves, id)
	delete(s.gen, id)
	delete(s.synced, id)
	delete(s.confirmed, id)
}

func (s *Syncer) dispatchLocked(ev Event) {
	s.state = Reduce(s.state, ev)
}

func (s *Syncer) findLocked(id string) (notes.Note, bool) {
	if i := indexOf(s.state.Notes, id); i >= 0 {
		return s.state.Notes[i], true
	}
	return notes.Note{}, false
}

func (s *Syncer) dirtyLocked(id string) bool {
	return s.gen[id] != s.synced[id]
}

func (s *Syncer) tombstonedLocked(id string) bool {
	_, ok := s.tombstones[id]
	return ok
}
