package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/kuitang/note-organizer/internal/errs"
	"github.com/kuitang/note-organizer/internal/notes"
	"github.com/kuitang/note-organizer/internal/obs"
	"github.com/kuitang/note-organizer/internal/urlutil"
	"github.com/kuitang/note-organizer/internal/validate"
)

const logBodyLimitBytes = 2048

// Handler wraps the notes service and provides HTTP handlers
type Handler struct {
	notesService *notes.Service
	baseURL      string
	health       func(context.Context) error
}

// NewHandler creates a new API handler with the given notes service.
// baseURL, when set, is used for Location headers instead of the request origin.
func NewHandler(notesService *notes.Service, baseURL string, health func(context.Context) error) *Handler {
	return &Handler{notesService: notesService, baseURL: baseURL, health: health}
}

// RegisterRoutes registers all notes API routes on the given mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+urlutil.NotesPath, h.ListNotes)
	mux.HandleFunc("GET "+urlutil.NotesPath+"/{id}", h.GetNote)
	mux.HandleFunc("POST "+urlutil.NotesPath, h.CreateNote)
	mux.HandleFunc("PUT "+urlutil.NotesPath+"/{id}", h.UpdateNote)
	mux.HandleFunc("DELETE "+urlutil.NotesPath+"/{id}", h.DeleteNote)
	mux.HandleFunc("GET /health", h.Health)
}

// ListNotes handles GET /api/notes?q=&tag=&pinned=
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	filter := validate.ListQuery(r.URL.Query())
	if !filter.Valid {
		obs.From(r.Context()).Debug("list query rejected", "pkg", "api", "errors", filter.Errors, "query", r.URL.RawQuery)
		writeError(w, r, filter.Err())
		return
	}

	result, err := h.notesService.List(r.Context(), filter.Value)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if result == nil {
		result = []notes.Note{}
	}
	writeJSON(w, http.StatusOK, result)
}

// GetNote handles GET /api/notes/{id}
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	note, err := h.notesService.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// CreateNote handles POST /api/notes
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	body, err := validate.ParseBody(raw)
	if err != nil {
		logRejectedBody(r, raw, err)
		writeError(w, r, err)
		return
	}
	params := validate.CreateNote(body)
	if !params.Valid {
		logRejectedBody(r, raw, params.Err())
		writeError(w, r, params.Err())
		return
	}

	note, err := h.notesService.Create(r.Context(), params.Value)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Location", urlutil.NoteLocation(r, h.baseURL, note.ID))
	writeJSON(w, http.StatusCreated, note)
}

// UpdateNote handles PUT /api/notes/{id}. Only fields present in the body change.
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	body, err := validate.ParseBody(raw)
	if err != nil {
		logRejectedBody(r, raw, err)
		writeError(w, r, err)
		return
	}
	params := validate.UpdateNote(body)
	if !params.Valid {
		logRejectedBody(r, raw, params.Err())
		writeError(w, r, params.Err())
		return
	}

	note, err := h.notesService.Update(r.Context(), r.PathValue("id"), params.Value)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// DeleteNote handles DELETE /api/notes/{id} (soft delete)
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	removed, err := h.notesService.Remove(r.Context(), r.PathValue("id"), notes.RemoveOptions{})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !removed {
		writeError(w, r, notes.ErrNoteNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			obs.From(r.Context()).Warn("health check failed", "pkg", "api", "err", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readBody reads the (already size-limited) request body. On failure it
// writes the error response and returns false.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, errRequestTooLarge)
			return nil, false
		}
		writeError(w, r, errs.Wrap(errs.InvalidArgument, "Could not read request body", err))
		return nil, false
	}
	return raw, true
}

func logRejectedBody(r *http.Request, raw []byte, err error) {
	obs.From(r.Context()).Debug("request body rejected",
		"pkg", "api",
		"method", r.Method,
		"path", r.URL.Path,
		"errors", errs.DetailsOf(err),
		"body", obs.BodyForLog(r.Header.Get("Content-Type"), raw, logBodyLimitBytes),
	)
}
