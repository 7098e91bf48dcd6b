package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/note-organizer/internal/clock"
	"github.com/kuitang/note-organizer/internal/db/testutil"
	"github.com/kuitang/note-organizer/internal/notes"
	"github.com/kuitang/note-organizer/internal/ratelimit"
	"github.com/kuitang/note-organizer/internal/testdb"
	"github.com/kuitang/note-organizer/internal/validate"
)

type testServer struct {
	handler http.Handler
	clock   *clock.Fake
}

func newTestServer(t testing.TB, mutate ...func(*Options)) *testServer {
	t.Helper()
	clk := clock.NewFake(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	opts := Options{
		Notes:          notes.NewService(testdb.New(t), clk),
		CORSOrigins:    []string{"*"},
		BodyLimitBytes: DefaultBodyLimitBytes,
	}
	for _, m := range mutate {
		m(&opts)
	}
	return &testServer{handler: NewRouter(opts), clock: clk}
}

func (s *testServer) do(method, target string, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	var req *http.Request
	if reader != nil {
		req = httptest.NewRequest(method, target, reader)
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t testing.TB, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) create(t testing.TB, body string) notes.Note {
	t.Helper()
	rec := s.do(http.MethodPost, "/api/notes", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[notes.Note](t, rec)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	down := newTestServer(t, func(o *Options) {
		o.Health = func(context.Context) error { return errors.New("disk gone") }
	})
	assert.Equal(t, http.StatusServiceUnavailable, down.do(http.MethodGet, "/health", "").Code)
}

func TestCreateNote_DefaultsAndLocation(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(http.MethodPost, "/api/notes", `{}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	note := decode[notes.Note](t, rec)
	assert.NotEmpty(t, note.ID)
	assert.Equal(t, "", note.Title)
	assert.Equal(t, []string{}, note.Tags)
	assert.False(t, note.Pinned)
	assert.Equal(t, note.CreatedAt, note.UpdatedAt)
	assert.Equal(t, "http://example.com/api/notes/"+note.ID, rec.Header().Get("Location"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.NotContains(t, raw, "deletedAt")
	assert.Len(t, raw, 7)
}

func TestCreateNote_EmptyBodyIsEmptyObject(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/notes", http.NoBody)
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateNote_LocationUsesBaseURL(t *testing.T) {
	srv := newTestServer(t, func(o *Options) { o.BaseURL = "https://notes.example" })
	rec := srv.do(http.MethodPost, "/api/notes", `{"title":"x"}`)
	note := decode[notes.Note](t, rec)
	assert.Equal(t, "https://notes.example/api/notes/"+note.ID, rec.Header().Get("Location"))
}

func TestCreateNote_Rejections(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(http.MethodPost, "/api/notes", `{"title":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "bad_request", body.Error)
	assert.Equal(t, "Invalid JSON body", body.Message)

	rec = srv.do(http.MethodPost, "/api/notes", `[1,2]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body = decode[ErrorResponse](t, rec)
	assert.Equal(t, "validation_error", body.Error)
	assert.Equal(t, []string{validate.MsgBodyNotObject}, body.Errors)

	rec = srv.do(http.MethodPost, "/api/notes", `{"title":5,"tags":["ok",1],"pinned":"yes"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body = decode[ErrorResponse](t, rec)
	assert.Equal(t, "validation_error", body.Error)
	assert.Equal(t, []string{validate.MsgTitle, validate.MsgTags, validate.MsgPinned}, body.Errors)

	list := decode[[]notes.Note](t, srv.do(http.MethodGet, "/api/notes", ""))
	assert.Empty(t, list, "rejected creates must not store anything")
}

func TestBodyLimit(t *testing.T) {
	srv := newTestServer(t, func(o *Options) { o.BodyLimitBytes = 64 })

	rec := srv.do(http.MethodPost, "/api/notes", `{"content":"`+strings.Repeat("x", 100)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "payload_too_large", decode[ErrorResponse](t, rec).Error)

	// Unknown length: the limit applies while reading.
	req := httptest.NewRequest(http.MethodPost, "/api/notes", bytes.NewReader([]byte(`{"content":"`+strings.Repeat("y", 100)+`"}`)))
	req.ContentLength = -1
	rec = httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestGetUpdateDelete(t *testing.T) {
	srv := newTestServer(t)
	created := srv.create(t, `{"title":"Groceries","content":"milk","tags":["home"]}`)

	rec := srv.do(http.MethodGet, "/api/notes/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created, decode[notes.Note](t, rec))

	srv.clock.Advance(time.Second)
	rec = srv.do(http.MethodPut, "/api/notes/"+created.ID, `{"pinned":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[notes.Note](t, rec)
	assert.True(t, updated.Pinned)
	assert.Equal(t, "Groceries", updated.Title, "absent fields unchanged")
	assert.Equal(t, []string{"home"}, updated.Tags)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	rec = srv.do(http.MethodPut, "/api/notes/"+created.ID, `{"content":7}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(http.MethodDelete, "/api/notes/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		rec = srv.do(method, "/api/notes/"+created.ID, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, method)
		body := decode[ErrorResponse](t, rec)
		assert.Equal(t, "not_found", body.Error)
		assert.Equal(t, "Note not found", body.Message)
	}
	rec = srv.do(http.MethodPut, "/api/notes/"+created.ID, `{"title":"back"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code, "soft-deleted notes cannot be updated")
}

func TestListNotes_FiltersAndOrder(t *testing.T) {
	srv := newTestServer(t)
	a := srv.create(t, `{"title":"Alpha","tags":["work"]}`)
	srv.clock.Advance(time.Second)
	b := srv.create(t, `{"title":"Beta","content":"50% off","pinned":true}`)
	srv.clock.Advance(time.Second)
	c := srv.create(t, `{"title":"Gamma","tags":["work","home"]}`)

	ids := func(target string) []string {
		rec := srv.do(http.MethodGet, target, "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var out []string
		for _, n := range decode[[]notes.Note](t, rec) {
			out = append(out, n.ID)
		}
		return out
	}

	assert.Equal(t, []string{b.ID, c.ID, a.ID}, ids("/api/notes"))
	assert.Equal(t, []string{c.ID, a.ID}, ids("/api/notes?tag=work"))
	assert.Equal(t, []string{b.ID}, ids("/api/notes?pinned=TRUE"))
	assert.Equal(t, []string{c.ID, a.ID}, ids("/api/notes?pinned=false"))
	assert.Equal(t, []string{b.ID}, ids("/api/notes?q=50%25"))
	assert.Equal(t, []string{a.ID}, ids("/api/notes?q=ALPHA"))
	assert.Empty(t, ids("/api/notes?q=%25%25%25"))

	rec := srv.do(http.MethodGet, "/api/notes?pinned=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{validate.MsgPinnedQuery}, decode[ErrorResponse](t, rec).Errors)

	rec = srv.do(http.MethodGet, "/api/notes", "")
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
}

func TestListNotes_EmptyIsArray(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(http.MethodGet, "/api/notes", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestRateLimitedResponses(t *testing.T) {
	limiter := ratelimit.NewRateLimiter(ratelimit.Config{RPS: 0.001, Burst: 1, CleanupInterval: time.Hour})
	t.Cleanup(limiter.Stop)
	srv := newTestServer(t, func(o *Options) { o.Limiter = limiter })

	assert.Equal(t, http.StatusOK, srv.do(http.MethodGet, "/api/notes", "").Code)
	rec := srv.do(http.MethodGet, "/api/notes", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decode[ErrorResponse](t, rec).Error)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, func(o *Options) { o.CORSOrigins = []string{"https://app.example"} })
	req := httptest.NewRequest(http.MethodOptions, "/api/notes", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPut)

	req = httptest.NewRequest(http.MethodGet, "/api/notes", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoverMiddleware_MasksPanics(t *testing.T) {
	h := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("secret: /var/lib/notes.db")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/notes", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "internal_error", body.Error)
	assert.Equal(t, InternalErrorMessage, body.Message)
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestWriteError_MasksUntypedErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("sqlite: database is locked at /data/notes.db"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal_error","message":"Internal server error"}`, rec.Body.String())
}

func TestMountMCP_RegistersStreamableMethods(t *testing.T) {
	mux := http.NewServeMux()
	callCount := 0
	MountMCP(mux, "/mcp", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(http.StatusNoContent)
	}))

	methods := []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	for _, method := range methods {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(method, "/mcp", nil))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected %s /mcp to reach handler with 204, got %d", method, rec.Code)
		}
	}
	if callCount != len(methods) {
		t.Fatalf("expected handler call count %d, got %d", len(methods), callCount)
	}
}

// =============================================================================
// Property: whatever is created can be fetched back unchanged
// =============================================================================

func testCreateThenGet(t *rapid.T, srv *testServer) {
	payload := map[string]any{
		"title":   testutil.ArbitraryNoteTitle().Draw(t, "title"),
		"content": testutil.ArbitraryNoteContent().Draw(t, "content"),
		"pinned":  rapid.Bool().Draw(t, "pinned"),
	}
	tags := testutil.ArbitraryTags().Draw(t, "tags")
	if tags == nil {
		tags = []string{}
	}
	payload["tags"] = tags
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if int64(len(raw)) > DefaultBodyLimitBytes {
		t.Skip("payload over body limit")
	}

	rec := srv.do(http.MethodPost, "/api/notes", string(raw))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var created notes.Note
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = srv.do(http.MethodGet, "/api/notes/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d", rec.Code)
	}
	var fetched notes.Note
	if err := json.Unmarshal(rec.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fetched.Title != payload["title"] || fetched.Content != payload["content"] || fetched.Pinned != payload["pinned"] {
		t.Fatalf("fetched %+v does not match payload %v", fetched, payload)
	}
	if len(fetched.Tags) != len(tags) {
		t.Fatalf("tags %v vs %v", fetched.Tags, tags)
	}
	for i := range tags {
		if fetched.Tags[i] != tags[i] {
			t.Fatalf("tag %d: %q vs %q", i, fetched.Tags[i], tags[i])
		}
	}
}

func TestCreateThenGet(t *testing.T) {
	srv := newTestServer(t)
	rapid.Check(t, func(rt *rapid.T) { testCreateThenGet(rt, srv) })
}
