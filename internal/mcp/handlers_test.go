package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/note-organizer/internal/clock"
	"github.com/kuitang/note-organizer/internal/errs"
	"github.com/kuitang/note-organizer/internal/notes"
	"github.com/kuitang/note-organizer/internal/testdb"
	"github.com/kuitang/note-organizer/internal/validate"
)

func toolResultText(t testing.TB, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatalf("missing tool result content: %#v", result)
	}
	text, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type: %T", result.Content[0])
	}
	return text.Text
}

func parseToolErrorPayload(t testing.TB, result *mcp.CallToolResult) toolErrorPayload {
	t.Helper()
	raw := toolResultText(t, result)
	var payload toolErrorPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("invalid tool error payload JSON: %v body=%q", err, raw)
	}
	return payload
}

func newTestHandler(t testing.TB) *Handler {
	t.Helper()
	clk := clock.NewFake(time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))
	return NewHandler(notes.NewService(testdb.New(t), clk))
}

func callOK[T any](t *testing.T, h *Handler, tool string, args map[string]any) T {
	t.Helper()
	result, err := h.HandleToolCall(context.Background(), tool, args)
	require.NoError(t, err)
	require.False(t, result.IsError)
	var out T
	require.NoError(t, json.Unmarshal([]byte(toolResultText(t, result)), &out))
	return out
}

func testDecodeToolArgs_UnknownFieldsRejected(t *rapid.T) {
	var decoded struct {
		ID string `json:"id"`
	}
	extra := rapid.StringMatching(`[a-z_]{1,12}`).Filter(func(s string) bool { return s != "id" }).Draw(t, "extra")
	err := decodeToolArgs(map[string]any{
		"id":  "note-1",
		extra: "unexpected",
	}, &decoded)
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	if got := errs.CodeOf(err); got != errs.InvalidArgument {
		t.Fatalf("unexpected error code: got=%q want=%q", got, errs.InvalidArgument)
	}
}

func TestDecodeToolArgs_UnknownFieldsRejected(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testDecodeToolArgs_UnknownFieldsRejected)
}

func TestDecodeToolArgs_NilMapBehavesAsEmptyObject(t *testing.T) {
	t.Parallel()
	var decoded struct {
		Optional string `json:"optional,omitempty"`
	}
	if err := decodeToolArgs(nil, &decoded); err != nil {
		t.Fatalf("decodeToolArgs(nil) failed: %v", err)
	}
}

func TestClassifyNotesError(t *testing.T) {
	t.Parallel()
	input := errs.New(errs.NotFound, "missing note")
	got := classifyNotesError(input, "read note")
	if errs.CodeOf(got) != errs.NotFound {
		t.Fatalf("expected passthrough code=%q, got=%q", errs.NotFound, errs.CodeOf(got))
	}

	got = classifyNotesError(errors.New("database is locked"), "update note")
	assert.Equal(t, errs.Internal, errs.CodeOf(got))
	assert.Equal(t, "failed to update note", errs.MessageOf(got))
	assert.Nil(t, classifyNotesError(nil, "x"))
}

func TestNewToolResultError_UsesStableJSONShape(t *testing.T) {
	t.Parallel()
	result := newToolResultError(errs.New(errs.InvalidArgument, "bad input"))
	if result == nil || !result.IsError {
		t.Fatalf("expected IsError tool result, got %#v", result)
	}
	payload := parseToolErrorPayload(t, result)
	if payload.Code != string(errs.InvalidArgument) || payload.Message != "bad input" {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	masked := parseToolErrorPayload(t, newToolResultError(errors.New("open /secret/path: denied")))
	assert.Equal(t, string(errs.Internal), masked.Code)
	assert.Equal(t, "Internal server error", masked.Message)
}

func TestMarshalAny_InvalidValue_DoesNotPanic(t *testing.T) {
	t.Parallel()
	if got := marshalAny(map[string]any{"bad": make(chan int)}); got != nil {
		t.Fatalf("expected nil for unmarshalable value, got=%q", string(got))
	}
}

func TestCreateToolHandler_UnknownTool_ShapedNotFoundError(t *testing.T) {
	t.Parallel()
	call := NewHandler(nil).createToolHandler("tool_that_does_not_exist")

	result, _, err := call(context.Background(), &mcp.CallToolRequest{}, map[string]any{})
	if err != nil {
		t.Fatalf("createToolHandler returned transport error: %v", err)
	}
	if result == nil || !result.IsError {
		t.Fatalf("expected IsError result, got %#v", result)
	}
	payload := parseToolErrorPayload(t, result)
	if payload.Code != string(errs.NotFound) {
		t.Fatalf("unexpected error code: got=%q want=%q", payload.Code, errs.NotFound)
	}
	if !strings.Contains(strings.ToLower(payload.Message), "unknown tool") {
		t.Fatalf("unexpected error message: %q", payload.Message)
	}
}

func TestCreateToolHandler_NotesUnavailable_ShapedFailedPrecondition(t *testing.T) {
	t.Parallel()
	call := NewHandler(nil).createToolHandler(ToolNoteList)

	result, _, err := call(context.Background(), &mcp.CallToolRequest{}, map[string]any{})
	require.NoError(t, err)
	require.True(t, result.IsError)
	payload := parseToolErrorPayload(t, result)
	assert.Equal(t, string(errs.FailedPrecondition), payload.Code)
	assert.Contains(t, payload.Message, "notes tools are unavailable")
}

func TestNoteTools_Lifecycle(t *testing.T) {
	h := newTestHandler(t)

	created := callOK[notes.Note](t, h, ToolNoteCreate, map[string]any{
		"title":   "Trip",
		"content": "passport\ntickets\ncharger",
		"tags":    []any{"travel"},
	})
	require.NotEmpty(t, created.ID)
	assert.Equal(t, []string{"travel"}, created.Tags)

	view := callOK[map[string]any](t, h, ToolNoteGet, map[string]any{"id": created.ID})
	assert.Equal(t, notes.NumberLines("passport\ntickets\ncharger"), view["content_numbered"])
	assert.EqualValues(t, 3, view["total_lines"])
	assert.NotContains(t, view, "deletedAt")

	updated := callOK[notes.Note](t, h, ToolNoteUpdate, map[string]any{"id": created.ID, "pinned": true})
	assert.True(t, updated.Pinned)
	assert.Equal(t, "Trip", updated.Title)

	callOK[notes.Note](t, h, ToolNoteCreate, map[string]any{})
	list := callOK[struct {
		Notes []noteListItem `json:"notes"`
		Total int            `json:"total_count"`
	}](t, h, ToolNoteList, map[string]any{"pinned": true})
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "passport\ntickets\n...", list.Notes[0].Preview)

	all := callOK[struct {
		Notes []noteListItem `json:"notes"`
	}](t, h, ToolNoteList, nil)
	require.Len(t, all.Notes, 2)
	assert.Equal(t, notes.UntitledLabel, all.Notes[1].Title)

	callOK[map[string]any](t, h, ToolNoteDelete, map[string]any{"id": created.ID})
	_, err := h.HandleToolCall(context.Background(), ToolNoteGet, map[string]any{"id": created.ID})
	assert.Equal(t, errs.NotFound, errs.CodeOf(err))
	_, err = h.HandleToolCall(context.Background(), ToolNoteDelete, map[string]any{"id": created.ID})
	assert.Equal(t, errs.NotFound, errs.CodeOf(err), "deleting twice reports not found")
}

func TestNoteTools_ValidationMatchesREST(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	_, err := h.HandleToolCall(ctx, ToolNoteCreate, map[string]any{"title": 3, "tags": "x"})
	require.Error(t, err)
	assert.Equal(t, errs.Validation, errs.CodeOf(err))
	assert.Equal(t, []string{validate.MsgTitle, validate.MsgTags}, errs.DetailsOf(err))

	_, err = h.HandleToolCall(ctx, ToolNoteUpdate, map[string]any{"title": "no id"})
	assert.Equal(t, errs.InvalidArgument, errs.CodeOf(err))

	_, err = h.HandleToolCall(ctx, ToolNoteList, map[string]any{"q": strings.Repeat("q", validate.MaxQueryLength+1)})
	assert.Equal(t, errs.Validation, errs.CodeOf(err))

	_, err = h.HandleToolCall(ctx, ToolNoteList, map[string]any{"pinned": "yes"})
	assert.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
}
