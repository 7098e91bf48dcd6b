package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/tidwall/gjson"

	"github.com/kuitang/note-organizer/internal/errs"
	"github.com/kuitang/note-organizer/internal/notes"
	"github.com/kuitang/note-organizer/internal/validate"
)

const listPreviewLines = 2

// Handler implements MCP tool call handling.
type Handler struct {
	notesSvc *notes.Service
}

// NewHandler creates a new MCP handler. A nil service makes every note tool
// fail with FailedPrecondition.
func NewHandler(notesSvc *notes.Service) *Handler {
	return &Handler{notesSvc: notesSvc}
}

type toolErrorPayload struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
}

type noteListItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Preview   string    `json:"preview"`
	Tags      []string  `json:"tags"`
	Pinned    bool      `json:"pinned"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type noteView struct {
	notes.Note
	ContentNumbered string `json:"content_numbered"`
	TotalLines      int    `json:"total_lines"`
}

// createToolHandler returns a tool handler function for the given tool name.
func (h *Handler) createToolHandler(name string) func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
		result, err := h.HandleToolCall(ctx, name, args)
		if err != nil {
			logToolError(ctx, name, err)
			return newToolResultError(err), nil, nil
		}
		return result, nil, nil
	}
}

// HandleToolCall routes tool calls to appropriate handlers.
func (h *Handler) HandleToolCall(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error) {
	switch name {
	case ToolNoteList, ToolNoteGet, ToolNoteCreate, ToolNoteUpdate, ToolNoteDelete:
	default:
		return nil, errs.New(errs.NotFound, fmt.Sprintf("unknown tool: %s", name))
	}
	if err := h.requireNotes(); err != nil {
		return nil, err
	}

	switch name {
	case ToolNoteList:
		return h.handleNoteList(ctx, arguments)
	case ToolNoteGet:
		return h.handleNoteGet(ctx, arguments)
	case ToolNoteCreate:
		return h.handleNoteCreate(ctx, arguments)
	case ToolNoteUpdate:
		return h.handleNoteUpdate(ctx, arguments)
	default:
		return h.handleNoteDelete(ctx, arguments)
	}
}

func (h *Handler) requireNotes() error {
	if h.notesSvc == nil {
		return errs.New(errs.FailedPrecondition, "notes tools are unavailable on this MCP endpoint")
	}
	return nil
}

// newToolResultText creates a successful tool result with text content.
func newToolResultText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// newToolResultError creates a tool result carrying a stable JSON error shape.
// Internal errors are masked like the REST surface does.
func newToolResultError(err error) *mcp.CallToolResult {
	code := errs.CodeOf(err)
	payload := toolErrorPayload{Code: string(code), Message: errs.MessageOf(err), Errors: errs.DetailsOf(err)}
	if code == errs.Internal {
		payload.Message = "Internal server error"
	}
	text := string(marshalAny(payload))
	if text == "" {
		text = `{"code":"internal","message":"Internal server error"}`
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}

// marshalAny returns indented JSON, or nil when value cannot be encoded.
func marshalAny(value any) []byte {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return nil
	}
	return data
}

func toolJSON(value any) (*mcp.CallToolResult, error) {
	data := marshalAny(value)
	if data == nil {
		return nil, errs.New(errs.Internal, "failed to marshal response")
	}
	return newToolResultText(string(data)), nil
}

// classifyNotesError keeps coded errors and wraps everything else as internal.
func classifyNotesError(err error, op string) error {
	if err == nil {
		return nil
	}
	var coded *errs.Error
	if errors.As(err, &coded) {
		return err
	}
	return errs.Wrap(errs.Internal, "failed to "+op, err)
}

// decodeToolArgs decodes args into dst, rejecting unknown fields. nil args
// behave like an empty object.
func decodeToolArgs(args map[string]any, dst any) error {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, "arguments are not valid JSON", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errs.Wrap(errs.InvalidArgument, fmt.Sprintf("invalid arguments: %v", err), err)
	}
	return nil
}

// parseToolBody re-encodes args so the REST validators can inspect raw types.
func parseToolBody(args map[string]any) (gjson.Result, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return gjson.Result{}, errs.Wrap(errs.InvalidArgument, "arguments are not valid JSON", err)
	}
	return validate.ParseBody(raw)
}

func requireID(body gjson.Result) (string, error) {
	v := body.Get("id")
	if v.Type != gjson.String || v.Str == "" {
		return "", errs.New(errs.InvalidArgument, "id must be a non-empty string")
	}
	return v.Str, nil
}

func (h *Handler) handleNoteList(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	var in struct {
		Q      *string `json:"q"`
		Tag    *string `json:"tag"`
		Pinned *bool   `json:"pinned"`
	}
	if err := decodeToolArgs(args, &in); err != nil {
		return nil, err
	}
	query := url.Values{}
	if in.Q != nil {
		query.Set("q", *in.Q)
	}
	if in.Tag != nil {
		query.Set("tag", *in.Tag)
	}
	if in.Pinned != nil {
		query.Set("pinned", strconv.FormatBool(*in.Pinned))
	}
	filter := validate.ListQuery(query)
	if !filter.Valid {
		return nil, filter.Err()
	}

	results, err := h.notesSvc.List(ctx, filter.Value)
	if err != nil {
		return nil, classifyNotesError(err, "list notes")
	}

	items := make([]noteListItem, 0, len(results))
	for _, n := range results {
		items = append(items, noteListItem{
			ID:        n.ID,
			Title:     notes.DisplayTitle(n.Title),
			Preview:   notes.Preview(n.Content, listPreviewLines),
			Tags:      n.Tags,
			Pinned:    n.Pinned,
			CreatedAt: n.CreatedAt,
			UpdatedAt: n.UpdatedAt,
		})
	}
	return toolJSON(struct {
		Notes      []noteListItem `json:"notes"`
		TotalCount int            `json:"total_count"`
	}{Notes: items, TotalCount: len(items)})
}

func (h *Handler) handleNoteGet(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	var in struct {
		ID string `json:"id"`
	}
	if err := decodeToolArgs(args, &in); err != nil {
		return nil, err
	}
	note, err := h.notesSvc.Get(ctx, in.ID)
	if err != nil {
		return nil, classifyNotesError(err, "read note")
	}
	return toolJSON(noteView{
		Note:            *note,
		ContentNumbered: notes.NumberLines(note.Content),
		TotalLines:      notes.CountLines(note.Content),
	})
}

func (h *Handler) handleNoteCreate(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	body, err := parseToolBody(args)
	if err != nil {
		return nil, err
	}
	params := validate.CreateNote(body)
	if !params.Valid {
		return nil, params.Err()
	}
	note, err := h.notesSvc.Create(ctx, params.Value)
	if err != nil {
		return nil, classifyNotesError(err, "create note")
	}
	return toolJSON(note)
}

func (h *Handler) handleNoteUpdate(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	body, err := parseToolBody(args)
	if err != nil {
		return nil, err
	}
	id, err := requireID(body)
	if err != nil {
		return nil, err
	}
	params := validate.UpdateNote(body)
	if !params.Valid {
		return nil, params.Err()
	}
	note, err := h.notesSvc.Update(ctx, id, params.Value)
	if err != nil {
		return nil, classifyNotesError(err, "update note")
	}
	return toolJSON(note)
}

func (h *Handler) handleNoteDelete(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	var in struct {
		ID string `json:"id"`
	}
	if err := decodeToolArgs(args, &in); err != nil {
		return nil, err
	}
	removed, err := h.notesSvc.Remove(ctx, in.ID, notes.RemoveOptions{})
	if err != nil {
		return nil, classifyNotesError(err, "delete note")
	}
	if !removed {
		return nil, notes.ErrNoteNotFound
	}
	return toolJSON(map[string]any{"id": in.ID, "deleted": true})
}
