// Package mcp exposes the notes service as Model Context Protocol tools over
// the Streamable HTTP transport.
package mcp

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kuitang/note-organizer/internal/errs"
	"github.com/kuitang/note-organizer/internal/notes"
	"github.com/kuitang/note-organizer/internal/obs"
)

const (
	serverName    = "note-organizer"
	serverVersion = "1.0.0"

	maxMCPBodyBytes         = 1 << 20
	mcpDebugBodyLogLimit    = 8 * 1024
	noResponseWrittenReason = "MCP handler returned without writing response"
)

// Server wraps the MCP server with notes handling
type Server struct {
	mcpServer   *mcp.Server
	handler     *Handler
	httpHandler http.Handler
}

// NewServer registers the note tools and the workflow prompt.
func NewServer(notesSvc *notes.Service) *Server {
	handler := NewHandler(notesSvc)

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    serverName,
			Version: serverVersion,
		},
		nil,
	)

	for _, tool := range NoteToolDefinitions() {
		mcp.AddTool(mcpServer, tool, handler.createToolHandler(tool.Name))
	}
	registerPrompts(mcpServer)

	// Stateless JSON responses: every POST is self-contained, so there is
	// no session to resume and no SSE stream to hold open.
	httpHandler := mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return mcpServer },
		&mcp.StreamableHTTPOptions{
			JSONResponse: true,
			Stateless:    true,
		},
	)

	return &Server{
		mcpServer:   mcpServer,
		handler:     handler,
		httpHandler: httpHandler,
	}
}

// Handler returns the tool call handler, for direct calls in tests and tools.
func (s *Server) Handler() *Handler {
	return s.handler
}

// ServeHTTP implements http.Handler for the Streamable HTTP transport.
// GET is refused because no server-initiated stream is offered.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := obs.From(r.Context()).With("pkg", "mcp")

	switch r.Method {
	case http.MethodPost, http.MethodDelete:
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	default:
		w.Header().Set("Allow", "POST, DELETE, OPTIONS")
		writeJSONError(w, http.StatusMethodNotAllowed, errs.KindOf(errs.InvalidArgument), "Method not allowed")
		return
	}

	var reqBody []byte
	if r.Body != nil && r.Method == http.MethodPost {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxMCPBodyBytes+1))
		if err != nil {
			log.Warn("mcp request body read failed", "err", err)
			writeJSONError(w, http.StatusBadRequest, errs.KindOf(errs.InvalidArgument), "Could not read request body")
			return
		}
		if len(body) > maxMCPBodyBytes {
			writeJSONError(w, http.StatusRequestEntityTooLarge, errs.KindOf(errs.TooLarge), "Request body too large")
			return
		}
		reqBody = body
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	log.Debug("mcp request",
		"method", r.Method,
		"headers", formatMCPHeadersForLog(r.Header),
		"body", obs.BodyForLog(r.Header.Get("Content-Type"), reqBody, mcpDebugBodyLogLimit),
	)

	wrapped, recorder := obs.NewResponseRecorder(w)
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("mcp handler panic", "panic", rec, "method", r.Method)
			if !recorder.WroteHeader() {
				writeJSONError(w, http.StatusInternalServerError, errs.KindOf(errs.Internal), "Internal server error")
			}
			return
		}
		if !recorder.WroteHeader() {
			log.Error("mcp handler wrote no response", "method", r.Method)
			writeJSONError(w, http.StatusInternalServerError, errs.KindOf(errs.Internal), noResponseWrittenReason)
			return
		}
		if recorder.StatusCode() >= http.StatusBadRequest {
			log.Warn("mcp request failed", "method", r.Method, "status", recorder.StatusCode())
		}
	}()

	s.httpHandler.ServeHTTP(wrapped, r)
}

func writeJSONError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	data := marshalAny(map[string]string{"error": kind, "message": message})
	w.Write(data)
}

// formatMCPHeadersForLog renders headers as sorted key=value pairs with
// credentials and session identifiers redacted.
func formatMCPHeadersForLog(h http.Header) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		value := strings.Join(h.Values(k), ",")
		if obs.IsSensitiveLogField(k) || strings.Contains(strings.ToLower(k), "session") {
			value = "[REDACTED]"
		}
		parts = append(parts, k+"="+value)
	}
	return strings.Join(parts, " ")
}

func logToolError(ctx context.Context, tool string, err error) {
	log := obs.From(ctx).With("pkg", "mcp", "tool", tool)
	if errs.CodeOf(err) == errs.Internal {
		log.Error("tool call failed", "err", err)
		return
	}
	log.Debug("tool call rejected", "code", errs.CodeOf(err), "err", err)
}
