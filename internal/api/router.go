// Package api serves the notes REST surface under /api/notes.
package api

import (
	"context"
	"net/http"

	"github.com/kuitang/note-organizer/internal/notes"
	"github.com/kuitang/note-organizer/internal/obs"
	"github.com/kuitang/note-organizer/internal/ratelimit"
)

// MCPPath is where the MCP endpoint is mounted when one is configured.
const MCPPath = "/mcp"

// Options configures NewRouter.
type Options struct {
	Notes          *notes.Service
	BaseURL        string
	CORSOrigins    []string
	BodyLimitBytes int64
	// Limiter may be nil to disable rate limiting.
	Limiter *ratelimit.RateLimiter
	// MCP, when set, is mounted at MCPPath.
	MCP    http.Handler
	Health func(context.Context) error
}

// NewRouter builds the full handler chain:
// recover, request id, access log, CORS, rate limit, body limit, routes.
func NewRouter(opts Options) http.Handler {
	mux := http.NewServeMux()
	NewHandler(opts.Notes, opts.BaseURL, opts.Health).RegisterRoutes(mux)
	if opts.MCP != nil {
		MountMCP(mux, MCPPath, opts.MCP)
	}

	var h http.Handler = mux
	h = BodyLimitMiddleware(opts.BodyLimitBytes)(h)
	h = ratelimit.Middleware(opts.Limiter, nil)(h)
	h = CORSMiddleware(opts.CORSOrigins)(h)
	h = obs.AccessLogMiddleware("api", h)
	h = obs.RequestContextMiddleware(h)
	h = RecoverMiddleware(h)
	return h
}

// MountMCP registers the streamable HTTP methods of an MCP handler at path.
func MountMCP(mux *http.ServeMux, path string, handler http.Handler) {
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions} {
		mux.Handle(method+" "+path, handler)
	}
}
