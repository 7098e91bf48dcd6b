package api

import (
	"net/http"
	"runtime/debug"

	"github.com/rs/cors"

	"github.com/kuitang/note-organizer/internal/errs"
	"github.com/kuitang/note-organizer/internal/obs"
)

// DefaultBodyLimitBytes caps JSON request bodies.
const DefaultBodyLimitBytes int64 = 1 << 20

// RecoverMiddleware turns a handler panic into a masked 500.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped, recorder := obs.NewResponseRecorder(w)
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			obs.From(r.Context()).Error("panic recovered",
				"pkg", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			if !recorder.WroteHeader() {
				writeJSON(w, http.StatusInternalServerError, ErrorResponse{
					Error:   errs.KindOf(errs.Internal),
					Message: InternalErrorMessage,
				})
			}
		}()
		next.ServeHTTP(wrapped, r)
	})
}

// BodyLimitMiddleware rejects bodies over limit bytes with 413. Declared
// lengths are checked up front, streamed bodies while they are read.
func BodyLimitMiddleware(limit int64) func(http.Handler) http.Handler {
	if limit <= 0 {
		limit = DefaultBodyLimitBytes
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				writeError(w, r, errRequestTooLarge)
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CORSMiddleware allows the given origins ("*" for any).
func CORSMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{"Content-Type", "Accept", "X-Request-Id", "traceparent", "Mcp-Session-Id", "Last-Event-ID"},
		ExposedHeaders: []string{"Location", "X-Request-Id", "Retry-After", "X-RateLimit-Remaining", "Mcp-Session-Id"},
		MaxAge:         86400,
	})
	return c.Handler
}
