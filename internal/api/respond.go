package api

import (
	"encoding/json"
	"net/http"

	"github.com/kuitang/note-organizer/internal/errs"
	"github.com/kuitang/note-organizer/internal/obs"
)

// InternalErrorMessage replaces the message of every 5xx response.
const InternalErrorMessage = "Internal server error"

var errRequestTooLarge = errs.New(errs.TooLarge, "Request body too large")

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps err to its status and body. Server errors are logged in
// full and masked in the response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errs.CodeOf(err)
	status := errs.HTTPStatus(code)
	resp := ErrorResponse{Error: errs.KindOf(code)}

	switch {
	case status >= http.StatusInternalServerError:
		obs.From(r.Context()).Error("request failed",
			"pkg", "api",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"err", err,
		)
		resp.Message = InternalErrorMessage
	case code == errs.Validation:
		resp.Errors = errs.DetailsOf(err)
	default:
		resp.Message = errs.MessageOf(err)
	}
	writeJSON(w, status, resp)
}
