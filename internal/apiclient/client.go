// Package apiclient is an HTTP client for the notes REST API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/kuitang/note-organizer/internal/errs"
	"github.com/kuitang/note-organizer/internal/notes"
	"github.com/kuitang/note-organizer/internal/urlutil"
)

const maxErrorBodyBytes = 64 * 1024

// APIError is returned for every non-2xx response.
type APIError struct {
	Status  int
	Kind    string
	Message string
	Errors  []string
}

func (e *APIError) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case len(e.Errors) > 0:
		return strings.Join(e.Errors, "; ")
	default:
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
}

// Unwrap exposes the response as a coded error so callers can use errs.CodeOf.
func (e *APIError) Unwrap() error {
	return &errs.Error{Code: codeForStatus(e.Status, e.Kind), Message: e.Error(), Details: e.Errors}
}

func codeForStatus(status int, kind string) errs.Code {
	switch status {
	case http.StatusBadRequest:
		if kind == errs.KindOf(errs.Validation) {
			return errs.Validation
		}
		return errs.InvalidArgument
	case http.StatusNotFound:
		return errs.NotFound
	case http.StatusRequestEntityTooLarge:
		return errs.TooLarge
	case http.StatusConflict:
		return errs.FailedPrecondition
	case http.StatusServiceUnavailable:
		return errs.Unavailable
	default:
		return errs.Internal
	}
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client talks to one notes server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) { client.httpClient = c }
}

// New returns a client for the server at baseURL (e.g. "http://localhost:4000").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// List fetches live notes matching filter.
func (c *Client) List(ctx context.Context, filter notes.ListFilter) ([]notes.Note, error) {
	params := map[string]string{"q": filter.Query, "tag": filter.Tag}
	if filter.Pinned != nil {
		params["pinned"] = strconv.FormatBool(*filter.Pinned)
	}
	var out []notes.Note
	if err := c.do(ctx, http.MethodGet, urlutil.WithQuery(urlutil.NotesPath, params), nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []notes.Note{}
	}
	return out, nil
}

// Get fetches one note.
func (c *Client) Get(ctx context.Context, id string) (*notes.Note, error) {
	var out notes.Note
	if err := c.do(ctx, http.MethodGet, urlutil.NotePath(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Create stores a new note.
func (c *Client) Create(ctx context.Context, params notes.CreateNoteParams) (*notes.Note, error) {
	if params.Tags == nil {
		params.Tags = []string{}
	}
	var out notes.Note
	if err := c.do(ctx, http.MethodPost, urlutil.NotesPath, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Update sends the set fields of params.
func (c *Client) Update(ctx context.Context, id string, params notes.UpdateNoteParams) (*notes.Note, error) {
	var out notes.Note
	if err := c.do(ctx, http.MethodPut, urlutil.NotePath(id), params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete soft-deletes a note.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, urlutil.NotePath(id), nil, nil)
}

// Health checks the server's /health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// do sends one request. A 204 leaves out untouched.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlutil.BuildAbsolute(c.baseURL, path), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if resp.StatusCode == http.StatusNoContent || out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	var body struct {
		Error   string   `json:"error"`
		Message string   `json:"message"`
		Errors  []string `json:"errors"`
	}
	if json.Unmarshal(raw, &body) == nil {
		apiErr.Kind = body.Error
		apiErr.Message = body.Message
		apiErr.Errors = body.Errors
	}
	return apiErr
}
