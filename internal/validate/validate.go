// Package validate checks untrusted note payloads before they reach the
// notes service. Checks run on the raw JSON so an absent field can be told
// apart from a field of the wrong type.
package validate

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/kuitang/note-organizer/internal/errs"
	"github.com/kuitang/note-organizer/internal/notes"
)

// MaxQueryLength bounds the q search parameter. SQLite rejects LIKE patterns
// longer than 50000 bytes.
const MaxQueryLength = 1000

// Validation messages, one per violated field.
const (
	MsgBodyNotObject = "body must be a JSON object"
	MsgTitle         = "title must be a string"
	MsgContent       = "content must be a string"
	MsgTags          = "tags must be an array of strings"
	MsgPinned        = "pinned must be a boolean"
	MsgQuery         = "q must be a string"
	MsgTag           = "tag must be a string"
	MsgPinnedQuery   = "pinned must be true or false"
)

var msgQueryTooLong = fmt.Sprintf("q must be at most %d characters", MaxQueryLength)

// Result is the outcome of a validation: every violated field is listed in
// Errors, and Value holds the sanitized input.
type Result[T any] struct {
	Valid  bool
	Errors []string
	Value  T
}

// Err converts an invalid result to a coded Validation error, or nil.
func (r Result[T]) Err() error {
	if r.Valid {
		return nil
	}
	return errs.NewValidation(r.Errors)
}

func newResult[T any](value T, problems []string) Result[T] {
	return Result[T]{Valid: len(problems) == 0, Errors: problems, Value: value}
}

// ParseBody parses a request body. An empty body is treated as {}. Malformed
// JSON is an InvalidArgument error; any JSON value other than an object is a
// Validation error.
func ParseBody(body []byte) (gjson.Result, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return gjson.Parse("{}"), nil
	}
	if !gjson.ValidBytes(trimmed) {
		return gjson.Result{}, errs.New(errs.InvalidArgument, "Invalid JSON body")
	}
	parsed := gjson.ParseBytes(trimmed)
	if !parsed.IsObject() {
		return gjson.Result{}, errs.NewValidation([]string{MsgBodyNotObject})
	}
	return parsed, nil
}

// CreateNote validates a create payload. Absent and invalid fields keep
// their defaults in Value.
func CreateNote(body gjson.Result) Result[notes.CreateNoteParams] {
	var (
		value    = notes.CreateNoteParams{Tags: []string{}}
		problems []string
	)
	if s, ok, bad := stringField(body, "title"); bad {
		problems = append(problems, MsgTitle)
	} else if ok {
		value.Title = s
	}
	if s, ok, bad := stringField(body, "content"); bad {
		problems = append(problems, MsgContent)
	} else if ok {
		value.Content = s
	}
	if tags, ok, bad := tagsField(body); bad {
		problems = append(problems, MsgTags)
	} else if ok {
		value.Tags = tags
	}
	if b, ok, bad := boolField(body, "pinned"); bad {
		problems = append(problems, MsgPinned)
	} else if ok {
		value.Pinned = b
	}
	return newResult(value, problems)
}

// UpdateNote validates a partial update payload. Value holds only the
// fields that were present and valid.
func UpdateNote(body gjson.Result) Result[notes.UpdateNoteParams] {
	var (
		value    notes.UpdateNoteParams
		problems []string
	)
	if s, ok, bad := stringField(body, "title"); bad {
		problems = append(problems, MsgTitle)
	} else if ok {
		value.Title = &s
	}
	if s, ok, bad := stringField(body, "content"); bad {
		problems = append(problems, MsgContent)
	} else if ok {
		value.Content = &s
	}
	if tags, ok, bad := tagsField(body); bad {
		problems = append(problems, MsgTags)
	} else if ok {
		value.Tags = &tags
	}
	if b, ok, bad := boolField(body, "pinned"); bad {
		problems = append(problems, MsgPinned)
	} else if ok {
		value.Pinned = &b
	}
	return newResult(value, problems)
}

// ListQuery validates list query parameters. A repeated q or tag is not a
// single string; pinned accepts true or false in any letter case.
func ListQuery(query url.Values) Result[notes.ListFilter] {
	var (
		value    notes.ListFilter
		problems []string
	)
	if vs, ok := query["q"]; ok {
		switch {
		case len(vs) != 1:
			problems = append(problems, MsgQuery)
		case len(vs[0]) > MaxQueryLength:
			problems = append(problems, msgQueryTooLong)
		default:
			value.Query = vs[0]
		}
	}
	if vs, ok := query["tag"]; ok {
		if len(vs) != 1 {
			problems = append(problems, MsgTag)
		} else {
			value.Tag = vs[0]
		}
	}
	if vs, ok := query["pinned"]; ok {
		if len(vs) != 1 {
			problems = append(problems, MsgPinnedQuery)
		} else {
			switch strings.ToLower(vs[0]) {
			case "true":
				b := true
				value.Pinned = &b
			case "false":
				b := false
				value.Pinned = &b
			default:
				problems = append(problems, MsgPinnedQuery)
			}
		}
	}
	return newResult(value, problems)
}

// stringField returns (value, present, wrongType).
func stringField(body gjson.Result, key string) (string, bool, bool) {
	v := body.Get(key)
	if !v.Exists() {
		return "", false, false
	}
	if v.Type != gjson.String {
		return "", false, true
	}
	return v.Str, true, false
}

func boolField(body gjson.Result, key string) (bool, bool, bool) {
	v := body.Get(key)
	if !v.Exists() {
		return false, false, false
	}
	if v.Type != gjson.True && v.Type != gjson.False {
		return false, false, true
	}
	return v.Bool(), true, false
}

func tagsField(body gjson.Result) ([]string, bool, bool) {
	v := body.Get("tags")
	if !v.Exists() {
		return nil, false, false
	}
	if !v.IsArray() {
		return nil, false, true
	}
	tags := []string{}
	bad := false
	v.ForEach(func(_, el gjson.Result) bool {
		if el.Type != gjson.String {
			bad = true
			return false
		}
		tags = append(tags, el.Str)
		return true
	})
	if bad {
		return nil, false, true
	}
	return tags, true, false
}
