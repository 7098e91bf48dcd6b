// Package urlutil builds the absolute and relative URLs used by the notes
// API and its client.
package urlutil

import (
	"net/http"
	"net/url"
	"strings"
)

// NotesPath is where the notes collection is mounted.
const NotesPath = "/api/notes"

// NotePath returns the resource path of one note. The id is path-escaped.
func NotePath(id string) string {
	return NotesPath + "/" + url.PathEscape(id)
}

// NoteLocation returns the absolute URL of a note for the Location header.
// baseURL wins over the request origin when set.
func NoteLocation(r *http.Request, baseURL, id string) string {
	origin := normalizeBaseURL(baseURL)
	if origin == "" {
		origin = OriginFromRequest(r, "")
	}
	return BuildAbsolute(origin, NotePath(id))
}

// WithQuery appends non-empty params to path as a query string.
func WithQuery(path string, params map[string]string) string {
	q := url.Values{}
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

// OriginFromRequest returns the request origin (scheme + host) with the provided
// fallback when request host or scheme cannot be resolved.
func OriginFromRequest(r *http.Request, fallback string) string {
	base := normalizeBaseURL(fallback)
	if r == nil {
		return base
	}

	scheme := requestScheme(r)
	host := strings.TrimSpace(r.Host)
	if host == "" {
		return base
	}

	return normalizeBaseURL(scheme + "://" + host)
}

// BuildAbsolute builds an absolute URL from a base origin and a path.
func BuildAbsolute(base, path string) string {
	base = normalizeBaseURL(base)
	if path == "" {
		return base
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if strings.HasPrefix(path, "/") {
		return base + path
	}
	return base + "/" + path
}

func requestScheme(r *http.Request) string {
	proto := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto"))
	if proto != "" {
		if comma := strings.Index(proto, ","); comma >= 0 {
			proto = strings.TrimSpace(proto[:comma])
		}
		if proto == "http" || proto == "https" {
			return proto
		}
	}

	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func normalizeBaseURL(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return ""
	}
	return strings.TrimRight(base, "/")
}
