package obs

import (
	"encoding/json"
	"strings"
)

// IsSensitiveLogField returns true when a key likely contains sensitive data.
func IsSensitiveLogField(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	normalized = strings.ReplaceAll(normalized, "-", "")
	normalized = strings.ReplaceAll(normalized, "_", "")

	switch {
	case normalized == "authorization":
		return true
	case strings.Contains(normalized, "token"),
		strings.Contains(normalized, "secret"),
		strings.Contains(normalized, "password"),
		strings.Contains(normalized, "apikey"),
		strings.Contains(normalized, "cookie"):
		return true
	default:
		return false
	}
}

// BodyForLog returns a truncated, single-line rendering of a request body for
// debug logs. JSON bodies have sensitive keys replaced with [REDACTED].
func BodyForLog(contentType string, body []byte, maxBytes int) string {
	if len(body) == 0 {
		return ""
	}
	truncated := false
	if maxBytes > 0 && len(body) > maxBytes {
		body = body[:maxBytes]
		truncated = true
	}

	text := string(body)
	if strings.Contains(strings.ToLower(contentType), "json") && !truncated {
		var payload any
		if err := json.Unmarshal(body, &payload); err == nil {
			redactValue(payload)
			if safe, err := json.Marshal(payload); err == nil {
				text = string(safe)
			}
		}
	}

	text = strings.ReplaceAll(text, "\n", "\\n")
	if truncated {
		return text + " [truncated]"
	}
	return text
}

func redactValue(v any) {
	switch typed := v.(type) {
	case map[string]any:
		for k, child := range typed {
			if IsSensitiveLogField(k) {
				typed[k] = "[REDACTED]"
				continue
			}
			redactValue(child)
		}
	case []any:
		for _, child := range typed {
			redactValue(child)
		}
	}
}
