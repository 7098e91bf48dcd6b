package notes

import (
	"bytes"
	"encoding/json"

	"github.com/tidwall/gjson"
)

// EncodeTags serializes tags as a JSON array. nil encodes as "[]".
// HTML characters stay literal so text search over the blob sees them.
func EncodeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(tags); err != nil {
		return "[]"
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}

// DecodeTags parses a stored tags blob. Malformed JSON and non-array values
// decode to an empty list; non-string elements are dropped.
func DecodeTags(blob string) []string {
	tags := []string{}
	if blob == "" || !gjson.Valid(blob) {
		return tags
	}
	parsed := gjson.Parse(blob)
	if !parsed.IsArray() {
		return tags
	}
	parsed.ForEach(func(_, v gjson.Result) bool {
		if v.Type == gjson.String {
			tags = append(tags, v.Str)
		}
		return true
	})
	return tags
}
