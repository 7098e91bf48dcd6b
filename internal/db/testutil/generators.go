// Package testutil provides shared rapid generators for note property tests.
// String generators are intentionally aggressive to catch edge cases.
package testutil

import (
	"strings"

	"pgregory.net/rapid"
)

// ArbitraryString generates arbitrary strings including empty strings, null
// bytes, unicode, control characters, SQL injection attempts, LIKE
// wildcards and long strings.
func ArbitraryString() *rapid.Generator[string] {
	return rapid.OneOf(
		rapid.String(),
		rapid.Just(""),
		rapid.Just("\x00"),
		rapid.Just("test\x00test"),
		rapid.StringMatching(`[a-zA-Z0-9 ]{0,100}`),
		rapid.StringMatching(`[\x01-\x1F]{1,10}`),
		arbitrarySQLInjection(),
		arbitraryLikeSyntax(),
		arbitraryUnicode(),
		arbitraryWhitespace(),
		arbitraryLongString(),
	)
}

// ArbitraryNoteTitle generates titles, empty included.
func ArbitraryNoteTitle() *rapid.Generator[string] {
	return ArbitraryString()
}

// ArbitraryNoteContent generates note bodies, empty included.
func ArbitraryNoteContent() *rapid.Generator[string] {
	return ArbitraryString()
}

// ArbitraryTag generates single tags. Duplicates across draws are expected.
func ArbitraryTag() *rapid.Generator[string] {
	return rapid.OneOf(
		rapid.StringMatching(`[a-z]{1,12}`),
		rapid.Just(""),
		arbitraryLikeSyntax(),
		arbitraryUnicode(),
		rapid.Just(`"quoted"`),
		rapid.Just(`[bracket]`),
	)
}

// ArbitraryTags generates ordered tag lists with possible duplicates.
func ArbitraryTags() *rapid.Generator[[]string] {
	return rapid.SliceOfN(ArbitraryTag(), 0, 6)
}

// ArbitrarySearchQuery generates non-empty search strings. Null bytes are
// excluded because SQLite truncates LIKE patterns at the first NUL.
func ArbitrarySearchQuery() *rapid.Generator[string] {
	return rapid.OneOf(
		rapid.StringMatching(`[a-zA-Z0-9 ]{1,20}`),
		arbitrarySQLInjection(),
		arbitraryLikeSyntax(),
		arbitraryUnicode(),
	).Filter(func(s string) bool {
		return s != "" && !strings.ContainsRune(s, 0)
	})
}

// ArbitraryNoteID generates ids that may or may not exist.
func ArbitraryNoteID() *rapid.Generator[string] {
	return rapid.OneOf(
		rapid.StringMatching(`[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}`),
		rapid.Just("temp-123"),
		rapid.Just("../escape"),
		arbitrarySQLInjection(),
	)
}

// arbitrarySQLInjection generates common SQL injection patterns
func arbitrarySQLInjection() *rapid.Generator[string] {
	return rapid.SampledFrom([]string{
		`' OR 1=1 --`,
		`'; DROP TABLE notes; --`,
		`" OR "1"="1`,
		`1; SELECT * FROM notes`,
		`admin'--`,
		`' UNION SELECT * FROM notes --`,
		`' OR ''='`,
		`%27%20OR%20%271%27%3D%271`,
		`<script>alert('xss')</script>`,
	})
}

// arbitraryLikeSyntax generates LIKE wildcards and escapes that must match literally.
func arbitraryLikeSyntax() *rapid.Generator[string] {
	return rapid.SampledFrom([]string{
		`%`,
		`_`,
		`\`,
		`\\`,
		`%%`,
		`a%b`,
		`a_b`,
		`100%`,
		`snake_case`,
		`\%`,
		`\_`,
		`%_\`,
	})
}

// arbitraryUnicode generates various Unicode edge cases
func arbitraryUnicode() *rapid.Generator[string] {
	return rapid.SampledFrom([]string{
		"日本語",
		"中文测试",
		"العربية",
		"עברית",
		"🔥🎉💻🚀",
		"emoji🔥in🎉middle",
		"Ñoño",
		"Zürich",
		"Москва",
		"한국어",
		"\u200B",
		"\uFEFF",
		"a\u0300",
		"\u202E" + "reversed" + "\u202C",
		"\U0001F468\u200D\U0001F469\u200D\U0001F467",
		"test\u00A0space",
		"line\u2028separator",
	})
}

// arbitraryWhitespace generates various whitespace patterns
func arbitraryWhitespace() *rapid.Generator[string] {
	return rapid.SampledFrom([]string{
		" ",
		"\t",
		"\n",
		"\r\n",
		" \t \n ",
		"  test  ",
		"line1\nline2",
		"\u3000",
		"\v",
		"\f",
	})
}

// arbitraryLongString generates long strings below the HTTP body limit.
func arbitraryLongString() *rapid.Generator[string] {
	return rapid.Custom(func(t *rapid.T) string {
		length := rapid.SampledFrom([]int{1000, 10000, 100000}).Draw(t, "length")
		return strings.Repeat("abcdefghij", length/10)
	})
}
