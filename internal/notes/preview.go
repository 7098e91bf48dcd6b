package notes

import (
	"fmt"
	"strings"
)

// UntitledLabel is shown for notes whose title is blank.
const UntitledLabel = "Untitled"

// DisplayTitle returns the trimmed title, or UntitledLabel when it is blank.
func DisplayTitle(title string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	return UntitledLabel
}

// Preview returns the first maxLines lines of content. When lines were cut,
// a final "..." line is appended. maxLines <= 0 returns content unchanged.
func Preview(content string, maxLines int) string {
	if content == "" || maxLines <= 0 {
		return content
	}
	lines := strings.SplitN(content, "\n", maxLines+1)
	if len(lines) <= maxLines {
		return content
	}
	return strings.Join(lines[:maxLines], "\n") + "\n..."
}

// CountLines returns the number of lines in content. An empty string has 0 lines.
func CountLines(content string) int {
	if content == "" {
		return 0
	}
	return strings.Count(content, "\n") + 1
}

// NumberLines prefixes every line with a right-aligned 1-based line number
// and a tab, like cat -n.
func NumberLines(content string) string {
	if content == "" {
		return ""
	}
	var b strings.Builder
	for i, line := range strings.Split(content, "\n") {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%6d\t%s", i+1, line)
	}
	return b.String()
}
