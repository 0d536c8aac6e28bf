// Package privacy removes user-marked private spans from conversation text
// before it leaves the service for fact extraction.
package privacy

import (
	"regexp"
	"strings"
)

// privateSpan matches <private>...</private> blocks, case-insensitive and across lines.
var privateSpan = regexp.MustCompile(`(?is)<private>.*?</private>`)

// unclosedSpan matches a <private> opener with no closing tag, up to end of text.
var unclosedSpan = regexp.MustCompile(`(?is)<private>.*$`)

// Strip removes every private span from text. An unclosed <private> hides
// everything after it.
func Strip(text string) string {
	out := privateSpan.ReplaceAllString(text, "")
	out = unclosedSpan.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}

// IsPrivateOnly reports whether nothing but private spans and whitespace remain.
func IsPrivateOnly(text string) bool {
	return Strip(text) == ""
}
