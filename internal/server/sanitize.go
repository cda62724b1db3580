package server

import (
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxTextLength is the longest chat text accepted, in characters.
const MaxTextLength = 500

var strictPolicy = bluemonday.StrictPolicy()

// bluemonday escapes quotes in text nodes; only &, < and > stay escaped.
var quoteUnescaper = strings.NewReplacer("&#39;", "'", "&#34;", `"`)

// sanitizeText strips every tag and attribute from s, keeping the text
// content with &, < and > escaped, and trims surrounding space. Inputs
// longer than MaxTextLength sanitize to the empty string.
func sanitizeText(s string) string {
	if utf8.RuneCountInString(s) > MaxTextLength {
		return ""
	}
	return strings.TrimSpace(quoteUnescaper.Replace(strictPolicy.Sanitize(s)))
}

// truncate cuts s to at most n characters.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
