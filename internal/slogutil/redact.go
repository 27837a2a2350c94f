package slogutil

import (
	"regexp"
	"unicode/utf8"
)

// MaxSnippetLength bounds snippets kept on evidence and written to logs.
const MaxSnippetLength = 512

const (
	redactionPlaceholder = "[redacted]"
	ellipsis             = "…"
)

var (
	emailPattern     = regexp.MustCompile(`(?i)\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`)
	phonePattern     = regexp.MustCompile(`\b(?:\+?\d{1,3}[ \-]?)?(?:\d[ \-]?){7,}\d\b`)
	longDigitPattern = regexp.MustCompile(`\b\d{9,}\b`)
	tokenPattern     = regexp.MustCompile(`\b[A-Z0-9]{24,}\b`)
)

// Redact masks email addresses, phone numbers, long digit runs and long
// upper-case tokens. When maxLen > 0 the result is cut at maxLen runes and
// an ellipsis is appended.
func Redact(s string, maxLen int) string {
	if s == "" {
		return s
	}
	masked := emailPattern.ReplaceAllString(s, redactionPlaceholder)
	masked = phonePattern.ReplaceAllString(masked, redactionPlaceholder)
	masked = longDigitPattern.ReplaceAllString(masked, redactionPlaceholder)
	masked = tokenPattern.ReplaceAllString(masked, redactionPlaceholder)

	if maxLen > 0 && utf8.RuneCountInString(masked) > maxLen {
		runes := []rune(masked)
		return string(runes[:maxLen]) + ellipsis
	}
	return masked
}
