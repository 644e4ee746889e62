package transcript

import (
	"regexp"
	"strings"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	punctSpaceRe = regexp.MustCompile(` ([.,!?;:])`)
)

// NormalizeText trims the text, collapses internal whitespace runs to a
// single space, and removes the space left before punctuation by the
// transcription service.
func NormalizeText(text string) string {
	text = strings.TrimSpace(text)
	text = whitespaceRe.ReplaceAllString(text, " ")
	text = punctSpaceRe.ReplaceAllString(text, "$1")
	return text
}
