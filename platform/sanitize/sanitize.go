// Package sanitize cleans free text arriving over webhooks before it is
// stored or echoed back into conversation prompts.
package sanitize

import (
	"regexp"
	"strings"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// StripHTML removes markup from a string. Entities are decoded and the
// result stripped a second time, so an entity-encoded tag does not survive
// the decode.
func StripHTML(s string) string {
	out := tagPattern.ReplaceAllString(s, "")
	out = strings.ReplaceAll(out, "&lt;", "<")
	out = strings.ReplaceAll(out, "&gt;", ">")
	out = strings.ReplaceAll(out, "&amp;", "&")
	out = strings.ReplaceAll(out, "&quot;", "\"")
	out = strings.ReplaceAll(out, "&#39;", "'")
	out = tagPattern.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}

// Text cleans a user-provided text field for storage.
func Text(s string) string {
	return StripHTML(s)
}

// TextPtr applies Text through an optional pointer.
func TextPtr(s *string) *string {
	if s == nil {
		return nil
	}
	out := Text(*s)
	return &out
}
