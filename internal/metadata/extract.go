package metadata

import "strings"

const (
	openDelim  = "/**"
	closeDelim = "*/"
)

// Extract returns the trimmed text between the first "/**" and the first "*/"
// after it. ok is false when either delimiter is missing.
//
// The scan is textual: a "/**" inside a string literal that precedes the real
// block is picked up as the block.
func Extract(text string) (block string, ok bool) {
	start := strings.Index(text, openDelim)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(openDelim):]
	end := strings.Index(rest, closeDelim)
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}
