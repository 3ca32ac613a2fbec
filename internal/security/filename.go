// Package security guards the file names the capture sinks derive from
// runtime values.
package security

import "strings"

// SanitizeFilename makes s safe to use as a single path element. Path
// separators, dots that would form "." or "..", control characters and
// anything outside [A-Za-z0-9._-] become '_'. An empty result is "_".
func SanitizeFilename(s string) string {
	out := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, s)
	if out == "" || strings.Trim(out, ".") == "" {
		return strings.Repeat("_", max(len(out), 1))
	}
	return out
}
