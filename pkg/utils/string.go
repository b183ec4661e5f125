// Package utils provides common utility functions.
package utils

import (
	"strings"
	"unicode/utf8"
)

// missingMarkers are cell values that spreadsheet exports use for an empty cell.
var missingMarkers = map[string]struct{}{
	"":     {},
	"nan":  {},
	"none": {},
	"null": {},
}

// StringHelper provides string utility functions.
type StringHelper struct{}

// NewStringHelper creates a new string helper.
func NewStringHelper() *StringHelper {
	return &StringHelper{}
}

// NormalizeWhitespace replaces multiple whitespace with single space.
func (s *StringHelper) NormalizeWhitespace(str string) string {
	return strings.Join(strings.Fields(str), " ")
}

// IsMissing reports whether a cell is empty or holds a missing-value marker
// such as "NaN", "None" or "null".
func (s *StringHelper) IsMissing(str string) bool {
	_, ok := missingMarkers[strings.ToLower(strings.TrimSpace(str))]

	return ok
}

// Truncate cuts str to at most maxRunes runes without splitting a rune.
// A non-positive limit disables truncation.
func (s *StringHelper) Truncate(str string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(str) <= maxRunes {
		return str
	}

	n := 0
	for i := range str {
		if n == maxRunes {
			return str[:i]
		}
		n++
	}

	return str
}

// Prefix returns the first n runes of str, or str itself when shorter.
func (s *StringHelper) Prefix(str string, n int) string {
	if n <= 0 {
		return ""
	}

	return s.Truncate(str, n)
}
