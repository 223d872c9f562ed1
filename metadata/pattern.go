package metadata

import (
	"unicode"
	"unicode/utf8"
)

// MatchPattern reports whether value matches a MATCH pattern as a whole.
// In a pattern, A matches a letter, N a digit and X a letter or digit; any
// other rune matches itself ignoring case.
func MatchPattern(pattern, value string) bool {
	if utf8.RuneCountInString(pattern) != utf8.RuneCountInString(value) {
		return false
	}

	vs := []rune(value)
	i := 0
	for _, p := range pattern {
		v := vs[i]
		i++

		switch unicode.ToUpper(p) {
		case 'A':
			if !unicode.IsLetter(v) {
				return false
			}
		case 'N':
			if !unicode.IsDigit(v) {
				return false
			}
		case 'X':
			if !unicode.IsLetter(v) && !unicode.IsDigit(v) {
				return false
			}
		default:
			if unicode.ToLower(p) != unicode.ToLower(v) {
				return false
			}
		}
	}
	return true
}
