package reflectx

import (
	"strings"
	"unicode"
)

// ToSnake lowercases s and joins its words with underscores. Words break on
// case changes, on letter/digit changes and on any other rune, so reflected
// names such as "*pkg.UserRecord" or "Model[int64]" become usable table
// names.
func ToSnake(s string) string {
	runes := []rune(s)
	var words []string
	var word []rune
	flush := func() {
		if len(word) > 0 {
			words = append(words, strings.ToLower(string(word)))
			word = word[:0]
		}
	}

	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if len(word) > 0 && wordBreak(runes, i) {
			flush()
		}
		word = append(word, r)
	}
	flush()
	return strings.Join(words, "_")
}

// wordBreak reports whether a new word starts at runes[i].
func wordBreak(runes []rune, i int) bool {
	prev, r := runes[i-1], runes[i]
	switch {
	case unicode.IsDigit(prev) != unicode.IsDigit(r):
		return true
	case unicode.IsUpper(r) && unicode.IsLower(prev):
		return true
	case unicode.IsUpper(r) && unicode.IsUpper(prev):
		// last capital of an acronym opens the next word: "IDField"
		return i+1 < len(runes) && unicode.IsLower(runes[i+1])
	}
	return false
}
