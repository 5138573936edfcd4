package search

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	snippetBefore = 50
	snippetAfter  = 100
	snippetHead   = 150
)

// snippet returns the content around the first case-insensitive occurrence
// of term, or the start of the content when term does not occur.
func snippet(content, term string) string {
	runes := []rune(content)
	lower := strings.ToLower(content)
	idx := -1
	if term != "" {
		idx = strings.Index(lower, strings.ToLower(term))
	}
	if idx < 0 {
		return string(runes[:min(len(runes), snippetHead)])
	}
	pos := utf8.RuneCountInString(lower[:idx])
	return string(runes[max(0, pos-snippetBefore):min(len(runes), pos+snippetAfter)])
}

// tokenize splits text into lowercase terms of letters and digits.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
