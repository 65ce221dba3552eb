// Package question canonicalizes interview questions into cache keys.
package question

import (
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Category is an analytics label for a question.
type Category string

const (
	CategoryBehavioral Category = "behavioral"
	CategoryTechnical  Category = "technical"
	CategoryGeneral    Category = "general"
)

var behavioralKeywords = []string{
	"tell me about a time",
	"describe a situation",
	"give me an example",
	"conflict",
	"challenge",
	"failure",
	"mistake",
	"team",
	"leadership",
	"deadline",
}

var technicalKeywords = []string{
	"algorithm",
	"data structure",
	"complexity",
	"design a",
	"system design",
	"database",
	"api",
	"code",
	"debug",
	"architecture",
}

// Canonical strips everything but letters, digits and whitespace, lowercases,
// sorts the words and joins them with single spaces.
func Canonical(text string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, text)

	words := strings.Fields(cleaned)
	sort.Strings(words)
	return strings.Join(words, " ")
}

// Normalize returns the hex xxhash64 of the canonical form. Word order and
// punctuation do not change the key.
func Normalize(text string) string {
	return strconv.FormatUint(xxhash.Sum64String(Canonical(text)), 16)
}

// Classify labels a question by keyword containment, behavioral first.
func Classify(text string) Category {
	lower := strings.ToLower(text)
	for _, kw := range behavioralKeywords {
		if strings.Contains(lower, kw) {
			return CategoryBehavioral
		}
	}
	for _, kw := range technicalKeywords {
		if strings.Contains(lower, kw) {
			return CategoryTechnical
		}
	}
	return CategoryGeneral
}
