// Package filter screens user-submitted text for profanity. Words are matched
// whole, against a normalized form (lowercased, leet-speak characters mapped
// back, inner punctuation dropped) so thin obfuscations like "h3ll" still
// match while innocent words containing a listed word do not.
package filter

import (
	"fmt"
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

const maskChar = "*"

type Filter struct {
	matcher *goahocorasick.Machine
}

// New builds a filter from the given word list.
func New(words []string) (*Filter, error) {
	patterns := make([][]rune, 0, len(words))
	for _, word := range words {
		if norm := normalizeRunes([]rune(word)); len(norm) > 0 {
			patterns = append(patterns, norm)
		}
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, fmt.Errorf("build matcher: %w", err)
	}

	return &Filter{matcher: m}, nil
}

// Default returns a filter over the built-in word list.
func Default() *Filter {
	f, err := New(defaultWords)
	if err != nil {
		// the built-in list is static; a build failure is a programming error
		panic(err)
	}
	return f
}

// IsProfane reports whether any word of text is on the list.
func (f *Filter) IsProfane(text string) bool {
	for _, word := range strings.Fields(text) {
		if f.wordIsProfane(word) {
			return true
		}
	}

	return false
}

// Clean masks every listed word in text, preserving spacing and word lengths.
func (f *Filter) Clean(text string) string {
	words := strings.Fields(text)
	dirty := false
	for i, word := range words {
		if f.wordIsProfane(word) {
			words[i] = strings.Repeat(maskChar, len([]rune(word)))
			dirty = true
		}
	}

	if !dirty {
		return text
	}

	return strings.Join(words, " ")
}

func (f *Filter) wordIsProfane(word string) bool {
	norm := normalizeRunes([]rune(word))
	if len(norm) == 0 {
		return false
	}

	// ExactSearch matches the whole token only, so "hello" never trips on "hell"
	return len(f.matcher.ExactSearch(norm)) > 0
}

// normalizeRunes lowercases, maps leet-speak substitutions back to plain
// letters and drops punctuation and symbols.
func normalizeRunes(input []rune) []rune {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		out = append(out, unicode.ToLower(clean))
	}
	return out
}

func simplifyRune(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}

func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
}
