// Package shield protects non-translatable substrings inside translatable
// text before it is handed to an AI model, and restores them afterwards.
//
// Game and application config files embed control tokens inside human text:
//
//	"Hello {player}, you have &a%amount% &fXP! \n Welcome!"
//
// A translation model will happily rewrite, drop or "fix" these tokens.
// Shield replaces each one with an opaque __PH<n>__ token that models treat
// as an untouchable word, and Unshield swaps the originals back in. A token
// count mismatch after the round trip means the model corrupted a token and
// the translation must be rejected.
package shield

import (
	"fmt"
	"regexp"
	"strconv"
	"unicode"
)

// Protected substring families, matched over the literal input text
// (escape sequences are never interpreted first):
//
//   - {var}        brace-delimited variable references
//   - %var%        percent-delimited variable references
//   - &a           color/format codes: '&' followed by one alphanumeric
//   - <#RRGGBB>    hex color markers
//   - <...>        any angle-bracket tag, non-greedy, no nested '<'
//   - \n           the literal two-character newline escape
//
// The generic <...> pattern also captures prose that happens to be wrapped
// in angle brackets (a value like "press <enter>"). That over-shielding is
// intentional: an un-shielded tag that gets mangled is far more expensive
// than a shielded word that comes back verbatim.
var pattern = regexp.MustCompile(`\{[^{}]*\}|%[^%\s]+%|&[0-9A-Za-z]|<#[0-9A-Fa-f]{6}>|<[^<>]*>|\\n`)

// TokenPattern matches the synthetic tokens Shield emits. Exposed so
// transforms that rewrite shielded text character by character can leave
// token spans alone.
var TokenPattern = regexp.MustCompile(`__PH\d+__`)

// Map records the protected substrings removed from one piece of text,
// in match order. It is ephemeral: created right before a leaf enters a
// batch, consumed right after the translated text comes back.
type Map struct {
	originals []string
}

// Count returns the number of protected substrings in the map.
func (m *Map) Count() int {
	if m == nil {
		return 0
	}
	return len(m.originals)
}

// token returns the synthetic token for the i-th protected substring.
// Underscore-delimited alphanumerics survive translation models unaltered;
// anything with internal punctuation risks being "corrected".
func token(i int) string {
	return fmt.Sprintf("__PH%d__", i)
}

// Shield replaces every protected substring in text with a synthetic token
// and returns the tokenized text plus the map needed to reverse it.
// Matches are non-overlapping, scanned left to right.
func Shield(text string) (string, *Map) {
	m := &Map{}
	shielded := pattern.ReplaceAllStringFunc(text, func(match string) string {
		t := token(len(m.originals))
		m.originals = append(m.originals, match)
		return t
	})
	return shielded, m
}

// Unshield substitutes each token in text back to its recorded original.
// It fails if the tokens present are not exactly the tokens Shield
// produced — the external transform dropped, duplicated or rewrote one,
// and the text can no longer be trusted. Token order may differ: a
// translation is free to move a placeholder.
func Unshield(text string, m *Map) (string, error) {
	found := TokenPattern.FindAllString(text, -1)
	if len(found) != m.Count() {
		return "", fmt.Errorf("placeholder mismatch: expected %d tokens, found %d", m.Count(), len(found))
	}
	present := make(map[string]bool, len(found))
	for _, t := range found {
		present[t] = true
	}
	for i := range m.originals {
		if !present[token(i)] {
			return "", fmt.Errorf("placeholder mismatch: token %s missing", token(i))
		}
	}
	// Equal counts plus every expected token present means the found set
	// is exactly token(0)..token(n-1), so the index below is always valid.
	return TokenPattern.ReplaceAllStringFunc(text, func(t string) string {
		i, _ := strconv.Atoi(t[len("__PH") : len(t)-len("__")])
		return m.originals[i]
	}), nil
}

// Translatable reports whether text is worth sending to a translation
// backend: after stripping every protected substring, at least one letter
// must remain. Pure placeholder strings, color-code decorations and
// symbolic/numeric values pass through untouched.
func Translatable(text string) bool {
	stripped := pattern.ReplaceAllString(text, "")
	for _, r := range stripped {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
