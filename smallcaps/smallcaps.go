// Package smallcaps converts the text values of a document to Unicode
// small-caps characters and back. Placeholders and formatting codes are
// protected through the same shield the translator uses — converting
// "{player}" to small caps would break the plugin reading the config.
package smallcaps

import (
	"strings"
	"unicode"

	"github.com/treeglot/treeglot/docnode"
	"github.com/treeglot/treeglot/shield"
)

// toSmallCaps maps lowercase letters to their small-caps forms. 's' and
// 'x' have no dedicated small-caps codepoint and stay as-is.
var toSmallCaps = map[rune]rune{
	'a': 'ᴀ', 'b': 'ʙ', 'c': 'ᴄ', 'd': 'ᴅ', 'e': 'ᴇ', 'f': 'ꜰ', 'g': 'ɢ', 'h': 'ʜ',
	'i': 'ɪ', 'j': 'ᴊ', 'k': 'ᴋ', 'l': 'ʟ', 'm': 'ᴍ', 'n': 'ɴ', 'o': 'ᴏ', 'p': 'ᴘ',
	'q': 'ǫ', 'r': 'ʀ', 't': 'ᴛ', 'u': 'ᴜ', 'v': 'ᴠ', 'w': 'ᴡ', 'y': 'ʏ', 'z': 'ᴢ',
}

var fromSmallCaps = func() map[rune]rune {
	m := make(map[rune]rune, len(toSmallCaps))
	for k, v := range toSmallCaps {
		m[v] = k
	}
	return m
}()

// Convert turns text into small caps, leaving shielded substrings intact.
func Convert(text string) string {
	return mapped(text, func(r rune) rune {
		if sc, ok := toSmallCaps[unicode.ToLower(r)]; ok {
			return sc
		}
		return r
	})
}

// Revert turns small-caps text back into regular lowercase letters,
// leaving shielded substrings intact.
func Revert(text string) string {
	return mapped(text, func(r rune) rune {
		if plain, ok := fromSmallCaps[r]; ok {
			return plain
		}
		return r
	})
}

// mapped applies a rune mapping under shield protection. Token spans are
// skipped outright — the "PH" letters inside a token must not be mapped —
// so the shield round trip cannot fail.
func mapped(text string, f func(rune) rune) string {
	shielded, m := shield.Shield(text)

	var b strings.Builder
	last := 0
	for _, loc := range shield.TokenPattern.FindAllStringIndex(shielded, -1) {
		b.WriteString(strings.Map(f, shielded[last:loc[0]]))
		b.WriteString(shielded[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(strings.Map(f, shielded[last:]))

	restored, err := shield.Unshield(b.String(), m)
	if err != nil {
		return text
	}
	return restored
}

// Stats counts a document conversion.
type Stats struct {
	// Total is the number of string scalars visited.
	Total int
	// Converted is how many of them changed.
	Converted int
}

// ConvertNode rewrites every non-empty string scalar of the tree in place.
func ConvertNode(root *docnode.Node) Stats {
	return apply(root, Convert)
}

// RevertNode is the inverse of ConvertNode.
func RevertNode(root *docnode.Node) Stats {
	return apply(root, Revert)
}

func apply(n *docnode.Node, f func(string) string) Stats {
	var s Stats
	switch n.Kind {
	case docnode.MappingKind:
		for _, pair := range n.Pairs {
			sub := apply(pair.Value, f)
			s.Total += sub.Total
			s.Converted += sub.Converted
		}
	case docnode.SequenceKind:
		for _, item := range n.Items {
			sub := apply(item, f)
			s.Total += sub.Total
			s.Converted += sub.Converted
		}
	case docnode.ScalarKind:
		if n.Type != docnode.StringType || strings.TrimSpace(n.Value) == "" {
			return s
		}
		s.Total = 1
		if out := f(n.Value); out != n.Value {
			n.Value = out
			s.Converted = 1
		}
	}
	return s
}
