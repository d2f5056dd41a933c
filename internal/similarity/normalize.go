package similarity

import (
	"strings"
	"unicode"

	"github.com/AobaIwaki123/phrase-radar/internal/dictionary"
)

// Normalizer prepares phrases for comparison using a shared dictionary.
type Normalizer struct {
	dict *dictionary.Dictionary
}

// NewNormalizer returns a Normalizer backed by d. A nil d selects the
// built-in dictionary.
func NewNormalizer(d *dictionary.Dictionary) *Normalizer {
	if d == nil {
		d = dictionary.Default()
	}
	return &Normalizer{dict: d}
}

// Normalize lowercases phrase, turns punctuation into spaces, replaces synonym
// variants with their canonical word and drops stop words.
//
// Runs of separators collapse to one space. A phrase that starts or ends with
// a separator keeps a single leading or trailing space. The result of
// Normalize is a fixed point: normalizing it again returns it unchanged.
func (n *Normalizer) Normalize(phrase string) string {
	if phrase == "" {
		return ""
	}

	spaced := strings.Map(func(r rune) rune {
		if n.dict.IsPunctuation(r) || unicode.IsSpace(r) {
			return ' '
		}
		return r
	}, dictionary.Fold(phrase))

	pieces := strings.Split(spaced, " ")
	words := n.words(pieces)
	if len(words) == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(len(spaced))
	if pieces[0] == "" {
		b.WriteByte(' ')
	}
	b.WriteString(strings.Join(words, " "))
	if pieces[len(pieces)-1] == "" {
		b.WriteByte(' ')
	}
	return b.String()
}

// Tokens normalizes phrase and returns its non-empty words.
func (n *Normalizer) Tokens(phrase string) []string {
	return strings.Fields(n.Normalize(phrase))
}

// words canonicalizes pieces in one pass and filters empties and stop words.
func (n *Normalizer) words(pieces []string) []string {
	out := make([]string, 0, len(pieces))
	for _, p := range pieces {
		if p == "" {
			continue
		}
		if c, ok := n.dict.Canonical(p); ok {
			p = c
		}
		if n.dict.IsStopWord(p) {
			continue
		}
		out = append(out, p)
	}
	return out
}
