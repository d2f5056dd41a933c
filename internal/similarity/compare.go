// Package similarity scores how close two short phrases, such as issue
// titles, are to each other.
//
// Phrases are normalized against a dictionary, split into words, and every
// word of the shorter phrase is matched to its closest word in the longer one
// by Damerau-Levenshtein distance. The mean of those matches, minus a penalty
// per unmatched extra word, is the phrase score.
//
// Everything in this package is pure and safe for concurrent use.
package similarity

import (
	"errors"
	"slices"
	"sync"
	"unicode/utf8"

	"github.com/AobaIwaki123/phrase-radar/internal/dictionary"
)

const (
	// DefaultThreshold is the score at which two phrases are treated as
	// duplicates.
	DefaultThreshold = 0.60

	// DefaultPenalty is subtracted from the score once per word the longer
	// phrase has over the shorter one.
	DefaultPenalty = 0.15
)

var (
	// ErrInvalidInput is returned for phrases that are not valid UTF-8.
	ErrInvalidInput = errors.New("similarity: phrase is not valid UTF-8")

	// ErrNoTokens is returned when a phrase has no words left after
	// normalization, e.g. it was made of stop words and punctuation only.
	ErrNoTokens = errors.New("similarity: phrase has no comparable words")
)

// Comparer scores phrase pairs.
type Comparer struct {
	normalizer *Normalizer
	penalty    float64
}

// Option configures a Comparer.
type Option func(*Comparer)

// WithDictionary selects the dictionary used for normalization.
func WithDictionary(d *dictionary.Dictionary) Option {
	return func(c *Comparer) {
		c.normalizer = NewNormalizer(d)
	}
}

// WithPenalty overrides DefaultPenalty.
func WithPenalty(p float64) Option {
	return func(c *Comparer) {
		c.penalty = p
	}
}

// NewComparer builds a Comparer. Without options it uses the built-in
// dictionary and DefaultPenalty.
func NewComparer(opts ...Option) *Comparer {
	c := &Comparer{penalty: DefaultPenalty}
	for _, opt := range opts {
		opt(c)
	}
	if c.normalizer == nil {
		c.normalizer = NewNormalizer(nil)
	}
	return c
}

// Normalize normalizes phrase with the comparer's dictionary.
func (c *Comparer) Normalize(phrase string) string {
	return c.normalizer.Normalize(phrase)
}

// Penalty returns the per-word length penalty.
func (c *Comparer) Penalty() float64 { return c.penalty }

// WordMatch is the best counterpart found for one word of the shorter phrase.
type WordMatch struct {
	Word  string
	Match string
	Score float64
}

// Result explains a phrase score.
type Result struct {
	Short   []string
	Long    []string
	Matches []WordMatch
	// Direct is the mean of the word matches, before the length penalty.
	Direct float64
	// Score is Direct minus the length penalty. It is not clamped and can be
	// negative.
	Score float64
}

// Compare returns the similarity score of a and b. The score is symmetric in
// its arguments.
func (c *Comparer) Compare(a, b string) (float64, error) {
	res, err := c.Explain(a, b)
	if err != nil {
		return 0, err
	}
	return res.Score, nil
}

// Explain is Compare with the per-word breakdown.
func (c *Comparer) Explain(a, b string) (Result, error) {
	if !utf8.ValidString(a) || !utf8.ValidString(b) {
		return Result{}, ErrInvalidInput
	}

	short := c.normalizer.Tokens(a)
	long := c.normalizer.Tokens(b)

	// Which side is short depends only on content, never on argument order.
	if len(short) > len(long) || (len(short) == len(long) && slices.Compare(long, short) < 0) {
		short, long = long, short
	}
	if len(short) == 0 {
		return Result{Short: short, Long: long}, ErrNoTokens
	}

	res := Result{
		Short:   short,
		Long:    long,
		Matches: make([]WordMatch, 0, len(short)),
	}

	var sum float64
	for _, word := range short {
		best := WordMatch{Word: word}
		for _, candidate := range long {
			if score := WordSimilarity(word, candidate); score > best.Score || best.Match == "" {
				best.Match = candidate
				best.Score = score
			}
		}
		res.Matches = append(res.Matches, best)
		sum += best.Score
	}

	res.Direct = sum / float64(len(short))
	res.Score = res.Direct - float64(len(long)-len(short))*c.penalty
	return res, nil
}

var defaultComparer = sync.OnceValue(func() *Comparer {
	return NewComparer()
})

// Normalize normalizes phrase with the built-in dictionary.
func Normalize(phrase string) string {
	return defaultComparer().Normalize(phrase)
}

// Compare scores a and b with the built-in dictionary and DefaultPenalty.
func Compare(a, b string) (float64, error) {
	return defaultComparer().Compare(a, b)
}
