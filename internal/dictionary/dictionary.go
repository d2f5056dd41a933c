// Package dictionary holds the static word lists used to normalize phrases:
// separator punctuation, stop words and ordered synonym groups.
//
// A Dictionary is immutable once built and is safe to share between
// goroutines.
package dictionary

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// SynonymGroup maps a set of surface forms onto one canonical word.
type SynonymGroup struct {
	Canonical string   `yaml:"canonical"`
	Variants  []string `yaml:"variants"`
}

// File is the on-disk representation of a dictionary.
type File struct {
	Punctuation string         `yaml:"punctuation"`
	StopWords   []string       `yaml:"stop_words"`
	Synonyms    []SynonymGroup `yaml:"synonyms"`
}

// Dictionary is a read-only set of normalization tables.
type Dictionary struct {
	punctuation map[rune]struct{}
	stopWords   map[string]struct{}
	groups      []SynonymGroup
	canonical   map[string]string
}

// Fold lowercases s. Dictionary keys and normalized phrases are both folded
// with it so lookups agree.
func Fold(s string) string {
	// A Caser keeps state between calls and must not be shared.
	return cases.Lower(language.Und).String(s)
}

// New validates the tables and builds a Dictionary.
func New(punctuation string, stopWords []string, groups []SynonymGroup) (*Dictionary, error) {
	d := &Dictionary{
		punctuation: make(map[rune]struct{}, len(punctuation)),
		stopWords:   make(map[string]struct{}, len(stopWords)),
		canonical:   make(map[string]string),
	}

	for _, r := range punctuation {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return nil, fmt.Errorf("punctuation %q is alphanumeric", r)
		}
		d.punctuation[r] = struct{}{}
	}

	for _, w := range stopWords {
		w = Fold(strings.TrimSpace(w))
		if !d.validWord(w) {
			return nil, fmt.Errorf("invalid stop word %q", w)
		}
		d.stopWords[w] = struct{}{}
	}

	for i, g := range groups {
		canon := Fold(strings.TrimSpace(g.Canonical))
		if !d.validWord(canon) {
			return nil, fmt.Errorf("synonym group %d: invalid canonical word %q", i, g.Canonical)
		}
		// The canonical form is its own replacement target. If an earlier group
		// already claims it as a variant, normalizing twice would not be stable.
		if prev, ok := d.canonical[canon]; ok && prev != canon {
			return nil, fmt.Errorf("synonym group %q: canonical word is a variant of %q", canon, prev)
		}
		d.canonical[canon] = canon

		variants := make([]string, 0, len(g.Variants))
		for _, v := range g.Variants {
			v = Fold(strings.TrimSpace(v))
			if !d.validWord(v) {
				return nil, fmt.Errorf("synonym group %q: invalid variant %q", canon, v)
			}
			if _, ok := d.canonical[v]; !ok {
				d.canonical[v] = canon
			}
			variants = append(variants, v)
		}
		d.groups = append(d.groups, SynonymGroup{Canonical: canon, Variants: variants})
	}

	return d, nil
}

// validWord reports whether w survives normalization as a single word: it is
// non-empty and holds no whitespace or separator punctuation.
func (d *Dictionary) validWord(w string) bool {
	return w != "" && !strings.ContainsFunc(w, func(r rune) bool {
		return unicode.IsSpace(r) || d.IsPunctuation(r)
	})
}

// Parse decodes a YAML dictionary document.
func Parse(data []byte) (*Dictionary, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode dictionary: %w", err)
	}
	return New(f.Punctuation, f.StopWords, f.Synonyms)
}

// Load reads a YAML dictionary file from disk.
func Load(path string) (*Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dictionary %s: %w", path, err)
	}
	d, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("dictionary %s: %w", path, err)
	}
	return d, nil
}

var loadDefault = sync.OnceValue(func() *Dictionary {
	d, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("built-in dictionary: %v", err))
	}
	return d
})

// Default returns the built-in dictionary. It is parsed once per process.
func Default() *Dictionary {
	return loadDefault()
}

// IsPunctuation reports whether r is a separator.
func (d *Dictionary) IsPunctuation(r rune) bool {
	_, ok := d.punctuation[r]
	return ok
}

// IsStopWord reports whether the folded word w is a stop word.
func (d *Dictionary) IsStopWord(w string) bool {
	_, ok := d.stopWords[w]
	return ok
}

// Canonical returns the canonical form of the folded word w, if w belongs to
// a synonym group.
func (d *Dictionary) Canonical(w string) (string, bool) {
	c, ok := d.canonical[w]
	return c, ok
}

// Groups returns a copy of the synonym groups in dictionary order.
func (d *Dictionary) Groups() []SynonymGroup {
	out := make([]SynonymGroup, len(d.groups))
	for i, g := range d.groups {
		out[i] = SynonymGroup{
			Canonical: g.Canonical,
			Variants:  append([]string(nil), g.Variants...),
		}
	}
	return out
}

// StopWordCount returns the number of stop words.
func (d *Dictionary) StopWordCount() int { return len(d.stopWords) }
