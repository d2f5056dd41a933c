// Package triage decides which existing issues a new issue duplicates and
// renders the reference comment posted for them.
package triage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/AobaIwaki123/phrase-radar/internal/config"
	"github.com/AobaIwaki123/phrase-radar/internal/similarity"
	"github.com/cbroglie/mustache"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Candidate is an issue that can be compared by title.
type Candidate struct {
	Number int
	Title  string
}

// Match is a candidate whose title scored at or above the threshold.
type Match struct {
	Number int
	Title  string
	Score  float64
}

// Accuracy is the score as a whole percentage for display.
func (m Match) Accuracy() int {
	return int(math.Round(m.Score * 100))
}

// Policy turns scores into duplicate decisions for one repository.
type Policy struct {
	threshold float64
	disabled  bool
	comment   *mustache.Template
}

// NewPolicy builds a Policy from repository settings.
func NewPolicy(rc config.RepoConfig) (*Policy, error) {
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	p := &Policy{
		threshold: rc.Threshold.Value,
		disabled:  !rc.Threshold.Enabled(),
	}
	if rc.ReferenceComment.Enabled() {
		tmpl, err := rc.CommentTemplate()
		if err != nil {
			return nil, err
		}
		p.comment = tmpl
	}
	return p, nil
}

// Enabled reports whether duplicate detection is switched on.
func (p *Policy) Enabled() bool { return !p.disabled }

// Threshold returns the minimum duplicate score.
func (p *Policy) Threshold() float64 { return p.threshold }

// IsDuplicate applies the threshold to a phrase score.
func (p *Policy) IsDuplicate(score float64) bool {
	return !p.disabled && score >= p.threshold
}

// RenderComment renders the reference comment for matches. It returns "" when
// commenting is disabled or there is nothing to reference.
func (p *Policy) RenderComment(matches []Match) (string, error) {
	if p.comment == nil || len(matches) == 0 {
		return "", nil
	}

	issues := make([]map[string]any, len(matches))
	for i, m := range matches {
		issues[i] = map[string]any{
			"number":   m.Number,
			"title":    m.Title,
			"accuracy": m.Accuracy(),
		}
	}

	body, err := p.comment.Render(map[string]any{"issues": issues})
	if err != nil {
		return "", fmt.Errorf("render reference comment: %w", err)
	}
	return body, nil
}

// Scanner compares a title against many candidates concurrently.
type Scanner struct {
	comparer *similarity.Comparer
	workers  int
	logger   *zap.Logger
}

// NewScanner returns a Scanner running at most workers comparisons at once.
func NewScanner(c *similarity.Comparer, workers int, logger *zap.Logger) *Scanner {
	if workers <= 0 {
		workers = 1
	}
	return &Scanner{comparer: c, workers: workers, logger: logger}
}

// Scan scores subject against candidates and returns those the policy marks
// as duplicates, best first. The subject itself is skipped. Pairs that cannot
// be scored are logged and skipped.
func (s *Scanner) Scan(ctx context.Context, p *Policy, subject Candidate, candidates []Candidate) ([]Match, error) {
	if !p.Enabled() {
		s.logger.Debug("duplicate detection disabled", zap.Int("issue", subject.Number))
		return nil, nil
	}

	scores := make([]float64, len(candidates))
	ok := make([]bool, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, c := range candidates {
		if c.Number == subject.Number {
			continue
		}
		i, c := i, c
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			score, err := s.comparer.Compare(subject.Title, c.Title)
			if err != nil {
				if errors.Is(err, similarity.ErrNoTokens) || errors.Is(err, similarity.ErrInvalidInput) {
					s.logger.Debug("skipping comparison",
						zap.Int("issue", subject.Number),
						zap.Int("candidate", c.Number),
						zap.Error(err))
					return nil
				}
				return fmt.Errorf("compare #%d with #%d: %w", subject.Number, c.Number, err)
			}
			s.logger.Debug("compared titles",
				zap.Int("issue", subject.Number),
				zap.Int("candidate", c.Number),
				zap.Float64("score", score))
			scores[i] = score
			ok[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var matches []Match
	for i, c := range candidates {
		if ok[i] && p.IsDuplicate(scores[i]) {
			matches = append(matches, Match{Number: c.Number, Title: c.Title, Score: scores[i]})
		}
	}
	SortMatches(matches)
	return matches, nil
}

// Pair is two candidates whose titles duplicate each other.
type Pair struct {
	A, B  Candidate
	Score float64
}

// Pairs compares every candidate with every later one and returns the
// duplicate pairs, best first. Equal scores are ordered by issue numbers.
func (s *Scanner) Pairs(ctx context.Context, p *Policy, candidates []Candidate) ([]Pair, error) {
	var pairs []Pair
	for i, a := range candidates {
		matches, err := s.Scan(ctx, p, a, candidates[i+1:])
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			pairs = append(pairs, Pair{A: a, B: Candidate{Number: m.Number, Title: m.Title}, Score: m.Score})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		a, b := pairs[i], pairs[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.A.Number != b.A.Number {
			return a.A.Number < b.A.Number
		}
		return a.B.Number < b.B.Number
	})
	return pairs, nil
}

// SortMatches orders matches by score, highest first, then by issue number.
func SortMatches(matches []Match) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Number < matches[j].Number
	})
}
