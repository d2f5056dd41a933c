package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/AobaIwaki123/phrase-radar/internal/config"
	"github.com/AobaIwaki123/phrase-radar/internal/similarity"
	"github.com/AobaIwaki123/phrase-radar/internal/triage"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--config", filepath.Join(t.TempDir(), "absent.yaml")))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCompareCommand(t *testing.T) {
	out, err := run(t, "compare", "testing issues", "isues testin")
	require.NoError(t, err)
	assert.Equal(t, "0.845  duplicate (threshold 0.60)\n", out)
}

func TestCompareCommand_NoWords(t *testing.T) {
	_, err := run(t, "compare", "the of", "login")
	assert.ErrorIs(t, err, similarity.ErrNoTokens)
}

func TestNormalizeCommand(t *testing.T) {
	out, err := run(t, "normalize", "Hello World", "application console")
	require.NoError(t, err)
	assert.Equal(t, "\"hello world\"\n\"app cli\"\n", out)
}

func TestNewComparer_Dictionary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dict.yaml")
	require.NoError(t, os.WriteFile(path, []byte("synonyms:\n  - canonical: db\n    variants: [postgres]\n"), 0o644))

	c, err := newComparer(config.SimilarityConfig{Penalty: similarity.DefaultPenalty, DictionaryPath: path})
	require.NoError(t, err)
	assert.Equal(t, "db", c.Normalize("Postgres"))

	_, err = newComparer(config.SimilarityConfig{Penalty: similarity.DefaultPenalty, DictionaryPath: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func TestPrintComparison_Explain(t *testing.T) {
	res, err := similarity.NewComparer().Explain("login", "login page broken")
	require.NoError(t, err)

	var out bytes.Buffer
	printComparison(&out, res, 0.6, true)
	assert.Contains(t, out.String(), "0.700  duplicate (threshold 0.60)")
	assert.Contains(t, out.String(), "short: login")
	assert.Contains(t, out.String(), "long:  login page fail")
	assert.Contains(t, out.String(), "direct 1.000, penalty 0.300")

	out.Reset()
	printComparison(&out, res, 0.8, false)
	assert.Equal(t, "0.700  distinct (threshold 0.80)\n", out.String())
}

func TestPrintPairs(t *testing.T) {
	var out bytes.Buffer
	printPairs(&out, 4, nil)
	assert.Equal(t, "No duplicates among 4 open issues\n", out.String())

	out.Reset()
	printPairs(&out, 4, []triage.Pair{{
		A:     triage.Candidate{Number: 1, Title: "isues testin"},
		B:     triage.Candidate{Number: 3, Title: "Testing issues"},
		Score: 0.845,
	}})
	assert.Contains(t, out.String(), "1 possible duplicate pairs among 4 open issues")
	assert.Contains(t, out.String(), "#1 isues testin")
	assert.Contains(t, out.String(), "#3 Testing issues")
}
