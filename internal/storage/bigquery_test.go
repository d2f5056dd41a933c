package storage

import (
	"strings"
	"testing"
	"time"

	githubapi "github.com/google/go-github/v62/github"
	"github.com/stretchr/testify/assert"
)

func TestOpenIssuesQuery(t *testing.T) {
	q := openIssuesQuery("proj", "triage", "issues")
	assert.Contains(t, q, "FROM `proj.triage.issues`")
	assert.Contains(t, q, "WHERE repo = @repo")
	assert.Contains(t, q, "LIMIT @limit")
	assert.True(t, strings.HasPrefix(q, "SELECT issue_id, title FROM ("))
}

func TestNewIssueRow(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	updated := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

	row := NewIssueRow("o/r", &githubapi.Issue{
		Number:    githubapi.Int(42),
		Title:     githubapi.String("App crashes on start"),
		State:     githubapi.String("closed"),
		UpdatedAt: &githubapi.Timestamp{Time: updated},
	}, now)

	assert.Equal(t, &IssueRow{
		Repo:      "o/r",
		IssueID:   42,
		Title:     "App crashes on start",
		State:     "closed",
		UpdatedAt: updated,
	}, row)

	row = NewIssueRow("o/r", &githubapi.Issue{Number: githubapi.Int(7)}, now)
	assert.Equal(t, "open", row.State)
	assert.Equal(t, now, row.UpdatedAt)
}
