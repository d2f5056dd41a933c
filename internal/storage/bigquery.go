// Package storage mirrors issue titles into BigQuery so candidates can be
// listed without paging through the GitHub API.
package storage

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/AobaIwaki123/phrase-radar/internal/config"
	"github.com/AobaIwaki123/phrase-radar/internal/triage"
	githubapi "github.com/google/go-github/v62/github"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
)

// BQClient wraps BigQuery operations on the issue catalog table.
type BQClient struct {
	client *bigquery.Client
	cfg    config.GCPConfig
	logger *zap.Logger
}

// NewBQClient creates a BigQuery client for the configured project.
func NewBQClient(ctx context.Context, cfg config.GCPConfig, logger *zap.Logger) (*BQClient, error) {
	logger.Debug("initializing BigQuery client", zap.String("project", cfg.ProjectID))
	cli, err := bigquery.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create BigQuery client: %w", err)
	}
	return &BQClient{client: cli, cfg: cfg, logger: logger}, nil
}

// Close releases the underlying client.
func (b *BQClient) Close() error {
	return b.client.Close()
}

// IssueRow is one observed state of an issue. Rows are append-only; the
// newest row per issue wins.
type IssueRow struct {
	Repo      string    `bigquery:"repo"`
	IssueID   int64     `bigquery:"issue_id"`
	Title     string    `bigquery:"title"`
	State     string    `bigquery:"state"`
	UpdatedAt time.Time `bigquery:"updated_at"`
}

// NewIssueRow converts a webhook issue into a catalog row.
func NewIssueRow(repo string, issue *githubapi.Issue, now time.Time) *IssueRow {
	updated := issue.GetUpdatedAt().Time
	if updated.IsZero() {
		updated = now
	}
	state := issue.GetState()
	if state == "" {
		state = "open"
	}
	return &IssueRow{
		Repo:      repo,
		IssueID:   int64(issue.GetNumber()),
		Title:     issue.GetTitle(),
		State:     state,
		UpdatedAt: updated,
	}
}

// RecordIssues appends the current state of issues to the catalog.
func (b *BQClient) RecordIssues(ctx context.Context, repo string, issues ...*githubapi.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]*IssueRow, len(issues))
	for i, is := range issues {
		rows[i] = NewIssueRow(repo, is, now)
	}

	ins := b.client.Dataset(b.cfg.BQDataset).Table(b.cfg.BQTable).Inserter()
	if err := ins.Put(ctx, rows); err != nil {
		return fmt.Errorf("insert %d issue rows for %s: %w", len(rows), repo, err)
	}
	b.logger.Debug("recorded issues", zap.String("repo", repo), zap.Int("count", len(rows)))
	return nil
}

// openIssuesQuery selects the latest row of every issue in a repository and
// keeps the open ones.
func openIssuesQuery(project, dataset, table string) string {
	return fmt.Sprintf("SELECT issue_id, title FROM (\n"+
		"  SELECT issue_id, title, state,\n"+
		"    ROW_NUMBER() OVER (PARTITION BY issue_id ORDER BY updated_at DESC) AS rn\n"+
		"  FROM `%s.%s.%s`\n"+
		"  WHERE repo = @repo\n"+
		")\n"+
		"WHERE rn = 1 AND state = 'open'\n"+
		"ORDER BY issue_id DESC\n"+
		"LIMIT @limit", project, dataset, table)
}

// ListOpenIssues returns up to limit open issues of owner/repo from the
// catalog, newest first.
func (b *BQClient) ListOpenIssues(ctx context.Context, owner, repo string, limit int) ([]triage.Candidate, error) {
	full := owner + "/" + repo
	q := b.client.Query(openIssuesQuery(b.cfg.ProjectID, b.cfg.BQDataset, b.cfg.BQTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "repo", Value: full},
		{Name: "limit", Value: int64(limit)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query open issues of %s: %w", full, err)
	}

	var out []triage.Candidate
	for {
		var row struct {
			IssueID int64  `bigquery:"issue_id"`
			Title   string `bigquery:"title"`
		}
		switch err := it.Next(&row); err {
		case iterator.Done:
			b.logger.Debug("listed catalog issues", zap.String("repo", full), zap.Int("count", len(out)))
			return out, nil
		case nil:
			out = append(out, triage.Candidate{Number: int(row.IssueID), Title: row.Title})
		default:
			return nil, fmt.Errorf("read open issues of %s: %w", full, err)
		}
	}
}
