// Package github wraps the GitHub REST calls the bot needs: listing open
// issues, labeling, commenting and reading the repository settings file.
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/AobaIwaki123/phrase-radar/internal/triage"
	githubapi "github.com/google/go-github/v62/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// Client is a rate-limited GitHub API client.
type Client struct {
	api     *githubapi.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient authenticates with a personal access token.
func NewClient(ctx context.Context, token, baseURL string, rps float64, logger *zap.Logger) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("github token is empty")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return New(oauth2.NewClient(ctx, ts), baseURL, rps, logger)
}

// New wraps an already authenticated HTTP client. baseURL may be empty for
// api.github.com.
func New(httpClient *http.Client, baseURL string, rps float64, logger *zap.Logger) (*Client, error) {
	api := githubapi.NewClient(httpClient)
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}
		api.BaseURL = u
	}
	return &Client{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger,
	}, nil
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("github rate limiter: %w", err)
	}
	return nil
}

func isNotFound(resp *githubapi.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusNotFound
}

// ListOpenIssues returns up to limit open issues of owner/repo, or all of
// them when limit is not positive. Pull requests are skipped.
func (c *Client) ListOpenIssues(ctx context.Context, owner, repo string, limit int) ([]triage.Candidate, error) {
	opts := &githubapi.IssueListByRepoOptions{
		State:       "open",
		ListOptions: githubapi.ListOptions{PerPage: 100},
	}

	var out []triage.Candidate
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		issues, resp, err := c.api.Issues.ListByRepo(ctx, owner, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("list issues %s/%s: %w", owner, repo, err)
		}
		for _, is := range issues {
			if is.IsPullRequest() {
				continue
			}
			out = append(out, triage.Candidate{Number: is.GetNumber(), Title: is.GetTitle()})
			if limit > 0 && len(out) >= limit {
				c.logger.Debug("candidate limit reached", zap.String("repo", owner+"/"+repo), zap.Int("limit", limit))
				return out, nil
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	c.logger.Debug("listed open issues", zap.String("repo", owner+"/"+repo), zap.Int("count", len(out)))
	return out, nil
}

// EnsureLabel creates the label if the repository does not have it yet. An
// empty color lets GitHub pick one.
func (c *Client) EnsureLabel(ctx context.Context, owner, repo, name, color string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, resp, err := c.api.Issues.GetLabel(ctx, owner, repo, name)
	if err == nil {
		return nil
	}
	if !isNotFound(resp) {
		return fmt.Errorf("get label %q: %w", name, err)
	}

	label := &githubapi.Label{Name: githubapi.String(name)}
	if color != "" {
		label.Color = githubapi.String(strings.TrimPrefix(color, "#"))
	}
	if err := c.wait(ctx); err != nil {
		return err
	}
	if _, _, err := c.api.Issues.CreateLabel(ctx, owner, repo, label); err != nil {
		return fmt.Errorf("create label %q: %w", name, err)
	}
	c.logger.Info("created label", zap.String("repo", owner+"/"+repo), zap.String("label", name))
	return nil
}

// AddLabel attaches an existing label to an issue.
func (c *Client) AddLabel(ctx context.Context, owner, repo string, number int, label string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	if _, _, err := c.api.Issues.AddLabelsToIssue(ctx, owner, repo, number, []string{label}); err != nil {
		return fmt.Errorf("label issue #%d: %w", number, err)
	}
	return nil
}

// CreateIssueComment posts body as a comment on an issue.
func (c *Client) CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	comment := &githubapi.IssueComment{Body: githubapi.String(body)}
	if _, _, err := c.api.Issues.CreateComment(ctx, owner, repo, number, comment); err != nil {
		return fmt.Errorf("comment on issue #%d: %w", number, err)
	}
	return nil
}

// RepoFile returns the content of path on the default branch. found is false
// when the file does not exist.
func (c *Client) RepoFile(ctx context.Context, owner, repo, path string) (data []byte, found bool, err error) {
	if err := c.wait(ctx); err != nil {
		return nil, false, err
	}
	file, _, resp, err := c.api.Repositories.GetContents(ctx, owner, repo, path, nil)
	if isNotFound(resp) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", path, err)
	}
	if file == nil {
		return nil, false, fmt.Errorf("get %s: path is a directory", path)
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", path, err)
	}
	return []byte(content), true, nil
}
