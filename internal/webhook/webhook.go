// Package webhook provides functionality to handle GitHub webhooks
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/AobaIwaki123/phrase-radar/internal/config"
	"github.com/AobaIwaki123/phrase-radar/internal/triage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	githubapi "github.com/google/go-github/v62/github"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxPayloadSize = 5 * 1024 * 1024 // 5MB
	processTimeout = 2 * time.Minute
)

// catalogStates is the catalog state recorded for lifecycle actions.
var catalogStates = map[string]string{
	"closed":   "closed",
	"reopened": "open",
	"deleted":  "deleted",
}

// IssueSource lists the open issues a new issue is compared against.
type IssueSource interface {
	ListOpenIssues(ctx context.Context, owner, repo string, limit int) ([]triage.Candidate, error)
}

// IssueRecorder stores the latest state of issues.
type IssueRecorder interface {
	RecordIssues(ctx context.Context, repo string, issues ...*githubapi.Issue) error
}

// Platform is the subset of the GitHub API the handler acts through.
type Platform interface {
	IssueSource
	RepoFile(ctx context.Context, owner, repo, path string) ([]byte, bool, error)
	EnsureLabel(ctx context.Context, owner, repo, name, color string) error
	AddLabel(ctx context.Context, owner, repo string, number int, label string) error
	CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) error
}

// Handler handles GitHub webhooks
type Handler struct {
	config     *config.Config
	gh         Platform
	source     IssueSource
	recorder   IssueRecorder
	scanner    *triage.Scanner
	signingKey []byte
	logger     *zap.Logger
	inflight   sync.WaitGroup
}

// Option customizes a Handler.
type Option func(*Handler)

// WithCatalog lists candidates from catalog instead of the GitHub API and
// records every issue event in it. An empty catalog is filled from the GitHub
// API on the first event of a repository.
func WithCatalog(catalog interface {
	IssueSource
	IssueRecorder
}) Option {
	return func(h *Handler) {
		h.source = catalog
		h.recorder = catalog
	}
}

// NewHandler creates a new webhook handler
func NewHandler(cfg *config.Config, gh Platform, scanner *triage.Scanner, secret string, logger *zap.Logger, opts ...Option) *Handler {
	h := &Handler{
		config:     cfg,
		gh:         gh,
		source:     gh,
		scanner:    scanner,
		signingKey: []byte(secret),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewRouter mounts the webhook on path and adds a health check.
func NewRouter(h *Handler, path string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Post(path, h.HandleWebhook)
	return r
}

// Wait blocks until every issue accepted so far has been processed.
func (h *Handler) Wait() {
	h.inflight.Wait()
}

// HandleWebhook processes GitHub webhook requests
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	delivery := r.Header.Get("X-GitHub-Delivery")
	if delivery == "" {
		delivery = uuid.NewString()
	}
	logger := h.logger.With(zap.String("delivery", delivery))
	logger.Debug("received webhook request", zap.String("remote", r.RemoteAddr), zap.String("method", r.Method))

	if r.Method != http.MethodPost {
		logger.Error("received non-POST request", zap.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadSize))
	if err != nil {
		logger.Error("failed to read request body", zap.Error(err))
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	sig := strings.TrimPrefix(r.Header.Get("X-Hub-Signature-256"), "sha256=")
	if sig == "" {
		logger.Error("missing X-Hub-Signature-256 header")
		http.Error(w, "Missing signature", http.StatusUnauthorized)
		return
	}
	if !h.validSignature(payload, sig) {
		logger.Error("invalid webhook signature")
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	eventType := githubapi.WebHookType(r)
	event, err := githubapi.ParseWebHook(eventType, payload)
	if err != nil {
		logger.Error("failed to parse webhook payload", zap.String("event", eventType), zap.Error(err))
		http.Error(w, "Failed to parse webhook payload", http.StatusBadRequest)
		return
	}

	evt, ok := event.(*githubapi.IssuesEvent)
	if !ok {
		logger.Debug("ignoring event", zap.String("event", eventType))
		w.WriteHeader(http.StatusAccepted)
		return
	}

	switch action := evt.GetAction(); action {
	case "opened", "edited":
		if action == "edited" && evt.GetChanges().GetTitle() == nil {
			logger.Debug("ignoring edit without title change", zap.Int("issue", evt.GetIssue().GetNumber()))
			break
		}
		logger.Info("processing issue",
			zap.String("action", action),
			zap.String("repo", evt.GetRepo().GetFullName()),
			zap.Int("issue", evt.GetIssue().GetNumber()))

		h.process(func(ctx context.Context) { h.handleIssue(ctx, logger, evt) })
	case "closed", "reopened", "deleted":
		// Only the catalog cares; nothing is compared.
		if h.recorder == nil {
			logger.Debug("ignoring issues action", zap.String("action", action))
			break
		}
		issue := evt.GetIssue()
		if issue == nil {
			break
		}
		snapshot := *issue
		snapshot.State = githubapi.String(catalogStates[action])
		issue = &snapshot
		repoFull := evt.GetRepo().GetFullName()
		h.process(func(ctx context.Context) {
			h.record(ctx, logger.With(zap.String("repo", repoFull), zap.Int("issue", issue.GetNumber())), repoFull, issue)
		})
	default:
		logger.Debug("ignoring issues action", zap.String("action", action))
	}

	w.WriteHeader(http.StatusAccepted)
}

// process runs fn in the background. The request context ends with the
// response.
func (h *Handler) process(fn func(ctx context.Context)) {
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (h *Handler) record(ctx context.Context, logger *zap.Logger, repoFull string, issues ...*githubapi.Issue) {
	if err := h.recorder.RecordIssues(ctx, repoFull, issues...); err != nil {
		logger.Error("failed to record issues", zap.Int("count", len(issues)), zap.Error(err))
	}
}

// candidates lists the open issues to compare against. When the catalog has
// nothing for the repository yet, the GitHub API is used and its result is
// written to the catalog.
func (h *Handler) candidates(ctx context.Context, logger *zap.Logger, owner, repo string) ([]triage.Candidate, error) {
	limit := h.config.GitHub.MaxCandidates
	cands, err := h.source.ListOpenIssues(ctx, owner, repo, limit)
	if err != nil || len(cands) > 0 || h.recorder == nil {
		return cands, err
	}

	logger.Info("issue catalog is empty, listing open issues from GitHub")
	cands, err = h.gh.ListOpenIssues(ctx, owner, repo, limit)
	if err != nil {
		return nil, err
	}
	backfill := make([]*githubapi.Issue, len(cands))
	for i, c := range cands {
		backfill[i] = &githubapi.Issue{
			Number: githubapi.Int(c.Number),
			Title:  githubapi.String(c.Title),
			State:  githubapi.String("open"),
		}
	}
	h.record(ctx, logger, owner+"/"+repo, backfill...)
	return cands, nil
}

func (h *Handler) validSignature(payload []byte, sig string) bool {
	mac := hmac.New(sha256.New, h.signingKey)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(sig), []byte(expected))
}

// repoConfig loads the repository settings, falling back to defaults when the
// file is missing or invalid.
func (h *Handler) repoConfig(ctx context.Context, logger *zap.Logger, owner, repo string) config.RepoConfig {
	defaults := config.DefaultRepoConfig(h.config.GitHub.Similarity)
	data, found, err := h.gh.RepoFile(ctx, owner, repo, h.config.GitHub.RepoConfigPath)
	if err != nil {
		logger.Warn("failed to read repository settings, using defaults", zap.Error(err))
		return defaults
	}
	if !found {
		return defaults
	}
	rc, err := config.ParseRepoConfig(data, defaults)
	if err != nil {
		logger.Warn("invalid repository settings, using defaults",
			zap.String("path", h.config.GitHub.RepoConfigPath), zap.Error(err))
		return defaults
	}
	return rc
}

// handleIssue compares a new or retitled issue with the open issues of its
// repository and marks it when duplicates are found.
func (h *Handler) handleIssue(ctx context.Context, logger *zap.Logger, evt *githubapi.IssuesEvent) {
	owner := evt.GetRepo().GetOwner().GetLogin()
	repo := evt.GetRepo().GetName()
	repoFull := evt.GetRepo().GetFullName()
	issue := evt.GetIssue()
	number := issue.GetNumber()
	logger = logger.With(zap.String("repo", repoFull), zap.Int("issue", number))

	if h.recorder != nil {
		defer h.record(ctx, logger, repoFull, issue)
	}

	rc := h.repoConfig(ctx, logger, owner, repo)
	policy, err := triage.NewPolicy(rc)
	if err != nil {
		logger.Error("failed to build policy", zap.Error(err))
		return
	}
	if !policy.Enabled() {
		logger.Debug("duplicate detection disabled for repository")
		return
	}

	if rc.IssueLabel.Enabled() && hasLabel(issue, rc.IssueLabel.Value) {
		logger.Debug("issue already labeled", zap.String("label", rc.IssueLabel.Value))
		return
	}

	candidates, err := h.candidates(ctx, logger, owner, repo)
	if err != nil {
		logger.Error("failed to list open issues", zap.Error(err))
		return
	}

	subject := triage.Candidate{Number: number, Title: issue.GetTitle()}
	matches, err := h.scanner.Scan(ctx, policy, subject, candidates)
	if err != nil {
		logger.Error("failed to compare issues", zap.Error(err))
		return
	}
	if len(matches) == 0 {
		logger.Debug("no duplicates above threshold",
			zap.Int("candidates", len(candidates)), zap.Float64("threshold", policy.Threshold()))
		return
	}
	for _, m := range matches {
		logger.Info("possible duplicate", zap.Int("of", m.Number), zap.Float64("score", m.Score))
	}

	if rc.IssueLabel.Enabled() {
		color := ""
		if rc.LabelColor.Enabled() {
			color = rc.LabelColor.Value
		}
		if err := h.gh.EnsureLabel(ctx, owner, repo, rc.IssueLabel.Value, color); err != nil {
			logger.Error("failed to ensure label", zap.Error(err))
		} else if err := h.gh.AddLabel(ctx, owner, repo, number, rc.IssueLabel.Value); err != nil {
			logger.Error("failed to label issue", zap.Error(err))
		}
	}

	body, err := policy.RenderComment(matches)
	if err != nil {
		logger.Error("failed to render comment", zap.Error(err))
		return
	}
	if body == "" {
		return
	}
	if err := h.gh.CreateIssueComment(ctx, owner, repo, number, body); err != nil {
		logger.Error("failed to create comment", zap.Error(err))
		return
	}
	logger.Debug("posted reference comment")
}

func hasLabel(issue *githubapi.Issue, name string) bool {
	for _, l := range issue.Labels {
		if strings.EqualFold(l.GetName(), name) {
			return true
		}
	}
	return false
}
