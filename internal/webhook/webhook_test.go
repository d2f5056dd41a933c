package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/AobaIwaki123/phrase-radar/internal/config"
	"github.com/AobaIwaki123/phrase-radar/internal/similarity"
	"github.com/AobaIwaki123/phrase-radar/internal/triage"
	githubapi "github.com/google/go-github/v62/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const secret = "s3cret"

type fakePlatform struct {
	mu       sync.Mutex
	issues   []triage.Candidate
	settings []byte
	listErr  error
	labels   map[int][]string
	created  []string
	comments map[int]string
}

func newFakePlatform(issues ...triage.Candidate) *fakePlatform {
	return &fakePlatform{
		issues:   issues,
		labels:   map[int][]string{},
		comments: map[int]string{},
	}
}

func (f *fakePlatform) ListOpenIssues(_ context.Context, _, _ string, limit int) ([]triage.Candidate, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if limit > 0 && len(f.issues) > limit {
		return f.issues[:limit], nil
	}
	return f.issues, nil
}

func (f *fakePlatform) RepoFile(context.Context, string, string, string) ([]byte, bool, error) {
	return f.settings, f.settings != nil, nil
}

func (f *fakePlatform) EnsureLabel(_ context.Context, _, _, name, color string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, name+":"+color)
	return nil
}

func (f *fakePlatform) AddLabel(_ context.Context, _, _ string, number int, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labels[number] = append(f.labels[number], label)
	return nil
}

func (f *fakePlatform) CreateIssueComment(_ context.Context, _, _ string, number int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments[number] = body
	return nil
}

type fakeCatalog struct {
	*fakePlatform
	recorded []int
	states   map[int]string
}

func newFakeCatalog(issues ...triage.Candidate) *fakeCatalog {
	return &fakeCatalog{fakePlatform: newFakePlatform(issues...), states: map[int]string{}}
}

func (c *fakeCatalog) RecordIssues(_ context.Context, _ string, issues ...*githubapi.Issue) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, is := range issues {
		c.recorded = append(c.recorded, is.GetNumber())
		c.states[is.GetNumber()] = is.GetState()
	}
	return nil
}

func newTestHandler(t *testing.T, gh Platform, opts ...Option) (*Handler, http.Handler) {
	t.Helper()
	cfg := config.Default()
	scanner := triage.NewScanner(similarity.NewComparer(), 2, zap.NewNop())
	h := NewHandler(&cfg, gh, scanner, secret, zap.NewNop(), opts...)
	return h, NewRouter(h, cfg.Server.Path)
}

func issuesPayload(t *testing.T, action string, number int, title string, labels ...string) []byte {
	t.Helper()
	ls := make([]map[string]string, len(labels))
	for i, l := range labels {
		ls[i] = map[string]string{"name": l}
	}
	payload := map[string]any{
		"action": action,
		"issue":  map[string]any{"number": number, "title": title, "labels": ls},
		"repository": map[string]any{
			"name":      "r",
			"full_name": "o/r",
			"owner":     map[string]any{"login": "o"},
		},
	}
	if action == "edited" {
		payload["changes"] = map[string]any{"title": map[string]string{"from": "old"}}
	}
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	return b
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func post(t *testing.T, router http.Handler, event string, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleWebhook_MarksDuplicate(t *testing.T) {
	gh := newFakePlatform(
		triage.Candidate{Number: 1, Title: "isues testin"},
		triage.Candidate{Number: 2, Title: "should not be marked at all"},
	)
	h, router := newTestHandler(t, gh)

	body := issuesPayload(t, "opened", 3, "Testing issues")
	rec := post(t, router, "issues", body, sign(body))
	require.Equal(t, http.StatusAccepted, rec.Code)
	h.Wait()

	assert.Equal(t, []string{"potential-duplicate"}, gh.labels[3])
	assert.Equal(t, []string{"potential-duplicate:cfd3d7"}, gh.created)
	assert.Equal(t, "Potential duplicates: \n- [#1] isues testin (85%) \n", gh.comments[3])
}

func TestHandleWebhook_NoDuplicate(t *testing.T) {
	gh := newFakePlatform(triage.Candidate{Number: 2, Title: "should not be marked at all"})
	h, router := newTestHandler(t, gh)

	body := issuesPayload(t, "opened", 3, "this is not a duplicate")
	rec := post(t, router, "issues", body, sign(body))
	require.Equal(t, http.StatusAccepted, rec.Code)
	h.Wait()

	assert.Empty(t, gh.labels)
	assert.Empty(t, gh.comments)
}

func TestHandleWebhook_RepoSettings(t *testing.T) {
	gh := newFakePlatform(triage.Candidate{Number: 1, Title: "isues testin"})
	gh.settings = []byte("issueLabel: false\nreferenceComment: \"dup of {{#issues}}#{{number}}{{/issues}}\"\n")
	h, router := newTestHandler(t, gh)

	body := issuesPayload(t, "opened", 3, "Testing issues")
	post(t, router, "issues", body, sign(body))
	h.Wait()

	assert.Empty(t, gh.labels)
	assert.Empty(t, gh.created)
	assert.Equal(t, "dup of #1", gh.comments[3])
}

func TestHandleWebhook_ThresholdDisabled(t *testing.T) {
	gh := newFakePlatform(triage.Candidate{Number: 1, Title: "isues testin"})
	gh.settings = []byte("threshold: false\n")
	h, router := newTestHandler(t, gh)

	body := issuesPayload(t, "opened", 3, "Testing issues")
	post(t, router, "issues", body, sign(body))
	h.Wait()

	assert.Empty(t, gh.labels)
	assert.Empty(t, gh.comments)
}

func TestHandleWebhook_InvalidSettingsFallBack(t *testing.T) {
	gh := newFakePlatform(triage.Candidate{Number: 1, Title: "isues testin"})
	gh.settings = []byte("threshold: 7\n")
	h, router := newTestHandler(t, gh)

	body := issuesPayload(t, "opened", 3, "Testing issues")
	post(t, router, "issues", body, sign(body))
	h.Wait()

	assert.Equal(t, []string{"potential-duplicate"}, gh.labels[3])
}

func TestHandleWebhook_EditedAlreadyLabeled(t *testing.T) {
	gh := newFakePlatform(triage.Candidate{Number: 1, Title: "isues testin"})
	h, router := newTestHandler(t, gh)

	body := issuesPayload(t, "edited", 3, "Testing issues", "Potential-Duplicate")
	post(t, router, "issues", body, sign(body))
	h.Wait()

	assert.Empty(t, gh.comments)
}

func TestHandleWebhook_Catalog(t *testing.T) {
	catalog := newFakeCatalog(triage.Candidate{Number: 1, Title: "isues testin"})
	gh := newFakePlatform()
	h, router := newTestHandler(t, gh, WithCatalog(catalog))

	body := issuesPayload(t, "edited", 3, "Testing issues")
	post(t, router, "issues", body, sign(body))
	h.Wait()

	assert.Equal(t, []int{3}, catalog.recorded)
	assert.Contains(t, gh.comments[3], "#1")
}

func TestHandleWebhook_ListError(t *testing.T) {
	gh := newFakePlatform()
	gh.listErr = errors.New("api down")
	h, router := newTestHandler(t, gh)

	body := issuesPayload(t, "opened", 3, "Testing issues")
	rec := post(t, router, "issues", body, sign(body))
	h.Wait()

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, gh.comments)
}

func TestHandleWebhook_Rejects(t *testing.T) {
	gh := newFakePlatform()
	h, router := newTestHandler(t, gh)
	body := issuesPayload(t, "opened", 3, "Testing issues")

	rec := post(t, router, "issues", body, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(t, router, "issues", body, "sha256=deadbeef")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	bad := []byte("{not json")
	rec = post(t, router, "issues", bad, sign(bad))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rec = httptest.NewRecorder()
	h.HandleWebhook(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleWebhook_CatalogTracksState(t *testing.T) {
	catalog := newFakeCatalog(triage.Candidate{Number: 1, Title: "isues testin"})
	gh := newFakePlatform()
	h, router := newTestHandler(t, gh, WithCatalog(catalog))

	for action, number := range map[string]int{"closed": 5, "reopened": 6, "deleted": 7} {
		body := issuesPayload(t, action, number, "Testing issues")
		rec := post(t, router, "issues", body, sign(body))
		require.Equal(t, http.StatusAccepted, rec.Code, action)
	}
	h.Wait()

	assert.ElementsMatch(t, []int{5, 6, 7}, catalog.recorded)
	assert.Equal(t, map[int]string{5: "closed", 6: "open", 7: "deleted"}, catalog.states)
	assert.Empty(t, gh.comments)
	assert.Empty(t, gh.labels)
}

func TestHandleWebhook_EmptyCatalogFallsBackToGitHub(t *testing.T) {
	catalog := newFakeCatalog()
	gh := newFakePlatform(
		triage.Candidate{Number: 1, Title: "isues testin"},
		triage.Candidate{Number: 2, Title: "should not be marked at all"},
	)
	h, router := newTestHandler(t, gh, WithCatalog(catalog))

	body := issuesPayload(t, "opened", 3, "Testing issues")
	post(t, router, "issues", body, sign(body))
	h.Wait()

	assert.Contains(t, gh.comments[3], "#1")
	assert.Equal(t, []int{1, 2, 3}, catalog.recorded)
	assert.Equal(t, "open", catalog.states[1])
}

func TestHandleWebhook_IgnoresOtherEvents(t *testing.T) {
	gh := newFakePlatform(triage.Candidate{Number: 1, Title: "isues testin"})
	h, router := newTestHandler(t, gh)

	ping := []byte(`{"zen":"Keep it logically awesome."}`)
	rec := post(t, router, "ping", ping, sign(ping))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	closed := issuesPayload(t, "closed", 3, "Testing issues")
	rec = post(t, router, "issues", closed, sign(closed))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	h.Wait()

	assert.Empty(t, gh.comments)
}

func TestHealthz(t *testing.T) {
	_, router := newTestHandler(t, newFakePlatform())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
