package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/reviewd/internal/checks"
	"github.com/fyrsmithlabs/reviewd/internal/ledger"
)

var key = ledger.Key{Repository: "acme/api", ChangeSet: "42"}

var fastRetry = RetryConfig{
	MaxRetries:        3,
	InitialBackoff:    time.Millisecond,
	MaxBackoff:        5 * time.Millisecond,
	BackoffMultiplier: 2,
}

type fakeGitHub struct {
	mu       sync.Mutex
	requests []string
	bodies   map[string][]string
}

func newFakeGitHub(t *testing.T, mux *http.ServeMux) (*GitHub, *fakeGitHub) {
	t.Helper()
	fake := &fakeGitHub{bodies: make(map[string][]string)}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fake.mu.Lock()
		route := r.Method + " " + r.URL.Path
		fake.requests = append(fake.requests, route)
		fake.bodies[route] = append(fake.bodies[route], string(body))
		fake.mu.Unlock()
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	client := github.NewClient(nil)
	u, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	client.BaseURL = u
	return NewGitHub(client, WithRetry(fastRetry)), fake
}

func (f *fakeGitHub) count(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r == route {
			n++
		}
	}
	return n
}

func (f *fakeGitHub) body(t *testing.T, route string, i int, v any) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Greater(t, len(f.bodies[route]), i, "no request %d for %s", i, route)
	require.NoError(t, json.Unmarshal([]byte(f.bodies[route][i]), v))
}

func TestPullRequest(t *testing.T) {
	owner, repo, n, err := PullRequest(key)
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "api", repo)
	assert.Equal(t, 42, n)

	for _, bad := range []ledger.Key{
		{Repository: "acme", ChangeSet: "1"},
		{Repository: "acme/api", ChangeSet: "feature-x"},
		{Repository: "acme/api", ChangeSet: "0"},
		{Repository: "/api", ChangeSet: "1"},
	} {
		_, _, _, err := PullRequest(bad)
		assert.ErrorIs(t, err, ErrInvalidChangeSet, bad.String())
	}
}

func TestPublishCheck(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/acme/api/check-runs", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": 1}`)
	})
	gh, fake := newFakeGitHub(t, mux)

	err := gh.PublishCheck(context.Background(), key, checks.Signal{
		Name:       "reviewd:gate:build",
		Gate:       "build",
		Conclusion: checks.ConclusionFailure,
		Summary:    "undefined: foo",
		Revision:   "abc123",
	})
	require.NoError(t, err)

	var got map[string]any
	fake.body(t, "POST /repos/acme/api/check-runs", 0, &got)
	assert.Equal(t, "reviewd:gate:build", got["name"])
	assert.Equal(t, "abc123", got["head_sha"])
	assert.Equal(t, "completed", got["status"])
	assert.Equal(t, "failure", got["conclusion"])
	output := got["output"].(map[string]any)
	assert.Equal(t, "undefined: foo", output["summary"])
}

func TestPublishCheck_RetriesServerErrors(t *testing.T) {
	var calls int
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/acme/api/check-runs", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, `{"message": "bad gateway"}`)
			return
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": 1}`)
	})
	gh, _ := newFakeGitHub(t, mux)

	err := gh.PublishCheck(context.Background(), key, checks.Signal{Name: "reviewd:gate:lint", Gate: "lint", Conclusion: checks.ConclusionSuccess, Revision: "abc"})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPublishCheck_DoesNotRetryValidationErrors(t *testing.T) {
	var calls int
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/acme/api/check-runs", func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"message": "head_sha is invalid"}`)
	})
	gh, _ := newFakeGitHub(t, mux)

	err := gh.PublishCheck(context.Background(), key, checks.Signal{Name: "reviewd:gate:lint", Gate: "lint", Conclusion: checks.ConclusionSuccess})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestUpsertStatus_CreatesThenEdits(t *testing.T) {
	var mu sync.Mutex
	var stored string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/api/issues/42/comments", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if stored == "" {
			fmt.Fprint(w, `[{"id": 1, "body": "LGTM"}]`)
			return
		}
		out, _ := json.Marshal([]map[string]any{{"id": 1, "body": "LGTM"}, {"id": 7, "body": stored}})
		_, _ = w.Write(out)
	})
	mux.HandleFunc("POST /repos/acme/api/issues/42/comments", func(w http.ResponseWriter, r *http.Request) {
		var c struct{ Body string }
		_ = json.NewDecoder(r.Body).Decode(&c)
		mu.Lock()
		stored = c.Body
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": 7, "html_url": "https://github.test/acme/api/pull/42#issuecomment-7"}`)
	})
	mux.HandleFunc("PATCH /repos/acme/api/issues/comments/7", func(w http.ResponseWriter, r *http.Request) {
		var c struct{ Body string }
		_ = json.NewDecoder(r.Body).Decode(&c)
		mu.Lock()
		stored = c.Body
		mu.Unlock()
		fmt.Fprint(w, `{"id": 7, "html_url": "https://github.test/acme/api/pull/42#issuecomment-7"}`)
	})
	gh, fake := newFakeGitHub(t, mux)

	snap := ledger.Snapshot{
		Key:      key,
		Revision: "abc123",
		Gates:    []ledger.Gate{{Name: "build", Required: true, Status: ledger.StatusRunning, MaxAttempts: 2}},
	}
	u, err := gh.UpsertStatus(context.Background(), snap)
	require.NoError(t, err)
	assert.Contains(t, u, "issuecomment-7")

	snap.Gates[0].Status = ledger.StatusPass
	snap.Gates[0].Attempts = 1
	_, err = gh.UpsertStatus(context.Background(), snap)
	require.NoError(t, err)

	_, err = gh.UpsertStatus(context.Background(), snap)
	require.NoError(t, err)

	assert.Equal(t, 1, fake.count("POST /repos/acme/api/issues/42/comments"), "one status comment per change set")
	assert.Equal(t, 1, fake.count("PATCH /repos/acme/api/issues/comments/7"), "unchanged body is not re-sent")
	mu.Lock()
	assert.Contains(t, stored, "✅ pass")
	mu.Unlock()
}

func TestUpsertStatus_Paginates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/api/issues/42/comments", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprintf(w, `[{"id": 9, "body": %q}]`, StatusMarker+"\nold")
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<http://%s/repos/acme/api/issues/42/comments?page=2>; rel="next"`, r.Host))
		fmt.Fprint(w, `[{"id": 1, "body": "first"}]`)
	})
	mux.HandleFunc("PATCH /repos/acme/api/issues/comments/9", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": 9}`)
	})
	gh, fake := newFakeGitHub(t, mux)

	_, err := gh.UpsertStatus(context.Background(), ledger.Snapshot{Key: key})
	require.NoError(t, err)
	assert.Equal(t, 2, fake.count("GET /repos/acme/api/issues/42/comments"))
	assert.Equal(t, 1, fake.count("PATCH /repos/acme/api/issues/comments/9"))
}

func TestPostProgress_Appends(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/acme/api/issues/42/comments", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": 3}`)
	})
	gh, fake := newFakeGitHub(t, mux)

	require.NoError(t, gh.PostProgress(context.Background(), key, "run 1"))
	require.NoError(t, gh.PostProgress(context.Background(), key, "run 2"))
	assert.Equal(t, 2, fake.count("POST /repos/acme/api/issues/42/comments"))
}

func TestSetVerdictLabels(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/acme/api/issues/42/labels", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	mux.HandleFunc("DELETE /repos/acme/api/issues/42/labels/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Label does not exist"}`)
	})
	gh, fake := newFakeGitHub(t, mux)

	require.NoError(t, gh.SetVerdictLabels(context.Background(), key, true), "removing an absent label is fine")

	var labels []string
	fake.body(t, "POST /repos/acme/api/issues/42/labels", 0, &labels)
	assert.Equal(t, []string{DefaultReadyLabel}, labels)

	require.NoError(t, gh.SetVerdictLabels(context.Background(), key, false))
	fake.body(t, "POST /repos/acme/api/issues/42/labels", 1, &labels)
	assert.Equal(t, []string{DefaultDraftLabel}, labels)
}

func TestIsRetryable(t *testing.T) {
	resp := func(code int, limit int) *github.Response {
		return &github.Response{Response: &http.Response{StatusCode: code}, Rate: github.Rate{Limit: limit}}
	}
	err := fmt.Errorf("boom")
	assert.True(t, isRetryable(err, nil))
	assert.True(t, isRetryable(err, resp(http.StatusTooManyRequests, 0)))
	assert.True(t, isRetryable(err, resp(http.StatusServiceUnavailable, 0)))
	assert.True(t, isRetryable(err, resp(http.StatusForbidden, 5000)))
	assert.False(t, isRetryable(err, resp(http.StatusForbidden, 0)))
	assert.False(t, isRetryable(err, resp(http.StatusNotFound, 0)))
	assert.False(t, isRetryable(nil, resp(http.StatusBadGateway, 0)))
}

func TestRetryConfig_ApplyDefaults(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 5}
	cfg.ApplyDefaults()
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.InitialBackoff)
	assert.Equal(t, 30*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 2.0, cfg.BackoffMultiplier)
}
