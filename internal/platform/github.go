// Package platform reports review state to the code hosting platform:
// check runs, the status comment edited in place, progress notes and
// verdict labels.
package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/reviewd/internal/checks"
	"github.com/fyrsmithlabs/reviewd/internal/config"
	"github.com/fyrsmithlabs/reviewd/internal/ledger"
	"github.com/fyrsmithlabs/reviewd/internal/logging"
)

// Default verdict labels.
const (
	DefaultDraftLabel = "review:draft"
	DefaultReadyLabel = "review:ready"
)

// ErrInvalidChangeSet means the ledger key does not name a pull request.
var ErrInvalidChangeSet = errors.New("change set is not a pull request reference")

// NewGitHubClient creates an authenticated GitHub client. baseURL selects
// a GitHub Enterprise API endpoint when set.
func NewGitHubClient(ctx context.Context, token config.Secret, baseURL string) (*github.Client, error) {
	if !token.IsSet() {
		return nil, fmt.Errorf("GitHub token not set")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
	client := github.NewClient(oauth2.NewClient(ctx, ts))
	if baseURL == "" {
		return client, nil
	}
	return client.WithEnterpriseURLs(baseURL, baseURL)
}

// GitHub reports to GitHub pull requests. It implements checks.Publisher.
type GitHub struct {
	client     *github.Client
	retry      RetryConfig
	logger     *logging.Logger
	draftLabel string
	readyLabel string
}

// Option configures GitHub.
type Option func(*GitHub)

// WithRetry overrides the retry configuration.
func WithRetry(cfg RetryConfig) Option {
	return func(g *GitHub) { g.retry = cfg }
}

// WithLabels overrides the verdict labels.
func WithLabels(draft, ready string) Option {
	return func(g *GitHub) {
		if draft != "" {
			g.draftLabel = draft
		}
		if ready != "" {
			g.readyLabel = ready
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(g *GitHub) { g.logger = l }
}

// NewGitHub wraps client.
func NewGitHub(client *github.Client, opts ...Option) *GitHub {
	g := &GitHub{
		client:     client,
		retry:      *DefaultRetryConfig(),
		logger:     logging.NewNop(),
		draftLabel: DefaultDraftLabel,
		readyLabel: DefaultReadyLabel,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// PullRequest splits a ledger key into owner, repo and number.
func PullRequest(key ledger.Key) (owner, repo string, number int, err error) {
	owner, repo, ok := strings.Cut(key.Repository, "/")
	if !ok || owner == "" || repo == "" {
		return "", "", 0, fmt.Errorf("%w: %s", ErrInvalidChangeSet, key)
	}
	number, err = strconv.Atoi(key.ChangeSet)
	if err != nil || number <= 0 {
		return "", "", 0, fmt.Errorf("%w: %s", ErrInvalidChangeSet, key)
	}
	return owner, repo, number, nil
}

func (g *GitHub) call(ctx context.Context, op string, fn func() (*github.Response, error)) (*github.Response, error) {
	resp, err := withRetry(ctx, g.retry, g.logger, op, fn)
	result := "ok"
	if err != nil {
		result = "error"
	}
	GitHubCalls.WithLabelValues(op, result).Inc()
	return resp, err
}

// PublishCheck creates a completed check run on the signal's revision.
func (g *GitHub) PublishCheck(ctx context.Context, key ledger.Key, sig checks.Signal) error {
	owner, repo, _, err := PullRequest(key)
	if err != nil {
		return err
	}
	title := fmt.Sprintf("%s: %s", sig.Gate, sig.Conclusion)
	opts := github.CreateCheckRunOptions{
		Name:        sig.Name,
		HeadSHA:     sig.Revision,
		Status:      github.String("completed"),
		Conclusion:  github.String(string(sig.Conclusion)),
		CompletedAt: &github.Timestamp{Time: time.Now()},
		Output: &github.CheckRunOutput{
			Title:   github.String(title),
			Summary: github.String(sig.Summary),
		},
	}
	_, err = g.call(ctx, "create_check_run", func() (*github.Response, error) {
		_, resp, err := g.client.Checks.CreateCheckRun(ctx, owner, repo, opts)
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("failed to create check run %s: %w", sig.Name, err)
	}
	return nil
}

// UpsertStatus edits the status comment in place, creating it on first
// use. It returns the comment URL.
func (g *GitHub) UpsertStatus(ctx context.Context, snap ledger.Snapshot) (string, error) {
	owner, repo, number, err := PullRequest(snap.Key)
	if err != nil {
		return "", err
	}
	body := RenderStatus(snap)

	existing, err := g.findComment(ctx, owner, repo, number, StatusMarker)
	if err != nil {
		return "", err
	}

	var out *github.IssueComment
	if existing != nil {
		if existing.GetBody() == body {
			return existing.GetHTMLURL(), nil
		}
		_, err = g.call(ctx, "edit_comment", func() (*github.Response, error) {
			c, resp, err := g.client.Issues.EditComment(ctx, owner, repo, existing.GetID(), &github.IssueComment{Body: &body})
			out = c
			return resp, err
		})
		if err != nil {
			return "", fmt.Errorf("failed to update status comment: %w", err)
		}
	} else {
		_, err = g.call(ctx, "create_comment", func() (*github.Response, error) {
			c, resp, err := g.client.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{Body: &body})
			out = c
			return resp, err
		})
		if err != nil {
			return "", fmt.Errorf("failed to create status comment: %w", err)
		}
	}
	return out.GetHTMLURL(), nil
}

func (g *GitHub) findComment(ctx context.Context, owner, repo string, number int, marker string) (*github.IssueComment, error) {
	opts := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		var page []*github.IssueComment
		resp, err := g.call(ctx, "list_comments", func() (*github.Response, error) {
			c, resp, err := g.client.Issues.ListComments(ctx, owner, repo, number, opts)
			page = c
			return resp, err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list comments: %w", err)
		}
		for _, c := range page {
			if strings.Contains(c.GetBody(), marker) {
				return c, nil
			}
		}
		if resp == nil || resp.NextPage == 0 {
			return nil, nil
		}
		opts.Page = resp.NextPage
	}
}

// PostProgress appends a progress note.
func (g *GitHub) PostProgress(ctx context.Context, key ledger.Key, note string) error {
	owner, repo, number, err := PullRequest(key)
	if err != nil {
		return err
	}
	_, err = g.call(ctx, "create_comment", func() (*github.Response, error) {
		_, resp, err := g.client.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{Body: &note})
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("failed to post progress note: %w", err)
	}
	return nil
}

// SetVerdictLabels applies the ready label and removes the draft label
// when ready, and the reverse otherwise.
func (g *GitHub) SetVerdictLabels(ctx context.Context, key ledger.Key, ready bool) error {
	owner, repo, number, err := PullRequest(key)
	if err != nil {
		return err
	}
	add, remove := g.draftLabel, g.readyLabel
	if ready {
		add, remove = g.readyLabel, g.draftLabel
	}

	_, err = g.call(ctx, "add_labels", func() (*github.Response, error) {
		_, resp, err := g.client.Issues.AddLabelsToIssue(ctx, owner, repo, number, []string{add})
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("failed to add label %s: %w", add, err)
	}

	resp, err := g.call(ctx, "remove_label", func() (*github.Response, error) {
		return g.client.Issues.RemoveLabelForIssue(ctx, owner, repo, number, remove)
	})
	if err != nil && statusCode(resp) != http.StatusNotFound {
		return fmt.Errorf("failed to remove label %s: %w", remove, err)
	}
	return nil
}
