package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fyrsmithlabs/reviewd/internal/ledger"
)

// Source returns the current ledger state of a change set.
type Source interface {
	Snapshot(ctx context.Context, key ledger.Key) (ledger.Snapshot, error)
}

// Client reads snapshots from a running reviewd HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for the API at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Snapshot implements Source.
func (c *Client) Snapshot(ctx context.Context, key ledger.Key) (ledger.Snapshot, error) {
	owner, repo, ok := strings.Cut(key.Repository, "/")
	if !ok {
		return ledger.Snapshot{}, fmt.Errorf("repository %q is not owner/name", key.Repository)
	}
	u := fmt.Sprintf("%s/api/v1/changesets/%s/%s/%s", c.baseURL,
		url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(key.ChangeSet))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return ledger.Snapshot{}, fmt.Errorf("%s: %w", key, ledger.ErrNotFound)
	default:
		return ledger.Snapshot{}, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var snap ledger.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return ledger.Snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	return snap, nil
}
