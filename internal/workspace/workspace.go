// Package workspace keeps one git checkout per change set so command
// workers run against the revision under review.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reviewd/internal/config"
	"github.com/fyrsmithlabs/reviewd/internal/ledger"
	"github.com/fyrsmithlabs/reviewd/internal/logging"
)

// DefaultRemote maps a repository name to its GitHub clone URL.
func DefaultRemote(repository string) string {
	return "https://github.com/" + repository + ".git"
}

// Option configures a Manager.
type Option func(*Manager)

// WithToken authenticates clone and fetch with a platform token.
func WithToken(token config.Secret) Option {
	return func(m *Manager) {
		if token.IsSet() {
			m.auth = &githttp.BasicAuth{Username: "x-access-token", Password: token.Value()}
		}
	}
}

// WithRemote overrides DefaultRemote.
func WithRemote(remote func(repository string) string) Option {
	return func(m *Manager) { m.remote = remote }
}

// WithLogger sets the manager logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager owns checkouts under a root directory, one per change set.
type Manager struct {
	root   string
	remote func(string) string
	auth   transport.AuthMethod
	logger *logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Manager rooted at root, creating it if needed.
func New(root string, opts ...Option) (*Manager, error) {
	if root == "" {
		return nil, errors.New("workspace: root is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("workspace: creating root: %w", err)
	}
	m := &Manager{
		root:   root,
		remote: DefaultRemote,
		logger: logging.NewNop(),
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Dir returns the checkout directory of key.
func (m *Manager) Dir(key ledger.Key) (string, error) {
	cs := logging.ChangeSet{Repository: key.Repository, ID: key.ChangeSet}
	if err := cs.Validate(); err != nil {
		return "", fmt.Errorf("workspace: %w", err)
	}
	owner, name, _ := strings.Cut(key.Repository, "/")
	for _, part := range []string{owner, name, key.ChangeSet} {
		if part == "." || part == ".." {
			return "", fmt.Errorf("workspace: invalid path element %q in %s", part, key)
		}
	}
	return filepath.Join(m.root, owner, name, key.ChangeSet), nil
}

func (m *Manager) lock(dir string) func() {
	m.mu.Lock()
	l, ok := m.locks[dir]
	if !ok {
		l = &sync.Mutex{}
		m.locks[dir] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Prepare checks out revision in the change set's directory, cloning or
// fetching ref first when the revision is not yet present.
func (m *Manager) Prepare(ctx context.Context, key ledger.Key, revision, ref string) (string, error) {
	dir, err := m.Dir(key)
	if err != nil {
		return "", err
	}
	defer m.lock(dir)()

	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		url := m.remote(key.Repository)
		m.logger.Debug(ctx, "cloning change set", zap.String("url", url), zap.String("dir", dir))
		repo, err = git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
			URL:        url,
			Auth:       m.auth,
			NoCheckout: true,
		})
	}
	if err != nil {
		return "", fmt.Errorf("opening checkout for %s: %w", key, err)
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		if ferr := m.fetch(ctx, repo, ref); ferr != nil {
			return "", fmt.Errorf("fetching %s for %s: %w", ref, key, ferr)
		}
		if hash, err = repo.ResolveRevision(plumbing.Revision(revision)); err != nil {
			return "", fmt.Errorf("resolving %s in %s: %w", revision, key, err)
		}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", err
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: *hash, Force: true}); err != nil {
		return "", fmt.Errorf("checking out %s: %w", hash, err)
	}
	m.logger.Debug(ctx, "checkout ready", zap.String("dir", dir), zap.String("revision", hash.String()))
	return dir, nil
}

func (m *Manager) fetch(ctx context.Context, repo *git.Repository, ref string) error {
	specs := []gitconfig.RefSpec{"+refs/heads/*:refs/remotes/origin/*"}
	if ref != "" && !plumbing.IsHash(ref) {
		if !strings.HasPrefix(ref, "refs/") {
			ref = "refs/heads/" + ref
		}
		specs = append(specs, gitconfig.RefSpec("+"+ref+":"+ref))
	}
	err := repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: git.DefaultRemoteName,
		RefSpecs:   specs,
		Auth:       m.auth,
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	return err
}

// Release removes the change set's checkout.
func (m *Manager) Release(key ledger.Key) error {
	dir, err := m.Dir(key)
	if err != nil {
		return err
	}
	defer m.lock(dir)()
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing checkout %s: %w", dir, err)
	}
	return nil
}
