package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/reviewd/internal/ledger"
)

var key = ledger.Key{Repository: "acme/api", ChangeSet: "42"}

// seed initializes a repository in dir with one commit per content.
func seed(t *testing.T, dir string, contents ...string) []plumbing.Hash {
	t.Helper()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	var hashes []plumbing.Hash
	for i, c := range contents {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "VERSION"), []byte(c), 0o644))
		_, err := wt.Add("VERSION")
		require.NoError(t, err)
		h, err := wt.Commit(c, &git.CommitOptions{Author: &object.Signature{
			Name:  "reviewer",
			Email: "reviewer@example.test",
			When:  time.Unix(int64(1700000000+i), 0),
		}})
		require.NoError(t, err)
		hashes = append(hashes, h)
	}
	return hashes
}

func TestPrepare_ChecksOutExistingRevision(t *testing.T) {
	m, err := New(t.TempDir())
	require.NoError(t, err)
	dir, err := m.Dir(key)
	require.NoError(t, err)
	hashes := seed(t, dir, "v1", "v2")

	got, err := m.Prepare(context.Background(), key, hashes[0].String(), "")
	require.NoError(t, err)
	assert.Equal(t, dir, got)
	data, err := os.ReadFile(filepath.Join(dir, "VERSION"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))

	_, err = m.Prepare(context.Background(), key, hashes[1].String(), "")
	require.NoError(t, err)
	data, err = os.ReadFile(filepath.Join(dir, "VERSION"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestPrepare_UnknownRevisionWithoutRemote(t *testing.T) {
	m, err := New(t.TempDir())
	require.NoError(t, err)
	dir, err := m.Dir(key)
	require.NoError(t, err)
	seed(t, dir, "v1")

	_, err = m.Prepare(context.Background(), key, "0123456789abcdef0123456789abcdef01234567", "refs/pull/42/head")
	assert.Error(t, err)
}

func TestRelease_RemovesCheckout(t *testing.T) {
	m, err := New(t.TempDir())
	require.NoError(t, err)
	dir, err := m.Dir(key)
	require.NoError(t, err)
	seed(t, dir, "v1")

	require.NoError(t, m.Release(key))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, m.Release(key), "releasing twice is harmless")
}

func TestDir_RejectsEscapes(t *testing.T) {
	m, err := New(t.TempDir())
	require.NoError(t, err)

	for _, k := range []ledger.Key{
		{Repository: "../api", ChangeSet: "42"},
		{Repository: "acme/..", ChangeSet: "42"},
		{Repository: "acme/api", ChangeSet: ".."},
		{Repository: "api", ChangeSet: "42"},
	} {
		_, err := m.Dir(k)
		assert.Error(t, err, k.String())
	}
}

func TestNew_RequiresRoot(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
