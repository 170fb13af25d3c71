package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPolicy = `
schema_version: 1
defaults:
  max_attempts: 1
  timeout_seconds: 30
gates:
  - name: build
  - name: tests
    prerequisites: [build]
  - name: lint
    required: false
workers:
  build:
    command: ["sh", "-c", "echo built"]
  tests:
    command: ["sh", "-c", "%s"]
  lint:
    command: ["sh", "-c", "exit 0"]
`

// setup isolates config loading in a temporary home and points the
// policy at a file whose tests worker runs script.
func setup(t *testing.T, script string) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)

	policy := filepath.Join(home, "policy.yaml")
	require.NoError(t, os.WriteFile(policy, []byte(fmt.Sprintf(testPolicy, script)), 0o600))
	t.Setenv("REVIEWD_ORCHESTRATOR_POLICY_FILE", policy)
	t.Setenv("REVIEWD_OBSERVABILITY_LOG_LEVEL", "error")
	configPath = ""
	return home
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:    dev")
}

func TestGatesCommand(t *testing.T) {
	setup(t, "exit 0")

	out, err := execute(t, "gates", "--tier", "pr_fast")
	require.NoError(t, err)
	assert.Contains(t, out, "GATE")
	assert.Contains(t, out, "build")
	assert.Contains(t, out, "tests")
	assert.Contains(t, out, "lint")

	_, err = execute(t, "gates", "--tier", "weekly")
	assert.Error(t, err)
}

func TestRunCommand_Ready(t *testing.T) {
	setup(t, "exit 0")

	out, err := execute(t, "run", "--repo", "acme/api", "--changeset", "42", "--revision", "abc123")
	require.NoError(t, err, out)
	assert.Contains(t, out, "acme/api#42 @ abc123: ready")
}

func TestRunCommand_BlockedExitsTwo(t *testing.T) {
	setup(t, "echo 'FAIL TestRetry'; exit 1")

	out, err := execute(t, "run", "--repo", "acme/api", "--changeset", "42", "--revision", "abc123", "--json")
	require.Error(t, err)
	assert.Equal(t, exitBlocked, exitCode(err))
	assert.Contains(t, out, `"status": "blocked"`)
}

func TestRunCommand_BaselineReportsRegression(t *testing.T) {
	home := setup(t, "exit 0")
	saved := filepath.Join(home, "receipts", "abc123.json")

	_, err := execute(t, "run", "--repo", "acme/api", "--changeset", "42", "--revision", "abc123", "--save", saved)
	require.NoError(t, err)
	require.FileExists(t, saved)

	setup(t, "echo 'FAIL TestRetry'; exit 1")
	out, err := execute(t, "run", "--repo", "acme/api", "--changeset", "42", "--revision", "def456", "--baseline", saved)
	require.Error(t, err)
	assert.Equal(t, exitBlocked, exitCode(err))
	assert.Contains(t, out, "compared with abc123:")
	assert.Contains(t, out, "~ tests: pass -> fail (regression)")
}

func TestRunCommand_MissingBaseline(t *testing.T) {
	home := setup(t, "exit 0")

	_, err := execute(t, "run", "--repo", "acme/api", "--changeset", "42", "--revision", "abc123",
		"--baseline", filepath.Join(home, "nope.json"))
	assert.ErrorContains(t, err, "opening baseline")
}

func TestRunCommand_RequiresRevision(t *testing.T) {
	setup(t, "exit 0")

	_, err := execute(t, "run", "--repo", "acme/api", "--changeset", "42")
	assert.Error(t, err)
}

func TestReplayCommand_SQLiteStore(t *testing.T) {
	home := setup(t, "exit 0")
	t.Setenv("REVIEWD_STORE_DRIVER", "sqlite")
	t.Setenv("REVIEWD_STORE_DSN", filepath.Join(home, "ledger.db"))

	_, err := execute(t, "run", "--repo", "acme/api", "--changeset", "42", "--revision", "abc123")
	require.NoError(t, err)

	out, err := execute(t, "replay", "--repo", "acme/api", "--changeset", "42")
	require.NoError(t, err, out)
	assert.Contains(t, out, "replay to the stored state")

	_, err = execute(t, "replay", "--repo", "acme/api", "--changeset", "7")
	assert.Error(t, err)
}

func TestWatchCommand_ValidatesFlags(t *testing.T) {
	_, err := execute(t, "watch", "--changeset", "42")
	assert.ErrorContains(t, err, "repo")

	_, err = execute(t, "watch", "--repo", "acme/api", "--changeset", "42", "--interval", "0s")
	assert.ErrorContains(t, err, "--interval must be positive")
}
