package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/reviewd/internal/ledger"
)

func receipt(rev string, gates ...GateReceipt) *Receipt {
	return &Receipt{Key: testKey, Revision: rev, Gates: gates}
}

func gr(name string, status ledger.Status) GateReceipt {
	return GateReceipt{Name: name, Status: status}
}

func TestDiffReceipts(t *testing.T) {
	base := receipt("abc123",
		gr("build", ledger.StatusPass),
		gr("tests", ledger.StatusPass),
		gr("lint", ledger.StatusFail),
		gr("docs", ledger.StatusSkipped),
	)
	cur := receipt("def456",
		gr("build", ledger.StatusPass),
		gr("tests", ledger.StatusFail),
		gr("lint", ledger.StatusPass),
		gr("security", ledger.StatusSkipped),
	)

	d := DiffReceipts(base, cur)

	assert.Equal(t, "abc123", d.BaselineRevision)
	assert.Equal(t, "def456", d.Revision)
	assert.Equal(t, []string{"security"}, d.GatesAdded)
	assert.Equal(t, []string{"docs"}, d.GatesRemoved)
	assert.Equal(t, []StatusChange{
		{Gate: "tests", From: ledger.StatusPass, To: ledger.StatusFail, Regression: true},
		{Gate: "lint", From: ledger.StatusFail, To: ledger.StatusPass},
	}, d.StatusChanges)
	assert.True(t, d.Regression)
	assert.Equal(t, []string{"tests"}, d.Regressions())
	assert.False(t, d.Empty())

	out := d.String()
	assert.Contains(t, out, "compared with abc123:")
	assert.Contains(t, out, "+ security")
	assert.Contains(t, out, "- docs")
	assert.Contains(t, out, "~ tests: pass -> fail (regression)")
	assert.Contains(t, out, "~ lint: fail -> pass\n")
}

func TestDiffReceipts_OnlyPassToFailRegresses(t *testing.T) {
	tests := []struct {
		from, to ledger.Status
		want     bool
	}{
		{ledger.StatusPass, ledger.StatusFail, true},
		{ledger.StatusPass, ledger.StatusSkipped, false},
		{ledger.StatusPass, ledger.StatusPending, false},
		{ledger.StatusSkipped, ledger.StatusFail, false},
		{ledger.StatusFail, ledger.StatusPass, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			d := DiffReceipts(receipt("a", gr("build", tt.from)), receipt("b", gr("build", tt.to)))
			require.Len(t, d.StatusChanges, 1)
			assert.Equal(t, tt.want, d.Regression)
		})
	}
}

func TestDiffReceipts_Unchanged(t *testing.T) {
	d := DiffReceipts(receipt("a", gr("build", ledger.StatusPass)), receipt("b", gr("build", ledger.StatusPass)))
	assert.True(t, d.Empty())
	assert.False(t, d.Regression)
	assert.Equal(t, "compared with a: no changes", d.String())
}

func TestReadReceipt(t *testing.T) {
	rc, err := ReadReceipt(strings.NewReader(`{"revision":"abc123","status":"ready","gates":[{"name":"build","status":"pass"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "abc123", rc.Revision)
	require.Len(t, rc.Gates, 1)
	assert.Equal(t, ledger.StatusPass, rc.Gates[0].Status)

	_, err = ReadReceipt(strings.NewReader(`{"status":"ready"}`))
	assert.ErrorContains(t, err, "missing revision")
	_, err = ReadReceipt(strings.NewReader(`not json`))
	assert.Error(t, err)
}
