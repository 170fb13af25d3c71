package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/reviewd/internal/ledger"
)

func TestClient_Snapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/changesets/acme/api/42":
			_ = json.NewEncoder(w).Encode(reviewing())
		case "/api/v1/changesets/acme/api/7":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")

	snap, err := c.Snapshot(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, testKey, snap.Key)
	assert.Len(t, snap.Gates, 4)

	_, err = c.Snapshot(context.Background(), ledger.Key{Repository: "acme/api", ChangeSet: "7"})
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = c.Snapshot(context.Background(), ledger.Key{Repository: "acme/web", ChangeSet: "1"})
	assert.ErrorContains(t, err, "500")

	_, err = c.Snapshot(context.Background(), ledger.Key{Repository: "noslash", ChangeSet: "1"})
	assert.Error(t, err)
}
