package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhaobenny/clawtop/internal/metrics"
	"github.com/zhaobenny/clawtop/internal/model"
	"github.com/zhaobenny/clawtop/internal/store"
)

func TestClient(t *testing.T) {
	var lastQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/live":
			if r.URL.Query().Get("session") == "missing" {
				w.WriteHeader(http.StatusNotFound)
				json.NewEncoder(w).Encode(errorResponse{Error: "no samples recorded"})
				return
			}
			json.NewEncoder(w).Encode(model.LiveMetrics{Sample: model.Sample{TimestampMs: 9}})
		case "/api/rollups":
			if r.URL.Query().Get("windows") == "bogus" {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(errorResponse{Error: `invalid window label: "bogus"`})
				return
			}
			json.NewEncoder(w).Encode([]model.Rollup{{WindowLabel: "1d", TotalTokens: model.Int64(5)}})
		case "/api/resets":
			json.NewEncoder(w).Encode([]model.ResetMarker{{ID: 1, Kind: model.ResetDay}})
		default:
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(errorResponse{Error: "boom"})
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	ctx := context.Background()

	live, err := c.LiveMetrics(ctx, store.AllSessions())
	require.NoError(t, err)
	assert.Equal(t, int64(9), live.TimestampMs)
	assert.Empty(t, lastQuery)

	_, err = c.LiveMetrics(ctx, store.Session(nil))
	require.NoError(t, err)
	assert.Equal(t, "nosession=1", lastQuery)

	key := "missing"
	_, err = c.LiveMetrics(ctx, store.Session(&key))
	require.ErrorIs(t, err, metrics.ErrNoSamples)

	rollups, err := c.Rollups(ctx, []string{"1d", "7d"})
	require.NoError(t, err)
	assert.Equal(t, "windows=1d%2C7d", lastQuery)
	require.Len(t, rollups, 1)
	assert.Equal(t, int64(5), *rollups[0].TotalTokens)

	_, err = c.Rollups(ctx, []string{"bogus"})
	require.ErrorIs(t, err, metrics.ErrInvalidWindow)
	assert.Contains(t, err.Error(), "bogus")
	assert.NotErrorIs(t, err, ErrRemote)

	markers, err := c.ListResetMarkers(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "limit=3", lastQuery)
	assert.Len(t, markers, 1)

	c.server = srv.URL + "/nope"
	_, err = c.Rollups(ctx, nil)
	require.ErrorIs(t, err, ErrRemote)
	assert.Contains(t, err.Error(), "boom")
}
