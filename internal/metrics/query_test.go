package metrics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhaobenny/clawtop/internal/model"
	"github.com/zhaobenny/clawtop/internal/store"
)

func newTestEngine(t *testing.T, now int64) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.OpenAndMigrate(context.Background(), filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	e := NewEngine(st).WithClock(func() time.Time { return time.UnixMilli(now) })
	return e, st
}

func appendAll(t *testing.T, st *store.Store, samples ...model.Sample) {
	t.Helper()
	for _, s := range samples {
		_, err := st.AppendSample(context.Background(), s)
		require.NoError(t, err)
	}
}

func TestLiveMetricsRate(t *testing.T) {
	e, st := newTestEngine(t, 10_000)
	ctx := context.Background()

	_, err := e.LiveMetrics(ctx, store.AllSessions())
	require.ErrorIs(t, err, ErrNoSamples)

	appendAll(t, st, tokens(0, 100), tokens(1000, 150))

	live, err := e.LiveMetrics(ctx, store.AllSessions())
	require.NoError(t, err)
	assert.Equal(t, int64(1000), live.TimestampMs)
	require.NotNil(t, live.TokensPerS)
	assert.Equal(t, 50.0, *live.TokensPerS)
}

func TestLiveMetricsOnlyComparesSameSession(t *testing.T) {
	e, st := newTestEngine(t, 10_000)
	ctx := context.Background()
	a, b := model.String("a"), model.String("b")

	appendAll(t, st,
		model.Sample{TimestampMs: 0, SessionKey: a, TotalTokens: model.Int64(100)},
		model.Sample{TimestampMs: 500, SessionKey: b, TotalTokens: model.Int64(9000)},
		model.Sample{TimestampMs: 2000, SessionKey: a, TotalTokens: model.Int64(300)},
	)

	live, err := e.LiveMetrics(ctx, store.AllSessions())
	require.NoError(t, err)
	require.NotNil(t, live.TokensPerS)
	assert.Equal(t, 100.0, *live.TokensPerS)

	live, err = e.LiveMetrics(ctx, store.Session(b))
	require.NoError(t, err)
	assert.Equal(t, int64(500), live.TimestampMs)
	assert.Nil(t, live.TokensPerS, "first sample of its session")
}

func TestResetMarkerScenario(t *testing.T) {
	e, st := newTestEngine(t, 10_000)
	ctx := context.Background()

	appendAll(t, st, tokens(0, 500))
	_, err := st.AddResetMarker(ctx, model.ResetSession, 500)
	require.NoError(t, err)
	appendAll(t, st, tokens(1000, 20))

	live, err := e.LiveMetrics(ctx, store.AllSessions())
	require.NoError(t, err)
	assert.Nil(t, live.TokensPerS)

	r, err := e.RollupRange(ctx, "custom", 0, 1001)
	require.NoError(t, err)
	assert.Nil(t, r.TotalTokens)
}

func TestRollupsRequestOrderAndWindows(t *testing.T) {
	const hour = int64(time.Hour / time.Millisecond)
	now := 100 * hour
	e, st := newTestEngine(t, now)
	ctx := context.Background()

	appendAll(t, st,
		tokens(now-30*hour, 0),
		tokens(now-20*hour, 100),
		tokens(now-2*hour, 150),
		tokens(now-1*hour, 160),
		tokens(now, 9999), // end is exclusive
	)

	rollups, err := e.Rollups(ctx, []string{"3h", "1d", "2d"})
	require.NoError(t, err)
	require.Len(t, rollups, 3)

	assert.Equal(t, "3h", rollups[0].WindowLabel)
	assert.Equal(t, now-3*hour, rollups[0].StartTsMs)
	assert.Equal(t, now, rollups[0].EndTsMs)
	require.NotNil(t, rollups[0].TotalTokens)
	assert.Equal(t, int64(10), *rollups[0].TotalTokens)

	require.NotNil(t, rollups[1].TotalTokens)
	assert.Equal(t, int64(60), *rollups[1].TotalTokens)

	require.NotNil(t, rollups[2].TotalTokens)
	assert.Equal(t, int64(160), *rollups[2].TotalTokens)
}

func TestRollupsDefaultsAndErrors(t *testing.T) {
	e, _ := newTestEngine(t, 10_000)
	ctx := context.Background()

	rollups, err := e.Rollups(ctx, nil)
	require.NoError(t, err)
	require.Len(t, rollups, len(DefaultWindows))
	for i, r := range rollups {
		assert.Equal(t, DefaultWindows[i], r.WindowLabel)
		assert.Nil(t, r.TotalTokens)
	}

	_, err = e.Rollups(ctx, []string{"1d", "bogus"})
	require.ErrorIs(t, err, ErrInvalidWindow)
}
