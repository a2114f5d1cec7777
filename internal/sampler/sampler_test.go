package sampler

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhaobenny/clawtop/internal/logging"
	"github.com/zhaobenny/clawtop/internal/model"
	"github.com/zhaobenny/clawtop/internal/source"
	"github.com/zhaobenny/clawtop/internal/store"
)

type memStore struct {
	mu      sync.Mutex
	samples []model.Sample
	meta    map[string]string
	prunes  []int64
	failing bool
	onWrite func(n int)
}

func newMemStore() *memStore {
	return &memStore{meta: make(map[string]string)}
}

func (m *memStore) AppendSample(ctx context.Context, s model.Sample) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return false, fmt.Errorf("%w: disk full", store.ErrStoreWrite)
	}
	m.samples = append(m.samples, s)
	if m.onWrite != nil {
		m.onWrite(len(m.samples))
	}
	return true, nil
}

func (m *memStore) PruneOlderThan(ctx context.Context, cutoff int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prunes = append(m.prunes, cutoff)
	return 0, nil
}

func (m *memStore) SetMeta(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta[key] = value
	return nil
}

func (m *memStore) snapshot() []model.Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Sample(nil), m.samples...)
}

type fakeUsage struct {
	reading model.UsageReading
	err     error
}

func (f *fakeUsage) ReadUsage(ctx context.Context) (model.UsageReading, error) {
	return f.reading, f.err
}

type fakeNetwork struct {
	mu      sync.Mutex
	reading model.NetworkReading
	fail    map[int]bool // call number -> fail
	calls   int
	pids    []int
}

func (f *fakeNetwork) ReadNetwork(ctx context.Context, pids []int) (model.NetworkReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.pids = pids
	if f.fail[f.calls] {
		return model.NetworkReading{}, source.ErrSourceUnavailable
	}
	return f.reading, nil
}

type staticPIDs []int

func (p staticPIDs) PIDs(ctx context.Context) []int { return p }

func usageReading(total int64) model.UsageReading {
	return model.UsageReading{SessionKey: model.String("s1"), TotalTokens: model.Int64(total)}
}

func TestMerge(t *testing.T) {
	s := Merge(42, &model.UsageReading{SessionKey: model.String(""), TotalTokens: model.Int64(7)}, nil)
	assert.Equal(t, int64(42), s.TimestampMs)
	assert.Nil(t, s.SessionKey, "empty session key normalises to nil")
	assert.Equal(t, int64(7), *s.TotalTokens)
	assert.Nil(t, s.NetRxBytes)

	s = Merge(1, nil, &model.NetworkReading{RxBytes: 0, TxBytes: 3})
	assert.Nil(t, s.TotalTokens)
	require.NotNil(t, s.NetRxBytes)
	assert.Equal(t, int64(0), *s.NetRxBytes, "zero is a reading, not absent")
	assert.Equal(t, int64(3), *s.NetTxBytes)
}

func TestTickNetworkFailureLeavesFieldsAbsent(t *testing.T) {
	st := newMemStore()
	net := &fakeNetwork{reading: model.NetworkReading{RxBytes: 10, TxBytes: 20}, fail: map[int]bool{1: true}}
	s := New(Config{}, logging.NewWithWriter(&bytes.Buffer{}, "error", false), st,
		&fakeUsage{reading: usageReading(100)}, net, staticPIDs{11, 22})

	sm, err := s.Tick(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sm.TotalTokens)
	assert.Equal(t, int64(100), *sm.TotalTokens)
	assert.Nil(t, sm.NetRxBytes)
	assert.Nil(t, sm.NetTxBytes)
	assert.Equal(t, []int{11, 22}, net.pids)

	sm, err = s.Tick(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sm.NetRxBytes)
	assert.Equal(t, int64(10), *sm.NetRxBytes)
	assert.Len(t, st.snapshot(), 2)
	assert.Equal(t, StateIdle, s.State())
}

func TestTickUsageFailureAndInvalidFields(t *testing.T) {
	st := newMemStore()
	s := New(Config{}, logging.NewWithWriter(&bytes.Buffer{}, "error", false), st,
		&fakeUsage{err: source.ErrSourceUnavailable}, &fakeNetwork{reading: model.NetworkReading{RxBytes: 1, TxBytes: 1}}, nil)

	sm, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sm.SessionKey)
	assert.Nil(t, sm.TotalTokens)
	assert.NotNil(t, sm.NetRxBytes)

	s.usage = &fakeUsage{reading: model.UsageReading{TotalTokens: model.Int64(5), InputTokens: model.Int64(-3)}}
	sm, err = s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), *sm.TotalTokens)
	assert.Nil(t, sm.InputTokens, "negative field dropped, rest kept")
	assert.Equal(t, int64(1), s.InvalidReadings())
}

func TestTickTimestampsNeverDecrease(t *testing.T) {
	st := newMemStore()
	clock := []int64{5000, 3000, 6000}
	i := 0
	s := New(Config{}, logging.NewWithWriter(&bytes.Buffer{}, "error", false), st,
		&fakeUsage{reading: usageReading(1)}, &fakeNetwork{}, nil).
		WithClock(func() time.Time {
			ts := clock[min(i, len(clock)-1)]
			i++
			return time.UnixMilli(ts)
		})

	var got []int64
	for range clock {
		sm, err := s.Tick(context.Background())
		require.NoError(t, err)
		got = append(got, sm.TimestampMs)
	}
	assert.Equal(t, []int64{5000, 5001, 6000}, got)
}

func TestClockStepBackKeepsSampling(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenAndMigrate(ctx, filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	defer st.Close()

	clock := []int64{100_000, 50_000, 51_000, 52_000, 53_000, 54_000}
	usage := &fakeUsage{}
	i := 0
	s := New(Config{}, logging.NewWithWriter(&bytes.Buffer{}, "error", false), st,
		usage, &fakeNetwork{}, nil).
		WithClock(func() time.Time { return time.UnixMilli(clock[i]) })

	for i = range clock {
		usage.reading = usageReading(int64(10 * (i + 1)))
		_, err := s.Tick(ctx)
		require.NoError(t, err)
	}

	n, err := st.CountSamples(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len(clock)), n)

	latest, err := st.LatestSample(ctx, store.AllSessions())
	require.NoError(t, err)
	assert.Equal(t, int64(60), *latest.TotalTokens)
	assert.Equal(t, int64(100_005), latest.TimestampMs)
}

func TestTickAbandonedOnCancel(t *testing.T) {
	st := newMemStore()
	s := New(Config{}, logging.NewWithWriter(&bytes.Buffer{}, "error", false), st,
		&fakeUsage{reading: usageReading(1)}, &fakeNetwork{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Tick(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, st.snapshot())
}

func TestPruneCadence(t *testing.T) {
	st := newMemStore()
	s := New(Config{PruneEvery: 3, Retention: time.Second}, logging.NewWithWriter(&bytes.Buffer{}, "error", false), st,
		&fakeUsage{reading: usageReading(1)}, &fakeNetwork{}, nil).
		WithClock(func() time.Time { return time.UnixMilli(10_000) })

	for range 7 {
		_, err := s.Tick(context.Background())
		require.NoError(t, err)
	}
	// ticks 1, 4 and 7
	assert.Equal(t, []int64{9000, 9003, 9006}, st.prunes)
	assert.Equal(t, "10006", st.meta[store.MetaLastPrune])
	assert.Equal(t, "10006", st.meta[store.MetaLastSample])
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Interval: 2 * time.Second}.withDefaults()
	assert.Equal(t, 1800, cfg.PruneEvery)
	assert.Equal(t, 90*24*time.Hour, cfg.Retention)
	assert.Equal(t, 5, cfg.MaxWriteFailures)

	assert.Equal(t, time.Second, Config{}.withDefaults().Interval)
}

func TestRunStopsAfterRepeatedWriteFailures(t *testing.T) {
	st := newMemStore()
	st.failing = true
	var logs bytes.Buffer
	s := New(Config{Interval: time.Millisecond, MaxWriteFailures: 3}, logging.NewWithWriter(&logs, "info", false), st,
		&fakeUsage{reading: usageReading(1)}, &fakeNetwork{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.Run(ctx)
	require.ErrorIs(t, err, store.ErrStoreUnavailable)
	require.ErrorIs(t, err, store.ErrStoreWrite)
	assert.Contains(t, logs.String(), "consecutive_failures=3")
}

func TestRunKeepsGoingThroughSourceFailures(t *testing.T) {
	st := newMemStore()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st.onWrite = func(n int) {
		if n == 4 {
			cancel()
		}
	}

	net := &fakeNetwork{reading: model.NetworkReading{RxBytes: 1, TxBytes: 1}, fail: map[int]bool{2: true, 3: true}}
	s := New(Config{Interval: time.Millisecond}, logging.NewWithWriter(&bytes.Buffer{}, "error", false), st,
		&fakeUsage{reading: usageReading(1)}, net, nil)

	require.NoError(t, s.Run(ctx))

	samples := st.snapshot()
	require.GreaterOrEqual(t, len(samples), 4)
	assert.NotNil(t, samples[0].NetRxBytes)
	assert.Nil(t, samples[1].NetRxBytes)
	assert.Nil(t, samples[2].NetRxBytes)
	assert.NotNil(t, samples[3].NetRxBytes)
	for _, sm := range samples {
		assert.NotNil(t, sm.TotalTokens)
	}
	assert.Contains(t, st.meta, store.MetaSamplerStarted)
}
