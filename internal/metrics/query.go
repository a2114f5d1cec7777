package metrics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/zhaobenny/clawtop/internal/model"
	"github.com/zhaobenny/clawtop/internal/store"
)

// SnapshotReader opens consistent read views of the sample store.
type SnapshotReader interface {
	ReadSnapshot(ctx context.Context, fn func(*store.Snapshot) error) error
}

// Engine answers live-metrics and rollup queries. It keeps no state between
// calls and is safe for concurrent use.
type Engine struct {
	reader SnapshotReader
	now    func() time.Time
}

// NewEngine creates a query engine over the given store.
func NewEngine(reader SnapshotReader) *Engine {
	return &Engine{reader: reader, now: time.Now}
}

// WithClock replaces the engine's time source. Used by tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// LiveMetrics returns the newest sample in scope with rates computed against
// the previous sample of the same session.
func (e *Engine) LiveMetrics(ctx context.Context, scope store.Scope) (model.LiveMetrics, error) {
	var live model.LiveMetrics
	err := e.reader.ReadSnapshot(ctx, func(sn *store.Snapshot) error {
		cur, err := sn.LatestSample(ctx, scope)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoSamples
		}
		if err != nil {
			return err
		}

		var prev *model.Sample
		resetBetween := false
		p, err := sn.LatestBefore(ctx, cur.SessionKey, cur.TimestampMs)
		switch {
		case err == nil:
			prev = &p
			markers, err := sn.ResetMarkersBetween(ctx, p.TimestampMs, cur.TimestampMs)
			if err != nil {
				return err
			}
			resetBetween = len(markers) > 0
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		r := DeriveRates(prev, cur, resetBetween)
		live = model.LiveMetrics{
			Sample:         cur,
			TokensPerS:     r.TokensPerS,
			InTokensPerS:   r.InTokensPerS,
			OutTokensPerS:  r.OutTokensPerS,
			NetRxBytesPerS: r.NetRxBytesPerS,
			NetTxBytesPerS: r.NetTxBytesPerS,
		}
		return nil
	})
	return live, err
}

type window struct {
	label    string
	duration time.Duration
}

// Rollups aggregates each trailing window [now - duration, now), one entry
// per label in request order. An empty request uses DefaultWindows.
func (e *Engine) Rollups(ctx context.Context, labels []string) ([]model.Rollup, error) {
	if len(labels) == 0 {
		labels = DefaultWindows
	}

	windows := make([]window, 0, len(labels))
	var longest time.Duration
	for _, label := range labels {
		d, err := ParseWindow(label)
		if err != nil {
			return nil, err
		}
		windows = append(windows, window{label: label, duration: d})
		longest = max(longest, d)
	}

	end := e.now().UnixMilli()
	from := end - longest.Milliseconds()

	var samples []model.Sample
	var markers []model.ResetMarker
	err := e.reader.ReadSnapshot(ctx, func(sn *store.Snapshot) error {
		var err error
		if samples, err = sn.RangeQuery(ctx, store.AllSessions(), from, end); err != nil {
			return err
		}
		markers, err = sn.ResetMarkersBetween(ctx, from, end)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("rollups: %w", err)
	}

	out := make([]model.Rollup, 0, len(windows))
	for _, w := range windows {
		start := end - w.duration.Milliseconds()
		// first sample at or after the window start
		i := sort.Search(len(samples), func(i int) bool { return samples[i].TimestampMs >= start })
		out = append(out, BuildRollup(w.label, start, end, samples[i:], markers))
	}
	return out, nil
}

// RollupRange aggregates the samples in [start, end) under the given label.
func (e *Engine) RollupRange(ctx context.Context, label string, start, end int64) (model.Rollup, error) {
	var samples []model.Sample
	var markers []model.ResetMarker
	err := e.reader.ReadSnapshot(ctx, func(sn *store.Snapshot) error {
		var err error
		if samples, err = sn.RangeQuery(ctx, store.AllSessions(), start, end); err != nil {
			return err
		}
		markers, err = sn.ResetMarkersBetween(ctx, start, end)
		return err
	})
	if err != nil {
		return model.Rollup{}, fmt.Errorf("rollup %s: %w", label, err)
	}
	return BuildRollup(label, start, end, samples, markers), nil
}
