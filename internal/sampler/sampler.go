// Package sampler drives the fixed-cadence loop that polls the usage and
// network sources and appends one sample per tick to the store.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/zhaobenny/clawtop/internal/model"
	"github.com/zhaobenny/clawtop/internal/source"
	"github.com/zhaobenny/clawtop/internal/store"
)

// State is the loop's position in its two-state cycle.
type State int32

const (
	StateIdle State = iota
	StateSampling
)

func (s State) String() string {
	if s == StateSampling {
		return "sampling"
	}
	return "idle"
}

// Store is the part of the sample store the loop writes to.
type Store interface {
	AppendSample(ctx context.Context, s model.Sample) (bool, error)
	PruneOlderThan(ctx context.Context, cutoffTs int64) (int64, error)
	SetMeta(ctx context.Context, key, value string) error
}

// PIDSource lists the processes whose traffic is measured.
type PIDSource interface {
	PIDs(ctx context.Context) []int
}

// Config holds loop parameters. Zero values take the defaults below.
type Config struct {
	Interval         time.Duration // default 1s
	Retention        time.Duration // default 90 days
	PruneEvery       int           // ticks between prunes, default one hour of ticks
	SourceTimeout    time.Duration // per-source budget for one tick, default 10s
	WriteTimeout     time.Duration // budget for one append, default 10s
	MaxWriteFailures int           // consecutive failures before giving up, default 5
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.Retention <= 0 {
		c.Retention = 90 * 24 * time.Hour
	}
	if c.PruneEvery <= 0 {
		c.PruneEvery = max(1, int(time.Hour/c.Interval))
	}
	if c.SourceTimeout <= 0 {
		c.SourceTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.MaxWriteFailures <= 0 {
		c.MaxWriteFailures = 5
	}
	return c
}

// Sampler polls the sources on a fixed period and records samples.
type Sampler struct {
	cfg     Config
	logger  *slog.Logger
	store   Store
	usage   source.UsageSource
	network source.NetworkSource
	pids    PIDSource
	now     func() time.Time

	state         atomic.Int32
	invalid       atomic.Int64
	ticks         int
	lastTs        int64
	writeFailures int

	usageLog   rate.Sometimes
	networkLog rate.Sometimes
	invalidLog rate.Sometimes
}

// New creates a sampler. pids may be nil when no processes are tracked.
func New(cfg Config, logger *slog.Logger, st Store, usage source.UsageSource, network source.NetworkSource, pids PIDSource) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		cfg:        cfg.withDefaults(),
		logger:     logger,
		store:      st,
		usage:      usage,
		network:    network,
		pids:       pids,
		now:        time.Now,
		usageLog:   rate.Sometimes{Interval: time.Minute},
		networkLog: rate.Sometimes{Interval: time.Minute},
		invalidLog: rate.Sometimes{Interval: time.Minute},
	}
}

// WithClock replaces the wall clock. Used by tests.
func (s *Sampler) WithClock(now func() time.Time) *Sampler {
	s.now = now
	return s
}

// Config returns the effective configuration.
func (s *Sampler) Config() Config { return s.cfg }

// State reports whether a tick is in flight.
func (s *Sampler) State() State { return State(s.state.Load()) }

// InvalidReadings is the number of usage readings that had fields discarded.
func (s *Sampler) InvalidReadings() int64 { return s.invalid.Load() }

// Run samples until ctx is cancelled. It returns nil on shutdown and an
// error wrapping store.ErrStoreUnavailable when writes keep failing.
func (s *Sampler) Run(ctx context.Context) error {
	s.logger.Info("sampler starting",
		"interval", s.cfg.Interval,
		"retention", s.cfg.Retention,
		"prune_every_ticks", s.cfg.PruneEvery,
	)
	if err := s.store.SetMeta(ctx, store.MetaSamplerStarted, strconv.FormatInt(s.now().UnixMilli(), 10)); err != nil {
		s.logger.Warn("record sampler start failed", "error", err)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	if err := s.step(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sampler stopped", "ticks", s.ticks)
			return nil
		case <-ticker.C:
			if err := s.step(ctx); err != nil {
				return err
			}
		}
	}
}

// step runs one tick and applies the loop's failure policy. Only a run of
// store write failures is fatal.
func (s *Sampler) step(ctx context.Context) error {
	_, err := s.Tick(ctx)
	switch {
	case err == nil:
		s.writeFailures = 0
		return nil
	case ctx.Err() != nil:
		return nil
	case errors.Is(err, store.ErrStoreWrite):
		s.writeFailures++
		s.logger.Error("sample write failed, tick lost",
			"error", err,
			"consecutive_failures", s.writeFailures,
		)
		if s.writeFailures >= s.cfg.MaxWriteFailures {
			return fmt.Errorf("%w: %d consecutive write failures: %w", store.ErrStoreUnavailable, s.writeFailures, err)
		}
		return nil
	default:
		s.logger.Error("tick failed", "error", err)
		return nil
	}
}

// Tick collects one sample and appends it. It is abandoned without writing
// if ctx is cancelled while the sources are being read; once the append has
// started it runs to completion.
func (s *Sampler) Tick(ctx context.Context) (model.Sample, error) {
	s.state.Store(int32(StateSampling))
	defer s.state.Store(int32(StateIdle))

	// Timestamps strictly increase so a clock stepping back cannot make a
	// new sample collide with a stored one.
	ts := s.now().UnixMilli()
	if s.lastTs > 0 && ts <= s.lastTs {
		ts = s.lastTs + 1
	}
	sm := s.collect(ctx, ts)
	if err := ctx.Err(); err != nil {
		return sm, fmt.Errorf("tick abandoned: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.WriteTimeout)
	defer cancel()

	inserted, err := s.store.AppendSample(writeCtx, sm)
	if err != nil {
		return sm, err
	}
	s.lastTs = ts
	s.ticks++
	if !inserted {
		s.logger.Warn("sample already stored, reading dropped", "ts_ms", ts)
	}
	s.logger.Debug("sample recorded",
		"ts_ms", ts,
		"inserted", inserted,
		"has_tokens", sm.TotalTokens != nil,
		"has_network", sm.NetRxBytes != nil,
	)
	if err := s.store.SetMeta(writeCtx, store.MetaLastSample, strconv.FormatInt(ts, 10)); err != nil {
		s.logger.Warn("record last sample failed", "error", err)
	}

	if (s.ticks-1)%s.cfg.PruneEvery == 0 {
		s.prune(writeCtx, ts)
	}
	return sm, nil
}

// collect reads both sources concurrently. A failing source leaves its
// fields absent and never affects the other.
func (s *Sampler) collect(ctx context.Context, ts int64) model.Sample {
	var (
		usage   *model.UsageReading
		network *model.NetworkReading
		g       errgroup.Group
	)

	g.Go(func() error {
		uctx, cancel := context.WithTimeout(ctx, s.cfg.SourceTimeout)
		defer cancel()

		r, err := s.usage.ReadUsage(uctx)
		if err != nil {
			s.usageLog.Do(func() { s.logger.Warn("usage source unavailable", "error", err) })
			return nil
		}
		r, err = source.SanitizeUsage(r)
		if err != nil {
			n := s.invalid.Add(1)
			s.invalidLog.Do(func() { s.logger.Warn("discarded invalid usage fields", "error", err, "invalid_readings", n) })
		}
		usage = &r
		return nil
	})

	g.Go(func() error {
		nctx, cancel := context.WithTimeout(ctx, s.cfg.SourceTimeout)
		defer cancel()

		var pids []int
		if s.pids != nil {
			pids = s.pids.PIDs(nctx)
		}
		r, err := s.network.ReadNetwork(nctx, pids)
		if err != nil {
			s.networkLog.Do(func() { s.logger.Warn("network source unavailable", "error", err, "pids", pids) })
			return nil
		}
		network = &r
		return nil
	})

	// Both readers always return nil; the group only fans out.
	_ = g.Wait()
	return Merge(ts, usage, network)
}

func (s *Sampler) prune(ctx context.Context, now int64) {
	cutoff := now - s.cfg.Retention.Milliseconds()
	deleted, err := s.store.PruneOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("prune failed", "error", err, "cutoff_ms", cutoff)
		return
	}
	if err := s.store.SetMeta(ctx, store.MetaLastPrune, strconv.FormatInt(now, 10)); err != nil {
		s.logger.Warn("record last prune failed", "error", err)
	}
	s.logger.Info("pruned old samples", "deleted", deleted, "cutoff_ms", cutoff)
}
