package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zhaobenny/clawtop/internal/model"
)

// NetworkSource reports cumulative rx/tx bytes for a set of processes.
type NetworkSource interface {
	ReadNetwork(ctx context.Context, pids []int) (model.NetworkReading, error)
}

// NetworkStrategy is one way of obtaining byte counters. Precise strategies
// attribute traffic to pids; coarse ones report system-wide totals.
type NetworkStrategy interface {
	Name() string
	Read(ctx context.Context, pids []int) (model.NetworkReading, error)
}

// FallbackNetwork tries its strategies in order and returns the first
// reading that succeeds.
type FallbackNetwork struct {
	strategies []NetworkStrategy
	timeout    time.Duration
}

// NewFallbackNetwork creates a network source over the given strategies.
// Each strategy gets at most timeout per read.
func NewFallbackNetwork(timeout time.Duration, strategies ...NetworkStrategy) *FallbackNetwork {
	return &FallbackNetwork{strategies: strategies, timeout: timeout}
}

// DefaultNetworkStrategies is nettop per pid, then netstat totals, then
// /proc/net/dev totals.
func DefaultNetworkStrategies(run Runner) []NetworkStrategy {
	return []NetworkStrategy{
		&NettopStrategy{Path: "/usr/bin/nettop", run: run},
		&NetstatStrategy{Paths: []string{"/usr/sbin/netstat", "/usr/bin/netstat"}, run: run},
		&ProcNetDevStrategy{Path: "/proc/net/dev"},
	}
}

// ReadNetwork implements NetworkSource.
func (n *FallbackNetwork) ReadNetwork(ctx context.Context, pids []int) (model.NetworkReading, error) {
	var errs []error
	for _, s := range n.strategies {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		r, err := n.readOne(ctx, s, pids)
		if err == nil {
			return r, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}
	if len(errs) == 0 {
		errs = append(errs, errors.New("no network strategies configured"))
	}
	return model.NetworkReading{}, fmt.Errorf("%w: %w", ErrSourceUnavailable, errors.Join(errs...))
}

func (n *FallbackNetwork) readOne(ctx context.Context, s NetworkStrategy, pids []int) (model.NetworkReading, error) {
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}
	r, err := s.Read(ctx, pids)
	if err != nil {
		return model.NetworkReading{}, err
	}
	if r.RxBytes < 0 || r.TxBytes < 0 {
		return model.NetworkReading{}, fmt.Errorf("%w: negative byte counter", ErrInvalidReading)
	}
	return r, nil
}

// StrategyNames lists the configured strategies in fallback order.
func (n *FallbackNetwork) StrategyNames() string {
	names := make([]string, 0, len(n.strategies))
	for _, s := range n.strategies {
		names = append(names, s.Name())
	}
	return strings.Join(names, " -> ")
}
