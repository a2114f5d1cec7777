package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhaobenny/clawtop/internal/sampler"
	"github.com/zhaobenny/clawtop/internal/source"
	"github.com/zhaobenny/clawtop/internal/store"
)

const sourceTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sampleCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sampler in the foreground until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runSampler(ctx)
	},
}

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Take a single sample, store it and print it",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		s, err := newSampler(st).Tick(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, s)
	},
}

// newSampler wires the configured sources to st
func newSampler(st *store.Store) *sampler.Sampler {
	cfg := state.cfg
	bin := cfg.ResolveOpenclawBin()

	usage := source.NewStatusSource(bin, sourceTimeout)
	network := source.NewFallbackNetwork(sourceTimeout, source.DefaultNetworkStrategies(source.ExecRunner)...)
	pids := source.NewPIDResolver(bin, cfg.Profile)

	return sampler.New(sampler.Config{
		Interval:      cfg.Interval(),
		Retention:     cfg.Retention(),
		SourceTimeout: sourceTimeout,
	}, state.logger, st, usage, network, pids)
}

// runSampler opens the store and samples until ctx is done
func runSampler(ctx context.Context) error {
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := newSampler(st).Run(ctx); err != nil {
		return fmt.Errorf("sampler stopped: %w", err)
	}
	return nil
}
