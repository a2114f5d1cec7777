package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhaobenny/clawtop/cli/internal/output"
	"github.com/zhaobenny/clawtop/cli/internal/remote"
	"github.com/zhaobenny/clawtop/internal/metrics"
	"github.com/zhaobenny/clawtop/internal/model"
	"github.com/zhaobenny/clawtop/internal/store"
)

var (
	jsonOut   bool
	compact   bool
	sessionID string
	noSession bool
	serverURL string
)

// querier is answered by the local engine or a remote server
type querier interface {
	LiveMetrics(ctx context.Context, scope store.Scope) (model.LiveMetrics, error)
	Rollups(ctx context.Context, labels []string) ([]model.Rollup, error)
	ListResetMarkers(ctx context.Context, limit int) ([]model.ResetMarker, error)
}

// localQuerier answers from the local database
type localQuerier struct {
	*metrics.Engine
	*store.Store
}

// newQuerier picks the remote server when one is configured. Call done to
// release the local database.
func newQuerier(cmd *cobra.Command) (q querier, done func(), err error) {
	server := state.cfg.Server
	if cmd.Flags().Changed("server") {
		server = serverURL
	}
	if server != "" {
		return remote.NewClient(server), func() {}, nil
	}

	st, err := openStore(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	return localQuerier{Engine: metrics.NewEngine(st), Store: st}, func() { st.Close() }, nil
}

func init() {
	for _, c := range []*cobra.Command{liveCmd, rollupsCmd, resetsCmd} {
		c.Flags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
		c.Flags().StringVar(&serverURL, "server", "", "Query a clawtop-server at this URL instead of the local database")
	}
	for _, c := range []*cobra.Command{liveCmd, rollupsCmd} {
		c.Flags().BoolVar(&compact, "compact", false, "Force compact table")
	}
	liveCmd.Flags().StringVar(&sessionID, "session", "", "Only consider samples of this session")
	liveCmd.Flags().BoolVar(&noSession, "no-session", false, "Only consider samples with no session")
	liveCmd.MarkFlagsMutuallyExclusive("session", "no-session")

	rootCmd.AddCommand(liveCmd, rollupsCmd)
}

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Show the latest sample with per-second rates",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, closeFn, err := newQuerier(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		scope := store.AllSessions()
		switch {
		case cmd.Flags().Changed("session"):
			scope = store.Session(&sessionID)
		case noSession:
			scope = store.Session(nil)
		}

		live, err := q.LiveMetrics(cmd.Context(), scope)
		if errors.Is(err, metrics.ErrNoSamples) {
			fmt.Fprintln(cmd.OutOrStdout(), "No samples recorded yet. Run 'clawtop run' first.")
			return nil
		}
		if err != nil {
			return err
		}

		if jsonOut {
			return printJSON(cmd, live)
		}
		output.PrintLive(cmd.OutOrStdout(), live, output.TableOptions{ForceCompact: compact})
		return nil
	},
}

var rollupsCmd = &cobra.Command{
	Use:   "rollups [window...]",
	Short: "Sum token and network usage over rolling windows (default 1d 3d 7d)",
	Example: `  clawtop rollups
  clawtop rollups 30m 12h 2w --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		labels := args
		if len(labels) == 0 {
			labels = metrics.DefaultWindows
		}

		q, closeFn, err := newQuerier(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		rollups, err := q.Rollups(cmd.Context(), labels)
		if err != nil {
			return err
		}

		if jsonOut {
			return printJSON(cmd, rollups)
		}
		output.PrintRollups(cmd.OutOrStdout(), rollups, output.TableOptions{ForceCompact: compact})
		return nil
	},
}

func printJSON(cmd *cobra.Command, v any) error {
	return output.PrintJSON(cmd.OutOrStdout(), v)
}
