package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhaobenny/clawtop/cli/internal/output"
	"github.com/zhaobenny/clawtop/internal/model"
	"github.com/zhaobenny/clawtop/internal/store"
)

var (
	resetsLimit int
	pruneDays   int
)

func init() {
	resetsCmd.Flags().IntVar(&resetsLimit, "limit", 50, "Maximum markers to list")
	pruneCmd.Flags().IntVar(&pruneDays, "keep-days", 0, "Days to keep (default from config)")

	rootCmd.AddCommand(resetCmd, resetsCmd, pruneCmd)
}

var resetCmd = &cobra.Command{
	Use:       "reset <session|day|3day|7day|custom>",
	Short:     "Record that usage counters were intentionally reset now",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"session", "day", "3day", "7day", "custom"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		m, err := st.AddResetMarker(ctx, model.ResetKind(args[0]), time.Now().UnixMilli())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s reset #%d at %s\n",
			m.Kind, m.ID, time.UnixMilli(m.TimestampMs).Format(time.RFC3339))
		return nil
	},
}

var resetsCmd = &cobra.Command{
	Use:   "resets",
	Short: "List recorded reset markers, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, closeFn, err := newQuerier(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		markers, err := q.ListResetMarkers(cmd.Context(), resetsLimit)
		if err != nil {
			return err
		}
		if jsonOut {
			if markers == nil {
				markers = []model.ResetMarker{}
			}
			return printJSON(cmd, markers)
		}
		output.PrintMarkers(cmd.OutOrStdout(), markers)
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete samples older than the retention period",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		retention := state.cfg.Retention()
		if pruneDays > 0 {
			retention = time.Duration(pruneDays) * 24 * time.Hour
		}
		now := time.Now()
		cutoff := now.Add(-retention).UnixMilli()

		n, err := st.PruneOlderThan(ctx, cutoff)
		if err != nil {
			return err
		}
		if err := st.SetMeta(ctx, store.MetaLastPrune, strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d samples older than %s\n", n, time.UnixMilli(cutoff).Format(time.RFC3339))
		return nil
	},
}
