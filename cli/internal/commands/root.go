package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/zhaobenny/clawtop/cli/internal/config"
	"github.com/zhaobenny/clawtop/internal/logging"
	"github.com/zhaobenny/clawtop/internal/store"
)

// app carries what every subcommand needs after flags are parsed
type app struct {
	configPath string
	dbPath     string
	logLevel   string
	logJSON    bool

	cfg    *config.Config
	logger *slog.Logger
}

var state app

var rootCmd = &cobra.Command{
	Use:   "clawtop",
	Short: "Sample and aggregate OpenClaw token and network usage",
	Long: `clawtop polls the local OpenClaw gateway for token usage and the
machine for network counters, stores one sample per tick in SQLite and
answers live-rate and rolling-window queries over that history.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(state.configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("db") {
			cfg.DBPath = state.dbPath
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = state.logLevel
		}
		if cmd.Flags().Changed("log-json") {
			cfg.LogJSON = state.logJSON
		}
		state.cfg = cfg
		state.logger = logging.New(cfg.LogLevel, cfg.LogJSON)
		slog.SetDefault(state.logger)
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&state.configPath, "config", "", "Config file (default ~/"+config.DefaultFile+")")
	pf.StringVar(&state.dbPath, "db", "", "SQLite database path (overrides config and $"+config.EnvDB+")")
	pf.StringVar(&state.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.BoolVar(&state.logJSON, "log-json", false, "Emit JSON logs")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openStore opens and migrates the configured database
func openStore(ctx context.Context) (*store.Store, error) {
	st, err := store.OpenAndMigrate(ctx, state.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", state.cfg.DBPath, err)
	}
	return st, nil
}
