package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zhaobenny/clawtop/cli/internal/config"
)

var (
	setDB       string
	setInterval float64
	setKeepDays int
	setProfile  string
	setBin      string
)

func init() {
	f := configCmd.Flags()
	f.StringVar(&setDB, "set-db", "", "Save db_path")
	f.Float64Var(&setInterval, "set-interval", 0, "Save the sampling interval in seconds")
	f.IntVar(&setKeepDays, "set-keep-days", 0, "Save the retention in days")
	f.StringVar(&setProfile, "set-profile", "", "Save the browser profile name")
	f.StringVar(&setBin, "set-openclaw-bin", "", "Save the openclaw executable path")

	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration or save new values",
	Example: `  clawtop config
  clawtop config --set-interval 2 --set-keep-days 30`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFile(state.configPath)
		if err != nil {
			return err
		}
		changed := false
		f := cmd.Flags()
		if f.Changed("set-db") {
			cfg.DBPath, changed = setDB, true
		}
		if f.Changed("set-interval") {
			cfg.IntervalSeconds, changed = setInterval, true
		}
		if f.Changed("set-keep-days") {
			cfg.KeepDays, changed = setKeepDays, true
		}
		if f.Changed("set-profile") {
			cfg.Profile, changed = setProfile, true
		}
		if f.Changed("set-openclaw-bin") {
			cfg.OpenclawBin, changed = setBin, true
		}

		if !changed {
			// Show what commands actually run with
			data, err := yaml.Marshal(state.cfg)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		}

		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := config.Save(state.configPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Configuration saved.")
		return nil
	},
}
