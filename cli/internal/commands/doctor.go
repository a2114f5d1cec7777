package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhaobenny/clawtop/cli/internal/config"
	"github.com/zhaobenny/clawtop/internal/source"
	"github.com/zhaobenny/clawtop/internal/store"
)

func init() {
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the sources and the database are usable",
	RunE:  runDoctor,
}

type checkResult struct {
	label  string
	ok     bool
	detail string
	fix    string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	var checks []checkResult

	bin := state.cfg.ResolveOpenclawBin()
	checks = append(checks, checkUsage(ctx, bin))

	pids := source.NewPIDResolver(bin, state.cfg.Profile).PIDs(ctx)
	checks = append(checks, checkResult{
		label:  "openclaw pids",
		ok:     true,
		detail: fmt.Sprintf("%v", pids),
	})

	checks = append(checks, checkNetwork(ctx, pids)...)
	checks = append(checks, checkStore(ctx)...)

	out := cmd.OutOrStdout()
	hasFailures := false
	for _, c := range checks {
		mark := "\u2713" // ✓
		if !c.ok {
			mark = "\u2717" // ✗
			hasFailures = true
		}
		line := fmt.Sprintf("%s %-20s %s", mark, c.label+":", c.detail)
		if !c.ok && c.fix != "" {
			line += fmt.Sprintf("  ->  %s", c.fix)
		}
		fmt.Fprintln(out, line)
	}

	if hasFailures {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Some checks failed. Samples will carry absent fields for failing sources.")
		return fmt.Errorf("doctor found issues")
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "All checks passed.")
	return nil
}

func checkUsage(ctx context.Context, bin string) checkResult {
	r, err := source.NewStatusSource(bin, sourceTimeout).ReadUsage(ctx)
	if err != nil {
		return checkResult{
			label:  "openclaw status",
			detail: err.Error(),
			fix:    "set openclaw_bin in config or $" + config.EnvOpenclaw,
		}
	}
	detail := "reachable, no recent session"
	if r.SessionKey != nil {
		detail = "session " + *r.SessionKey
	}
	return checkResult{label: "openclaw status", ok: true, detail: bin + " (" + detail + ")"}
}

// checkNetwork probes every strategy so the report shows which ones work
func checkNetwork(ctx context.Context, pids []int) []checkResult {
	var checks []checkResult
	anyOK := false
	for _, s := range source.DefaultNetworkStrategies(source.ExecRunner) {
		sctx, cancel := context.WithTimeout(ctx, sourceTimeout)
		r, err := s.Read(sctx, pids)
		cancel()
		c := checkResult{label: "network " + s.Name(), ok: err == nil}
		if err != nil {
			c.detail = err.Error()
		} else {
			anyOK = true
			c.detail = fmt.Sprintf("rx %d tx %d", r.RxBytes, r.TxBytes)
		}
		checks = append(checks, c)
	}
	if anyOK {
		// A single working strategy is enough
		for i := range checks {
			checks[i].ok = true
		}
	}
	return checks
}

func checkStore(ctx context.Context) []checkResult {
	st, err := openStore(ctx)
	if err != nil {
		return []checkResult{{label: "database", detail: err.Error(), fix: "check db_path permissions"}}
	}
	defer st.Close()

	checks := []checkResult{{label: "database", ok: true, detail: state.cfg.DBPath}}

	n, err := st.CountSamples(ctx)
	if err != nil {
		return append(checks, checkResult{label: "samples", detail: err.Error()})
	}
	checks = append(checks, checkResult{label: "samples", ok: true, detail: strconv.FormatInt(n, 10)})

	last, err := st.GetMeta(ctx, store.MetaLastSample)
	switch {
	case errors.Is(err, store.ErrNotFound):
		checks = append(checks, checkResult{label: "last sample", detail: "never", fix: "clawtop run"})
	case err != nil:
		checks = append(checks, checkResult{label: "last sample", detail: err.Error()})
	default:
		ms, _ := strconv.ParseInt(last, 10, 64)
		age := time.Since(time.UnixMilli(ms)).Round(time.Second)
		checks = append(checks, checkResult{label: "last sample", ok: true, detail: age.String() + " ago"})
	}
	return checks
}
