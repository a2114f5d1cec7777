package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/zhaobenny/clawtop/internal/model"
)

const (
	compactThreshold = 100 // Terminal width below which compact mode kicks in
	defaultWidth     = 120

	// Placeholder is printed wherever a value is unknown
	Placeholder = "—"
)

// TableOptions controls table display behavior
type TableOptions struct {
	ForceCompact bool
}

// getTerminalWidth returns the current terminal width
func getTerminalWidth() int {
	if cols := os.Getenv("COLUMNS"); cols != "" {
		if width, err := strconv.Atoi(cols); err == nil && width > 0 {
			return width
		}
	}
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}
	return defaultWidth
}

// shouldUseCompact determines if compact mode should be used
func shouldUseCompact(opts TableOptions) bool {
	if opts.ForceCompact {
		return true
	}
	return getTerminalWidth() < compactThreshold
}

// FormatNumber formats a number with thousand separators
func FormatNumber(n int64) string {
	str := strconv.FormatInt(n, 10)
	negative := n < 0
	if negative {
		str = str[1:]
	}

	var b strings.Builder
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}

	if negative {
		return "-" + b.String()
	}
	return b.String()
}

// FormatOptNumber formats an optional count, Placeholder when absent
func FormatOptNumber(n *int64) string {
	if n == nil {
		return Placeholder
	}
	return FormatNumber(*n)
}

// FormatRate formats an optional per-second rate
func FormatRate(r *float64, unit string) string {
	if r == nil {
		return Placeholder
	}
	return fmt.Sprintf("%.1f %s/s", *r, unit)
}

// FormatBytes formats an optional byte count with binary units
func FormatBytes(n *int64) string {
	if n == nil {
		return Placeholder
	}
	v := float64(*n)
	for _, unit := range []string{"B", "KiB", "MiB", "GiB"} {
		if v < 1024 || unit == "GiB" {
			if unit == "B" {
				return fmt.Sprintf("%d B", *n)
			}
			return fmt.Sprintf("%.1f %s", v, unit)
		}
		v /= 1024
	}
	return Placeholder
}

// FormatByteRate formats an optional bytes-per-second rate
func FormatByteRate(r *float64) string {
	if r == nil {
		return Placeholder
	}
	n := int64(*r)
	return FormatBytes(&n) + "/s"
}

// FormatPercent formats an optional percentage
func FormatPercent(p *int64) string {
	if p == nil {
		return Placeholder
	}
	return fmt.Sprintf("%d%%", *p)
}

var (
	modelDatedRe    = regexp.MustCompile(`^claude-(\w+)-([\d-]+)-(\d{8})$`)
	modelPlainRe    = regexp.MustCompile(`^claude-(\w+)-([\d-]+)$`)
	modelProviderRe = regexp.MustCompile(`^anthropic/claude-(\w+)-([\d.]+)$`)
)

// shortenModelName converts full model names to short form
// claude-sonnet-4-5-20250929 -> sonnet-4-5
// anthropic/claude-opus-4.5 -> opus-4.5
func shortenModelName(name string) string {
	for _, re := range []*regexp.Regexp{modelDatedRe, modelPlainRe, modelProviderRe} {
		if matches := re.FindStringSubmatch(name); matches != nil {
			return fmt.Sprintf("%s-%s", matches[1], matches[2])
		}
	}
	return name
}

// shortenSessionID truncates long session keys for compact display
func shortenSessionID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func optString(s *string, compact bool) string {
	if s == nil {
		return Placeholder
	}
	if compact {
		return shortenSessionID(*s)
	}
	return *s
}

// PrintLive prints the live snapshot as a two-column list
func PrintLive(w io.Writer, live model.LiveMetrics, opts TableOptions) {
	compact := shouldUseCompact(opts)

	modelName := Placeholder
	if live.Model != nil {
		modelName = shortenModelName(*live.Model)
	}

	rows := [][2]string{
		{"Sampled", time.UnixMilli(live.TimestampMs).Format("2006-01-02 15:04:05")},
		{"Session", optString(live.SessionKey, compact)},
		{"Model", modelName},
		{"Total tokens", FormatOptNumber(live.TotalTokens)},
		{"Input tokens", FormatOptNumber(live.InputTokens)},
		{"Output tokens", FormatOptNumber(live.OutputTokens)},
		{"Context", FormatOptNumber(live.ContextTokens)},
		{"Remaining", FormatOptNumber(live.RemainingTokens)},
		{"Used", FormatPercent(live.PercentUsed)},
		{"Tokens", FormatRate(live.TokensPerS, "tok")},
		{"Input", FormatRate(live.InTokensPerS, "tok")},
		{"Output", FormatRate(live.OutTokensPerS, "tok")},
		{"Net rx", FormatByteRate(live.NetRxBytesPerS)},
		{"Net tx", FormatByteRate(live.NetTxBytesPerS)},
	}

	fmt.Fprintln(w)
	for _, r := range rows {
		fmt.Fprintf(w, "%-14s  %s\n", r[0], r[1])
	}
	fmt.Fprintln(w)
}

// PrintRollups prints one row per window
func PrintRollups(w io.Writer, rollups []model.Rollup, opts TableOptions) {
	if len(rollups) == 0 {
		fmt.Fprintln(w, "No windows requested.")
		return
	}

	compact := shouldUseCompact(opts)

	keyWidth := len("Window")
	for _, r := range rollups {
		keyWidth = max(keyWidth, len(r.WindowLabel))
	}

	fmt.Fprintln(w)
	if compact {
		fmt.Fprintf(w, "%-*s  %14s  %12s  %12s\n", keyWidth, "Window", "Tokens", "Net rx", "Net tx")
		fmt.Fprintln(w, strings.Repeat("─", keyWidth+2+14+2+12+2+12))
		for _, r := range rollups {
			fmt.Fprintf(w, "%-*s  %14s  %12s  %12s\n",
				keyWidth, r.WindowLabel,
				FormatOptNumber(r.TotalTokens),
				FormatBytes(r.NetRxBytes),
				FormatBytes(r.NetTxBytes))
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "(Compact mode - expand terminal for full view)")
		return
	}

	fmt.Fprintf(w, "%-*s  %14s  %14s  %14s  %12s  %12s\n",
		keyWidth, "Window", "Total", "Input", "Output", "Net rx", "Net tx")
	fmt.Fprintln(w, strings.Repeat("─", keyWidth+2+14+2+14+2+14+2+12+2+12))
	for _, r := range rollups {
		fmt.Fprintf(w, "%-*s  %14s  %14s  %14s  %12s  %12s\n",
			keyWidth, r.WindowLabel,
			FormatOptNumber(r.TotalTokens),
			FormatOptNumber(r.InputTokens),
			FormatOptNumber(r.OutputTokens),
			FormatBytes(r.NetRxBytes),
			FormatBytes(r.NetTxBytes))
	}
	fmt.Fprintln(w)
}

// PrintMarkers prints reset markers newest first
func PrintMarkers(w io.Writer, markers []model.ResetMarker) {
	if len(markers) == 0 {
		fmt.Fprintln(w, "No reset markers recorded.")
		return
	}
	fmt.Fprintf(w, "%6s  %-8s  %s\n", "ID", "Kind", "At")
	for _, m := range markers {
		fmt.Fprintf(w, "%6d  %-8s  %s\n", m.ID, m.Kind, time.UnixMilli(m.TimestampMs).Format(time.RFC3339))
	}
}

// PrintJSON writes v as indented JSON
func PrintJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
