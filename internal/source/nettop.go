package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/zhaobenny/clawtop/internal/model"
)

// NettopStrategy reads per-process byte counters with macOS nettop.
type NettopStrategy struct {
	Path string

	run Runner
}

func (s *NettopStrategy) Name() string { return "nettop" }

// Read sums the counters of every pid nettop could report on. It fails only
// when no pid produced a reading.
func (s *NettopStrategy) Read(ctx context.Context, pids []int) (model.NetworkReading, error) {
	if len(pids) == 0 {
		return model.NetworkReading{}, fmt.Errorf("%w: no process ids to attribute traffic to", ErrSourceUnavailable)
	}
	run := s.run
	if run == nil {
		run = ExecRunner
	}

	var total model.NetworkReading
	var errs []error
	ok := 0
	for _, pid := range pids {
		out, err := run(ctx, s.Path, "-P", "-L", "1", "-n", "-J", "bytes_in,bytes_out", "-p", strconv.Itoa(pid))
		if err == nil {
			var r model.NetworkReading
			if r, err = ParseNettop(out); err == nil {
				total.RxBytes += r.RxBytes
				total.TxBytes += r.TxBytes
				ok++
				continue
			}
		}
		errs = append(errs, fmt.Errorf("pid %d: %w", pid, err))
	}
	if ok == 0 {
		return model.NetworkReading{}, fmt.Errorf("%w: %w", ErrSourceUnavailable, errors.Join(errs...))
	}
	return total, nil
}

// ParseNettop understands the JSON-line and CSV forms nettop prints,
// depending on the macOS release.
func ParseNettop(out []byte) (model.NetworkReading, error) {
	lines := strings.Split(string(out), "\n")

	for i := len(lines) - 1; i >= 0; i-- {
		ln := strings.TrimSpace(lines[i])
		if strings.HasPrefix(ln, "{") && strings.HasSuffix(ln, "}") {
			return parseNettopJSON(ln)
		}
	}
	return parseNettopCSV(lines)
}

func parseNettopJSON(line string) (model.NetworkReading, error) {
	var j map[string]any
	dec := json.NewDecoder(strings.NewReader(line))
	dec.UseNumber()
	if err := dec.Decode(&j); err != nil {
		return model.NetworkReading{}, fmt.Errorf("%w: nettop json: %w", ErrSourceUnavailable, err)
	}
	pick := func(keys ...string) (int64, bool) {
		for _, k := range keys {
			if v, ok := j[k].(json.Number); ok {
				if n, err := v.Int64(); err == nil {
					return n, true
				}
			}
		}
		return 0, false
	}
	rx, okRx := pick("bytes_in", "rx_bytes", "in_bytes")
	tx, okTx := pick("bytes_out", "tx_bytes", "out_bytes")
	if !okRx || !okTx {
		return model.NetworkReading{}, fmt.Errorf("%w: nettop json without byte counters", ErrSourceUnavailable)
	}
	return model.NetworkReading{RxBytes: rx, TxBytes: tx}, nil
}

func parseNettopCSV(lines []string) (model.NetworkReading, error) {
	inIdx, outIdx := -1, -1
	var r model.NetworkReading
	rows := 0
	for _, ln := range lines {
		ln = strings.TrimSpace(ln)
		if ln == "" {
			continue
		}
		cols := strings.Split(ln, ",")
		if inIdx < 0 {
			for i, c := range cols {
				switch strings.TrimSpace(c) {
				case "bytes_in":
					inIdx = i
				case "bytes_out":
					outIdx = i
				}
			}
			if inIdx < 0 || outIdx < 0 {
				inIdx, outIdx = -1, -1
			}
			continue
		}
		if len(cols) <= max(inIdx, outIdx) {
			continue
		}
		rx, errRx := strconv.ParseInt(strings.TrimSpace(cols[inIdx]), 10, 64)
		tx, errTx := strconv.ParseInt(strings.TrimSpace(cols[outIdx]), 10, 64)
		if errRx != nil || errTx != nil {
			continue
		}
		r.RxBytes += rx
		r.TxBytes += tx
		rows++
	}
	if rows == 0 {
		return model.NetworkReading{}, fmt.Errorf("%w: nettop output has no byte counters", ErrSourceUnavailable)
	}
	return r, nil
}
