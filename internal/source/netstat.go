package source

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/zhaobenny/clawtop/internal/model"
)

// NetstatStrategy reports system-wide totals from `netstat -ib`. It ignores
// pids, which makes it the coarse fallback when per-process data is missing.
type NetstatStrategy struct {
	Paths []string

	run Runner
}

func (s *NetstatStrategy) Name() string { return "netstat" }

func (s *NetstatStrategy) Read(ctx context.Context, _ []int) (model.NetworkReading, error) {
	run := s.run
	if run == nil {
		run = ExecRunner
	}

	var errs []error
	for _, path := range s.Paths {
		out, err := run(ctx, path, "-ib")
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return ParseNetstat(out)
	}
	return model.NetworkReading{}, fmt.Errorf("%w: %w", ErrSourceUnavailable, errors.Join(errs...))
}

// ParseNetstat sums Ibytes/Obytes of en* and bridge* interfaces. Column
// positions are taken from the header line. netstat repeats an interface
// once per address with the same counters, so only its first row counts.
func ParseNetstat(out []byte) (model.NetworkReading, error) {
	var r model.NetworkReading
	ibytes, obytes := -1, -1
	counted := make(map[string]bool)

	for _, ln := range strings.Split(string(out), "\n") {
		trimmed := strings.TrimSpace(ln)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "Name") {
			ibytes, obytes = -1, -1
			for i, col := range strings.Fields(trimmed) {
				switch col {
				case "Ibytes":
					ibytes = i
				case "Obytes":
					obytes = i
				}
			}
			continue
		}
		if ibytes < 0 || obytes < 0 {
			continue
		}

		parts := strings.Fields(trimmed)
		if len(parts) <= max(ibytes, obytes) {
			continue
		}
		name := parts[0]
		if !strings.HasPrefix(name, "en") && !strings.HasPrefix(name, "bridge") || counted[name] {
			continue
		}
		in, errIn := strconv.ParseInt(parts[ibytes], 10, 64)
		outb, errOut := strconv.ParseInt(parts[obytes], 10, 64)
		if errIn != nil || errOut != nil {
			continue
		}
		r.RxBytes += in
		r.TxBytes += outb
		counted[name] = true
	}

	if r.RxBytes == 0 && r.TxBytes == 0 {
		return model.NetworkReading{}, fmt.Errorf("%w: netstat reported no interface traffic", ErrSourceUnavailable)
	}
	return r, nil
}
