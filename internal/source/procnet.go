package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/zhaobenny/clawtop/internal/model"
)

// ProcNetDevStrategy reads system-wide totals from /proc/net/dev on Linux.
type ProcNetDevStrategy struct {
	Path string
}

func (s *ProcNetDevStrategy) Name() string { return "procnetdev" }

func (s *ProcNetDevStrategy) Read(ctx context.Context, _ []int) (model.NetworkReading, error) {
	if err := ctx.Err(); err != nil {
		return model.NetworkReading{}, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return model.NetworkReading{}, fmt.Errorf("%w: open %s: %w", ErrSourceUnavailable, s.Path, err)
	}
	defer f.Close()

	return ParseProcNetDev(f)
}

// ParseProcNetDev sums rx/tx bytes of every interface except loopback.
func ParseProcNetDev(r io.Reader) (model.NetworkReading, error) {
	var out model.NetworkReading
	s := bufio.NewScanner(r)
	lineNo := 0
	seen := 0
	for s.Scan() {
		lineNo++
		if lineNo <= 2 {
			continue
		}
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		iface := strings.TrimSpace(parts[0])
		if iface == "lo" || iface == "" {
			continue
		}
		metrics := strings.Fields(strings.TrimSpace(parts[1]))
		if len(metrics) < 16 {
			continue
		}
		rx, rxErr := strconv.ParseInt(metrics[0], 10, 64)
		tx, txErr := strconv.ParseInt(metrics[8], 10, 64)
		if rxErr != nil || txErr != nil {
			continue
		}
		out.RxBytes += rx
		out.TxBytes += tx
		seen++
	}
	if err := s.Err(); err != nil {
		return model.NetworkReading{}, fmt.Errorf("%w: scan /proc/net/dev: %w", ErrSourceUnavailable, err)
	}
	if seen == 0 {
		return model.NetworkReading{}, fmt.Errorf("%w: no interfaces in /proc/net/dev", ErrSourceUnavailable)
	}
	return out, nil
}
