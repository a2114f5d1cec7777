package source

import (
	"context"
	"regexp"
	"strconv"
	"sync"
	"time"
)

var pidRe = regexp.MustCompile(`\(pid\s+(\d+)\)`)

// PIDResolver finds the processes whose traffic is attributed to the
// assistant: the openclaw gateway and its browser profile. Results are
// cached for Refresh so the status commands do not run every tick.
type PIDResolver struct {
	Bin     string
	Profile string
	Refresh time.Duration
	Timeout time.Duration

	run Runner
	now func() time.Time

	mu      sync.Mutex
	pids    []int
	fetched time.Time
}

// NewPIDResolver creates a resolver refreshing every 30 seconds.
func NewPIDResolver(bin, profile string) *PIDResolver {
	return &PIDResolver{
		Bin:     bin,
		Profile: profile,
		Refresh: 30 * time.Second,
		Timeout: 10 * time.Second,
		run:     ExecRunner,
		now:     time.Now,
	}
}

// WithRunner replaces the command runner. Used by tests.
func (r *PIDResolver) WithRunner(run Runner) *PIDResolver {
	r.run = run
	return r
}

// PIDs returns the known process ids, possibly empty. Lookup failures are
// not errors: a missing process simply contributes no pid.
func (r *PIDResolver) PIDs(ctx context.Context) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.fetched.IsZero() && r.now().Sub(r.fetched) < r.Refresh {
		return append([]int(nil), r.pids...)
	}

	var pids []int
	if pid, ok := r.lookup(ctx, "gateway", "status"); ok {
		pids = append(pids, pid)
	}
	if pid, ok := r.lookup(ctx, "browser", "status", "--browser-profile", r.Profile); ok {
		pids = append(pids, pid)
	}
	r.pids = pids
	r.fetched = r.now()
	return append([]int(nil), pids...)
}

func (r *PIDResolver) lookup(ctx context.Context, args ...string) (int, bool) {
	out, err := runWithTimeout(ctx, r.run, r.Timeout, r.Bin, args...)
	if err != nil {
		return 0, false
	}
	return ParsePID(string(out))
}

// ParsePID extracts N from a "(pid N)" fragment such as
// "Runtime: running (pid 4242)".
func ParsePID(s string) (int, bool) {
	m := pidRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	pid, err := strconv.Atoi(m[1])
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
