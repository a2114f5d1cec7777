package metrics

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zhaobenny/clawtop/internal/model"
)

var (
	ErrInvalidWindow = errors.New("invalid window label")
	ErrNoSamples     = errors.New("no samples recorded")
)

// DefaultWindows are the rollup windows shown when none are requested.
var DefaultWindows = []string{"1d", "3d", "7d"}

var windowRe = regexp.MustCompile(`^(\d+)([mhdw])$`)

// ParseWindow maps a label such as "1d", "12h" or "2w" to its duration.
func ParseWindow(label string) (time.Duration, error) {
	m := windowRe.FindStringSubmatch(strings.TrimSpace(strings.ToLower(label)))
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWindow, label)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWindow, label)
	}

	unit := time.Minute
	switch m[2] {
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	case "w":
		unit = 7 * 24 * time.Hour
	}
	return time.Duration(n) * unit, nil
}

// markerIndex answers "is there a reset marker in (a, b]" over sorted markers.
type markerIndex []int64

func newMarkerIndex(markers []model.ResetMarker) markerIndex {
	idx := make(markerIndex, 0, len(markers))
	for _, m := range markers {
		idx = append(idx, m.TimestampMs)
	}
	sort.Slice(idx, func(i, j int) bool { return idx[i] < idx[j] })
	return idx
}

func (idx markerIndex) between(after, upTo int64) bool {
	i := sort.Search(len(idx), func(i int) bool { return idx[i] > after })
	return i < len(idx) && idx[i] <= upTo
}

// Accumulate sums the countable deltas of one cumulative field over samples
// ordered by timestamp. Samples missing the field are skipped. Reset and
// anomaly steps contribute nothing and the next segment starts from the
// reading after them. The result is nil when no step could be counted.
func Accumulate(samples []model.Sample, markers []model.ResetMarker, f func(model.Sample) *int64) *int64 {
	return accumulate(samples, newMarkerIndex(markers), f)
}

func accumulate(samples []model.Sample, idx markerIndex, f func(model.Sample) *int64) *int64 {
	var (
		sum     int64
		counted bool
		prev    *model.Sample
	)
	for i := range samples {
		cur := &samples[i]
		if f(*cur) == nil {
			continue
		}
		if prev != nil {
			t := Classify(*f(*prev), *f(*cur), idx.between(prev.TimestampMs, cur.TimestampMs))
			if t.Countable() {
				sum += t.Delta
				counted = true
			}
		}
		prev = cur
	}
	if !counted {
		return nil
	}
	return &sum
}

// accumulateBySession runs accumulate per session key and adds the results.
// Token counters belong to a session, so switching sessions is not a step.
func accumulateBySession(samples []model.Sample, idx markerIndex, f func(model.Sample) *int64) *int64 {
	var order []string
	groups := make(map[string][]model.Sample)
	for _, s := range samples {
		k := sessionGroup(s.SessionKey)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], s)
	}

	var total *int64
	for _, k := range order {
		v := accumulate(groups[k], idx, f)
		if v == nil {
			continue
		}
		if total == nil {
			total = new(int64)
		}
		*total += *v
	}
	return total
}

func sessionGroup(key *string) string {
	if key == nil {
		return "\x00"
	}
	return "k:" + *key
}

// BuildRollup aggregates the samples of one window. Samples must be ordered
// by timestamp. Token fields are summed per session; network counters are
// process-wide and are accumulated across sessions.
func BuildRollup(label string, start, end int64, samples []model.Sample, markers []model.ResetMarker) model.Rollup {
	idx := newMarkerIndex(markers)
	return model.Rollup{
		WindowLabel:  label,
		StartTsMs:    start,
		EndTsMs:      end,
		InputTokens:  accumulateBySession(samples, idx, fieldInput),
		OutputTokens: accumulateBySession(samples, idx, fieldOutput),
		TotalTokens:  accumulateBySession(samples, idx, fieldTotal),
		NetRxBytes:   accumulate(samples, idx, fieldRx),
		NetTxBytes:   accumulate(samples, idx, fieldTx),
	}
}
