// Package metrics derives rates and windowed rollups from stored samples.
package metrics

// TransitionKind classifies the step between two readings of a cumulative counter.
type TransitionKind int

const (
	// TransitionIncrease is a normal step: the counter grew or stayed flat.
	TransitionIncrease TransitionKind = iota
	// TransitionReset crosses a recorded reset marker. The step cannot be rated.
	TransitionReset
	// TransitionAnomaly is a decrease with no marker to explain it.
	TransitionAnomaly
)

func (k TransitionKind) String() string {
	switch k {
	case TransitionIncrease:
		return "increase"
	case TransitionReset:
		return "reset"
	case TransitionAnomaly:
		return "anomaly"
	}
	return "unknown"
}

// Transition is the outcome of Classify.
type Transition struct {
	Kind  TransitionKind
	Delta int64
}

// Countable reports whether the delta may be added to a rate or rollup.
func (t Transition) Countable() bool {
	return t.Kind == TransitionIncrease
}

// Classify decides how the step prev -> cur of a cumulative counter is
// treated. resetBetween reports whether a reset marker falls inside the
// interval between the two readings. Rates and rollups both go through here.
func Classify(prev, cur int64, resetBetween bool) Transition {
	delta := cur - prev
	switch {
	case resetBetween:
		return Transition{Kind: TransitionReset, Delta: delta}
	case delta < 0:
		return Transition{Kind: TransitionAnomaly, Delta: delta}
	default:
		return Transition{Kind: TransitionIncrease, Delta: delta}
	}
}
