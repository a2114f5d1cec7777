package model

// Sample is one point-in-time observation of the monitored assistant.
// Nil pointer fields mean "unknown at this tick", never zero.
type Sample struct {
	TimestampMs int64   `json:"tsMs"`
	SessionKey  *string `json:"sessionKey"`
	Model       *string `json:"model"`

	InputTokens     *int64 `json:"inputTokens"`
	OutputTokens    *int64 `json:"outputTokens"`
	TotalTokens     *int64 `json:"totalTokens"`
	RemainingTokens *int64 `json:"remainingTokens"`
	ContextTokens   *int64 `json:"contextTokens"`
	PercentUsed     *int64 `json:"percentUsed"`

	// Cumulative byte counters attributed to the monitored processes
	NetRxBytes *int64 `json:"netRxBytes"`
	NetTxBytes *int64 `json:"netTxBytes"`
}

// SameSession reports whether two samples belong to the same logical session.
// Two nil keys are the same ("no active session").
func (s Sample) SameSession(other Sample) bool {
	return SameKey(s.SessionKey, other.SessionKey)
}

// SameKey compares optional session keys, treating nil as a distinct value.
func SameKey(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// NormalizeKey maps an empty session key to nil.
func NormalizeKey(key *string) *string {
	if key == nil || *key == "" {
		return nil
	}
	return key
}

// UsageReading is what the usage-status source reports for one tick.
type UsageReading struct {
	SessionKey      *string
	Model           *string
	InputTokens     *int64
	OutputTokens    *int64
	TotalTokens     *int64
	RemainingTokens *int64
	ContextTokens   *int64
	PercentUsed     *int64
}

// NetworkReading holds cumulative rx/tx byte totals.
type NetworkReading struct {
	RxBytes int64
	TxBytes int64
}

// ResetKind names the scope of an intentional counter reset.
type ResetKind string

const (
	ResetSession ResetKind = "session"
	ResetDay     ResetKind = "day"
	Reset3Day    ResetKind = "3day"
	Reset7Day    ResetKind = "7day"
	ResetCustom  ResetKind = "custom"
)

// Valid reports whether k is one of the known reset kinds.
func (k ResetKind) Valid() bool {
	switch k {
	case ResetSession, ResetDay, Reset3Day, Reset7Day, ResetCustom:
		return true
	}
	return false
}

// ResetMarker records that cumulative counters were intentionally zeroed.
type ResetMarker struct {
	ID          int64     `json:"id"`
	Kind        ResetKind `json:"kind"`
	TimestampMs int64     `json:"tsMs"`
}

// Rollup is the aggregate delta over a time window. Computed on demand.
type Rollup struct {
	WindowLabel string `json:"windowLabel"`
	StartTsMs   int64  `json:"startTsMs"`
	EndTsMs     int64  `json:"endTsMs"`

	InputTokens  *int64 `json:"inputTokens"`
	OutputTokens *int64 `json:"outputTokens"`
	TotalTokens  *int64 `json:"totalTokens"`

	NetRxBytes *int64 `json:"netRxBytes"`
	NetTxBytes *int64 `json:"netTxBytes"`
}

// LiveMetrics is the latest sample plus rates derived against its predecessor.
type LiveMetrics struct {
	Sample

	TokensPerS    *float64 `json:"tokensPerS"`
	InTokensPerS  *float64 `json:"inTokensPerS"`
	OutTokensPerS *float64 `json:"outTokensPerS"`

	NetRxBytesPerS *float64 `json:"netRxBytesPerS"`
	NetTxBytesPerS *float64 `json:"netTxBytesPerS"`
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// String returns a pointer to v.
func String(v string) *string { return &v }
