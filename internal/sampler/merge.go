package sampler

import "github.com/zhaobenny/clawtop/internal/model"

// Merge combines the readings of one tick into a sample. A nil reading means
// the source was unavailable; its fields stay absent.
func Merge(ts int64, usage *model.UsageReading, network *model.NetworkReading) model.Sample {
	s := model.Sample{TimestampMs: ts}
	if usage != nil {
		s.SessionKey = model.NormalizeKey(usage.SessionKey)
		s.Model = usage.Model
		s.InputTokens = usage.InputTokens
		s.OutputTokens = usage.OutputTokens
		s.TotalTokens = usage.TotalTokens
		s.RemainingTokens = usage.RemainingTokens
		s.ContextTokens = usage.ContextTokens
		s.PercentUsed = usage.PercentUsed
	}
	if network != nil {
		s.NetRxBytes = model.Int64(network.RxBytes)
		s.NetTxBytes = model.Int64(network.TxBytes)
	}
	return s
}
