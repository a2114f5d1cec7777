package metrics

import "github.com/zhaobenny/clawtop/internal/model"

// Rates holds per-second rates derived from two samples. Nil means undefined.
type Rates struct {
	TokensPerS     *float64
	InTokensPerS   *float64
	OutTokensPerS  *float64
	NetRxBytesPerS *float64
	NetTxBytesPerS *float64
}

// field extracts one cumulative counter from a sample.
type field func(model.Sample) *int64

var (
	fieldTotal  field = func(s model.Sample) *int64 { return s.TotalTokens }
	fieldInput  field = func(s model.Sample) *int64 { return s.InputTokens }
	fieldOutput field = func(s model.Sample) *int64 { return s.OutputTokens }
	fieldRx     field = func(s model.Sample) *int64 { return s.NetRxBytes }
	fieldTx     field = func(s model.Sample) *int64 { return s.NetTxBytes }
)

// DeriveRates computes rates for the step prev -> cur. prev is the most
// recent earlier sample of the same session, or nil when there is none.
// resetBetween reports whether a reset marker lies in (prev, cur].
func DeriveRates(prev *model.Sample, cur model.Sample, resetBetween bool) Rates {
	if prev == nil {
		return Rates{}
	}
	dtSeconds := float64(cur.TimestampMs-prev.TimestampMs) / 1000
	if dtSeconds <= 0 {
		return Rates{}
	}

	rate := func(f field) *float64 {
		a, b := f(*prev), f(cur)
		if a == nil || b == nil {
			return nil
		}
		t := Classify(*a, *b, resetBetween)
		if !t.Countable() {
			return nil
		}
		r := float64(t.Delta) / dtSeconds
		return &r
	}

	return Rates{
		TokensPerS:     rate(fieldTotal),
		InTokensPerS:   rate(fieldInput),
		OutTokensPerS:  rate(fieldOutput),
		NetRxBytesPerS: rate(fieldRx),
		NetTxBytesPerS: rate(fieldTx),
	}
}
