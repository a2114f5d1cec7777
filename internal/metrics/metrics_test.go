package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhaobenny/clawtop/internal/model"
)

func tokens(ts, total int64) model.Sample {
	return model.Sample{TimestampMs: ts, TotalTokens: model.Int64(total)}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name         string
		prev, cur    int64
		resetBetween bool
		want         Transition
	}{
		{"increase", 100, 150, false, Transition{Kind: TransitionIncrease, Delta: 50}},
		{"flat", 100, 100, false, Transition{Kind: TransitionIncrease, Delta: 0}},
		{"decrease is anomaly", 100, 40, false, Transition{Kind: TransitionAnomaly, Delta: -60}},
		{"marker wins over decrease", 500, 20, true, Transition{Kind: TransitionReset, Delta: -480}},
		{"marker wins over increase", 10, 20, true, Transition{Kind: TransitionReset, Delta: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.prev, tt.cur, tt.resetBetween)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Kind == TransitionIncrease, got.Countable())
		})
	}
	assert.Equal(t, "anomaly", TransitionAnomaly.String())
}

func TestDeriveRates(t *testing.T) {
	t.Run("steady increase", func(t *testing.T) {
		prev := tokens(0, 100)
		r := DeriveRates(&prev, tokens(1000, 150), false)
		require.NotNil(t, r.TokensPerS)
		assert.Equal(t, 50.0, *r.TokensPerS)
		assert.Nil(t, r.InTokensPerS, "field absent on both sides")
		assert.Nil(t, r.NetRxBytesPerS)
	})

	t.Run("reset between is absent", func(t *testing.T) {
		prev := tokens(0, 500)
		r := DeriveRates(&prev, tokens(1000, 20), true)
		assert.Nil(t, r.TokensPerS)
	})

	t.Run("decrease without marker is absent", func(t *testing.T) {
		prev := tokens(0, 500)
		r := DeriveRates(&prev, tokens(1000, 20), false)
		assert.Nil(t, r.TokensPerS)
	})

	t.Run("no previous sample", func(t *testing.T) {
		assert.Equal(t, Rates{}, DeriveRates(nil, tokens(1000, 20), false))
	})

	t.Run("non-positive dt", func(t *testing.T) {
		prev := tokens(1000, 10)
		assert.Equal(t, Rates{}, DeriveRates(&prev, tokens(1000, 20), false))
	})

	t.Run("missing on one side", func(t *testing.T) {
		prev := model.Sample{TimestampMs: 0, NetRxBytes: model.Int64(10)}
		cur := model.Sample{TimestampMs: 2000, NetRxBytes: model.Int64(30), NetTxBytes: model.Int64(5)}
		r := DeriveRates(&prev, cur, false)
		require.NotNil(t, r.NetRxBytesPerS)
		assert.Equal(t, 10.0, *r.NetRxBytesPerS)
		assert.Nil(t, r.NetTxBytesPerS)
	})
}

func TestParseWindow(t *testing.T) {
	for label, want := range map[string]int64{
		"30m": 30 * 60_000,
		"12h": 12 * 3_600_000,
		"1d":  86_400_000,
		"2w":  14 * 86_400_000,
	} {
		d, err := ParseWindow(label)
		require.NoError(t, err, label)
		assert.Equal(t, want, d.Milliseconds(), label)
	}

	for _, bad := range []string{"", "d", "0d", "1y", "-1d", "1.5h", "1 d"} {
		_, err := ParseWindow(bad)
		assert.ErrorIs(t, err, ErrInvalidWindow, bad)
	}
}

func TestAccumulate(t *testing.T) {
	t.Run("sums increases", func(t *testing.T) {
		samples := []model.Sample{tokens(0, 10), tokens(1, 15), tokens(2, 30)}
		got := Accumulate(samples, nil, fieldTotal)
		require.NotNil(t, got)
		assert.Equal(t, int64(20), *got)
	})

	t.Run("single sample past reset is absent", func(t *testing.T) {
		samples := []model.Sample{tokens(0, 500), tokens(1000, 20)}
		markers := []model.ResetMarker{{Kind: model.ResetDay, TimestampMs: 500}}
		assert.Nil(t, Accumulate(samples, markers, fieldTotal))
	})

	t.Run("reset restarts baseline", func(t *testing.T) {
		samples := []model.Sample{tokens(0, 100), tokens(10, 150), tokens(20, 5), tokens(30, 25)}
		markers := []model.ResetMarker{{TimestampMs: 15}}
		got := Accumulate(samples, markers, fieldTotal)
		require.NotNil(t, got)
		assert.Equal(t, int64(70), *got)
	})

	t.Run("anomaly restarts baseline", func(t *testing.T) {
		samples := []model.Sample{tokens(0, 100), tokens(10, 150), tokens(20, 5), tokens(30, 25)}
		got := Accumulate(samples, nil, fieldTotal)
		require.NotNil(t, got)
		assert.Equal(t, int64(70), *got)
	})

	t.Run("skips samples missing the field", func(t *testing.T) {
		samples := []model.Sample{tokens(0, 100), {TimestampMs: 10}, tokens(20, 130)}
		got := Accumulate(samples, nil, fieldTotal)
		require.NotNil(t, got)
		assert.Equal(t, int64(30), *got)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Nil(t, Accumulate(nil, nil, fieldTotal))
	})
}

func TestAccumulateNeverNegative(t *testing.T) {
	// Deterministic walk with frequent drops
	var samples []model.Sample
	v := int64(1000)
	for i := int64(0); i < 200; i++ {
		switch i % 7 {
		case 3:
			v /= 2
		case 5:
			v = 0
		default:
			v += i * 3
		}
		samples = append(samples, tokens(i*10, v))
	}
	markers := []model.ResetMarker{{TimestampMs: 55}, {TimestampMs: 1001}}

	got := Accumulate(samples, markers, fieldTotal)
	require.NotNil(t, got)
	assert.GreaterOrEqual(t, *got, int64(0))

	// Adding a later increasing sample never lowers the total
	extended := append(append([]model.Sample{}, samples...), tokens(5000, v+100))
	more := Accumulate(extended, markers, fieldTotal)
	require.NotNil(t, more)
	assert.GreaterOrEqual(t, *more, *got)
}

func TestBuildRollup(t *testing.T) {
	a, b := model.String("a"), model.String("b")
	samples := []model.Sample{
		{TimestampMs: 0, SessionKey: a, TotalTokens: model.Int64(100), NetRxBytes: model.Int64(1000)},
		{TimestampMs: 10, SessionKey: b, TotalTokens: model.Int64(5), NetRxBytes: model.Int64(1100)},
		{TimestampMs: 20, SessionKey: a, TotalTokens: model.Int64(130), NetRxBytes: model.Int64(1150)},
		{TimestampMs: 30, SessionKey: b, TotalTokens: model.Int64(25), NetRxBytes: model.Int64(1400)},
	}

	r := BuildRollup("1d", 0, 100, samples, nil)
	assert.Equal(t, "1d", r.WindowLabel)
	assert.Equal(t, int64(0), r.StartTsMs)
	assert.Equal(t, int64(100), r.EndTsMs)

	require.NotNil(t, r.TotalTokens)
	assert.Equal(t, int64(30+20), *r.TotalTokens, "per session, switching sessions is not a step")
	require.NotNil(t, r.NetRxBytes)
	assert.Equal(t, int64(400), *r.NetRxBytes, "network spans sessions")
	assert.Nil(t, r.NetTxBytes)
	assert.Nil(t, r.InputTokens)
}
