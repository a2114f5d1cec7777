package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/zhaobenny/clawtop/internal/model"
)

// UsageSource reports token and context usage of the active session.
type UsageSource interface {
	ReadUsage(ctx context.Context) (model.UsageReading, error)
}

// rawStatus is the part of `openclaw status --json` we use
type rawStatus struct {
	Sessions struct {
		Recent []rawSession `json:"recent"`
	} `json:"sessions"`
}

type rawSession struct {
	Key             string       `json:"key"`
	Model           string       `json:"model"`
	UpdatedAt       float64      `json:"updatedAt"`
	InputTokens     *json.Number `json:"inputTokens"`
	OutputTokens    *json.Number `json:"outputTokens"`
	TotalTokens     *json.Number `json:"totalTokens"`
	RemainingTokens *json.Number `json:"remainingTokens"`
	ContextTokens   *json.Number `json:"contextTokens"`
	PercentUsed     *json.Number `json:"percentUsed"`
}

// StatusSource reads usage from `openclaw status --json`.
type StatusSource struct {
	Bin     string
	Timeout time.Duration

	run Runner
}

// NewStatusSource creates a status source for the given openclaw binary.
func NewStatusSource(bin string, timeout time.Duration) *StatusSource {
	return &StatusSource{Bin: bin, Timeout: timeout, run: ExecRunner}
}

// WithRunner replaces the command runner. Used by tests.
func (s *StatusSource) WithRunner(run Runner) *StatusSource {
	s.run = run
	return s
}

// ReadUsage runs the status command and parses the primary session.
func (s *StatusSource) ReadUsage(ctx context.Context) (model.UsageReading, error) {
	out, err := runWithTimeout(ctx, s.run, s.Timeout, s.Bin, "status", "--json")
	if err != nil {
		return model.UsageReading{}, err
	}
	return ParseStatus(out)
}

// ParseStatus extracts the most recently updated session from status JSON.
// A status without recent sessions yields an empty reading.
func ParseStatus(data []byte) (model.UsageReading, error) {
	var raw rawStatus
	if err := json.Unmarshal(data, &raw); err != nil {
		return model.UsageReading{}, fmt.Errorf("%w: parse status: %w", ErrSourceUnavailable, err)
	}

	recent := raw.Sessions.Recent
	if len(recent) == 0 {
		return model.UsageReading{}, nil
	}
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].UpdatedAt > recent[j].UpdatedAt
	})
	s := recent[0]

	return model.UsageReading{
		SessionKey:      optString(s.Key),
		Model:           optString(s.Model),
		InputTokens:     optNumber(s.InputTokens),
		OutputTokens:    optNumber(s.OutputTokens),
		TotalTokens:     optNumber(s.TotalTokens),
		RemainingTokens: optNumber(s.RemainingTokens),
		ContextTokens:   optNumber(s.ContextTokens),
		PercentUsed:     optNumber(s.PercentUsed),
	}, nil
}

// SanitizeUsage drops fields that fail basic sanity checks. The returned
// error wraps ErrInvalidReading and names the dropped fields.
func SanitizeUsage(r model.UsageReading) (model.UsageReading, error) {
	var dropped []string
	check := func(name string, v **int64) {
		if *v != nil && **v < 0 {
			dropped = append(dropped, name)
			*v = nil
		}
	}
	check("inputTokens", &r.InputTokens)
	check("outputTokens", &r.OutputTokens)
	check("totalTokens", &r.TotalTokens)
	check("remainingTokens", &r.RemainingTokens)
	check("contextTokens", &r.ContextTokens)
	check("percentUsed", &r.PercentUsed)

	if len(dropped) > 0 {
		return r, fmt.Errorf("%w: negative %s", ErrInvalidReading, strings.Join(dropped, ", "))
	}
	return r, nil
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optNumber(n *json.Number) *int64 {
	if n == nil {
		return nil
	}
	if v, err := n.Int64(); err == nil {
		return &v
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	v := int64(math.Round(f))
	return &v
}

// IsUnavailable reports whether err means a source produced no reading.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrSourceUnavailable)
}
