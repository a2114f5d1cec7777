package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/zhaobenny/clawtop/internal/model"
)

// Scope selects which sessions a query considers.
type Scope struct {
	all bool
	key *string
}

// AllSessions matches samples of every session, including the nil session.
func AllSessions() Scope {
	return Scope{all: true}
}

// Session matches samples of exactly one session key. A nil key selects
// samples recorded while no session was active.
func Session(key *string) Scope {
	return Scope{key: model.NormalizeKey(key)}
}

// All reports whether the scope spans every session.
func (s Scope) All() bool { return s.all }

// Key returns the selected session key, nil for the nil session.
func (s Scope) Key() *string { return s.key }

const sampleColumns = `ts_ms, session_key, model,
	input_tokens, output_tokens, total_tokens, remaining_tokens,
	context_tokens, percent_used,
	net_rx_bytes, net_tx_bytes`

// AppendSample durably writes one sample. A sample whose identity
// (timestamp, session key) already exists is ignored, so retries are
// idempotent. inserted reports whether a new row was written.
func (s *Store) AppendSample(ctx context.Context, sm model.Sample) (inserted bool, err error) {
	key := model.NormalizeKey(sm.SessionKey)
	err = s.withRetry(ctx, "append sample", func() error {
		result, err := s.ExecContext(ctx, `
			INSERT OR IGNORE INTO samples (`+sampleColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			sm.TimestampMs, nullString(key), nullString(sm.Model),
			nullInt(sm.InputTokens), nullInt(sm.OutputTokens), nullInt(sm.TotalTokens), nullInt(sm.RemainingTokens),
			nullInt(sm.ContextTokens), nullInt(sm.PercentUsed),
			nullInt(sm.NetRxBytes), nullInt(sm.NetTxBytes),
		)
		if err != nil {
			return err
		}
		n, _ := result.RowsAffected()
		inserted = n > 0
		return nil
	})
	return inserted, err
}

// RangeQuery returns the samples in [fromTs, toTs) ordered by timestamp.
func (s *Store) RangeQuery(ctx context.Context, scope Scope, fromTs, toTs int64) ([]model.Sample, error) {
	return s.snapshot().RangeQuery(ctx, scope, fromTs, toTs)
}

// RangeQuery returns the samples in [fromTs, toTs) ordered by timestamp.
func (sn *Snapshot) RangeQuery(ctx context.Context, scope Scope, fromTs, toTs int64) ([]model.Sample, error) {
	query := `SELECT ` + sampleColumns + ` FROM samples WHERE ts_ms >= ? AND ts_ms < ?`
	args := []any{fromTs, toTs}
	if !scope.All() {
		query += ` AND session_key IS ?`
		args = append(args, nullString(scope.Key()))
	}
	query += ` ORDER BY ts_ms ASC, IFNULL(session_key, '') ASC`

	rows, err := sn.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: range query: %w", ErrStoreRead, err)
	}
	defer rows.Close()

	var samples []model.Sample
	for rows.Next() {
		sm, err := scanSample(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan sample: %w", ErrStoreRead, err)
		}
		samples = append(samples, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: range query: %w", ErrStoreRead, err)
	}
	return samples, nil
}

// LatestSample returns the most recent sample in scope, or ErrNotFound.
func (s *Store) LatestSample(ctx context.Context, scope Scope) (model.Sample, error) {
	return s.snapshot().LatestSample(ctx, scope)
}

// LatestSample returns the most recent sample in scope, or ErrNotFound.
func (sn *Snapshot) LatestSample(ctx context.Context, scope Scope) (model.Sample, error) {
	query := `SELECT ` + sampleColumns + ` FROM samples`
	var args []any
	if !scope.All() {
		query += ` WHERE session_key IS ?`
		args = append(args, nullString(scope.Key()))
	}
	query += ` ORDER BY ts_ms DESC, IFNULL(session_key, '') DESC LIMIT 1`

	return sn.queryOne(ctx, "latest sample", query, args...)
}

// LatestBefore returns the newest sample of the given session strictly older
// than ts, or ErrNotFound.
func (s *Store) LatestBefore(ctx context.Context, sessionKey *string, ts int64) (model.Sample, error) {
	return s.snapshot().LatestBefore(ctx, sessionKey, ts)
}

// LatestBefore returns the newest sample of the given session strictly older
// than ts, or ErrNotFound.
func (sn *Snapshot) LatestBefore(ctx context.Context, sessionKey *string, ts int64) (model.Sample, error) {
	return sn.queryOne(ctx, "previous sample", `
		SELECT `+sampleColumns+` FROM samples
		WHERE session_key IS ? AND ts_ms < ?
		ORDER BY ts_ms DESC
		LIMIT 1
	`, nullString(model.NormalizeKey(sessionKey)), ts)
}

func (sn *Snapshot) queryOne(ctx context.Context, op, query string, args ...any) (model.Sample, error) {
	sm, err := scanSample(sn.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Sample{}, ErrNotFound
	}
	if err != nil {
		return model.Sample{}, fmt.Errorf("%w: %s: %w", ErrStoreRead, op, err)
	}
	return sm, nil
}

// PruneOlderThan deletes samples with a timestamp strictly before cutoff.
func (s *Store) PruneOlderThan(ctx context.Context, cutoffTs int64) (int64, error) {
	var deleted int64
	err := s.withRetry(ctx, "prune samples", func() error {
		result, err := s.ExecContext(ctx, `DELETE FROM samples WHERE ts_ms < ?`, cutoffTs)
		if err != nil {
			return err
		}
		deleted, _ = result.RowsAffected()
		return nil
	})
	return deleted, err
}

// CountSamples returns the number of stored samples.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	var n int64
	if err := s.QueryRowContext(ctx, `SELECT COUNT(*) FROM samples`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count samples: %w", ErrStoreRead, err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSample(r rowScanner) (model.Sample, error) {
	var sm model.Sample
	var key, mdl sql.NullString
	var in, out, total, remaining, ctxToks, pct, rx, tx sql.NullInt64
	if err := r.Scan(&sm.TimestampMs, &key, &mdl,
		&in, &out, &total, &remaining,
		&ctxToks, &pct,
		&rx, &tx,
	); err != nil {
		return model.Sample{}, err
	}

	sm.SessionKey = ptrString(key)
	sm.Model = ptrString(mdl)
	sm.InputTokens = ptrInt(in)
	sm.OutputTokens = ptrInt(out)
	sm.TotalTokens = ptrInt(total)
	sm.RemainingTokens = ptrInt(remaining)
	sm.ContextTokens = ptrInt(ctxToks)
	sm.PercentUsed = ptrInt(pct)
	sm.NetRxBytes = ptrInt(rx)
	sm.NetTxBytes = ptrInt(tx)
	return sm, nil
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func ptrString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func ptrInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
