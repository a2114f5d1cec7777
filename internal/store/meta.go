package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Well-known metadata keys.
const (
	MetaSchemaVersion  = "schema_version"
	MetaLastPrune      = "last_prune_ms"
	MetaLastSample     = "last_sample_ms"
	MetaSamplerStarted = "sampler_started_ms"
)

// GetMeta returns the value stored under key, or ErrNotFound.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: get meta %q: %w", ErrStoreRead, key, err)
	}
	return value, nil
}

// SetMeta stores value under key, replacing any previous value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	return s.withRetry(ctx, "set meta "+key, func() error {
		_, err := s.ExecContext(ctx, `
			INSERT INTO meta (key, value, updated_ms) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				updated_ms = excluded.updated_ms
		`, key, value, time.Now().UnixMilli())
		return err
	})
}

// AllMeta returns every metadata entry.
func (s *Store) AllMeta(ctx context.Context) (map[string]string, error) {
	rows, err := s.QueryContext(ctx, `SELECT key, value FROM meta ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("%w: list meta: %w", ErrStoreRead, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("%w: scan meta: %w", ErrStoreRead, err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list meta: %w", ErrStoreRead, err)
	}
	return out, nil
}
