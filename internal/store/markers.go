package store

import (
	"context"
	"fmt"

	"github.com/zhaobenny/clawtop/internal/model"
)

// AddResetMarker records an intentional counter reset at ts.
func (s *Store) AddResetMarker(ctx context.Context, kind model.ResetKind, ts int64) (model.ResetMarker, error) {
	if !kind.Valid() {
		return model.ResetMarker{}, fmt.Errorf("%w: %q", ErrInvalidResetKind, kind)
	}

	var id int64
	err := s.withRetry(ctx, "add reset marker", func() error {
		result, err := s.ExecContext(ctx, `INSERT INTO reset_markers (kind, ts_ms) VALUES (?, ?)`, string(kind), ts)
		if err != nil {
			return err
		}
		id, err = result.LastInsertId()
		return err
	})
	if err != nil {
		return model.ResetMarker{}, err
	}
	return model.ResetMarker{ID: id, Kind: kind, TimestampMs: ts}, nil
}

// ResetMarkersBetween returns markers with after < ts_ms <= upTo, oldest first.
func (s *Store) ResetMarkersBetween(ctx context.Context, after, upTo int64) ([]model.ResetMarker, error) {
	return s.snapshot().ResetMarkersBetween(ctx, after, upTo)
}

// ResetMarkersBetween returns markers with after < ts_ms <= upTo, oldest first.
func (sn *Snapshot) ResetMarkersBetween(ctx context.Context, after, upTo int64) ([]model.ResetMarker, error) {
	return sn.queryMarkers(ctx, `
		SELECT id, kind, ts_ms FROM reset_markers
		WHERE ts_ms > ? AND ts_ms <= ?
		ORDER BY ts_ms ASC, id ASC
	`, after, upTo)
}

// ListResetMarkers returns the newest markers first, at most limit of them.
func (s *Store) ListResetMarkers(ctx context.Context, limit int) ([]model.ResetMarker, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.snapshot().queryMarkers(ctx, `
		SELECT id, kind, ts_ms FROM reset_markers
		ORDER BY ts_ms DESC, id DESC
		LIMIT ?
	`, limit)
}

func (sn *Snapshot) queryMarkers(ctx context.Context, query string, args ...any) ([]model.ResetMarker, error) {
	rows, err := sn.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: reset markers: %w", ErrStoreRead, err)
	}
	defer rows.Close()

	var markers []model.ResetMarker
	for rows.Next() {
		var m model.ResetMarker
		var kind string
		if err := rows.Scan(&m.ID, &kind, &m.TimestampMs); err != nil {
			return nil, fmt.Errorf("%w: scan reset marker: %w", ErrStoreRead, err)
		}
		m.Kind = model.ResetKind(kind)
		markers = append(markers, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reset markers: %w", ErrStoreRead, err)
	}
	return markers, nil
}
