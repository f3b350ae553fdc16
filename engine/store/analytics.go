package store

import (
	"context"
	"database/sql"
	"errors"
)

// GetAnalyticsCache reads a cached JSON blob by key, returning ok=false
// if no entry exists.
func (s *Store) GetAnalyticsCache(ctx context.Context, key string) (value string, computedAt int64, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value, computed_at FROM analytics_cache WHERE key = $1`, key).
		Scan(&value, &computedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, err
	}
	return value, computedAt, true, nil
}

// SetAnalyticsCache overwrites a cache entry with a freshly computed value.
func (s *Store) SetAnalyticsCache(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analytics_cache (key, value, computed_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, computed_at = EXCLUDED.computed_at`,
		key, value, s.now().UnixMilli())
	return err
}
