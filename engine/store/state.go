package store

import (
	"context"
	"database/sql"
	"errors"
)

// State keys used for pipeline coordination.
const (
	StateMaxItemIDSeen    = "max_item_id_seen"
	StateLastUpdatesCheck = "last_updates_check"
	StateLastDiscoveryRun = "last_discovery_run"
	StateLastBackfillRun  = "last_backfill_run"
	StateItemsArchivedToday = "items_archived_today"
	StateErrorsToday      = "errors_today"
)

// GetState reads a coordination key, returning 0 if absent.
func (s *Store) GetState(ctx context.Context, key string) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return value, nil
}

// SetState upserts a coordination key.
func (s *Store) SetState(ctx context.Context, key string, value int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	return err
}
