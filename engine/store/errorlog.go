package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

const (
	maxErrorMessageLen     = 500
	maxErrorContextLen     = 200
	errorLogRetention      = 7 * 24 * time.Hour
	workerMetricsRetention = 30 * 24 * time.Hour

	stateErrorsTodayUpdatedAt = "errors_today_updated_at_ms"
)

// LogError inserts a truncated error row and maintains the daily
// errors_today counter: incremented if already tracking today, reset to
// 1 if the counter's last update predates the current calendar day's
// start.
func (s *Store) LogError(ctx context.Context, pipeline, message string, errCtx map[string]string) error {
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	truncated := truncate(message, maxErrorMessageLen)
	ctxJSON, _ := json.Marshal(truncateContext(errCtx))

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO error_log (created_at, pipeline, message, context) VALUES ($1, $2, $3, $4)`,
		now.UnixMilli(), pipeline, truncated, string(ctxJSON)); err != nil {
		return err
	}

	if err := bumpDailyErrorCounter(ctx, tx, now); err != nil {
		return err
	}

	return tx.Commit()
}

func bumpDailyErrorCounter(ctx context.Context, tx *sql.Tx, now time.Time) error {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).UnixMilli()

	var updatedAt int64
	err := tx.QueryRowContext(ctx, `SELECT value FROM state WHERE key = $1`, stateErrorsTodayUpdatedAt).Scan(&updatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	var newCount int64 = 1
	if updatedAt >= dayStart {
		var current int64
		err := tx.QueryRowContext(ctx, `SELECT value FROM state WHERE key = $1`, StateErrorsToday).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		newCount = current + 1
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, StateErrorsToday, newCount); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, stateErrorsTodayUpdatedAt, now.UnixMilli())
	return err
}

// CleanupOldLogs purges error_log rows older than 7 days and
// worker_metrics rows older than 30 days, run on the long-period tick.
func (s *Store) CleanupOldLogs(ctx context.Context) error {
	now := s.now()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM error_log WHERE created_at < $1`,
		now.Add(-errorLogRetention).UnixMilli()); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM worker_metrics WHERE created_at < $1`,
		now.Add(-workerMetricsRetention).UnixMilli())
	return err
}

// truncate clips a string to n bytes — error messages are
// operational/ASCII-heavy so a byte clip is an adequate approximation
// of a character clip.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func truncateContext(ctx map[string]string) map[string]string {
	out := make(map[string]string, len(ctx))
	for k, v := range ctx {
		out[k] = truncate(v, maxErrorContextLen)
	}
	return out
}
