package store

import (
	"context"

	"github.com/philippdubach/hn-archiver-go/engine/domain"
)

// RecordMetrics inserts one worker_metrics row for a completed pipeline
// execution.
func (s *Store) RecordMetrics(ctx context.Context, pipeline string, result domain.PipelineResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_metrics
			(created_at, pipeline, items_processed, items_changed, snapshots_created, duration_ms, errors)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.now().UnixMilli(), pipeline,
		result.ItemsProcessed, result.ItemsChanged, result.SnapshotsCreated, result.DurationMS, result.Errors)
	return err
}
