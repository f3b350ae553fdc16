package store

import (
	"context"
	"time"

	"github.com/philippdubach/hn-archiver-go/engine/domain"
)

// Stale-scan defaults per the Store contract.
const (
	DefaultStaleMinScore       = 50
	DefaultStaleMinDescendants = 20
	DefaultStaleThreshold      = 24 * time.Hour
	DefaultStaleLimit          = 100

	// recentlyUpdatedChunkSize bounds the IN-predicate size per statement.
	recentlyUpdatedChunkSize = 50

	DefaultRecentWindow = 5 * time.Minute
)

// StaleScan returns ids last updated before the threshold, not deleted,
// and either above the score or descendants floor — ordered by
// descendants desc, score desc, oldest-updated first.
func (s *Store) StaleScan(ctx context.Context, threshold time.Duration, limit int) ([]int64, error) {
	cutoff := s.now().Add(-threshold).UnixMilli()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM items
		WHERE last_updated_at < $1
		  AND deleted = FALSE
		  AND (score > $2 OR descendants > $3)
		ORDER BY descendants DESC NULLS LAST, score DESC NULLS LAST, last_updated_at ASC
		LIMIT $4`,
		cutoff, DefaultStaleMinScore, DefaultStaleMinDescendants, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecentlyUpdated returns the subset of candidate ids whose
// last_updated_at falls within the window, chunking the IN-predicate to
// respect the storage engine's parameter cap.
func (s *Store) RecentlyUpdated(ctx context.Context, ids []int64, window time.Duration) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	chunks, err := domain.ChunkStrict(ids, recentlyUpdatedChunkSize)
	if err != nil {
		return nil, err
	}

	cutoff := s.now().Add(-window).UnixMilli()
	var out []int64

	for _, chunk := range chunks {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id FROM items WHERE id = ANY($1) AND last_updated_at >= $2`,
			int64Array(chunk), cutoff)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	return out, nil
}

// FetchStoryForEnrichment returns up to limit stories with
// ai_analyzed_at IS NULL, a non-empty title, not deleted, kind = story,
// most-recently-first-seen first — the Backfill Phase B candidate set.
func (s *Store) FetchStoryForEnrichment(ctx context.Context, limit int) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, deleted, dead, title, url, text, author, created_at,
		       score, descendants, parent, child_ids,
		       first_seen_at, last_updated_at, last_changed_at, update_count,
		       ai_topic, ai_content_type, ai_sentiment, ai_analyzed_at, embedding_generated_at
		FROM items
		WHERE ai_analyzed_at IS NULL AND title <> '' AND deleted = FALSE AND kind = 'story'
		ORDER BY first_seen_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

// FetchPendingEmbeddings returns up to limit rows with
// ai_analyzed_at IS NOT NULL and embedding_generated_at IS NULL — the
// Backfill Phase C candidate set.
func (s *Store) FetchPendingEmbeddings(ctx context.Context, limit int) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, deleted, dead, title, url, text, author, created_at,
		       score, descendants, parent, child_ids,
		       first_seen_at, last_updated_at, last_changed_at, update_count,
		       ai_topic, ai_content_type, ai_sentiment, ai_analyzed_at, embedding_generated_at
		FROM items
		WHERE ai_analyzed_at IS NOT NULL AND embedding_generated_at IS NULL
		ORDER BY first_seen_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}
