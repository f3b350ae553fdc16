package store

import (
	"context"

	"github.com/philippdubach/hn-archiver-go/engine/domain"
)

// GetItemsByIDs fetches item rows for the given ids, in no particular
// order — the Similarity service's read path for resolving vector-search
// hits back to full item summaries.
func (s *Store) GetItemsByIDs(ctx context.Context, ids []int64) ([]domain.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, deleted, dead, title, url, text, author, created_at,
		       score, descendants, parent, child_ids,
		       first_seen_at, last_updated_at, last_changed_at, update_count,
		       ai_topic, ai_content_type, ai_sentiment, ai_analyzed_at, embedding_generated_at
		FROM items WHERE id = ANY($1)`, int64Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}
