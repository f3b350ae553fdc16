package store

import "context"

// AIEnrichment is one item's classification result, written by Backfill
// Phase B.
type AIEnrichment struct {
	ItemID      int64
	Topic       string
	ContentType string
	Sentiment   float64
}

// ApplyAIEnrichment batch-updates ai_topic/ai_content_type/ai_sentiment
// and stamps ai_analyzed_at for the given subset. Partial subsets (a
// best-effort settler dropped some items) are expected and supported.
func (s *Store) ApplyAIEnrichment(ctx context.Context, items []AIEnrichment) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.now().UnixMilli()
	stmt, err := tx.PrepareContext(ctx, `
		UPDATE items SET ai_topic = $1, ai_content_type = $2, ai_sentiment = $3, ai_analyzed_at = $4
		WHERE id = $5`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, it := range items {
		if _, err := stmt.ExecContext(ctx, it.Topic, it.ContentType, it.Sentiment, now, it.ItemID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// MarkEmbeddingsGenerated stamps embedding_generated_at = now for the
// given ids — the successful subset of Backfill Phase C.
func (s *Store) MarkEmbeddingsGenerated(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE items SET embedding_generated_at = $1 WHERE id = ANY($2)`,
		s.now().UnixMilli(), int64Array(ids))
	return err
}
