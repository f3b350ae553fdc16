package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/philippdubach/hn-archiver-go/engine/domain"
	"github.com/philippdubach/hn-archiver-go/engine/snapshot"
)

// UpsertItems applies the batch upsert/change-detection algorithm for one
// enriched batch inside a single transaction: if anything fails, no item
// in the batch is written. The decided snapshots are returned, not
// persisted — insertion is a separate step (InsertSnapshots) so callers
// can filter the list first, the way Backfill's stale-refresh phase
// keeps only score_spike snapshots.
func (s *Store) UpsertItems(ctx context.Context, items []domain.EnrichedItem) (domain.UpsertResult, error) {
	if len(items) == 0 {
		return domain.UpsertResult{}, nil
	}

	now := s.now().UnixMilli()

	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.UpsertResult{}, fmt.Errorf("begin upsert tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	old, err := fetchExisting(ctx, tx, ids)
	if err != nil {
		return domain.UpsertResult{}, fmt.Errorf("fetch existing items: %w", err)
	}

	var result domain.UpsertResult
	rows := make([]upsertRow, 0, len(items))

	for _, enriched := range items {
		prior := old[enriched.ID]
		row, changed, updateCount := buildRow(prior, enriched, now)
		rows = append(rows, row)
		result.Processed++
		if changed {
			result.Changed++
		}

		var priorPtr *domain.Item
		if prior != nil {
			priorPtr = prior
		}
		decision := snapshot.Decide(priorPtr, enriched, updateCount, changed)
		if decision.Emit {
			result.Snapshots = append(result.Snapshots, domain.Snapshot{
				ItemID:      enriched.ID,
				CapturedAt:  now,
				Score:       enriched.Score,
				Descendants: enriched.Descendants,
				Reason:      decision.Reason,
			})
		}
	}

	if err := upsertRows(ctx, tx, rows); err != nil {
		return domain.UpsertResult{}, fmt.Errorf("upsert items: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.UpsertResult{}, fmt.Errorf("commit upsert tx: %w", err)
	}

	return result, nil
}

func fetchExisting(ctx context.Context, tx *sql.Tx, ids []int64) (map[int64]*domain.Item, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, kind, deleted, dead, title, url, text, author, created_at,
		       score, descendants, parent, child_ids,
		       first_seen_at, last_updated_at, last_changed_at, update_count,
		       ai_topic, ai_content_type, ai_sentiment, ai_analyzed_at, embedding_generated_at
		FROM items WHERE id = ANY($1)`, int64Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]*domain.Item)
	for rows.Next() {
		var it domain.Item
		var childIDs string
		if err := rows.Scan(&it.ID, &it.Kind, &it.Deleted, &it.Dead, &it.Title, &it.URL, &it.Text,
			&it.Author, &it.CreatedAt, &it.Score, &it.Descendants, &it.Parent, &childIDs,
			&it.FirstSeenAt, &it.LastUpdatedAt, &it.LastChangedAt, &it.UpdateCount,
			&it.AITopic, &it.AIContentType, &it.AISentiment, &it.AIAnalyzedAt, &it.EmbeddingGeneratedAt,
		); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(childIDs), &it.Kids)
		item := it
		out[it.ID] = &item
	}
	return out, rows.Err()
}

type upsertRow struct {
	domain.Item
	childIDsJSON string
}

// buildRow computes the row to persist plus the changed flag and the
// update_count to hand to the Snapshot Policy.
func buildRow(old *domain.Item, enriched domain.EnrichedItem, now int64) (upsertRow, bool, int64) {
	childJSON, _ := json.Marshal(enriched.Kids)

	createdAt := enriched.CreatedAt
	if createdAt <= 0 {
		createdAt = now / 1000
	}

	if old == nil {
		row := upsertRow{
			Item: domain.Item{
				ID: enriched.ID, Kind: enriched.Kind, Deleted: enriched.Deleted, Dead: enriched.Dead,
				Title: enriched.Title, URL: enriched.URL, Text: enriched.Text, Author: enriched.Author,
				CreatedAt: createdAt, Score: enriched.Score, Descendants: enriched.Descendants,
				Parent: enriched.Parent, Kids: enriched.Kids,
				FirstSeenAt: now, LastUpdatedAt: now, LastChangedAt: now, UpdateCount: 0,
			},
			childIDsJSON: string(childJSON),
		}
		return row, true, 0
	}

	changed := old.Deleted != enriched.Deleted ||
		old.Dead != enriched.Dead ||
		old.Title != enriched.Title ||
		old.URL != enriched.URL ||
		old.Text != enriched.Text ||
		old.Author != enriched.Author ||
		old.Kind != enriched.Kind ||
		intPtrDiffers(old.Score, enriched.Score) ||
		intPtrDiffers(old.Descendants, enriched.Descendants) ||
		childrenDiffer(old.Kids, enriched.Kids)

	lastChanged := old.LastChangedAt
	if changed {
		lastChanged = now
	}

	updateCount := old.UpdateCount + 1

	row := upsertRow{
		Item: domain.Item{
			ID: enriched.ID, Kind: enriched.Kind, Deleted: enriched.Deleted, Dead: enriched.Dead,
			Title: enriched.Title, URL: enriched.URL, Text: enriched.Text, Author: enriched.Author,
			CreatedAt: old.CreatedAt, Score: enriched.Score, Descendants: enriched.Descendants,
			Parent: enriched.Parent, Kids: enriched.Kids,
			FirstSeenAt: old.FirstSeenAt, LastUpdatedAt: now, LastChangedAt: lastChanged,
			UpdateCount: updateCount,
			AITopic: old.AITopic, AIContentType: old.AIContentType, AISentiment: old.AISentiment,
			AIAnalyzedAt: old.AIAnalyzedAt, EmbeddingGeneratedAt: old.EmbeddingGeneratedAt,
		},
		childIDsJSON: string(childJSON),
	}
	return row, changed, updateCount
}

func intPtrDiffers(a, b *int) bool {
	if a == nil && b == nil {
		return false
	}
	if a == nil || b == nil {
		return true
	}
	return *a != *b
}

func childrenDiffer(a, b []int64) bool {
	if len(a) != len(b) {
		return true
	}
	for i := range a {
		if a[i] != b[i] {
			return true
		}
	}
	return false
}

func upsertRows(ctx context.Context, tx *sql.Tx, rows []upsertRow) error {
	if len(rows) == 0 {
		return nil
	}

	const cols = 21
	valuePlaceholders := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*cols)

	for i, r := range rows {
		base := i*cols + 1
		ph := make([]string, cols)
		for j := 0; j < cols; j++ {
			ph[j] = fmt.Sprintf("$%d", base+j)
		}
		valuePlaceholders = append(valuePlaceholders, "("+strings.Join(ph, ",")+")")
		args = append(args,
			r.ID, r.Kind, r.Deleted, r.Dead, r.Title, r.URL, r.Text, r.Author, r.CreatedAt,
			r.Score, r.Descendants, r.Parent, r.childIDsJSON,
			r.FirstSeenAt, r.LastUpdatedAt, r.LastChangedAt, r.UpdateCount,
			r.AITopic, r.AIContentType, r.AISentiment, r.AIAnalyzedAt,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO items (
			id, kind, deleted, dead, title, url, text, author, created_at,
			score, descendants, parent, child_ids,
			first_seen_at, last_updated_at, last_changed_at, update_count,
			ai_topic, ai_content_type, ai_sentiment, ai_analyzed_at
		) VALUES %s
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			deleted = EXCLUDED.deleted,
			dead = EXCLUDED.dead,
			title = EXCLUDED.title,
			url = EXCLUDED.url,
			text = EXCLUDED.text,
			author = EXCLUDED.author,
			score = EXCLUDED.score,
			descendants = EXCLUDED.descendants,
			parent = EXCLUDED.parent,
			child_ids = EXCLUDED.child_ids,
			last_updated_at = EXCLUDED.last_updated_at,
			last_changed_at = EXCLUDED.last_changed_at,
			update_count = EXCLUDED.update_count`,
		strings.Join(valuePlaceholders, ","))

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// int64Array renders ids for the `= ANY($1)` array predicate pgx expects.
func int64Array(ids []int64) []int64 {
	out := make([]int64, len(ids))
	copy(out, ids)
	return out
}

// scanItems drains a result set shaped like the full items column list
// used by fetchExisting and the scan queries.
func scanItems(rows *sql.Rows) ([]domain.Item, error) {
	var out []domain.Item
	for rows.Next() {
		var it domain.Item
		var childIDs string
		if err := rows.Scan(&it.ID, &it.Kind, &it.Deleted, &it.Dead, &it.Title, &it.URL, &it.Text,
			&it.Author, &it.CreatedAt, &it.Score, &it.Descendants, &it.Parent, &childIDs,
			&it.FirstSeenAt, &it.LastUpdatedAt, &it.LastChangedAt, &it.UpdateCount,
			&it.AITopic, &it.AIContentType, &it.AISentiment, &it.AIAnalyzedAt, &it.EmbeddingGeneratedAt,
		); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(childIDs), &it.Kids)
		out = append(out, it)
	}
	return out, rows.Err()
}
