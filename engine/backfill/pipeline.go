// Package backfill implements the Backfill Pipeline: stale-item refresh,
// AI enrichment, and budget-gated embedding generation, each phase
// isolated so one phase's failure never skips the next.
package backfill

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"context"

	"github.com/philippdubach/hn-archiver-go/engine/ai"
	"github.com/philippdubach/hn-archiver-go/engine/domain"
	"github.com/philippdubach/hn-archiver-go/engine/snapshot"
	"github.com/philippdubach/hn-archiver-go/engine/store"
	"github.com/philippdubach/hn-archiver-go/engine/upstream"
	"github.com/philippdubach/hn-archiver-go/engine/vector"
	"github.com/philippdubach/hn-archiver-go/pkg/fn"
)

const (
	// DefaultEnrichmentLimit is Phase B's candidate batch size.
	DefaultEnrichmentLimit = 50
	// DefaultEmbeddingBatchSize is Phase C's candidate batch size.
	DefaultEmbeddingBatchSize = 50
	// TitleTruncateLen bounds the title stored alongside a vector.
	TitleTruncateLen = 200
	// AIWorkers bounds AI-collaborator fan-out concurrency.
	AIWorkers = 8

	pipelineName = "backfill"
)

// Config tunes a Pipeline.
type Config struct {
	StaleThreshold     time.Duration
	StaleLimit         int
	EnrichmentLimit    int
	EmbeddingBatchSize int
}

// Pipeline is the Backfill Pipeline.
type Pipeline struct {
	store      *store.Store
	upstream   *upstream.Client
	classifier *ai.Classifier
	sentiment  *ai.SentimentClient
	embedder   *ai.Embedder
	vector     *vector.Store
	log        *slog.Logger
	cfg        Config
}

// New builds a Pipeline from its collaborators.
func New(st *store.Store, up *upstream.Client, classifier *ai.Classifier, sentiment *ai.SentimentClient, embedder *ai.Embedder, vec *vector.Store, log *slog.Logger, cfg Config) *Pipeline {
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = store.DefaultStaleThreshold
	}
	if cfg.StaleLimit <= 0 {
		cfg.StaleLimit = store.DefaultStaleLimit
	}
	if cfg.EnrichmentLimit <= 0 {
		cfg.EnrichmentLimit = DefaultEnrichmentLimit
	}
	if cfg.EmbeddingBatchSize <= 0 {
		cfg.EmbeddingBatchSize = DefaultEmbeddingBatchSize
	}
	return &Pipeline{store: st, upstream: up, classifier: classifier, sentiment: sentiment, embedder: embedder, vector: vec, log: log, cfg: cfg}
}

// Run executes all three phases. A failure in one phase is recorded but
// never skips the next.
func (p *Pipeline) Run(ctx context.Context) domain.PipelineResult {
	start := time.Now()
	var processed, changed, snapshots, errs int
	var errMsgs []string

	if n, c, s, err := p.phaseStaleRefresh(ctx); err != nil {
		errs++
		errMsgs = append(errMsgs, fmt.Sprintf("stale refresh: %v", err))
		p.store.LogError(ctx, pipelineName, err.Error(), map[string]string{"phase": "stale_refresh"})
	} else {
		processed += n
		changed += c
		snapshots += s
	}

	if n, err := p.phaseAIEnrichment(ctx); err != nil {
		errs++
		errMsgs = append(errMsgs, fmt.Sprintf("ai enrichment: %v", err))
		p.store.LogError(ctx, pipelineName, err.Error(), map[string]string{"phase": "ai_enrichment"})
	} else {
		processed += n
	}

	if n, denial, err := p.phaseEmbeddingBackfill(ctx); err != nil {
		errs++
		errMsgs = append(errMsgs, fmt.Sprintf("embedding backfill: %v", err))
		p.store.LogError(ctx, pipelineName, err.Error(), map[string]string{"phase": "embedding_backfill"})
	} else {
		processed += n
		if denial != "" {
			errMsgs = append(errMsgs, denial)
		}
	}

	if err := p.store.SetState(ctx, store.StateLastBackfillRun, time.Now().UnixMilli()); err != nil && p.log != nil {
		p.log.Warn("backfill: failed to record last_backfill_run", "error", err)
	}

	res := domain.PipelineResult{
		Success:          errs == 0,
		ItemsProcessed:   processed,
		ItemsChanged:     changed,
		SnapshotsCreated: snapshots,
		DurationMS:       time.Since(start).Milliseconds(),
		Errors:           errs,
		ErrorMessages:    errMsgs,
	}
	if err := p.store.RecordMetrics(ctx, pipelineName, res); err != nil && p.log != nil {
		p.log.Warn("backfill: failed to record metrics", "error", err)
	}
	return res
}

// phaseStaleRefresh re-fetches stale high-value items, upserts them, and
// inserts only the score_spike snapshots the policy decided for them —
// older items should not emit sample or front_page observations.
func (p *Pipeline) phaseStaleRefresh(ctx context.Context) (processed, changed, snaps int, err error) {
	ids, err := p.store.StaleScan(ctx, p.cfg.StaleThreshold, p.cfg.StaleLimit)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("stale scan: %w", err)
	}
	if len(ids) == 0 {
		return 0, 0, 0, nil
	}

	items := p.upstream.ItemsBatch(ctx, ids)
	if len(items) == 0 {
		return 0, 0, 0, errors.New("items_batch returned no items for stale ids")
	}

	enriched := make([]domain.EnrichedItem, len(items))
	for i, it := range items {
		enriched[i] = domain.EnrichedItem{Item: it}
	}

	result, err := p.store.UpsertItems(ctx, enriched)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("upsert stale items: %w", err)
	}

	filtered := snapshot.FilterBackfill(result.Snapshots)
	if err := p.store.InsertSnapshots(ctx, filtered); err != nil {
		return result.Processed, result.Changed, 0, fmt.Errorf("insert stale snapshots: %w", err)
	}
	return result.Processed, result.Changed, len(filtered), nil
}

// phaseAIEnrichment classifies unanalyzed stories, preserving input-index
// correspondence through the best-effort settler so a per-item failure
// drops only that item.
func (p *Pipeline) phaseAIEnrichment(ctx context.Context) (int, error) {
	items, err := p.store.FetchStoryForEnrichment(ctx, p.cfg.EnrichmentLimit)
	if err != nil {
		return 0, fmt.Errorf("fetch stories for enrichment: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	results := fn.ParMapResult(items, AIWorkers, func(item domain.Item) fn.Result[store.AIEnrichment] {
		contentType, err := p.classifier.ClassifyContentType(ctx, item.Title)
		if err != nil {
			return fn.Err[store.AIEnrichment](err)
		}
		topic, err := p.classifier.ClassifyTopic(ctx, item.Title, item.URL)
		if err != nil {
			return fn.Err[store.AIEnrichment](err)
		}
		sentiment, err := p.sentiment.Sentiment(ctx, item.Title)
		if err != nil {
			return fn.Err[store.AIEnrichment](err)
		}
		return fn.Ok(store.AIEnrichment{
			ItemID: item.ID, Topic: topic, ContentType: contentType, Sentiment: sentiment,
		})
	})

	settled := make([]store.AIEnrichment, 0, len(results))
	for _, r := range results {
		if v, err := r.Unwrap(); err == nil {
			settled = append(settled, v)
		}
	}

	if err := p.store.ApplyAIEnrichment(ctx, settled); err != nil {
		return 0, fmt.Errorf("apply ai enrichment: %w", err)
	}
	return len(settled), nil
}

// phaseEmbeddingBackfill is budget-gated: a denial is success with zero
// work, not an error.
func (p *Pipeline) phaseEmbeddingBackfill(ctx context.Context) (processed int, denialReason string, err error) {
	decision, err := p.store.CheckBudget(ctx, store.OpEmbeddingBackfill)
	if err != nil {
		return 0, "", fmt.Errorf("check embedding budget: %w", err)
	}
	if !decision.Allowed {
		return 0, decision.Reason, nil
	}

	items, err := p.store.FetchPendingEmbeddings(ctx, p.cfg.EmbeddingBatchSize)
	if err != nil {
		return 0, "", fmt.Errorf("fetch pending embeddings: %w", err)
	}
	if len(items) == 0 {
		return 0, "", nil
	}

	results := fn.ParMapResult(items, AIWorkers, func(item domain.Item) fn.Result[vector.Record] {
		text := item.Title
		if item.Text != "" {
			text = item.Title + "\n" + item.Text
		}
		embedding, err := p.embedder.Embed(ctx, text)
		if err != nil {
			return fn.Err[vector.Record](err)
		}
		score := 0
		if item.Score != nil {
			score = *item.Score
		}
		return fn.Ok(vector.Record{
			ItemID:    item.ID,
			Embedding: embedding,
			Topic:     derefString(item.AITopic),
			Score:     score,
			Title:     truncate(item.Title, TitleTruncateLen),
		})
	})

	records := make([]vector.Record, 0, len(results))
	ids := make([]int64, 0, len(results))
	for _, r := range results {
		if v, err := r.Unwrap(); err == nil {
			records = append(records, v)
			ids = append(ids, v.ItemID)
		}
	}

	if len(records) == 0 {
		return 0, "", nil
	}

	if err := p.vector.Upsert(ctx, records); err != nil {
		return 0, "", fmt.Errorf("vector upsert: %w", err)
	}
	if err := p.store.MarkEmbeddingsGenerated(ctx, ids); err != nil {
		return 0, "", fmt.Errorf("mark embeddings generated: %w", err)
	}
	p.store.IncrementUsage(ctx, p.log, "embeddings_stored_total", int64(len(records)))

	return len(records), "", nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
