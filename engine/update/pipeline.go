// Package update implements the Update Pipeline: pull the upstream's
// change feed, dedup against recently-written items, and refresh the
// remainder.
package update

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/philippdubach/hn-archiver-go/engine/domain"
	"github.com/philippdubach/hn-archiver-go/engine/store"
	"github.com/philippdubach/hn-archiver-go/engine/upstream"
)

const (
	// DefaultBatchSize is the per-transaction batch size for refreshed ids.
	DefaultBatchSize = 100
	// DedupWindow is the "recently touched" window that removes ids from
	// the work list — prevents update-storms for front-page items
	// re-fetched by discovery seconds earlier.
	DedupWindow = 5 * time.Minute

	pipelineName = "updates"
)

// Config tunes a Pipeline.
type Config struct {
	BatchSize int
}

// Pipeline is the Update Pipeline.
type Pipeline struct {
	upstream *upstream.Client
	store    *store.Store
	log      *slog.Logger
	cfg      Config
}

// New builds a Pipeline from its collaborators.
func New(up *upstream.Client, st *store.Store, log *slog.Logger, cfg Config) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Pipeline{upstream: up, store: st, log: log, cfg: cfg}
}

// Run executes one Update pass.
func (p *Pipeline) Run(ctx context.Context) domain.PipelineResult {
	start := time.Now()
	var errs int
	var errMsgs []string
	var processed, changed, snapshots int

	changedIDs, err := p.upstream.Updates(ctx)
	if err != nil {
		return p.fail(ctx, start, fmt.Errorf("fetch change feed: %w", err))
	}

	if len(changedIDs.Items) == 0 {
		p.finish(ctx, start)
		return p.result(true, 0, 0, 0, start, nil)
	}

	recentlyUpdated, err := p.store.RecentlyUpdated(ctx, changedIDs.Items, DedupWindow)
	if err != nil {
		return p.fail(ctx, start, fmt.Errorf("recently-updated filter: %w", err))
	}
	recent := make(map[int64]bool, len(recentlyUpdated))
	for _, id := range recentlyUpdated {
		recent[id] = true
	}

	workList := make([]int64, 0, len(changedIDs.Items))
	for _, id := range changedIDs.Items {
		if !recent[id] {
			workList = append(workList, id)
		}
	}

	frontPage := p.frontPageSet(ctx)

	batches, err := domain.ChunkStrict(workList, p.cfg.BatchSize)
	if err != nil {
		return p.fail(ctx, start, fmt.Errorf("chunk work list: %w", err))
	}

	for _, batch := range batches {
		items := p.upstream.ItemsBatch(ctx, batch)
		if len(items) == 0 && len(batch) > 0 {
			errs++
			errMsgs = append(errMsgs, fmt.Sprintf("batch of %d ids returned no items", len(batch)))
			p.store.LogError(ctx, pipelineName, "items_batch returned no items", map[string]string{
				"batchSize": fmt.Sprint(len(batch)),
			})
			continue
		}

		enriched := make([]domain.EnrichedItem, len(items))
		for i, it := range items {
			enriched[i] = domain.EnrichedItem{Item: it, IsFrontPage: frontPage[it.ID]}
		}

		result, err := p.store.UpsertItems(ctx, enriched)
		if err != nil {
			errs++
			errMsgs = append(errMsgs, fmt.Sprintf("upsert batch failed: %v", err))
			p.store.LogError(ctx, pipelineName, err.Error(), nil)
			continue
		}
		if err := p.store.InsertSnapshots(ctx, result.Snapshots); err != nil {
			errs++
			errMsgs = append(errMsgs, fmt.Sprintf("insert snapshots failed: %v", err))
			p.store.LogError(ctx, pipelineName, err.Error(), nil)
			continue
		}

		processed += result.Processed
		changed += result.Changed
		snapshots += len(result.Snapshots)
	}

	p.finish(ctx, start)
	return p.result(errs == 0, processed, changed, snapshots, start, errMsgs)
}

func (p *Pipeline) frontPageSet(ctx context.Context) map[int64]bool {
	ids, err := p.upstream.TopStories(ctx)
	if err != nil {
		if p.log != nil {
			p.log.Warn("updates: top stories fetch failed, proceeding with empty front-page set", "error", err)
		}
		return map[int64]bool{}
	}
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func (p *Pipeline) finish(ctx context.Context, start time.Time) {
	if err := p.store.SetState(ctx, store.StateLastUpdatesCheck, time.Now().UnixMilli()); err != nil && p.log != nil {
		p.log.Warn("updates: failed to record last_updates_check", "error", err)
	}
}

func (p *Pipeline) fail(ctx context.Context, start time.Time, err error) domain.PipelineResult {
	p.store.LogError(ctx, pipelineName, err.Error(), nil)
	p.finish(ctx, start)
	return p.result(false, 0, 0, 0, start, []string{err.Error()})
}

func (p *Pipeline) result(success bool, processed, changed, snapshots int, start time.Time, errMsgs []string) domain.PipelineResult {
	res := domain.PipelineResult{
		Success:          success,
		ItemsProcessed:   processed,
		ItemsChanged:     changed,
		SnapshotsCreated: snapshots,
		DurationMS:       time.Since(start).Milliseconds(),
		Errors:           len(errMsgs),
		ErrorMessages:    errMsgs,
	}
	if err := p.store.RecordMetrics(context.Background(), pipelineName, res); err != nil && p.log != nil {
		p.log.Warn("updates: failed to record metrics", "error", err)
	}
	return res
}
