// Package discovery implements the Discovery Pipeline: it advances the
// "highest item id seen" watermark and persists every intermediate item
// exactly once.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/philippdubach/hn-archiver-go/engine/domain"
	"github.com/philippdubach/hn-archiver-go/engine/store"
	"github.com/philippdubach/hn-archiver-go/engine/upstream"
	"github.com/philippdubach/hn-archiver-go/pkg/fn"
)

const (
	// DefaultBatchSize is the id-range chunk size per transaction.
	DefaultBatchSize = 100
	// ColdStartLookback bounds how far back a zero watermark starts from
	// the live max, so a first run never scans the entire corpus.
	ColdStartLookback = 1000

	pipelineName = "discovery"
)

// Config tunes a Pipeline.
type Config struct {
	BatchSize int
}

// Pipeline is the Discovery Pipeline.
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

// batchOutcome is the settled result of one id-range batch's
// fetch→enrich→upsert stage pipeline.
type batchOutcome struct {
	ids    []int64
	result domain.UpsertResult
}

// Run executes one Discovery pass: resolve the work range, walk it in
// fixed-size batches, and never advance the watermark past a batch that
// failed to commit.
func (p *Pipeline) Run(ctx context.Context) domain.PipelineResult {
	start := time.Now()
	var errs int
	var errMsgs []string
	var processed, changed, snapshots int

	watermark, err := p.store.GetState(ctx, store.StateMaxItemIDSeen)
	if err != nil {
		return p.fail(ctx, start, fmt.Errorf("read watermark: %w", err))
	}

	liveMax, err := p.upstream.MaxItemID(ctx)
	if err != nil {
		return p.fail(ctx, start, fmt.Errorf("fetch live max id: %w", err))
	}

	if watermark == 0 {
		watermark = liveMax - ColdStartLookback
		if watermark < 0 {
			watermark = 0
		}
	}

	if watermark > liveMax {
		p.finish(ctx, start)
		return p.result(true, 0, 0, 0, start, nil)
	}

	frontPage := p.frontPageSet(ctx)

	ids := make([]int64, 0, liveMax-watermark)
	for id := watermark + 1; id <= liveMax; id++ {
		ids = append(ids, id)
	}

	batches, err := domain.ChunkStrict(ids, p.cfg.BatchSize)
	if err != nil {
		return p.fail(ctx, start, fmt.Errorf("chunk id range: %w", err))
	}

	newWatermark := watermark
	sawFailure := false
	for _, batch := range batches {
		outcome, err := p.runBatch(ctx, batch, frontPage)
		if err != nil {
			errs++
			sawFailure = true
			msg := fmt.Sprintf("batch %d-%d failed: %v", batch[0], batch[len(batch)-1], err)
			errMsgs = append(errMsgs, msg)
			p.store.LogError(ctx, pipelineName, err.Error(), map[string]string{
				"failedIdRangeMin": fmt.Sprint(batch[0]),
				"failedIdRangeMax": fmt.Sprint(batch[len(batch)-1]),
			})
			// Keep going: later batches still get a chance to commit, but
			// once any batch has failed the watermark is frozen for the
			// rest of this run, so a later success never papers over the
			// gap left by the failed range.
			continue
		}

		processed += outcome.result.Processed
		changed += outcome.result.Changed
		snapshots += len(outcome.result.Snapshots)

		if sawFailure {
			continue
		}

		newWatermark = batch[len(batch)-1]
		if err := p.store.SetState(ctx, store.StateMaxItemIDSeen, newWatermark); err != nil {
			errs++
			errMsgs = append(errMsgs, fmt.Sprintf("advance watermark to %d: %v", newWatermark, err))
		}
	}

	p.finish(ctx, start)
	return p.result(errs == 0, processed, changed, snapshots, start, errMsgs)
}

// frontPageSet fetches the current front-page list. Its own failure is
// non-fatal: the rest of the run proceeds with an empty set.
func (p *Pipeline) frontPageSet(ctx context.Context) map[int64]bool {
	ids, err := p.upstream.TopStories(ctx)
	if err != nil {
		if p.log != nil {
			p.log.Warn("discovery: top stories fetch failed, proceeding with empty front-page set", "error", err)
		}
		return map[int64]bool{}
	}
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// runBatch fetches, enriches, and upserts one id-range batch as a single
// fn.Stage pipeline. An empty fetch result for a non-empty batch is
// treated as a whole-batch failure: the upstream gave us nothing usable
// for this range.
func (p *Pipeline) runBatch(ctx context.Context, ids []int64, frontPage map[int64]bool) (batchOutcome, error) {
	fetch := fn.Stage[[]int64, []domain.Item](func(ctx context.Context, ids []int64) fn.Result[[]domain.Item] {
		items := p.upstream.ItemsBatch(ctx, ids)
		if len(items) == 0 && len(ids) > 0 {
			return fn.Errf[[]domain.Item]("items_batch returned no items for %d requested ids", len(ids))
		}
		return fn.Ok(items)
	})

	enrich := fn.MapStage(func(items []domain.Item) []domain.EnrichedItem {
		out := make([]domain.EnrichedItem, len(items))
		for i, it := range items {
			out[i] = domain.EnrichedItem{Item: it, IsFrontPage: frontPage[it.ID]}
		}
		return out
	})

	upsert := fn.Stage[[]domain.EnrichedItem, domain.UpsertResult](func(ctx context.Context, enriched []domain.EnrichedItem) fn.Result[domain.UpsertResult] {
		result, err := p.store.UpsertItems(ctx, enriched)
		if err != nil {
			return fn.Err[domain.UpsertResult](err)
		}
		if err := p.store.InsertSnapshots(ctx, result.Snapshots); err != nil {
			return fn.Err[domain.UpsertResult](err)
		}
		return fn.Ok(result)
	})

	pipeline := fn.Then(fn.Then(fetch, enrich), upsert)
	result, err := pipeline(ctx, ids).Unwrap()
	if err != nil {
		return batchOutcome{}, err
	}
	return batchOutcome{ids: ids, result: result}, nil
}

func (p *Pipeline) finish(ctx context.Context, start time.Time) {
	if err := p.store.SetState(ctx, store.StateLastDiscoveryRun, time.Now().UnixMilli()); err != nil && p.log != nil {
		p.log.Warn("discovery: failed to record last_discovery_run", "error", err)
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
		p.log.Warn("discovery: failed to record metrics", "error", err)
	}
	return res
}
