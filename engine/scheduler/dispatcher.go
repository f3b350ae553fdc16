// Package scheduler drives the three archiver pipelines on their fixed
// tick patterns and publishes a completion event after each run.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/philippdubach/hn-archiver-go/engine/admission"
	"github.com/philippdubach/hn-archiver-go/engine/domain"
	"github.com/philippdubach/hn-archiver-go/engine/store"
	"github.com/philippdubach/hn-archiver-go/pkg/metrics"
	"github.com/philippdubach/hn-archiver-go/pkg/natsutil"
)

const (
	DiscoveryInterval = 3 * time.Minute
	UpdateInterval    = 10 * time.Minute
	BackfillInterval  = 2 * time.Hour

	CompletionSubject = "archiver.pipeline.completed"
)

// Metrics is the Dispatcher's shared registry. cmd/server mounts
// Metrics.Handler() at GET /metrics the same way the teacher's scraper
// commands expose met.ServeAsync on their own port.
var Metrics = metrics.New()

var (
	mTicksTotal = func(pipeline string) *metrics.Counter {
		return Metrics.Counter(metrics.WithLabels("archiver_pipeline_ticks_total", "pipeline", pipeline), "Total scheduler ticks per pipeline")
	}
	mItemsProcessed = func(pipeline string) *metrics.Counter {
		return Metrics.Counter(metrics.WithLabels("archiver_pipeline_items_processed_total", "pipeline", pipeline), "Total items processed per pipeline tick")
	}
	mErrorsTotal = func(pipeline string) *metrics.Counter {
		return Metrics.Counter(metrics.WithLabels("archiver_pipeline_errors_total", "pipeline", pipeline), "Total errors per pipeline tick")
	}
	mLastTick = func(pipeline string) *metrics.Gauge {
		return Metrics.Gauge(metrics.WithLabels("archiver_pipeline_last_tick_timestamp", "pipeline", pipeline), "Epoch of the last completed tick per pipeline")
	}
)

// Runner is satisfied by Discovery, Update, and Backfill's Pipeline types.
type Runner interface {
	Run(ctx context.Context) domain.PipelineResult
}

// PipelineCompleted is published to NATS after every tick, successful or
// not — the dispatcher's error policy is swallow-and-continue, so a
// failed run is still reported rather than silently dropped.
type PipelineCompleted struct {
	Pipeline string               `json:"pipeline"`
	Result   domain.PipelineResult `json:"result"`
}

// Config names the pipelines and collaborators a Dispatcher drives. The
// three interval fields default to DiscoveryInterval/UpdateInterval/
// BackfillInterval when left zero; tests override them to run the loop
// on a fast clock instead of waiting out the production cadence.
type Config struct {
	Discovery Runner
	Update    Runner
	Backfill  Runner
	Store     *store.Store
	Gate      *admission.Gate // reaped on the backfill tick; nil disables reaping
	NATS      *nats.Conn      // nil disables completion-event publishing

	DiscoveryInterval time.Duration
	UpdateInterval    time.Duration
	BackfillInterval  time.Duration
}

// Dispatcher owns one goroutine per tick pattern.
type Dispatcher struct {
	cfg Config
	log *slog.Logger
}

// New builds a Dispatcher.
func New(cfg Config, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if cfg.DiscoveryInterval <= 0 {
		cfg.DiscoveryInterval = DiscoveryInterval
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = UpdateInterval
	}
	if cfg.BackfillInterval <= 0 {
		cfg.BackfillInterval = BackfillInterval
	}
	return &Dispatcher{cfg: cfg, log: log}
}

// Run blocks until ctx is cancelled, driving all three tick patterns
// concurrently. Each pattern runs in its own goroutine so a slow
// Backfill tick never delays Discovery or Update.
func (d *Dispatcher) Run(ctx context.Context) {
	done := make(chan struct{}, 3)

	go func() {
		d.loop(ctx, "discovery", d.cfg.DiscoveryInterval, d.cfg.Discovery, nil)
		done <- struct{}{}
	}()
	go func() {
		d.loop(ctx, "update", d.cfg.UpdateInterval, d.cfg.Update, nil)
		done <- struct{}{}
	}()
	go func() {
		d.loop(ctx, "backfill", d.cfg.BackfillInterval, d.cfg.Backfill, d.afterBackfill)
		done <- struct{}{}
	}()

	<-done
	<-done
	<-done
}

// loop fires run on every tick until ctx is cancelled. A run's error is
// logged and the loop continues to the next tick — one pipeline's
// failure never stops the others or the dispatcher itself.
func (d *Dispatcher) loop(ctx context.Context, name string, interval time.Duration, runner Runner, after func(context.Context)) {
	if runner == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result := runner.Run(ctx)
			mTicksTotal(name).Inc()
			mItemsProcessed(name).Add(int64(result.ItemsProcessed))
			mErrorsTotal(name).Add(int64(result.Errors))
			mLastTick(name).Set(time.Now().Unix())
			if !result.Success {
				d.log.Warn("pipeline tick completed with errors", "pipeline", name, "errors", result.Errors)
			} else {
				d.log.Info("pipeline tick completed", "pipeline", name, "items_processed", result.ItemsProcessed)
			}
			d.publish(ctx, name, result)
			if after != nil {
				after(ctx)
			}
		}
	}
}

// afterBackfill runs the 2-hour tick's trailing housekeeping: admission
// rate-limiter eviction and error-log/metrics retention cleanup.
func (d *Dispatcher) afterBackfill(ctx context.Context) {
	if d.cfg.Gate != nil {
		d.cfg.Gate.Reap()
	}
	if d.cfg.Store != nil {
		if err := d.cfg.Store.CleanupOldLogs(ctx); err != nil {
			d.log.Warn("cleanup old logs failed", "err", err)
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, pipeline string, result domain.PipelineResult) {
	if d.cfg.NATS == nil {
		return
	}
	evt := PipelineCompleted{Pipeline: pipeline, Result: result}
	if err := natsutil.Publish(ctx, d.cfg.NATS, CompletionSubject, evt); err != nil {
		d.log.Warn("publish pipeline completion event failed", "pipeline", pipeline, "err", err)
	}
}
