package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/philippdubach/hn-archiver-go/engine/domain"
)

type countingRunner struct {
	calls  atomic.Int32
	result domain.PipelineResult
}

func (r *countingRunner) Run(ctx context.Context) domain.PipelineResult {
	r.calls.Add(1)
	return r.result
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestDispatcher_EachLoopTicksIndependently(t *testing.T) {
	discovery := &countingRunner{result: domain.PipelineResult{Success: true}}
	update := &countingRunner{result: domain.PipelineResult{Success: true}}
	backfill := &countingRunner{result: domain.PipelineResult{Success: true}}

	d := New(Config{
		Discovery:         discovery,
		Update:            update,
		Backfill:          backfill,
		DiscoveryInterval: 10 * time.Millisecond,
		UpdateInterval:    25 * time.Millisecond,
		BackfillInterval:  40 * time.Millisecond,
	}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	d.Run(ctx)

	assert.GreaterOrEqualf(t, discovery.calls.Load(), int32(2), "expected discovery to tick at least twice")
	assert.GreaterOrEqualf(t, update.calls.Load(), int32(1), "expected update to tick at least once")
	assert.GreaterOrEqualf(t, backfill.calls.Load(), int32(1), "expected backfill to tick at least once")
	// Discovery's faster cadence should produce strictly more ticks than
	// backfill's slower one over the same window.
	assert.Greaterf(t, discovery.calls.Load(), backfill.calls.Load(),
		"expected discovery (fast) to outpace backfill (slow): discovery=%d backfill=%d",
		discovery.calls.Load(), backfill.calls.Load())
}

func TestDispatcher_NilRunnerIsSkipped(t *testing.T) {
	backfill := &countingRunner{result: domain.PipelineResult{Success: true}}

	d := New(Config{
		Discovery:         nil,
		Update:            nil,
		Backfill:          backfill,
		DiscoveryInterval: 5 * time.Millisecond,
		UpdateInterval:    5 * time.Millisecond,
		BackfillInterval:  10 * time.Millisecond,
	}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	d.Run(ctx)

	assert.GreaterOrEqualf(t, backfill.calls.Load(), int32(1), "expected backfill to still run with other pipelines nil")
}

func TestDispatcher_FailedRunDoesNotStopTheLoop(t *testing.T) {
	discovery := &countingRunner{result: domain.PipelineResult{Success: false, Errors: 3}}

	d := New(Config{
		Discovery:         discovery,
		DiscoveryInterval: 10 * time.Millisecond,
	}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	d.Run(ctx)

	assert.GreaterOrEqualf(t, discovery.calls.Load(), int32(3), "expected repeated ticks despite failures")
}
