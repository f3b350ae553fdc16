// Command monitor subscribes to pipeline completion events on NATS and
// maintains a rolling JSON history per pipeline for the status dashboard,
// the event-driven counterpart to the teacher's HTTP-polling
// snapshot-collector.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/philippdubach/hn-archiver-go/engine/scheduler"
	"github.com/philippdubach/hn-archiver-go/pkg/natsutil"
)

// maxHistory bounds each pipeline's retained event count.
const maxHistory = 288

// record is one history entry written to disk, pairing the event with
// the time monitor observed it.
type record struct {
	ObservedAt time.Time                   `json:"observed_at"`
	Pipeline   string                      `json:"pipeline"`
	Result     scheduler.PipelineCompleted `json:"event"`
}

// history tracks a rolling event log per pipeline, guarding
// concurrent NATS callbacks with a mutex.
type history struct {
	mu      sync.Mutex
	dataDir string
	records map[string][]record
}

func newHistory(dataDir string) *history {
	return &history{dataDir: dataDir, records: make(map[string][]record)}
}

func (h *history) record(evt scheduler.PipelineCompleted) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	recs := append(h.records[evt.Pipeline], record{ObservedAt: time.Now(), Pipeline: evt.Pipeline, Result: evt})
	if len(recs) > maxHistory {
		recs = recs[len(recs)-maxHistory:]
	}
	h.records[evt.Pipeline] = recs

	latestPath := filepath.Join(h.dataDir, evt.Pipeline+"-latest.json")
	historyPath := filepath.Join(h.dataDir, evt.Pipeline+"-history.json")

	latest, err := json.MarshalIndent(recs[len(recs)-1], "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(latestPath, latest, 0o644); err != nil {
		return err
	}

	all, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(historyPath, all, 0o644)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	dataDir := flag.String("data-dir", envOr("MONITOR_DATA_DIR", "docs/data"), "directory for history snapshots")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Error("create data dir", "dir", *dataDir, "err", err)
		os.Exit(1)
	}

	nc, err := nats.Connect(envOr("NATS_URL", nats.DefaultURL))
	if err != nil {
		logger.Error("nats connect", "err", err)
		os.Exit(1)
	}
	defer nc.Close()

	h := newHistory(*dataDir)

	sub, err := natsutil.Subscribe(nc, scheduler.CompletionSubject, func(ctx context.Context, evt scheduler.PipelineCompleted) {
		if err := h.record(evt); err != nil {
			logger.Error("record pipeline event", "pipeline", evt.Pipeline, "err", err)
			return
		}
		logger.Info("pipeline event recorded",
			"pipeline", evt.Pipeline,
			"success", evt.Result.Success,
			"errors", evt.Result.Errors,
		)
	})
	if err != nil {
		logger.Error("subscribe", "subject", scheduler.CompletionSubject, "err", err)
		os.Exit(1)
	}
	defer sub.Unsubscribe()

	logger.Info("monitor listening", "subject", scheduler.CompletionSubject, "data_dir", *dataDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info("monitor shutting down")
}
