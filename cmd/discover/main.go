// Command discover runs one Discovery Pipeline pass and exits, the
// one-shot CLI counterpart to the Scheduler's 3-minute tick.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/philippdubach/hn-archiver-go/engine/discovery"
	"github.com/philippdubach/hn-archiver-go/engine/store"
	"github.com/philippdubach/hn-archiver-go/engine/upstream"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx := context.Background()

	dbCfg, err := store.LoadConfigFromEnv()
	if err != nil {
		logger.Error("store config", "err", err)
		os.Exit(1)
	}
	st, err := store.New(ctx, dbCfg)
	if err != nil {
		logger.Error("connect store", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	up := upstream.New(upstream.DefaultConfig)
	p := discovery.New(up, st, logger, discovery.Config{BatchSize: discovery.DefaultBatchSize})

	result := p.Run(ctx)
	json.NewEncoder(os.Stdout).Encode(result)
	if !result.Success {
		os.Exit(1)
	}
}
