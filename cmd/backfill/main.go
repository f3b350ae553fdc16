// Command backfill runs one Backfill Pipeline pass (stale refresh, AI
// enrichment, budget-gated embedding generation) and exits.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/philippdubach/hn-archiver-go/engine/ai"
	"github.com/philippdubach/hn-archiver-go/engine/backfill"
	"github.com/philippdubach/hn-archiver-go/engine/store"
	"github.com/philippdubach/hn-archiver-go/engine/upstream"
	"github.com/philippdubach/hn-archiver-go/engine/vector"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

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

	vec, err := vector.New(envOr("QDRANT_URL", "localhost:6334"), envOr("QDRANT_COLLECTION", "hn-archiver"))
	if err != nil {
		logger.Error("connect qdrant", "err", err)
		os.Exit(1)
	}
	defer vec.Close()

	up := upstream.New(upstream.DefaultConfig)
	classifier := ai.NewClassifier(ai.ClassifierConfig{APIKey: os.Getenv("ANTHROPIC_API_KEY")})
	sentiment := ai.NewSentimentClient(envOr("SENTIMENT_URL", "http://localhost:8090"))
	embedder := ai.NewEmbedder(envOr("OLLAMA_URL", "http://localhost:11434"), envOr("OLLAMA_MODEL", "nomic-embed-text"))

	p := backfill.New(st, up, classifier, sentiment, embedder, vec, logger, backfill.Config{})

	result := p.Run(ctx)
	json.NewEncoder(os.Stdout).Encode(result)
	if !result.Success {
		os.Exit(1)
	}
}
