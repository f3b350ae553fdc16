// Command server runs the archiver's continuous process: the Discovery,
// Update, and Backfill pipelines on the Scheduler's tick patterns, and a
// minimal HTTP surface (health check + similarity routes) behind the
// admission gate.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/philippdubach/hn-archiver-go/engine/admission"
	"github.com/philippdubach/hn-archiver-go/engine/ai"
	"github.com/philippdubach/hn-archiver-go/engine/backfill"
	"github.com/philippdubach/hn-archiver-go/engine/discovery"
	"github.com/philippdubach/hn-archiver-go/engine/domain"
	"github.com/philippdubach/hn-archiver-go/engine/scheduler"
	"github.com/philippdubach/hn-archiver-go/engine/similarity"
	"github.com/philippdubach/hn-archiver-go/engine/store"
	"github.com/philippdubach/hn-archiver-go/engine/update"
	"github.com/philippdubach/hn-archiver-go/engine/upstream"
	"github.com/philippdubach/hn-archiver-go/engine/vector"
	"github.com/philippdubach/hn-archiver-go/pkg/mid"
)

// Config holds all environment-based configuration for cmd/server.
type Config struct {
	Port            string
	QdrantAddr      string
	QdrantCollection string
	NATSUrl         string
	AnthropicAPIKey string
	SentimentURL    string
	OllamaURL       string
	OllamaModel     string
	AllowedOrigins  []string
	AuthSecret      string
}

func loadConfig() Config {
	origins := []string{envOr("CORS_ORIGIN_PRIMARY", "https://archiver.example.com")}
	if dev := os.Getenv("CORS_ORIGIN_DEV"); dev != "" {
		origins = append(origins, dev)
	}
	return Config{
		Port:             envOr("PORT", "8080"),
		QdrantAddr:       envOr("QDRANT_URL", "localhost:6334"),
		QdrantCollection: envOr("QDRANT_COLLECTION", "hn-archiver"),
		NATSUrl:          envOr("NATS_URL", ""),
		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		SentimentURL:     envOr("SENTIMENT_URL", "http://localhost:8090"),
		OllamaURL:        envOr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:      envOr("OLLAMA_MODEL", "nomic-embed-text"),
		AllowedOrigins:   origins,
		AuthSecret:       os.Getenv("TRIGGER_AUTH_SECRET"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()
	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbCfg, err := store.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("store config: %w", err)
	}
	st, err := store.New(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("connect store: %w", err)
	}
	defer st.Close()

	vec, err := vector.New(cfg.QdrantAddr, cfg.QdrantCollection)
	if err != nil {
		return fmt.Errorf("connect qdrant: %w", err)
	}
	defer vec.Close()
	if err := vec.EnsureCollection(ctx, ai.EmbeddingDimensions); err != nil {
		return fmt.Errorf("ensure qdrant collection: %w", err)
	}

	up := upstream.New(upstream.DefaultConfig)
	classifier := ai.NewClassifier(ai.ClassifierConfig{APIKey: cfg.AnthropicAPIKey})
	sentiment := ai.NewSentimentClient(cfg.SentimentURL)
	embedder := ai.NewEmbedder(cfg.OllamaURL, cfg.OllamaModel)

	discoveryPipe := discovery.New(up, st, logger, discovery.Config{BatchSize: discovery.DefaultBatchSize})
	updatePipe := update.New(up, st, logger, update.Config{BatchSize: update.DefaultBatchSize})
	backfillPipe := backfill.New(st, up, classifier, sentiment, embedder, vec, logger, backfill.Config{})

	var nc *nats.Conn
	if cfg.NATSUrl != "" {
		nc, err = nats.Connect(cfg.NATSUrl)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
	}

	gate := admission.NewGate(admission.Config{AllowedOrigins: cfg.AllowedOrigins, AuthSecret: cfg.AuthSecret})

	dispatcher := scheduler.New(scheduler.Config{
		Discovery: discoveryPipe,
		Update:    updatePipe,
		Backfill:  backfillPipe,
		Store:     st,
		Gate:      gate,
		NATS:      nc,
	}, logger)
	go dispatcher.Run(ctx)

	simSvc := similarity.New(vec, st, similarity.DefaultOptions(), logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handleHealth(st))
	mux.Handle("GET /metrics", scheduler.Metrics.Handler())
	mux.HandleFunc("GET /api/similar/{id}", handleFindSimilar(simSvc, logger))
	mux.HandleFunc("POST /api/compute-topic-similarity", handleTopicSimilarity(simSvc, logger))
	mux.HandleFunc("POST /trigger/discovery", handleTrigger(discoveryPipe, logger))
	mux.HandleFunc("POST /trigger/update", handleTrigger(updatePipe, logger))
	mux.HandleFunc("POST /trigger/backfill", handleTrigger(backfillPipe, logger))

	handler := mid.Chain(gate.Wrap(mux),
		mid.Recover(logger),
		mid.Logger(logger),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func handleHealth(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health, err := st.Health(r.Context())
		code := http.StatusOK
		if err != nil {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(health)
	}
}

type runner interface {
	Run(ctx context.Context) domain.PipelineResult
}

func handleTrigger(p runner, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result := p.Run(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !result.Success {
			w.WriteHeader(http.StatusOK) // pipeline ran; partial failure is reported in the body
		}
		json.NewEncoder(w).Encode(result)
	}
}

func handleFindSimilar(svc *similarity.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := domain.ValidateItemID(r.PathValue("id"))
		if err != nil {
			http.Error(w, `{"error":"item id out of range"}`, http.StatusBadRequest)
			return
		}

		topK := domain.ClampLimit(r.URL.Query().Get("k"), 10)
		matches, err := svc.FindSimilar(r.Context(), id, topK)
		if err != nil {
			logger.Error("find similar failed", "item_id", id, "err", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"matches": matches})
	}
}

type topicSimilarityRequest struct {
	Topic string `json:"topic"`
	TopK  int    `json:"top_k"`
}

func handleTopicSimilarity(svc *similarity.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req topicSimilarityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Topic == "" {
			http.Error(w, `{"error":"topic is required"}`, http.StatusBadRequest)
			return
		}

		topK := req.TopK
		if topK < 1 || topK > 100 {
			topK = 10
		}
		matches, err := svc.ComputeTopicSimilarity(r.Context(), req.Topic, topK, ai.EmbeddingDimensions)
		if err != nil {
			logger.Error("topic similarity failed", "topic", req.Topic, "err", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"matches": matches})
	}
}

