package backfill

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/philippdubach/hn-archiver-go/engine/ai"
	"github.com/philippdubach/hn-archiver-go/engine/domain"
	"github.com/philippdubach/hn-archiver-go/engine/store"
	"github.com/philippdubach/hn-archiver-go/engine/upstream"
	"github.com/philippdubach/hn-archiver-go/engine/vector"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"google.golang.org/grpc"
)

// mockPoints stubs the Qdrant points RPCs backfill's embedding phase
// calls, mirroring the vector package's own test doubles.
type mockPoints struct{}

func (m *mockPoints) Upsert(_ context.Context, _ *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	return &pb.PointsOperationResponse{}, nil
}
func (m *mockPoints) Delete(_ context.Context, _ *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	return &pb.PointsOperationResponse{}, nil
}
func (m *mockPoints) Search(_ context.Context, _ *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	return &pb.SearchResponse{}, nil
}
func (m *mockPoints) Get(_ context.Context, _ *pb.GetPoints, _ ...grpc.CallOption) (*pb.GetResponse, error) {
	return &pb.GetResponse{}, nil
}

func newMockVectorStore() *vector.Store {
	return vector.NewWithClients(&mockPoints{}, nil, "test")
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("archiver_test"),
		postgres.WithUsername("archiver_test"),
		postgres.WithPassword("archiver_test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err, "container host")
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err, "container port")

	cfg := store.Config{
		Host: host, Port: port.Int(), User: "archiver_test", Password: "archiver_test",
		Database: "archiver_test", SSLMode: "disable",
		MaxOpenConns: 5, MaxIdleConns: 2,
		ConnMaxLifetime: time.Hour, ConnMaxIdleTime: 15 * time.Minute,
	}

	s, err := store.New(ctx, cfg)
	require.NoError(t, err, "new store")
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func scorePtr(v int) *int { return &v }

// anthropicServer answers every /messages call with the same classification
// word, the shape the Anthropic Messages API returns.
func anthropicServer(word string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"id": "msg_test", "type": "message", "role": "assistant",
			"model": "claude-haiku-4-5", "stop_reason": "end_turn",
			"content": []map[string]any{{"type": "text", "text": word}},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func sentimentServer(label string, score float64) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"labels": []map[string]any{{"label": label, "score": score}},
		})
	}))
}

func embedServer(dims int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vec := make([]float64, dims)
		for i := range vec {
			vec[i] = 0.01
		}
		json.NewEncoder(w).Encode(map[string]any{"embedding": vec})
	}))
}

func newUpstreamClient(baseURL string) *upstream.Client {
	return upstream.New(upstream.Config{BaseURL: baseURL, RequestTimeout: 5 * time.Second, MaxRetries: 1})
}

func newFailingUpstream() *upstream.Client {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	return upstream.New(upstream.Config{BaseURL: srv.URL, RequestTimeout: 2 * time.Second, MaxRetries: 1})
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// TestBackfill_PhaseIsolation confirms a Phase A failure does not prevent
// Phase B and Phase C from being attempted.
func TestBackfill_PhaseIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Seed one stale item so Phase A has work, then make the upstream
	// fail every item fetch so the phase errors out.
	seeded := []domain.EnrichedItem{
		{Item: domain.Item{ID: 1, Kind: domain.KindStory, Title: "old story", CreatedAt: 1_700_000_000, Score: scorePtr(100)}},
	}
	_, err := s.UpsertItems(ctx, seeded)
	require.NoError(t, err, "seed")
	_, err = s.DB().ExecContext(ctx, `UPDATE items SET last_updated_at = 0 WHERE id = 1`)
	require.NoError(t, err, "backdate item")

	up := newFailingUpstream()

	anthro := anthropicServer("other")
	defer anthro.Close()
	classifier := ai.NewClassifier(ai.ClassifierConfig{APIKey: "test-key", BaseURL: anthro.URL})

	sent := sentimentServer("POSITIVE", 0.9)
	defer sent.Close()
	sentiment := ai.NewSentimentClient(sent.URL)

	emb := embedServer(ai.EmbeddingDimensions)
	defer emb.Close()
	embedder := ai.NewEmbedder(emb.URL, "test-model")

	// Phase B will analyze the seeded item, which makes it a Phase C
	// candidate in this same run, so the vector store must be wired too.
	p := New(s, up, classifier, sentiment, embedder, newMockVectorStore(), testLogger(), Config{
		StaleThreshold: time.Nanosecond, StaleLimit: 10,
	})

	res := p.Run(ctx)
	assert.Falsef(t, res.Success, "expected a failed run due to phase A, got %+v", res)
	assert.GreaterOrEqualf(t, res.Errors, 1, "expected at least one recorded error, got %+v", res)
	// Phase A's failure must not have suppressed Phase B: the seeded
	// item should now carry AI enrichment fields if classification ran.
	// (StaleScan excludes items with no change since Phase A aborted,
	// but FetchStoryForEnrichment operates on unanalyzed stories
	// independently of staleness, so it still picks item 1 up.)
	var analyzedAt *int64
	row := s.DB().QueryRowContext(ctx, `SELECT ai_analyzed_at FROM items WHERE id = 1`)
	require.NoError(t, row.Scan(&analyzedAt), "scan ai_analyzed_at")
	assert.NotNilf(t, analyzedAt, "expected phase B to have run despite phase A's failure")
}

// TestBackfill_SnapshotFilterKeepsOnlyScoreSpike matches the exact
// scenario: the policy decides a mixed set of reasons, and only
// score_spike survives into the persisted snapshot table.
func TestBackfill_SnapshotFilterKeepsOnlyScoreSpike(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Item 1: low initial score. Re-fetch with a big jump
	// triggers score_spike.
	seeded := []domain.EnrichedItem{
		{Item: domain.Item{ID: 1, Kind: domain.KindStory, Title: "spike story", CreatedAt: 1_700_000_000, Score: scorePtr(10)}},
	}
	_, err := s.UpsertItems(ctx, seeded)
	require.NoError(t, err, "seed")
	_, err = s.DB().ExecContext(ctx, `UPDATE items SET last_updated_at = 0 WHERE id = 1`)
	require.NoError(t, err, "backdate item")

	mux := http.NewServeMux()
	mux.HandleFunc("/item/", func(w http.ResponseWriter, r *http.Request) {
		var id int64
		fmt.Sscanf(r.URL.Path, "/item/%d.json", &id)
		json.NewEncoder(w).Encode(map[string]any{
			"id": id, "type": "story", "title": "spike story", "time": 1_700_000_000, "score": 200,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	up := upstream.New(upstream.Config{BaseURL: srv.URL, RequestTimeout: 5 * time.Second, MaxRetries: 1})

	p := New(s, up, nil, nil, nil, nil, testLogger(), Config{StaleThreshold: time.Nanosecond, StaleLimit: 10})

	processed, changed, snaps, err := p.phaseStaleRefresh(ctx)
	require.NoError(t, err, "phase A")
	assert.Equalf(t, 1, processed, "expected 1 processed")
	assert.Equalf(t, 1, changed, "expected 1 changed")
	assert.Equalf(t, 1, snaps, "expected exactly one score_spike snapshot to survive the filter")

	var reason string
	row := s.DB().QueryRowContext(ctx, `SELECT reason FROM snapshots WHERE item_id = 1`)
	require.NoError(t, row.Scan(&reason), "scan snapshot reason")
	assert.Equal(t, string(domain.ReasonScoreSpike), reason)
}

// TestBackfill_BudgetDeniesEmbeddingBackfill matches the budget-denial
// scenario: the phase returns success with zero work and surfaces the
// denial reason as an error message, without ever fetching a story.
func TestBackfill_BudgetDeniesEmbeddingBackfill(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.DB().ExecContext(ctx, `
		INSERT INTO usage_counters (key, value) VALUES ('embeddings_stored_total', 10000)`)
	require.NoError(t, err, "seed usage counter")

	p := New(s, nil, nil, nil, nil, nil, testLogger(), Config{})

	processed, denial, err := p.phaseEmbeddingBackfill(ctx)
	require.NoError(t, err)
	assert.Equalf(t, 0, processed, "expected zero processed")
	assert.Containsf(t, denial, "limit", "expected a denial reason mentioning the limit")
}
