package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// EmbeddingDimensions is the fixed vector size the rest of the system
// (store, vector index, similarity search) is built around.
const EmbeddingDimensions = 768

// embedRateLimit/embedBurst cap outbound embedding calls the same way
// Classifier caps outbound Anthropic calls: a small token bucket rather
// than an unbounded fan-out against the embedding server.
const (
	embedRateLimit = 200 * time.Millisecond
	embedBurst     = 5
)

// Embedder is the embedding collaborator: POST text, decode a float
// vector, narrow to float32. Grounded directly on the teacher's Ollama
// embedding client's request/response shape.
type Embedder struct {
	baseURL string
	model   string
	client  *http.Client
	limiter *rate.Limiter
}

// NewEmbedder builds an Embedder pointed at baseURL using model.
func NewEmbedder(baseURL, model string) *Embedder {
	return &Embedder{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{},
		limiter: rate.NewLimiter(rate.Every(embedRateLimit), embedBurst),
	}
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed generates a 768-dimension embedding for text, or an error on
// failure — callers treat a failed embed as "skip this item this round",
// not a pipeline-aborting fault.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(embedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed: status %d", resp.StatusCode)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("embed decode: %w", err)
	}
	if len(result.Embedding) != EmbeddingDimensions {
		return nil, fmt.Errorf("embed: expected %d dimensions, got %d", EmbeddingDimensions, len(result.Embedding))
	}

	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}
