// Package similarity answers nearest-neighbor questions over the
// embedding index: given an item or a topic, which other items are most
// alike. It is the domain logic behind the privileged
// /api/similar/{id} and /api/compute-topic-similarity routes — a thin
// adapter of the archiver's retrieval pipeline, stripped down to the
// embed/lookup -> search -> structure-results shape (no chat answer, no
// graph enrichment).
package similarity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/philippdubach/hn-archiver-go/engine/domain"
	"github.com/philippdubach/hn-archiver-go/engine/store"
	"github.com/philippdubach/hn-archiver-go/engine/vector"
)

// DefaultSearchTimeout bounds the Qdrant round trip independently of the
// caller's own context deadline.
const DefaultSearchTimeout = 5 * time.Second

// Match is one similarity hit, an item summary plus its search score.
type Match struct {
	Item  domain.Item `json:"item"`
	Score float32     `json:"score"`
}

// Options configures Service behaviour.
type Options struct {
	SearchTimeout time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{SearchTimeout: DefaultSearchTimeout}
}

// Service resolves similarity queries against the vector index, backed
// by the relational store for presenting full item summaries.
type Service struct {
	vector *vector.Store
	store  *store.Store
	opts   Options
	log    *slog.Logger
}

// New builds a Service.
func New(vec *vector.Store, st *store.Store, opts Options, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = DefaultSearchTimeout
	}
	return &Service{vector: vec, store: st, opts: opts, log: log}
}

// FindSimilar looks up itemID's own stored vector, searches for its
// nearest neighbors, and resolves the hits back to item summaries. The
// item itself is excluded from the results.
func (s *Service) FindSimilar(ctx context.Context, itemID int64, topK int) ([]Match, error) {
	self, err := s.vector.GetByIDs(ctx, []int64{itemID})
	if err != nil {
		return nil, fmt.Errorf("similarity: look up item %d: %w", itemID, err)
	}
	if len(self) == 0 || len(self[0].Embedding) == 0 {
		return nil, domain.ErrNoEmbedding
	}

	searchCtx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	defer cancel()

	// Over-fetch by one: the item is its own nearest neighbor and gets
	// filtered out below.
	hits, err := s.vector.Query(searchCtx, self[0].Embedding, topK+1, true)
	if err != nil {
		return nil, fmt.Errorf("similarity: search: %w", err)
	}
	s.log.Info("similarity search done", "item_id", itemID, "hits", len(hits))

	return s.resolve(ctx, hits, itemID, topK)
}

// ComputeTopicSimilarity returns the top-scoring items tagged with the
// given topic. Unlike FindSimilar there is no seed item: a neutral zero
// vector drives the search and the topic payload filter does the real
// work of narrowing results.
func (s *Service) ComputeTopicSimilarity(ctx context.Context, topic string, topK int, dims int) ([]Match, error) {
	searchCtx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	defer cancel()

	probe := make([]float32, dims)
	hits, err := s.vector.QueryFiltered(searchCtx, probe, topK, true, topic)
	if err != nil {
		return nil, fmt.Errorf("similarity: topic search: %w", err)
	}
	s.log.Info("topic similarity search done", "topic", topic, "hits", len(hits))

	return s.resolve(ctx, hits, 0, topK)
}

// resolve turns search hits into Matches, excluding excludeID (0 means
// exclude nothing) and capping the result at topK.
func (s *Service) resolve(ctx context.Context, hits []vector.SearchResult, excludeID int64, topK int) ([]Match, error) {
	ids := make([]int64, 0, len(hits))
	scores := make(map[int64]float32, len(hits))
	for _, h := range hits {
		if h.ItemID == excludeID {
			continue
		}
		ids = append(ids, h.ItemID)
		scores[h.ItemID] = h.Score
	}
	if len(ids) == 0 {
		return nil, nil
	}

	items, err := s.store.GetItemsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("similarity: resolve items: %w", err)
	}

	byID := make(map[int64]domain.Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	matches := make([]Match, 0, len(ids))
	for _, id := range ids {
		item, ok := byID[id]
		if !ok {
			continue
		}
		matches = append(matches, Match{Item: item, Score: scores[id]})
		if len(matches) == topK {
			break
		}
	}
	return matches, nil
}
