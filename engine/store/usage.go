package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/philippdubach/hn-archiver-go/engine/domain"
)

const (
	budgetVectorizeQueriesPerDay = 1500
	budgetEmbeddingsStoredTotal  = 10000
)

// BudgetOp names a budget-gated operation.
type BudgetOp string

const (
	OpVectorizeQuery     BudgetOp = "vectorize_query"
	OpEmbeddingBackfill  BudgetOp = "embedding_backfill"
)

// BudgetDecision is the result of a budget check.
type BudgetDecision struct {
	Allowed bool
	Reason  string
}

// IncrementUsage is an upsert-add on a usage counter. Errors are
// swallowed and logged: budget tracking must never block a pipeline.
func (s *Store) IncrementUsage(ctx context.Context, log *slog.Logger, key string, delta int64) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_counters (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = usage_counters.value + EXCLUDED.value`, key, delta)
	if err != nil && log != nil {
		log.Warn("usage counter increment failed", "key", key, "error", err)
	}
}

func (s *Store) usageValue(ctx context.Context, key string) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM usage_counters WHERE key = $1`, key).Scan(&value)
	if err != nil {
		return 0, nil //nolint:nilerr // absent counter reads as zero
	}
	return value, nil
}

// UsageStats is the aggregate view get_usage_stats() surfaces.
type UsageStats struct {
	VectorizeQueriesToday int64
	VectorizeQueriesMonth int64
	EmbeddingsStoredTotal int64
	D1ReadsToday          int64
}

// GetUsageStats reads today/this-month/embeddings-total/d1-today.
func (s *Store) GetUsageStats(ctx context.Context, at time.Time) (UsageStats, error) {
	day := at.UTC().Format("2006-01-02")
	month := at.UTC().Format("2006-01")

	today, err := s.usageValue(ctx, "vectorize_queries_"+day)
	if err != nil {
		return UsageStats{}, err
	}
	thisMonth, err := s.usageValue(ctx, "vectorize_queries_"+month)
	if err != nil {
		return UsageStats{}, err
	}
	embeddingsTotal, err := s.usageValue(ctx, "embeddings_stored_total")
	if err != nil {
		return UsageStats{}, err
	}
	d1Today, err := s.usageValue(ctx, "d1_reads_"+day)
	if err != nil {
		return UsageStats{}, err
	}

	return UsageStats{
		VectorizeQueriesToday: today,
		VectorizeQueriesMonth: thisMonth,
		EmbeddingsStoredTotal: embeddingsTotal,
		D1ReadsToday:          d1Today,
	}, nil
}

// CheckBudget enforces the two budget rules from the Store contract.
func (s *Store) CheckBudget(ctx context.Context, op BudgetOp) (BudgetDecision, error) {
	switch op {
	case OpVectorizeQuery:
		day := s.now().UTC().Format("2006-01-02")
		used, err := s.usageValue(ctx, "vectorize_queries_"+day)
		if err != nil {
			return BudgetDecision{}, err
		}
		if used >= budgetVectorizeQueriesPerDay {
			return BudgetDecision{Allowed: false, Reason: fmt.Sprintf("vectorize_queries_today limit of %d reached", budgetVectorizeQueriesPerDay)}, nil
		}
		return BudgetDecision{Allowed: true}, nil

	case OpEmbeddingBackfill:
		used, err := s.usageValue(ctx, "embeddings_stored_total")
		if err != nil {
			return BudgetDecision{}, err
		}
		if used >= budgetEmbeddingsStoredTotal {
			return BudgetDecision{Allowed: false, Reason: fmt.Sprintf("embeddings_stored_total limit of %d reached", budgetEmbeddingsStoredTotal)}, nil
		}
		return BudgetDecision{Allowed: true}, nil

	default:
		return BudgetDecision{}, fmt.Errorf("%w: unknown budget op %q", domain.ErrBudgetDenied, op)
	}
}
