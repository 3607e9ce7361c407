package ports

import (
	"context"
	"time"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
)

// ChatProvider is one upstream LLM vendor.
type ChatProvider interface {
	Name() string
	Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error)
	Ping(ctx context.Context) error
}

// Completer runs a completion against a named model tier.
type Completer interface {
	Complete(ctx context.Context, tier string, req domain.CompletionRequest) (string, error)
}

// Embedder builds vectors for query text.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// SearchBackend returns one strategy's ranked list, best first.
type SearchBackend interface {
	Search(ctx context.Context, req domain.SearchRequest) ([]domain.SearchHit, error)
}

// ExpansionCache stores successful expansions keyed by normalized query.
type ExpansionCache interface {
	Get(ctx context.Context, key string) (*domain.QueryVariants, bool, error)
	Set(ctx context.Context, key string, variants domain.QueryVariants) error
}

// PipelineObserver receives stage-level telemetry.
type PipelineObserver interface {
	ObserveStage(stage, outcome string, elapsed time.Duration)
	ObserveFallback(stage, reason string)
	ObserveStrategy(strategy domain.Strategy, status string, hits int)
	ObserveRetrieved(count int)
	SetProviderHealth(target string, healthy bool)
}

// CorpusIndexer loads documents into one search backend.
type CorpusIndexer interface {
	Index(ctx context.Context, docs []domain.LegalDocument) error
}
