package ports

import (
	"context"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
)

// RetrievalPipeline is the inbound contract for one retrieval pass.
type RetrievalPipeline interface {
	Run(ctx context.Context, req domain.PipelineRequest) (*domain.PipelineResult, error)
}

// SynthesisExecutor runs the premium call that consumes a formatted context.
type SynthesisExecutor interface {
	Select(contextText string) domain.ModelSelection
	Execute(ctx context.Context, contextText string, messages []domain.ChatMessage) (*domain.SynthesisResult, error)
	PreWarm(ctx context.Context) map[string]bool
}
