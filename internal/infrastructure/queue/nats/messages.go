package nats

import (
	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
)

// RetrievalRequest is the JSON body published on the request subject.
type RetrievalRequest struct {
	RequestID string                    `json:"request_id,omitempty"`
	Query     string                    `json:"query"`
	History   []domain.ConversationTurn `json:"history,omitempty"`
	TopK      int                       `json:"top_k,omitempty"`
}

// ContextMessage is the pipeline outcome sent back to the requester, or
// published on the context subject when the request carried no reply inbox.
type ContextMessage struct {
	RequestID      string                    `json:"request_id"`
	Category       domain.Category           `json:"category,omitempty"`
	Confidence     float64                   `json:"confidence,omitempty"`
	NeedsRetrieval bool                      `json:"needs_retrieval"`
	IsFollowup     bool                      `json:"is_followup,omitempty"`
	RouterFallback bool                      `json:"router_fallback,omitempty"`
	Context        string                    `json:"context,omitempty"`
	Documents      []domain.DocumentMetadata `json:"documents,omitempty"`
	Selection      domain.ModelSelection     `json:"selection"`
	ElapsedMS      float64                   `json:"elapsed_ms"`
	Error          string                    `json:"error,omitempty"`
}

func newContextMessage(result *domain.PipelineResult) ContextMessage {
	return ContextMessage{
		RequestID:      result.RequestID,
		Category:       result.Decision.Category,
		Confidence:     result.Decision.Confidence,
		NeedsRetrieval: result.Decision.NeedsRetrieval,
		IsFollowup:     result.Decision.IsFollowup,
		RouterFallback: result.Decision.Fallback,
		Context:        result.Context,
		Documents:      result.Documents,
		Selection:      result.Selection,
		ElapsedMS:      float64(result.Elapsed.Microseconds()) / 1000.0,
	}
}
