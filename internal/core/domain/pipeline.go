package domain

import "time"

type PipelineRequest struct {
	RequestID string             `json:"request_id,omitempty"`
	Query     string             `json:"query"`
	History   []ConversationTurn `json:"history,omitempty"`
	TopK      int                `json:"top_k,omitempty"`
}

type PipelineResult struct {
	RequestID    string               `json:"request_id"`
	Decision     RouterDecision       `json:"decision"`
	Variants     *QueryVariants       `json:"variants,omitempty"`
	Hypothetical HypotheticalDocument `json:"hypothetical"`
	Retrieval    RetrievalResult      `json:"retrieval"`
	Documents    []DocumentMetadata   `json:"documents"`
	Context      string               `json:"context"`
	Selection    ModelSelection       `json:"selection"`
	Elapsed      time.Duration        `json:"elapsed"`
}
