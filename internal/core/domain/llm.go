package domain

// Tier names understood by the model tier registry.
const (
	TierClassification = "classification"
	TierExpansion      = "expansion"
	TierHypothetical   = "hypothetical"
	TierSynthesis      = "synthesis"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the provider-level call shape.
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int
	JSON        bool
}

type ChatResponse struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// CompletionRequest is a tier-level call; model and sampling come from the tier.
type CompletionRequest struct {
	System string
	User   string
	JSON   bool
}

type ModelSelection struct {
	Model      string `json:"model"`
	Provider   string `json:"provider"`
	IsFallback bool   `json:"is_fallback"`
	IsDegraded bool   `json:"is_degraded"`
}

type SynthesisResult struct {
	Content   string         `json:"content"`
	Selection ModelSelection `json:"selection"`
}
