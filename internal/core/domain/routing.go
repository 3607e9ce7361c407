package domain

import "strings"

// Category is the handling category a query is routed to.
type Category string

const (
	CategoryCasual             Category = "casual_conversation"
	CategoryCalculation        Category = "calculation"
	CategoryTechnicalResearch  Category = "technical_research"
	CategoryNormativeReference Category = "normative_reference"
	CategoryProcedural         Category = "procedural"
)

// Categories lists the closed routing set in prompt order.
var Categories = []Category{
	CategoryCasual,
	CategoryCalculation,
	CategoryTechnicalResearch,
	CategoryNormativeReference,
	CategoryProcedural,
}

// ParseCategory normalizes raw model output into a known category.
func ParseCategory(raw string) (Category, bool) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, " ", "_")
	for _, c := range Categories {
		if string(c) == normalized {
			return c, true
		}
	}
	switch normalized {
	case "casual", "chitchat", "chit_chat":
		return CategoryCasual, true
	case "calc":
		return CategoryCalculation, true
	case "normative", "normative_ref":
		return CategoryNormativeReference, true
	}
	return "", false
}

// NeverRetrieves reports whether the category skips retrieval by policy.
func (c Category) NeverRetrieves() bool {
	return c == CategoryCasual || c == CategoryCalculation
}

// NeedsRetrieval derives the retrieval flag. A follow-up always retrieves.
func NeedsRetrieval(c Category, followup bool) bool {
	if followup {
		return true
	}
	return !c.NeverRetrieves()
}

type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Entity struct {
	Text       string  `json:"text"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

type RouterDecision struct {
	Category          Category `json:"category"`
	Confidence        float64  `json:"confidence"`
	Reasoning         string   `json:"reasoning"`
	Entities          []Entity `json:"entities,omitempty"`
	RequiresFreshness bool     `json:"requires_freshness"`
	SuggestedSources  []string `json:"suggested_sources,omitempty"`
	IsFollowup        bool     `json:"is_followup"`
	NeedsRetrieval    bool     `json:"needs_retrieval"`
	Fallback          bool     `json:"fallback"`
}

// ClampConfidence forces a confidence value into [0,1].
func ClampConfidence(v float64) float64 {
	switch {
	case v != v:
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
