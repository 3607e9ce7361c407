package domain

// VariantOrigin tells whether a variant came from the expander or from the raw query.
type VariantOrigin string

const (
	OriginExpanded         VariantOrigin = "expanded"
	OriginOriginalFallback VariantOrigin = "original_fallback"
)

type QueryVariant struct {
	Text   string        `json:"text"`
	Origin VariantOrigin `json:"origin"`
}

func OriginalVariant(query string) QueryVariant {
	return QueryVariant{Text: query, Origin: OriginOriginalFallback}
}

// VocabularyExpansion bridges an informal term to its legal counterpart.
type VocabularyExpansion struct {
	Informal string `json:"informal"`
	Formal   string `json:"formal"`
}

type QueryVariants struct {
	Original             string                `json:"original"`
	Lexical              QueryVariant          `json:"lexical"`
	Semantic             QueryVariant          `json:"semantic"`
	Entity               QueryVariant          `json:"entity"`
	NormativeReferences  []string              `json:"normative_references,omitempty"`
	VocabularyExpansions []VocabularyExpansion `json:"vocabulary_expansions,omitempty"`
	FallbackReason       string                `json:"fallback_reason,omitempty"`
}

// FallbackVariants returns the all-original variant set used when expansion fails.
func FallbackVariants(query, reason string) QueryVariants {
	return QueryVariants{
		Original:       query,
		Lexical:        OriginalVariant(query),
		Semantic:       OriginalVariant(query),
		Entity:         OriginalVariant(query),
		FallbackReason: reason,
	}
}

type HypotheticalDocument struct {
	Text       string `json:"text,omitempty"`
	WordCount  int    `json:"word_count"`
	Skipped    bool   `json:"skipped"`
	SkipReason string `json:"skip_reason,omitempty"`
}

const (
	SkipReasonTimeout = "timeout"
	SkipReasonError   = "error"
)

func SkippedHypothetical(reason string) HypotheticalDocument {
	return HypotheticalDocument{Skipped: true, SkipReason: reason}
}
