package domain

import "time"

// Strategy names one retrieval pass of the hybrid retriever.
type Strategy string

const (
	StrategyLexical      Strategy = "lexical"
	StrategySemantic     Strategy = "semantic"
	StrategyHypothetical Strategy = "hypothetical"
)

// SearchRequest is what a search backend receives for one strategy.
// EntityQuery is optional; backends may use it for citation matching.
type SearchRequest struct {
	Query       string
	EntityQuery string
	Limit       int
}

// SearchHit is one entry of a backend's ranked list.
type SearchHit struct {
	DocumentID  string         `json:"document_id"`
	Content     string         `json:"content"`
	Score       float64        `json:"score"`
	SourceType  string         `json:"source_type"`
	SourceName  string         `json:"source_name"`
	PublishedAt *time.Time     `json:"published_at,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type RankedDocument struct {
	DocumentID  string         `json:"document_id"`
	Content     string         `json:"content"`
	RawScore    float64        `json:"raw_score"`
	FusedScore  float64        `json:"fused_score"`
	SourceType  string         `json:"source_type"`
	SourceName  string         `json:"source_name"`
	PublishedAt *time.Time     `json:"published_at,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Strategies  []Strategy     `json:"strategies,omitempty"`
}

type RetrievalResult struct {
	Documents  []RankedDocument `json:"documents"`
	TotalFound int              `json:"total_found"`
	Elapsed    time.Duration    `json:"elapsed"`
}

// DocumentMetadata is the presentation-ready descriptor of a ranked document.
type DocumentMetadata struct {
	DocumentID      string     `json:"document_id"`
	Title           string     `json:"title"`
	PublicationDate *time.Time `json:"publication_date,omitempty"`
	SourceEntity    string     `json:"source_entity"`
	DocumentType    string     `json:"document_type"`
	HierarchyLevel  int        `json:"hierarchy_level"`
	ReferenceCode   string     `json:"reference_code"`
	RelevanceScore  float64    `json:"relevance_score"`
	URL             string     `json:"url"`
	Excerpt         string     `json:"excerpt"`
}
