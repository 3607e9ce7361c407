package usecase

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
)

func testVariants(query string) domain.QueryVariants {
	return domain.QueryVariants{
		Original: query,
		Lexical:  domain.QueryVariant{Text: "lex " + query, Origin: domain.OriginExpanded},
		Semantic: domain.QueryVariant{Text: "sem " + query, Origin: domain.OriginExpanded},
		Entity:   domain.QueryVariant{Text: "ent " + query, Origin: domain.OriginExpanded},
	}
}

func TestRetrieveRunsAllStrategiesAndFuses(t *testing.T) {
	lexical := &searchBackendFake{fallback: []domain.SearchHit{
		{DocumentID: "circ-9", Score: 7, SourceType: "circolare"},
		{DocumentID: "faq-1", Score: 5, SourceType: "faq"},
	}}
	semantic := &searchBackendFake{hits: map[string][]domain.SearchHit{
		"sem irap":            {{DocumentID: "circ-9", Score: 0.9, SourceType: "circolare"}},
		"documento ipotetico": {{DocumentID: "legge-1", Score: 0.8, SourceType: "legge"}},
	}}
	observer := newObserverFake()
	retriever := NewHybridRetriever(lexical, semantic, RetrieverConfig{}, observer, quietLogger())

	result := retriever.Retrieve(context.Background(), testVariants("irap"), domain.HypotheticalDocument{Text: "documento ipotetico", WordCount: 2}, 10)

	if result.TotalFound != 4 {
		t.Fatalf("expected 4 raw hits, got %d", result.TotalFound)
	}
	if len(result.Documents) != 3 {
		t.Fatalf("expected 3 fused documents, got %d", len(result.Documents))
	}
	if result.Documents[0].DocumentID != "circ-9" {
		t.Fatalf("expected multi-strategy document first, got %s", result.Documents[0].DocumentID)
	}
	for _, strategy := range []domain.Strategy{domain.StrategyLexical, domain.StrategySemantic, domain.StrategyHypothetical} {
		if observer.strategyStatus(strategy) != strategyStatusOK {
			t.Fatalf("expected %s ok, got %q", strategy, observer.strategyStatus(strategy))
		}
	}
	reqs := lexical.requests()
	if len(reqs) != 1 || reqs[0].EntityQuery != "ent irap" || reqs[0].Limit != 30 {
		t.Fatalf("unexpected lexical request %+v", reqs)
	}
}

func TestRetrieveToleratesSingleStrategyFailure(t *testing.T) {
	lexical := &searchBackendFake{err: errors.New("index unavailable")}
	semantic := &searchBackendFake{fallback: []domain.SearchHit{{DocumentID: "doc-1", Score: 0.7}}}
	observer := newObserverFake()
	retriever := NewHybridRetriever(lexical, semantic, RetrieverConfig{}, observer, quietLogger())

	result := retriever.Retrieve(context.Background(), testVariants("iva"), domain.SkippedHypothetical("category"), 5)
	if len(result.Documents) != 1 || result.Documents[0].DocumentID != "doc-1" {
		t.Fatalf("expected surviving semantic result, got %+v", result.Documents)
	}
	if observer.strategyStatus(domain.StrategyLexical) != strategyStatusFailed {
		t.Fatalf("expected lexical failure recorded")
	}
	if observer.strategyStatus(domain.StrategyHypothetical) != strategyStatusSkipped {
		t.Fatalf("expected hypothetical skipped")
	}
	if got := len(semantic.requests()); got != 1 {
		t.Fatalf("expected skipped hypothetical not to search, got %d semantic calls", got)
	}
}

func TestRetrieveAllStrategiesFailingReturnsEmpty(t *testing.T) {
	lexical := &searchBackendFake{err: errors.New("down")}
	semantic := &searchBackendFake{panicMsg: "nil vector"}
	retriever := NewHybridRetriever(lexical, semantic, RetrieverConfig{}, nil, quietLogger())

	result := retriever.Retrieve(context.Background(), testVariants("imu"), domain.HypotheticalDocument{Text: "testo"}, 10)
	if len(result.Documents) != 0 || result.TotalFound != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
}

func TestRetrieveSlowStrategyTimesOutAlone(t *testing.T) {
	lexical := &searchBackendFake{delay: time.Second, fallback: []domain.SearchHit{{DocumentID: "late"}}}
	semantic := &searchBackendFake{fallback: []domain.SearchHit{{DocumentID: "fast", Score: 0.5}}}
	retriever := NewHybridRetriever(lexical, semantic, RetrieverConfig{StrategyTimeout: 20 * time.Millisecond}, nil, quietLogger())

	result := retriever.Retrieve(context.Background(), testVariants("ires"), domain.SkippedHypothetical("category"), 10)
	if len(result.Documents) != 1 || result.Documents[0].DocumentID != "fast" {
		t.Fatalf("expected only fast strategy result, got %+v", result.Documents)
	}
}

func TestRetrieveTopKAndSortedByFusedScore(t *testing.T) {
	hits := make([]domain.SearchHit, 0, 25)
	for i := 0; i < 25; i++ {
		hits = append(hits, domain.SearchHit{DocumentID: string(rune('A' + i)), Score: float64(25 - i), SourceType: []string{"faq", "legge", "guida", "circolare"}[i%4]})
	}
	lexical := &searchBackendFake{fallback: hits}
	semantic := &searchBackendFake{fallback: hits[5:]}
	retriever := NewHybridRetriever(lexical, semantic, RetrieverConfig{}, nil, quietLogger())

	for _, topK := range []int{1, 7, 10, 40} {
		result := retriever.Retrieve(context.Background(), testVariants("iva"), domain.SkippedHypothetical("category"), topK)
		if len(result.Documents) > topK {
			t.Fatalf("topK %d violated: %d documents", topK, len(result.Documents))
		}
		if !sort.SliceIsSorted(result.Documents, func(i, j int) bool {
			return result.Documents[i].FusedScore > result.Documents[j].FusedScore
		}) {
			t.Fatalf("documents not sorted by fused score for topK %d", topK)
		}
		seen := map[string]bool{}
		for _, doc := range result.Documents {
			if seen[doc.DocumentID] {
				t.Fatalf("duplicate document %s", doc.DocumentID)
			}
			seen[doc.DocumentID] = true
		}
	}
}

func TestRetrieveDefaultTopK(t *testing.T) {
	hits := make([]domain.SearchHit, 0, 15)
	for i := 0; i < 15; i++ {
		hits = append(hits, domain.SearchHit{DocumentID: string(rune('a' + i))})
	}
	retriever := NewHybridRetriever(&searchBackendFake{fallback: hits}, &searchBackendFake{}, RetrieverConfig{}, nil, quietLogger())

	result := retriever.Retrieve(context.Background(), testVariants("x"), domain.SkippedHypothetical("category"), 0)
	if len(result.Documents) != 10 {
		t.Fatalf("expected default top 10, got %d", len(result.Documents))
	}
}

func TestRetrieveRecencyBoostUsesClock(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	lexical := &searchBackendFake{fallback: []domain.SearchHit{
		{DocumentID: "old", Score: 2, PublishedAt: datePtr(now.AddDate(-3, 0, 0))},
		{DocumentID: "new", Score: 1, PublishedAt: datePtr(now.AddDate(0, -2, 0))},
	}}
	retriever := NewHybridRetriever(lexical, &searchBackendFake{}, RetrieverConfig{}, nil, quietLogger())
	retriever.now = func() time.Time { return now }

	result := retriever.Retrieve(context.Background(), testVariants("x"), domain.SkippedHypothetical("category"), 10)
	if result.Documents[0].DocumentID != "new" {
		t.Fatalf("expected recent document boosted to top, got %+v", result.Documents)
	}
}

func TestEntityQueryTextAddsNormativeReferences(t *testing.T) {
	variants := testVariants("irap")
	variants.NormativeReferences = []string{"D.Lgs. 446/1997", "ent irap"}
	if got := entityQueryText(variants); got != "ent irap D.Lgs. 446/1997" {
		t.Fatalf("unexpected entity query %q", got)
	}
}
