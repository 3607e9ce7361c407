package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
	"github.com/mickgian/pratikoai-retrieval/internal/core/ports"
)

const (
	stageExpander = "expander"

	expansionCacheKeyPrefix = "expansion:v1:"
)

type QueryExpander struct {
	llm      ports.Completer
	cache    ports.ExpansionCache
	observer ports.PipelineObserver
	logger   *slog.Logger
}

// NewQueryExpander accepts a nil cache.
func NewQueryExpander(llm ports.Completer, cache ports.ExpansionCache, observer ports.PipelineObserver, logger *slog.Logger) *QueryExpander {
	return &QueryExpander{
		llm:      llm,
		cache:    cache,
		observer: observerOrNoop(observer),
		logger:   loggerOrDefault(logger).With("component", stageExpander),
	}
}

type expansionPayload struct {
	Lexical              *string                      `json:"lexical"`
	Semantic             *string                      `json:"semantic"`
	Entity               *string                      `json:"entity"`
	NormativeReferences  []string                     `json:"normative_references"`
	VocabularyExpansions []domain.VocabularyExpansion `json:"vocabulary_expansions"`
}

// Expand never blocks retrieval: any failure returns the original query in every slot.
func (e *QueryExpander) Expand(ctx context.Context, query string, entities []domain.Entity) domain.QueryVariants {
	start := time.Now()
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return domain.FallbackVariants(query, "empty_query")
	}

	key := expansionCacheKey(trimmed, entities)
	if e.cache != nil {
		cached, ok, err := e.cache.Get(ctx, key)
		switch {
		case err != nil:
			e.logger.Warn("expansion_cache_get_failed", "error", err)
		case ok && cached != nil:
			e.observer.ObserveStage(stageExpander, "cache_hit", time.Since(start))
			return *cached
		}
	}

	raw, err := e.llm.Complete(ctx, domain.TierExpansion, domain.CompletionRequest{
		System: expanderSystemPrompt(),
		User:   expanderUserPrompt(trimmed, entities),
		JSON:   true,
	})
	if err == nil {
		var payload expansionPayload
		if err = decodeStructured("parse expansion response", raw, &payload); err == nil {
			variants := buildVariants(trimmed, payload)
			e.observer.ObserveStage(stageExpander, stageOutcome(false), time.Since(start))
			if e.cache != nil {
				if cacheErr := e.cache.Set(ctx, key, variants); cacheErr != nil {
					e.logger.Warn("expansion_cache_set_failed", "error", cacheErr)
				}
			}
			return variants
		}
		e.logger.Warn("expansion_malformed_response", "error", err, "response_preview", previewResponse(raw))
	}

	reason := fallbackReason(err)
	e.observer.ObserveFallback(stageExpander, reason)
	e.observer.ObserveStage(stageExpander, stageOutcome(true), time.Since(start))
	e.logger.Warn("expansion_fallback", "reason", reason, "error", err)
	return domain.FallbackVariants(trimmed, reason)
}

// buildVariants degrades field by field: a missing or blank rewrite keeps the original text.
func buildVariants(query string, payload expansionPayload) domain.QueryVariants {
	variants := domain.QueryVariants{
		Original: query,
		Lexical:  pickVariant(query, payload.Lexical),
		Semantic: pickVariant(query, payload.Semantic),
		Entity:   pickVariant(query, payload.Entity),
	}
	for _, ref := range payload.NormativeReferences {
		if ref = strings.TrimSpace(ref); ref != "" {
			variants.NormativeReferences = append(variants.NormativeReferences, ref)
		}
	}
	for _, exp := range payload.VocabularyExpansions {
		informal := strings.TrimSpace(exp.Informal)
		formal := strings.TrimSpace(exp.Formal)
		if informal == "" || formal == "" {
			continue
		}
		variants.VocabularyExpansions = append(variants.VocabularyExpansions, domain.VocabularyExpansion{
			Informal: informal,
			Formal:   formal,
		})
	}
	return variants
}

func pickVariant(query string, candidate *string) domain.QueryVariant {
	if candidate == nil || strings.TrimSpace(*candidate) == "" {
		return domain.OriginalVariant(query)
	}
	return domain.QueryVariant{Text: strings.TrimSpace(*candidate), Origin: domain.OriginExpanded}
}

func expansionCacheKey(query string, entities []domain.Entity) string {
	parts := make([]string, 0, len(entities))
	for _, entity := range entities {
		parts = append(parts, strings.ToLower(strings.TrimSpace(entity.Text)))
	}
	sort.Strings(parts)

	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := sha256.Sum256([]byte(normalized + "|" + strings.Join(parts, ",")))
	return expansionCacheKeyPrefix + hex.EncodeToString(sum[:])
}

func expanderSystemPrompt() string {
	return `You rewrite Italian tax and legal questions for search.
Return a strict JSON object with keys:
lexical (keyword-dense rewrite without function words, for full-text search),
semantic (complete natural-language rewrite with implicit context made explicit),
entity (rewrite dense with laws, decrees, article numbers and official codes),
normative_references (array of explicitly identifiable normative documents),
vocabulary_expansions (array of objects with informal and formal, bridging everyday terms to legal terms).
No markdown, no extra keys.`
}

func expanderUserPrompt(query string, entities []domain.Entity) string {
	var b strings.Builder
	b.WriteString("Question:\n")
	b.WriteString(query)
	if len(entities) > 0 {
		b.WriteString("\n\nKnown entities:\n")
		for _, entity := range entities {
			b.WriteString("- ")
			b.WriteString(entity.Text)
			if entity.Type != "" {
				b.WriteString(" (")
				b.WriteString(entity.Type)
				b.WriteString(")")
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
