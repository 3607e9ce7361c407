package usecase

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
)

type PipelineConfig struct {
	TopK    int
	Timeout time.Duration
}

// Pipeline wires the retrieval stages: route, expand and hypothesize in
// parallel, retrieve, format, then pick the synthesis target.
type Pipeline struct {
	router    *QueryRouter
	expander  *QueryExpander
	hyde      *HypotheticalGenerator
	retriever *HybridRetriever
	formatter *ContextFormatter
	selector  *PremiumSelector
	cfg       PipelineConfig
	logger    *slog.Logger
}

func NewPipeline(
	router *QueryRouter,
	expander *QueryExpander,
	hyde *HypotheticalGenerator,
	retriever *HybridRetriever,
	formatter *ContextFormatter,
	selector *PremiumSelector,
	cfg PipelineConfig,
	logger *slog.Logger,
) *Pipeline {
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	return &Pipeline{
		router:    router,
		expander:  expander,
		hyde:      hyde,
		retriever: retriever,
		formatter: formatter,
		selector:  selector,
		cfg:       cfg,
		logger:    loggerOrDefault(logger).With("component", "pipeline"),
	}
}

func (p *Pipeline) Run(ctx context.Context, req domain.PipelineRequest) (*domain.PipelineResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "run pipeline", err)
	}
	start := time.Now()

	requestID := strings.TrimSpace(req.RequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	logger := p.logger.With("request_id", requestID)

	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	topK := req.TopK
	if topK <= 0 {
		topK = p.cfg.TopK
	}

	decision := p.router.Route(ctx, req.Query, req.History)
	result := &domain.PipelineResult{
		RequestID:    requestID,
		Decision:     decision,
		Hypothetical: domain.SkippedHypothetical(skipReasonCategory),
		Retrieval:    domain.RetrievalResult{Documents: []domain.RankedDocument{}},
		Documents:    []domain.DocumentMetadata{},
	}

	if !decision.NeedsRetrieval {
		result.Selection = p.selector.Select("")
		result.Elapsed = time.Since(start)
		logger.Info("pipeline_completed",
			"category", decision.Category,
			"needs_retrieval", false,
			"duration_ms", float64(result.Elapsed.Microseconds())/1000.0,
		)
		return result, nil
	}

	searchQuery := strings.TrimSpace(req.Query)
	if decision.IsFollowup {
		searchQuery = contextualizeQuery(searchQuery, req.History)
	}

	var (
		wg           sync.WaitGroup
		variants     domain.QueryVariants
		hypothetical domain.HypotheticalDocument
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		variants = p.expander.Expand(ctx, searchQuery, decision.Entities)
	}()
	go func() {
		defer wg.Done()
		hypothetical = p.hyde.Generate(ctx, searchQuery, hypotheticalCategory(decision))
	}()
	wg.Wait()

	retrieval := p.retriever.Retrieve(ctx, variants, hypothetical, topK)
	docs := p.formatter.ExtractAll(retrieval)
	contextText := p.formatter.FormatMetadata(docs)

	result.Variants = &variants
	result.Hypothetical = hypothetical
	result.Retrieval = retrieval
	result.Documents = docs
	result.Context = contextText
	result.Selection = p.selector.Select(contextText)
	result.Elapsed = time.Since(start)

	logger.Info("pipeline_completed",
		"category", decision.Category,
		"needs_retrieval", true,
		"is_followup", decision.IsFollowup,
		"router_fallback", decision.Fallback,
		"expansion_fallback", variants.FallbackReason,
		"hypothetical_skipped", hypothetical.Skipped,
		"documents", len(docs),
		"total_found", retrieval.TotalFound,
		"provider", result.Selection.Provider,
		"duration_ms", float64(result.Elapsed.Microseconds())/1000.0,
	)
	return result, nil
}

// hypotheticalCategory lifts a follow-up out of a never-retrieve category so
// all three strategies run once retrieval has been forced.
func hypotheticalCategory(decision domain.RouterDecision) domain.Category {
	if decision.IsFollowup && decision.Category.NeverRetrieves() {
		return domain.CategoryTechnicalResearch
	}
	return decision.Category
}

// contextualizeQuery prefixes a follow-up with the most recent user turn so the
// expander and hypothetical generator see what "e l'IRAP?" refers to.
func contextualizeQuery(query string, history []domain.ConversationTurn) string {
	for i := len(history) - 1; i >= 0; i-- {
		turn := history[i]
		if !strings.EqualFold(turn.Role, "user") {
			continue
		}
		previous := strings.TrimSpace(turn.Content)
		if previous == "" || previous == query {
			continue
		}
		return truncateRunes(previous, 600) + " " + query
	}
	if len(history) > 0 {
		previous := strings.TrimSpace(history[len(history)-1].Content)
		if previous != "" {
			return truncateRunes(previous, 600) + " " + query
		}
	}
	return query
}
