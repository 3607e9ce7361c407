package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
	"github.com/mickgian/pratikoai-retrieval/internal/core/ports"
)

const (
	stageRouter = "router"

	emptyQueryConfidence    = 0.2
	fallbackRouteConfidence = 0.5
	maxFollowupWords        = 4
)

var followupLeads = []string{"e", "ed", "and", "ma", "but", "invece", "anche", "pure", "oppure", "or", "what about", "e se", "e per"}

type QueryRouter struct {
	llm          ports.Completer
	observer     ports.PipelineObserver
	logger       *slog.Logger
	historyTurns int
}

func NewQueryRouter(llm ports.Completer, observer ports.PipelineObserver, logger *slog.Logger, historyTurns int) *QueryRouter {
	if historyTurns <= 0 {
		historyTurns = 3
	}
	return &QueryRouter{
		llm:          llm,
		observer:     observerOrNoop(observer),
		logger:       loggerOrDefault(logger).With("component", stageRouter),
		historyTurns: historyTurns,
	}
}

type routerPayload struct {
	Category          *string         `json:"category"`
	Confidence        *float64        `json:"confidence"`
	Reasoning         *string         `json:"reasoning"`
	Entities          []domain.Entity `json:"entities"`
	RequiresFreshness *bool           `json:"requires_freshness"`
	SuggestedSources  []string        `json:"suggested_sources"`
	IsFollowup        *bool           `json:"is_followup"`
}

// Route never fails: upstream problems yield the fixed technical_research decision.
func (r *QueryRouter) Route(ctx context.Context, query string, history []domain.ConversationTurn) domain.RouterDecision {
	start := time.Now()
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		r.observer.ObserveStage(stageRouter, "empty_query", time.Since(start))
		return domain.RouterDecision{
			Category:       domain.CategoryCasual,
			Confidence:     emptyQueryConfidence,
			Reasoning:      "empty query",
			NeedsRetrieval: false,
		}
	}

	recent := lastTurns(history, r.historyTurns)
	heuristicFollowup := looksLikeFollowup(trimmed, recent)

	raw, err := r.llm.Complete(ctx, domain.TierClassification, domain.CompletionRequest{
		System: routerSystemPrompt(),
		User:   routerUserPrompt(trimmed, recent),
		JSON:   true,
	})
	if err == nil {
		var decision domain.RouterDecision
		decision, err = parseRouterDecision(raw)
		if err == nil {
			decision.IsFollowup = decision.IsFollowup || heuristicFollowup
			decision.NeedsRetrieval = domain.NeedsRetrieval(decision.Category, decision.IsFollowup)
			r.observer.ObserveStage(stageRouter, stageOutcome(false), time.Since(start))
			r.logger.Debug("router_decision",
				"category", decision.Category,
				"confidence", decision.Confidence,
				"is_followup", decision.IsFollowup,
				"needs_retrieval", decision.NeedsRetrieval,
			)
			return decision
		}
		r.logger.Warn("router_malformed_response", "error", err, "response_preview", previewResponse(raw))
	}

	reason := fallbackReason(err)
	r.observer.ObserveFallback(stageRouter, reason)
	r.observer.ObserveStage(stageRouter, stageOutcome(true), time.Since(start))
	r.logger.Warn("router_fallback", "reason", reason, "error", err)
	return fallbackDecision(reason, heuristicFollowup)
}

func fallbackDecision(reason string, followup bool) domain.RouterDecision {
	return domain.RouterDecision{
		Category:       domain.CategoryTechnicalResearch,
		Confidence:     fallbackRouteConfidence,
		Reasoning:      fmt.Sprintf("classification unavailable (%s); defaulting to retrieval", reason),
		IsFollowup:     followup,
		NeedsRetrieval: true,
		Fallback:       true,
	}
}

func parseRouterDecision(raw string) (domain.RouterDecision, error) {
	var payload routerPayload
	if err := decodeStructured("parse router response", raw, &payload); err != nil {
		return domain.RouterDecision{}, err
	}
	if payload.Category == nil {
		return domain.RouterDecision{}, domain.WrapError(domain.ErrMalformedResponse, "parse router response", fmt.Errorf("missing category"))
	}
	category, ok := domain.ParseCategory(*payload.Category)
	if !ok {
		return domain.RouterDecision{}, domain.WrapError(domain.ErrMalformedResponse, "parse router response", fmt.Errorf("unknown category %q", *payload.Category))
	}

	decision := domain.RouterDecision{
		Category:         category,
		Confidence:       fallbackRouteConfidence,
		SuggestedSources: payload.SuggestedSources,
	}
	if payload.Confidence != nil {
		decision.Confidence = domain.ClampConfidence(*payload.Confidence)
	}
	if payload.Reasoning != nil {
		decision.Reasoning = strings.TrimSpace(*payload.Reasoning)
	}
	if payload.RequiresFreshness != nil {
		decision.RequiresFreshness = *payload.RequiresFreshness
	}
	if payload.IsFollowup != nil {
		decision.IsFollowup = *payload.IsFollowup
	}
	for _, entity := range payload.Entities {
		text := strings.TrimSpace(entity.Text)
		if text == "" {
			continue
		}
		decision.Entities = append(decision.Entities, domain.Entity{
			Text:       text,
			Type:       strings.TrimSpace(entity.Type),
			Confidence: domain.ClampConfidence(entity.Confidence),
		})
	}
	return decision, nil
}

func lastTurns(history []domain.ConversationTurn, n int) []domain.ConversationTurn {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// looksLikeFollowup catches short conjunction-led queries ("e l'IRAP?") that
// only make sense against the previous turn.
func looksLikeFollowup(query string, history []domain.ConversationTurn) bool {
	if len(history) == 0 {
		return false
	}
	lowered := strings.ToLower(strings.TrimSpace(query))
	words := strings.Fields(lowered)
	if len(words) == 0 || len(words) > maxFollowupWords {
		return false
	}
	for _, lead := range followupLeads {
		if lowered == lead || strings.HasPrefix(lowered, lead+" ") {
			return true
		}
	}
	return false
}

func routerSystemPrompt() string {
	categories := make([]string, 0, len(domain.Categories))
	for _, c := range domain.Categories {
		categories = append(categories, string(c))
	}
	return `You route questions for an Italian tax and legal assistant.
Return a strict JSON object with keys:
category (one of: ` + strings.Join(categories, ", ") + `),
confidence (number from 0 to 1), reasoning (string),
entities (array of objects with text, type, confidence),
requires_freshness (boolean), suggested_sources (array of strings),
is_followup (boolean, true when the question depends on the previous turns).
No markdown, no extra keys.`
}

func routerUserPrompt(query string, history []domain.ConversationTurn) string {
	var b strings.Builder
	if len(history) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, turn := range history {
			b.WriteString(turn.Role)
			b.WriteString(": ")
			b.WriteString(truncateRunes(strings.TrimSpace(turn.Content), 600))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Question:\n")
	b.WriteString(query)
	return b.String()
}
