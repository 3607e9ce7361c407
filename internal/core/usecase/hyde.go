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
	stageHypothetical = "hypothetical"

	skipReasonCategory = "category"

	hypotheticalMinWords = 150
	hypotheticalMaxWords = 250
)

type HypotheticalGenerator struct {
	llm      ports.Completer
	observer ports.PipelineObserver
	logger   *slog.Logger
}

func NewHypotheticalGenerator(llm ports.Completer, observer ports.PipelineObserver, logger *slog.Logger) *HypotheticalGenerator {
	return &HypotheticalGenerator{
		llm:      llm,
		observer: observerOrNoop(observer),
		logger:   loggerOrDefault(logger).With("component", stageHypothetical),
	}
}

// Generate drafts a plausible answer used only to seed semantic search.
func (g *HypotheticalGenerator) Generate(ctx context.Context, query string, category domain.Category) domain.HypotheticalDocument {
	if category.NeverRetrieves() {
		return domain.SkippedHypothetical(skipReasonCategory)
	}
	start := time.Now()

	raw, err := g.llm.Complete(ctx, domain.TierHypothetical, domain.CompletionRequest{
		System: hypotheticalSystemPrompt(category),
		User:   strings.TrimSpace(query),
	})
	text := strings.TrimSpace(stripCodeFence(raw))
	if err == nil && text == "" {
		err = domain.WrapError(domain.ErrMalformedResponse, "generate hypothetical document", fmt.Errorf("empty text"))
	}
	if err != nil {
		reason := domain.SkipReasonError
		if domain.IsTimeout(err) {
			reason = domain.SkipReasonTimeout
		}
		g.observer.ObserveFallback(stageHypothetical, reason)
		g.observer.ObserveStage(stageHypothetical, stageOutcome(true), time.Since(start))
		g.logger.Warn("hypothetical_skipped", "reason", reason, "error", err)
		return domain.SkippedHypothetical(reason)
	}

	words := len(strings.Fields(text))
	if words < hypotheticalMinWords || words > hypotheticalMaxWords {
		g.logger.Debug("hypothetical_length_outside_window", "word_count", words)
	}
	g.observer.ObserveStage(stageHypothetical, stageOutcome(false), time.Since(start))
	return domain.HypotheticalDocument{Text: text, WordCount: words}
}

func hypotheticalSystemPrompt(category domain.Category) string {
	register := "the register of an Agenzia delle Entrate circular"
	switch category {
	case domain.CategoryNormativeReference:
		register = "the register of an Italian statute or legislative decree, citing articles"
	case domain.CategoryProcedural:
		register = "the register of an official operational guide, listing the steps"
	}
	return fmt.Sprintf(`Write in Italian a short document (%d-%d words) that plausibly answers the question,
using %s. Cite plausible normative references. Output only the document text.`,
		hypotheticalMinWords, hypotheticalMaxWords, register)
}
