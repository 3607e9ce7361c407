package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
	"github.com/mickgian/pratikoai-retrieval/internal/core/ports"
)

const (
	stageRetriever = "retriever"

	defaultTopK                  = 10
	defaultCandidatesPerStrategy = 30
	defaultStrategyTimeout       = 8 * time.Second

	strategyStatusOK      = "ok"
	strategyStatusFailed  = "failed"
	strategyStatusSkipped = "skipped"
)

type RetrieverConfig struct {
	TopK                  int
	CandidatesPerStrategy int
	StrategyTimeout       time.Duration
	RRFK                  int
	RecencyWindowDays     int
	Weights               map[domain.Strategy]float64
}

func (c RetrieverConfig) normalize() RetrieverConfig {
	out := c
	if out.TopK <= 0 {
		out.TopK = defaultTopK
	}
	if out.CandidatesPerStrategy <= 0 {
		out.CandidatesPerStrategy = defaultCandidatesPerStrategy
	}
	if out.StrategyTimeout <= 0 {
		out.StrategyTimeout = defaultStrategyTimeout
	}
	if out.RRFK <= 0 {
		out.RRFK = defaultRRFK
	}
	if out.RecencyWindowDays <= 0 {
		out.RecencyWindowDays = defaultRecencyWindowDays
	}
	if len(out.Weights) == 0 {
		out.Weights = DefaultStrategyWeights()
	}
	return out
}

// HybridRetriever runs the lexical, semantic and hypothetical passes concurrently
// and fuses them. Lexical and semantic backends take query text; embedding is the
// semantic backend's concern.
type HybridRetriever struct {
	lexical  ports.SearchBackend
	semantic ports.SearchBackend
	cfg      RetrieverConfig
	observer ports.PipelineObserver
	logger   *slog.Logger
	now      func() time.Time
}

func NewHybridRetriever(
	lexical ports.SearchBackend,
	semantic ports.SearchBackend,
	cfg RetrieverConfig,
	observer ports.PipelineObserver,
	logger *slog.Logger,
) *HybridRetriever {
	return &HybridRetriever{
		lexical:  lexical,
		semantic: semantic,
		cfg:      cfg.normalize(),
		observer: observerOrNoop(observer),
		logger:   loggerOrDefault(logger).With("component", stageRetriever),
		now:      time.Now,
	}
}

type strategyJob struct {
	strategy domain.Strategy
	backend  ports.SearchBackend
	request  domain.SearchRequest
	skip     bool
}

// Retrieve never fails; strategy errors become empty contributions and any
// unexpected failure yields an empty result.
func (r *HybridRetriever) Retrieve(
	ctx context.Context,
	variants domain.QueryVariants,
	hypothetical domain.HypotheticalDocument,
	topK int,
) (result domain.RetrievalResult) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("retrieval_panic", "panic", fmt.Sprint(rec))
			result = domain.RetrievalResult{Documents: []domain.RankedDocument{}, Elapsed: time.Since(start)}
		}
		outcome := "ok"
		if len(result.Documents) == 0 {
			outcome = "empty"
		}
		r.observer.ObserveRetrieved(len(result.Documents))
		r.observer.ObserveStage(stageRetriever, outcome, time.Since(start))
	}()

	if topK <= 0 {
		topK = r.cfg.TopK
	}

	entityQuery := entityQueryText(variants)
	jobs := []strategyJob{
		{
			strategy: domain.StrategyLexical,
			backend:  r.lexical,
			request:  domain.SearchRequest{Query: variants.Lexical.Text, EntityQuery: entityQuery, Limit: r.cfg.CandidatesPerStrategy},
		},
		{
			strategy: domain.StrategySemantic,
			backend:  r.semantic,
			request:  domain.SearchRequest{Query: variants.Semantic.Text, EntityQuery: entityQuery, Limit: r.cfg.CandidatesPerStrategy},
		},
		{
			strategy: domain.StrategyHypothetical,
			backend:  r.semantic,
			request:  domain.SearchRequest{Query: hypothetical.Text, Limit: r.cfg.CandidatesPerStrategy},
			skip:     hypothetical.Skipped || strings.TrimSpace(hypothetical.Text) == "",
		},
	}

	results := make([]strategyResult, len(jobs))
	var wg sync.WaitGroup
	for i, job := range jobs {
		results[i] = strategyResult{strategy: job.strategy}
		if job.skip || job.backend == nil || strings.TrimSpace(job.request.Query) == "" {
			r.observer.ObserveStrategy(job.strategy, strategyStatusSkipped, 0)
			continue
		}
		wg.Add(1)
		go func(i int, job strategyJob) {
			defer wg.Done()
			results[i].hits = r.runStrategy(ctx, job)
		}(i, job)
	}
	wg.Wait()

	total := 0
	for _, res := range results {
		total += len(res.hits)
	}

	fused := fuseRRF(results, r.cfg.Weights, r.cfg.RRFK)
	applyBoosts(fused, r.now(), r.cfg.RecencyWindowDays)
	deduped := deduplicateByRawScore(fused)
	sortRanked(deduped)

	return domain.RetrievalResult{
		Documents:  truncateRanked(deduped, topK),
		TotalFound: total,
		Elapsed:    time.Since(start),
	}
}

func (r *HybridRetriever) runStrategy(ctx context.Context, job strategyJob) (hits []domain.SearchHit) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("retrieval_strategy_panic", "strategy", job.strategy, "panic", fmt.Sprint(rec))
			r.observer.ObserveStrategy(job.strategy, strategyStatusFailed, 0)
			hits = nil
		}
	}()

	strategyCtx, cancel := context.WithTimeout(ctx, r.cfg.StrategyTimeout)
	defer cancel()

	found, err := job.backend.Search(strategyCtx, job.request)
	if err != nil {
		r.logger.Warn("retrieval_strategy_failed", "strategy", job.strategy, "error", err)
		r.observer.ObserveStrategy(job.strategy, strategyStatusFailed, 0)
		return nil
	}
	r.observer.ObserveStrategy(job.strategy, strategyStatusOK, len(found))
	return found
}

// entityQueryText joins the entity variant with any normative references the
// expander surfaced.
func entityQueryText(variants domain.QueryVariants) string {
	parts := []string{strings.TrimSpace(variants.Entity.Text)}
	for _, ref := range variants.NormativeReferences {
		if !strings.Contains(parts[0], ref) {
			parts = append(parts, ref)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
