package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
	"github.com/mickgian/pratikoai-retrieval/internal/core/ports"
)

const (
	stageSynthesis = "synthesis"

	defaultPreWarmTimeout = 3 * time.Second
	charsPerToken         = 4
)

type PremiumTarget struct {
	Provider    ports.ChatProvider
	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

type SelectorConfig struct {
	Primary  PremiumTarget
	Fallback *PremiumTarget

	// Long-context model swap on the primary provider; disabled unless both are set.
	LongContextThresholdTokens int
	LongContextModel           string

	PreWarmTimeout time.Duration
}

type premiumSlot struct {
	target     PremiumTarget
	isFallback bool
	healthy    atomic.Bool
}

func (s *premiumSlot) name() string {
	if s.target.Provider == nil {
		return "unknown"
	}
	return s.target.Provider.Name()
}

// label identifies a slot in health reports; primary and fallback may share a
// provider with different models.
func (s *premiumSlot) label() string {
	return s.name() + "/" + s.target.Model
}

var _ ports.SynthesisExecutor = (*PremiumSelector)(nil)

// PremiumSelector tracks provider health across requests. Health flags are the
// only state shared between concurrent pipeline runs.
type PremiumSelector struct {
	primary  *premiumSlot
	fallback *premiumSlot
	cfg      SelectorConfig
	observer ports.PipelineObserver
	logger   *slog.Logger
}

func NewPremiumSelector(cfg SelectorConfig, observer ports.PipelineObserver, logger *slog.Logger) *PremiumSelector {
	if cfg.PreWarmTimeout <= 0 {
		cfg.PreWarmTimeout = defaultPreWarmTimeout
	}
	s := &PremiumSelector{
		primary:  &premiumSlot{target: cfg.Primary},
		cfg:      cfg,
		observer: observerOrNoop(observer),
		logger:   loggerOrDefault(logger).With("component", "premium_selector"),
	}
	s.primary.healthy.Store(true)
	if cfg.Fallback != nil && cfg.Fallback.Provider != nil {
		s.fallback = &premiumSlot{target: *cfg.Fallback, isFallback: true}
		s.fallback.healthy.Store(true)
	}
	return s
}

// Select prefers the primary provider, then a healthy fallback. With both
// unhealthy it still returns the primary, flagged degraded.
func (s *PremiumSelector) Select(contextText string) domain.ModelSelection {
	slot, degraded := s.pick()
	return domain.ModelSelection{
		Model:      s.modelFor(slot, contextText),
		Provider:   slot.name(),
		IsFallback: slot.isFallback,
		IsDegraded: degraded,
	}
}

func (s *PremiumSelector) pick() (*premiumSlot, bool) {
	if s.primary.healthy.Load() {
		return s.primary, false
	}
	if s.fallback != nil && s.fallback.healthy.Load() {
		return s.fallback, false
	}
	return s.primary, true
}

func (s *PremiumSelector) modelFor(slot *premiumSlot, contextText string) string {
	if slot.isFallback || s.cfg.LongContextThresholdTokens <= 0 || s.cfg.LongContextModel == "" {
		return slot.target.Model
	}
	if estimateTokens(contextText) > s.cfg.LongContextThresholdTokens {
		return s.cfg.LongContextModel
	}
	return slot.target.Model
}

func (s *PremiumSelector) alternate(slot *premiumSlot) *premiumSlot {
	if slot == s.primary {
		return s.fallback
	}
	return s.primary
}

// Execute runs the synthesis call with one failover. A double failure is the
// only pipeline error surfaced to callers.
func (s *PremiumSelector) Execute(ctx context.Context, contextText string, messages []domain.ChatMessage) (*domain.SynthesisResult, error) {
	start := time.Now()
	first, degraded := s.pick()

	content, model, firstErr := s.call(ctx, first, contextText, messages)
	if firstErr == nil {
		s.observer.ObserveStage(stageSynthesis, "ok", time.Since(start))
		return s.result(first, model, content, degraded), nil
	}
	s.markUnhealthy(first, firstErr)

	second := s.alternate(first)
	if second == nil {
		s.observer.ObserveStage(stageSynthesis, "error", time.Since(start))
		return nil, domain.WrapError(domain.ErrProviderUnavailable, "execute synthesis", firstErr)
	}

	s.logger.Warn("synthesis_failover", "from", first.name(), "to", second.name())
	content, model, secondErr := s.call(ctx, second, contextText, messages)
	if secondErr != nil {
		s.markUnhealthy(second, secondErr)
		s.observer.ObserveStage(stageSynthesis, "error", time.Since(start))
		return nil, domain.WrapError(domain.ErrProviderUnavailable, "execute synthesis", errors.Join(firstErr, secondErr))
	}
	s.observer.ObserveStage(stageSynthesis, "failover", time.Since(start))
	return s.result(second, model, content, degraded), nil
}

func (s *PremiumSelector) call(ctx context.Context, slot *premiumSlot, contextText string, messages []domain.ChatMessage) (string, string, error) {
	if slot.target.Provider == nil {
		return "", "", fmt.Errorf("provider not configured")
	}
	model := s.modelFor(slot, contextText)
	callCtx := ctx
	if slot.target.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, slot.target.Timeout)
		defer cancel()
	}

	resp, err := slot.target.Provider.Chat(callCtx, domain.ChatRequest{
		Model:       model,
		Messages:    synthesisMessages(contextText, messages),
		Temperature: slot.target.Temperature,
		MaxTokens:   slot.target.MaxTokens,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = domain.WrapError(domain.ErrUpstreamTimeout, "synthesis "+slot.name(), err)
		}
		return "", model, err
	}
	s.markHealthy(slot)
	return resp.Content, model, nil
}

func (s *PremiumSelector) result(slot *premiumSlot, model, content string, degraded bool) *domain.SynthesisResult {
	return &domain.SynthesisResult{
		Content: content,
		Selection: domain.ModelSelection{
			Model:      model,
			Provider:   slot.name(),
			IsFallback: slot.isFallback,
			IsDegraded: degraded,
		},
	}
}

// PreWarm probes every provider concurrently and seeds the health flags.
func (s *PremiumSelector) PreWarm(ctx context.Context) map[string]bool {
	slots := []*premiumSlot{s.primary}
	if s.fallback != nil {
		slots = append(slots, s.fallback)
	}

	var wg sync.WaitGroup
	for _, slot := range slots {
		wg.Add(1)
		go func(slot *premiumSlot) {
			defer wg.Done()
			if slot.target.Provider == nil {
				s.markUnhealthy(slot, fmt.Errorf("provider not configured"))
				return
			}
			pingCtx, cancel := context.WithTimeout(ctx, s.cfg.PreWarmTimeout)
			defer cancel()
			if err := slot.target.Provider.Ping(pingCtx); err != nil {
				s.markUnhealthy(slot, err)
				return
			}
			s.markHealthy(slot)
		}(slot)
	}
	wg.Wait()

	return s.Health()
}

// Health reports each slot keyed by provider/model.
func (s *PremiumSelector) Health() map[string]bool {
	out := map[string]bool{s.primary.label(): s.primary.healthy.Load()}
	if s.fallback != nil {
		out[s.fallback.label()] = s.fallback.healthy.Load()
	}
	return out
}

func (s *PremiumSelector) markUnhealthy(slot *premiumSlot, err error) {
	if slot.healthy.Swap(false) {
		s.logger.Warn("provider_marked_unhealthy", "provider", slot.name(), "model", slot.target.Model, "error", err)
	}
	s.observer.SetProviderHealth(slot.label(), false)
}

func (s *PremiumSelector) markHealthy(slot *premiumSlot) {
	if !slot.healthy.Swap(true) {
		s.logger.Info("provider_marked_healthy", "provider", slot.name(), "model", slot.target.Model)
	}
	s.observer.SetProviderHealth(slot.label(), true)
}

func synthesisMessages(contextText string, messages []domain.ChatMessage) []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(messages)+1)
	if contextText != "" {
		out = append(out, domain.ChatMessage{
			Role:    "system",
			Content: "Answer using the following Italian legal and fiscal sources.\n\n" + contextText,
		})
	}
	return append(out, messages...)
}

func estimateTokens(text string) int {
	return len(text) / charsPerToken
}
