package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mickgian/pratikoai-retrieval/internal/config"
	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
	"github.com/mickgian/pratikoai-retrieval/internal/core/ports"
	"github.com/mickgian/pratikoai-retrieval/internal/infrastructure/resilience"
)

// CallObserver receives one event per provider attempt.
type CallObserver interface {
	ObserveLLMCall(provider, tier, outcome string, elapsed time.Duration)
}

type RateLimit struct {
	RPS   float64
	Burst int
}

// Gateway resolves a tier to its provider and model, and runs the call under
// the tier deadline, a per-provider rate limit and the resilience executor.
// When the tier declares a fallback it is tried exactly once.
type Gateway struct {
	tiers     *config.TierRegistry
	providers map[string]ports.ChatProvider
	limiters  map[string]*rate.Limiter
	executor  *resilience.Executor
	observer  CallObserver
	logger    *slog.Logger
}

func NewGateway(
	tiers *config.TierRegistry,
	providers []ports.ChatProvider,
	executor *resilience.Executor,
	limit RateLimit,
	observer CallObserver,
	logger *slog.Logger,
) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		tiers:     tiers,
		providers: make(map[string]ports.ChatProvider, len(providers)),
		limiters:  make(map[string]*rate.Limiter, len(providers)),
		executor:  executor,
		observer:  observer,
		logger:    logger.With("component", "llm_gateway"),
	}
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		name := provider.Name()
		g.providers[name] = provider
		if limit.RPS > 0 {
			burst := max(limit.Burst, 1)
			g.limiters[name] = rate.NewLimiter(rate.Limit(limit.RPS), burst)
		}
	}
	return g
}

// Provider returns the registered provider by name.
func (g *Gateway) Provider(name string) (ports.ChatProvider, bool) {
	p, ok := g.providers[name]
	return p, ok
}

func (g *Gateway) Complete(ctx context.Context, tierName string, req domain.CompletionRequest) (string, error) {
	tier, err := g.tiers.Resolve(tierName)
	if err != nil {
		return "", err
	}

	messages := make([]domain.ChatMessage, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, domain.ChatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, domain.ChatMessage{Role: "user", Content: req.User})

	chat := domain.ChatRequest{
		Model:       tier.Model,
		Messages:    messages,
		Temperature: tier.Temperature,
		MaxTokens:   tier.MaxTokens,
		JSON:        req.JSON,
	}
	content, primaryErr := g.attempt(ctx, tier.Name, tier.Provider, chat, tier.Timeout)
	if primaryErr == nil {
		return content, nil
	}
	if tier.Fallback == nil || ctx.Err() != nil {
		return "", primaryErr
	}

	g.logger.Warn("tier_fallback",
		"tier", tier.Name,
		"provider", tier.Provider,
		"fallback_provider", tier.Fallback.Provider,
		"error", primaryErr,
	)
	chat.Model = tier.Fallback.Model
	timeout := tier.Fallback.Timeout
	if timeout <= 0 {
		timeout = tier.Timeout
	}
	content, fallbackErr := g.attempt(ctx, tier.Name, tier.Fallback.Provider, chat, timeout)
	if fallbackErr == nil {
		return content, nil
	}
	joined := errors.Join(primaryErr, fallbackErr)
	if domain.IsTimeout(primaryErr) && domain.IsTimeout(fallbackErr) {
		return "", joined
	}
	return "", domain.WrapError(domain.ErrProviderUnavailable, "complete "+tier.Name, joined)
}

func (g *Gateway) attempt(ctx context.Context, tierName, providerName string, chat domain.ChatRequest, timeout time.Duration) (string, error) {
	provider, ok := g.providers[providerName]
	if !ok {
		return "", domain.WrapError(domain.ErrProviderUnavailable, "complete "+tierName, fmt.Errorf("provider %q is not configured", providerName))
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	content, err := g.call(callCtx, provider, chat)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !domain.IsKind(err, domain.ErrUpstreamTimeout) {
		err = domain.WrapError(domain.ErrUpstreamTimeout, providerName+" "+tierName, err)
	}
	g.observe(providerName, tierName, err, time.Since(start))
	return content, err
}

func (g *Gateway) call(ctx context.Context, provider ports.ChatProvider, chat domain.ChatRequest) (string, error) {
	if limiter, ok := g.limiters[provider.Name()]; ok {
		if err := limiter.Wait(ctx); err != nil {
			return "", WrapTemporaryIfNeeded(provider.Name()+" rate limit", err)
		}
	}

	var content string
	fn := func(ctx context.Context) error {
		resp, err := provider.Chat(ctx, chat)
		if err != nil {
			return err
		}
		content = resp.Content
		return nil
	}
	if g.executor == nil {
		return content, fn(ctx)
	}
	err := g.executor.Execute(ctx, provider.Name()+".chat", fn, ClassifyError)
	return content, WrapTemporaryIfNeeded(provider.Name()+" chat", err)
}

func (g *Gateway) observe(provider, tier string, err error, elapsed time.Duration) {
	if g.observer == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case domain.IsTimeout(err):
		outcome = "timeout"
	case resilience.IsCircuitOpen(err):
		outcome = "circuit_open"
	default:
		outcome = "error"
	}
	g.observer.ObserveLLMCall(provider, tier, outcome, elapsed)
}
