package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mickgian/pratikoai-retrieval/internal/config"
	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
	"github.com/mickgian/pratikoai-retrieval/internal/core/ports"
	"github.com/mickgian/pratikoai-retrieval/internal/infrastructure/resilience"
)

type providerFake struct {
	name    string
	content string
	err     error
	delay   time.Duration

	mu    sync.Mutex
	calls []domain.ChatRequest
}

func (p *providerFake) Name() string { return p.name }

func (p *providerFake) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.mu.Unlock()
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return domain.ChatResponse{}, ctx.Err()
		}
	}
	if p.err != nil {
		return domain.ChatResponse{}, p.err
	}
	return domain.ChatResponse{Content: p.content, Model: req.Model}, nil
}

func (p *providerFake) Ping(context.Context) error { return nil }

func (p *providerFake) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type callObserverFake struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *callObserverFake) ObserveLLMCall(provider, tier, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, provider+"/"+tier+"/"+outcome)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRegistry() *config.TierRegistry {
	return config.NewTierRegistry(map[string]config.Tier{
		domain.TierClassification: {
			Name: domain.TierClassification, Provider: config.ProviderOpenAI, Model: "gpt-4o-mini",
			Timeout: time.Second, Temperature: 0.1, MaxTokens: 400,
		},
		domain.TierSynthesis: {
			Name: domain.TierSynthesis, Provider: config.ProviderOpenAI, Model: "gpt-4o",
			Timeout: 30 * time.Millisecond, Temperature: 0.2, MaxTokens: 4000,
			Fallback: &config.TierFallback{Provider: config.ProviderAnthropic, Model: "claude-3-5-sonnet-latest", Timeout: time.Second},
		},
	})
}

func TestCompleteUsesTierSettings(t *testing.T) {
	openai := &providerFake{name: "openai", content: `{"category":"procedural"}`}
	observer := &callObserverFake{}
	gateway := NewGateway(testRegistry(), []ports.ChatProvider{openai}, nil, RateLimit{}, observer, quietLogger())

	content, err := gateway.Complete(context.Background(), domain.TierClassification, domain.CompletionRequest{
		System: "classifica", User: "come apro la partita IVA?", JSON: true,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if content != `{"category":"procedural"}` {
		t.Fatalf("unexpected content %q", content)
	}
	req := openai.calls[0]
	if req.Model != "gpt-4o-mini" || req.MaxTokens != 400 || req.Temperature != 0.1 || !req.JSON {
		t.Fatalf("unexpected request %+v", req)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
		t.Fatalf("unexpected messages %+v", req.Messages)
	}
	if len(observer.outcomes) != 1 || observer.outcomes[0] != "openai/classification/ok" {
		t.Fatalf("unexpected observations %v", observer.outcomes)
	}
}

func TestCompleteUnknownTier(t *testing.T) {
	gateway := NewGateway(testRegistry(), nil, nil, RateLimit{}, nil, quietLogger())
	_, err := gateway.Complete(context.Background(), "summarization", domain.CompletionRequest{User: "x"})
	if !domain.IsKind(err, domain.ErrUnknownTier) {
		t.Fatalf("expected unknown tier error, got %v", err)
	}
}

func TestCompleteTierTimeoutFallsBack(t *testing.T) {
	openai := &providerFake{name: "openai", content: "late", delay: time.Second}
	anthropic := &providerFake{name: "anthropic", content: "risposta"}
	observer := &callObserverFake{}
	gateway := NewGateway(testRegistry(), []ports.ChatProvider{openai, anthropic}, nil, RateLimit{}, observer, quietLogger())

	content, err := gateway.Complete(context.Background(), domain.TierSynthesis, domain.CompletionRequest{User: "domanda"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if content != "risposta" {
		t.Fatalf("expected fallback content, got %q", content)
	}
	if anthropic.calls[0].Model != "claude-3-5-sonnet-latest" {
		t.Fatalf("expected fallback model, got %q", anthropic.calls[0].Model)
	}
	if observer.outcomes[0] != "openai/synthesis/timeout" {
		t.Fatalf("expected primary timeout observed, got %v", observer.outcomes)
	}
}

func TestCompleteTimeoutWithoutFallback(t *testing.T) {
	registry := config.NewTierRegistry(map[string]config.Tier{
		domain.TierExpansion: {Name: domain.TierExpansion, Provider: "openai", Model: "gpt-4o-mini", Timeout: 10 * time.Millisecond},
	})
	openai := &providerFake{name: "openai", delay: time.Second}
	gateway := NewGateway(registry, []ports.ChatProvider{openai}, nil, RateLimit{}, nil, quietLogger())

	_, err := gateway.Complete(context.Background(), domain.TierExpansion, domain.CompletionRequest{User: "x"})
	if !domain.IsKind(err, domain.ErrUpstreamTimeout) {
		t.Fatalf("expected upstream timeout, got %v", err)
	}
}

func TestCompleteBothProvidersFail(t *testing.T) {
	openai := &providerFake{name: "openai", err: errors.New("boom")}
	anthropic := &providerFake{name: "anthropic", err: errors.New("overloaded")}
	gateway := NewGateway(testRegistry(), []ports.ChatProvider{openai, anthropic}, nil, RateLimit{}, nil, quietLogger())

	_, err := gateway.Complete(context.Background(), domain.TierSynthesis, domain.CompletionRequest{User: "x"})
	if !domain.IsKind(err, domain.ErrProviderUnavailable) {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
}

func TestCompleteMissingProviderIsUnavailable(t *testing.T) {
	gateway := NewGateway(testRegistry(), nil, nil, RateLimit{}, nil, quietLogger())
	_, err := gateway.Complete(context.Background(), domain.TierClassification, domain.CompletionRequest{User: "x"})
	if !domain.IsKind(err, domain.ErrProviderUnavailable) {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
}

func TestCompleteRetriesThroughExecutor(t *testing.T) {
	flaky := &flakyProvider{name: "openai", failures: 1}
	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
	}, resilience.WithLogger(quietLogger()))
	gateway := NewGateway(testRegistry(), []ports.ChatProvider{flaky}, executor, RateLimit{RPS: 100, Burst: 10}, nil, quietLogger())

	content, err := gateway.Complete(context.Background(), domain.TierClassification, domain.CompletionRequest{User: "x"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if content != "ok" || flaky.attempts != 2 {
		t.Fatalf("expected retry to succeed, got %q after %d attempts", content, flaky.attempts)
	}
}

type flakyProvider struct {
	name     string
	failures int
	attempts int
}

func (p *flakyProvider) Name() string { return p.name }

func (p *flakyProvider) Chat(context.Context, domain.ChatRequest) (domain.ChatResponse, error) {
	p.attempts++
	if p.attempts <= p.failures {
		return domain.ChatResponse{}, &HTTPStatusError{Provider: p.name, Operation: "chat", StatusCode: 503, Status: "503 Service Unavailable"}
	}
	return domain.ChatResponse{Content: "ok"}, nil
}

func (p *flakyProvider) Ping(context.Context) error { return nil }
