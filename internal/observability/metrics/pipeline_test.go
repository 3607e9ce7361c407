package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
)

func scrape(t *testing.T, m *PipelineMetrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}

func TestPipelineMetricsRecordsObservations(t *testing.T) {
	m := NewPipelineMetrics("retrieval-worker")

	m.ObserveFallback("router", "timeout")
	m.ObserveFallback("router", "timeout")
	m.ObserveStrategy(domain.StrategyLexical, "failed", 0)
	m.SetProviderHealth("openai/gpt-4o", false)
	m.SetProviderHealth("anthropic/claude-3-5-sonnet-latest", true)
	m.ObserveLLMCall("openai", "classification", "ok", 300*time.Millisecond)
	m.BreakerStateChanged("openai.chat", "closed", "open")
	m.RecordRun(&domain.PipelineResult{Decision: domain.RouterDecision{Category: domain.CategoryCalculation}})
	m.RecordRun(nil)

	body := scrape(t, m)
	for _, want := range []string{
		`pratiko_pipeline_fallback_total{reason="timeout",service="retrieval-worker",stage="router"} 2`,
		`pratiko_retrieval_strategy_total{service="retrieval-worker",status="failed",strategy="lexical"} 1`,
		`pratiko_premium_provider_healthy{service="retrieval-worker",target="openai/gpt-4o"} 0`,
		`pratiko_premium_provider_healthy{service="retrieval-worker",target="anthropic/claude-3-5-sonnet-latest"} 1`,
		`pratiko_llm_calls_total{outcome="ok",provider="openai",service="retrieval-worker",tier="classification"} 1`,
		`pratiko_resilience_breaker_open{operation="openai.chat",service="retrieval-worker"} 1`,
		`pratiko_pipeline_runs_total{category="calculation",retrieval="skipped",service="retrieval-worker"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in exposition:\n%s", want, body)
		}
	}
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	m := NewPipelineMetrics("retrieval-worker")
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status passthrough, got %d", rec.Code)
	}

	body := scrape(t, m)
	want := `pratiko_http_requests_total{method="GET",path="/readyz",service="retrieval-worker",status="503"} 1`
	if !strings.Contains(body, want) {
		t.Fatalf("expected %q in exposition:\n%s", want, body)
	}
}

type pipelineStub struct {
	result *domain.PipelineResult
	err    error
}

func (p pipelineStub) Run(context.Context, domain.PipelineRequest) (*domain.PipelineResult, error) {
	return p.result, p.err
}

func TestInstrumentCountsRunsAndErrors(t *testing.T) {
	m := NewPipelineMetrics("retrieval-worker")

	ok := m.Instrument(pipelineStub{result: &domain.PipelineResult{Decision: domain.RouterDecision{
		Category:       domain.CategoryTechnicalResearch,
		NeedsRetrieval: true,
	}}})
	if _, err := ok.Run(context.Background(), domain.PipelineRequest{Query: "IRES"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	failing := m.Instrument(pipelineStub{err: errors.New("cancelled")})
	if _, err := failing.Run(context.Background(), domain.PipelineRequest{Query: "IRES"}); err == nil {
		t.Fatalf("expected error passthrough")
	}

	body := scrape(t, m)
	for _, want := range []string{
		`pratiko_pipeline_runs_total{category="technical_research",retrieval="performed",service="retrieval-worker"} 1`,
		`pratiko_pipeline_runs_total{category="unknown",retrieval="error",service="retrieval-worker"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in exposition:\n%s", want, body)
		}
	}
}
