package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
)

func newTestSelector(primary, fallback *chatProviderFake, observer *observerFake) *PremiumSelector {
	cfg := SelectorConfig{
		Primary:        PremiumTarget{Provider: primary, Model: "gpt-4o", Timeout: time.Second},
		PreWarmTimeout: 50 * time.Millisecond,
	}
	if fallback != nil {
		cfg.Fallback = &PremiumTarget{Provider: fallback, Model: "claude-3-5-sonnet-latest", Timeout: time.Second}
	}
	if observer == nil {
		return NewPremiumSelector(cfg, nil, quietLogger())
	}
	return NewPremiumSelector(cfg, observer, quietLogger())
}

func TestSelectPrefersPrimaryRegardlessOfContextSize(t *testing.T) {
	selector := newTestSelector(&chatProviderFake{name: "openai"}, &chatProviderFake{name: "anthropic"}, nil)

	short := selector.Select("breve")
	long := selector.Select(strings.Repeat("contesto ", 50000))
	if short.Provider != "openai" || long.Provider != "openai" || short.Model != long.Model {
		t.Fatalf("expected same provider for any size, got %+v / %+v", short, long)
	}
	if short.IsFallback || short.IsDegraded {
		t.Fatalf("unexpected flags %+v", short)
	}
}

func TestSelectFallsBackWhenPrimaryUnhealthy(t *testing.T) {
	selector := newTestSelector(&chatProviderFake{name: "openai"}, &chatProviderFake{name: "anthropic"}, nil)
	selector.primary.healthy.Store(false)

	sel := selector.Select("ctx")
	if sel.Provider != "anthropic" || !sel.IsFallback || sel.IsDegraded {
		t.Fatalf("expected healthy fallback selection, got %+v", sel)
	}
}

func TestSelectDegradedWhenBothUnhealthy(t *testing.T) {
	selector := newTestSelector(&chatProviderFake{name: "openai"}, &chatProviderFake{name: "anthropic"}, nil)
	selector.primary.healthy.Store(false)
	selector.fallback.healthy.Store(false)

	sel := selector.Select("ctx")
	if sel.Provider != "openai" || !sel.IsDegraded || sel.Model == "" {
		t.Fatalf("expected degraded primary selection, got %+v", sel)
	}
}

func TestSelectLongContextPolicySwapsModelOnSameProvider(t *testing.T) {
	selector := NewPremiumSelector(SelectorConfig{
		Primary:                    PremiumTarget{Provider: &chatProviderFake{name: "openai"}, Model: "gpt-4o"},
		LongContextThresholdTokens: 10,
		LongContextModel:           "gpt-4.1",
	}, nil, quietLogger())

	if got := selector.Select("short").Model; got != "gpt-4o" {
		t.Fatalf("expected default model for short context, got %q", got)
	}
	sel := selector.Select(strings.Repeat("x", 100))
	if sel.Model != "gpt-4.1" || sel.Provider != "openai" {
		t.Fatalf("expected long-context model on same provider, got %+v", sel)
	}
}

func TestExecuteFailsOverOnce(t *testing.T) {
	primary := &chatProviderFake{name: "openai", err: errors.New("503")}
	fallback := &chatProviderFake{name: "anthropic", content: "risposta"}
	observer := newObserverFake()
	selector := newTestSelector(primary, fallback, observer)

	res, err := selector.Execute(context.Background(), "contesto", []domain.ChatMessage{{Role: "user", Content: "domanda"}})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Content != "risposta" || res.Selection.Provider != "anthropic" || !res.Selection.IsFallback {
		t.Fatalf("unexpected result %+v", res)
	}
	if primary.chats.Load() != 1 || fallback.chats.Load() != 1 {
		t.Fatalf("expected one call each, got %d/%d", primary.chats.Load(), fallback.chats.Load())
	}
	if selector.primary.healthy.Load() {
		t.Fatalf("expected primary marked unhealthy")
	}
	if healthy, ok := observer.health["openai/gpt-4o"]; !ok || healthy {
		t.Fatalf("expected observer to see openai unhealthy")
	}
	if len(fallback.lastReq.Messages) != 2 || fallback.lastReq.Messages[0].Role != "system" {
		t.Fatalf("expected context system message, got %+v", fallback.lastReq.Messages)
	}

	next := selector.Select("contesto")
	if next.Provider != "anthropic" {
		t.Fatalf("expected subsequent selection to use fallback, got %+v", next)
	}
}

func TestExecutePropagatesDoubleFailure(t *testing.T) {
	primary := &chatProviderFake{name: "openai", err: errors.New("primary down")}
	fallback := &chatProviderFake{name: "anthropic", err: errors.New("fallback down")}
	selector := newTestSelector(primary, fallback, nil)

	_, err := selector.Execute(context.Background(), "contesto", nil)
	if !domain.IsKind(err, domain.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "primary down") || !strings.Contains(err.Error(), "fallback down") {
		t.Fatalf("expected both causes in error, got %v", err)
	}
	if selector.primary.healthy.Load() || selector.fallback.healthy.Load() {
		t.Fatalf("expected both providers unhealthy")
	}
	if !selector.Select("x").IsDegraded {
		t.Fatalf("expected degraded selection after double failure")
	}
}

func TestExecuteSingleProviderFailure(t *testing.T) {
	primary := &chatProviderFake{name: "ollama", err: errors.New("refused")}
	selector := newTestSelector(primary, nil, nil)

	_, err := selector.Execute(context.Background(), "", nil)
	if !domain.IsKind(err, domain.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestExecuteSuccessRestoresHealth(t *testing.T) {
	primary := &chatProviderFake{name: "openai", content: "ok"}
	selector := newTestSelector(primary, &chatProviderFake{name: "anthropic"}, nil)
	selector.primary.healthy.Store(false)
	selector.fallback.healthy.Store(false)

	res, err := selector.Execute(context.Background(), "ctx", nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !res.Selection.IsDegraded || !selector.primary.healthy.Load() {
		t.Fatalf("expected degraded attempt to succeed and restore health, got %+v", res.Selection)
	}
}

func TestPreWarmMarksSlowAndFailingProviders(t *testing.T) {
	primary := &chatProviderFake{name: "openai", block: true}
	fallback := &chatProviderFake{name: "anthropic", pingErr: errors.New("401")}
	selector := newTestSelector(primary, fallback, nil)

	health := selector.PreWarm(context.Background())
	if health["openai/gpt-4o"] || health["anthropic/claude-3-5-sonnet-latest"] {
		t.Fatalf("expected both unhealthy, got %v", health)
	}
	if primary.pings.Load() != 1 || fallback.pings.Load() != 1 {
		t.Fatalf("expected one ping per provider")
	}

	fallback.pingErr = nil
	health = selector.PreWarm(context.Background())
	if !health["anthropic/claude-3-5-sonnet-latest"] {
		t.Fatalf("expected anthropic healthy after successful ping, got %v", health)
	}
}

func TestSelectorHealthIsRaceFree(t *testing.T) {
	primary := &chatProviderFake{name: "openai", content: "ok"}
	flaky := &chatProviderFake{name: "anthropic", content: "ok"}
	selector := newTestSelector(primary, flaky, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = selector.Execute(context.Background(), "ctx", nil)
		}()
		go func() {
			defer wg.Done()
			_ = selector.Select("ctx")
		}()
	}
	wg.Wait()
	if !selector.Health()["openai/gpt-4o"] {
		t.Fatalf("expected primary healthy after successful calls")
	}
}

func TestHealthKeepsSlotsSharingAProvider(t *testing.T) {
	primary := &chatProviderFake{name: "openai", err: errors.New("503")}
	fallback := &chatProviderFake{name: "openai", content: "risposta"}
	observer := newObserverFake()
	selector := NewPremiumSelector(SelectorConfig{
		Primary:  PremiumTarget{Provider: primary, Model: "gpt-4o"},
		Fallback: &PremiumTarget{Provider: fallback, Model: "gpt-4o-mini"},
	}, observer, quietLogger())

	if _, err := selector.Execute(context.Background(), "ctx", nil); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	health := selector.Health()
	if len(health) != 2 || health["openai/gpt-4o"] || !health["openai/gpt-4o-mini"] {
		t.Fatalf("expected separate slot health, got %v", health)
	}
	if observer.health["openai/gpt-4o"] || !observer.health["openai/gpt-4o-mini"] {
		t.Fatalf("expected separate gauges, got %v", observer.health)
	}
}
