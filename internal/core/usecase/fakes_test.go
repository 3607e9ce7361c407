package usecase

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type completerFake struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	requests  map[string][]domain.CompletionRequest
}

func newCompleterFake() *completerFake {
	return &completerFake{
		responses: map[string]string{},
		errs:      map[string]error{},
		requests:  map[string][]domain.CompletionRequest{},
	}
}

func (f *completerFake) Complete(_ context.Context, tier string, req domain.CompletionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests[tier] = append(f.requests[tier], req)
	if err := f.errs[tier]; err != nil {
		return "", err
	}
	return f.responses[tier], nil
}

func (f *completerFake) calls(tier string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests[tier])
}

func (f *completerFake) lastUser(tier string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	reqs := f.requests[tier]
	if len(reqs) == 0 {
		return ""
	}
	return reqs[len(reqs)-1].User
}

type searchBackendFake struct {
	mu       sync.Mutex
	hits     map[string][]domain.SearchHit
	fallback []domain.SearchHit
	err      error
	panicMsg string
	delay    time.Duration
	queries  []domain.SearchRequest
}

func (f *searchBackendFake) Search(ctx context.Context, req domain.SearchRequest) ([]domain.SearchHit, error) {
	f.mu.Lock()
	f.queries = append(f.queries, req)
	f.mu.Unlock()

	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if hits, ok := f.hits[req.Query]; ok {
		return hits, nil
	}
	return f.fallback, nil
}

func (f *searchBackendFake) requests() []domain.SearchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.SearchRequest(nil), f.queries...)
}

type chatProviderFake struct {
	name    string
	content string
	err     error
	pingErr error
	block   bool
	chats   atomic.Int32
	pings   atomic.Int32
	lastReq domain.ChatRequest
	mu      sync.Mutex
}

func (f *chatProviderFake) Name() string { return f.name }

func (f *chatProviderFake) Chat(_ context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	f.chats.Add(1)
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()
	if f.err != nil {
		return domain.ChatResponse{}, f.err
	}
	return domain.ChatResponse{Content: f.content, Model: req.Model}, nil
}

func (f *chatProviderFake) Ping(ctx context.Context) error {
	f.pings.Add(1)
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.pingErr
}

type cacheFake struct {
	mu     sync.Mutex
	items  map[string]domain.QueryVariants
	getErr error
	sets   int
}

func newCacheFake() *cacheFake {
	return &cacheFake{items: map[string]domain.QueryVariants{}}
}

func (f *cacheFake) Get(_ context.Context, key string) (*domain.QueryVariants, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	v, ok := f.items[key]
	if !ok {
		return nil, false, nil
	}
	return &v, true, nil
}

func (f *cacheFake) Set(_ context.Context, key string, variants domain.QueryVariants) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[key] = variants
	f.sets++
	return nil
}

type observerFake struct {
	mu        sync.Mutex
	fallbacks map[string]string
	strategy  map[domain.Strategy]string
	health    map[string]bool
}

func newObserverFake() *observerFake {
	return &observerFake{
		fallbacks: map[string]string{},
		strategy:  map[domain.Strategy]string{},
		health:    map[string]bool{},
	}
}

func (o *observerFake) ObserveStage(string, string, time.Duration) {}
func (o *observerFake) ObserveRetrieved(int) {}

func (o *observerFake) ObserveFallback(stage, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fallbacks[stage] = reason
}

func (o *observerFake) ObserveStrategy(strategy domain.Strategy, status string, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.strategy[strategy] = status
}

func (o *observerFake) SetProviderHealth(provider string, healthy bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.health[provider] = healthy
}

func (o *observerFake) strategyStatus(strategy domain.Strategy) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.strategy[strategy]
}

func datePtr(t time.Time) *time.Time {
	return &t
}
