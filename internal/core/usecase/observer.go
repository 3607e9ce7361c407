package usecase

import (
	"time"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
	"github.com/mickgian/pratikoai-retrieval/internal/core/ports"
)

type noopObserver struct{}

func (noopObserver) ObserveStage(string, string, time.Duration) {}
func (noopObserver) ObserveFallback(string, string) {}
func (noopObserver) ObserveStrategy(domain.Strategy, string, int) {}
func (noopObserver) ObserveRetrieved(int) {}
func (noopObserver) SetProviderHealth(string, bool) {}

func observerOrNoop(observer ports.PipelineObserver) ports.PipelineObserver {
	if observer == nil {
		return noopObserver{}
	}
	return observer
}

func stageOutcome(fallback bool) string {
	if fallback {
		return "fallback"
	}
	return "ok"
}
