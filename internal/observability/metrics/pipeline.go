package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
	"github.com/mickgian/pratikoai-retrieval/internal/core/ports"
)

const namespace = "pratiko"

// PipelineMetrics owns a private registry for one service and records stage,
// strategy, provider and HTTP telemetry.
type PipelineMetrics struct {
	registry *prometheus.Registry
	service  string

	stageDuration   *prometheus.HistogramVec
	fallbackTotal   *prometheus.CounterVec
	strategyTotal   *prometheus.CounterVec
	strategyHits    *prometheus.HistogramVec
	retrievedDocs   prometheus.Histogram
	providerHealthy *prometheus.GaugeVec
	llmCallsTotal   *prometheus.CounterVec
	llmCallSeconds  *prometheus.HistogramVec
	breakerState    *prometheus.GaugeVec
	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	m := &PipelineMetrics{
		registry: registry,
		service:  service,
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "stage_duration_seconds",
			Help:        "Duration of each pipeline stage by outcome.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 15},
			ConstLabels: constLabels,
		}, []string{"stage", "outcome"}),
		fallbackTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "fallback_total",
			Help:        "Stage fallbacks by reason.",
			ConstLabels: constLabels,
		}, []string{"stage", "reason"}),
		strategyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "retrieval",
			Name:        "strategy_total",
			Help:        "Retrieval strategy executions by status.",
			ConstLabels: constLabels,
		}, []string{"strategy", "status"}),
		strategyHits: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "retrieval",
			Name:        "strategy_hits",
			Help:        "Raw hits returned per strategy.",
			Buckets:     []float64{0, 1, 5, 10, 20, 30, 50},
			ConstLabels: constLabels,
		}, []string{"strategy"}),
		retrievedDocs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "retrieval",
			Name:        "documents_returned",
			Help:        "Documents returned after fusion and truncation.",
			Buckets:     []float64{0, 1, 3, 5, 10, 20},
			ConstLabels: constLabels,
		}),
		providerHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "premium",
			Name:        "provider_healthy",
			Help:        "1 when the premium target (provider/model) is considered healthy.",
			ConstLabels: constLabels,
		}, []string{"target"}),
		llmCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "llm",
			Name:        "calls_total",
			Help:        "Provider calls by tier and outcome.",
			ConstLabels: constLabels,
		}, []string{"provider", "tier", "outcome"}),
		llmCallSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "llm",
			Name:        "call_duration_seconds",
			Help:        "Provider call latency by tier.",
			Buckets:     []float64{0.1, 0.25, 0.5, 1, 2, 3, 4, 8, 15, 30, 60},
			ConstLabels: constLabels,
		}, []string{"provider", "tier"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "resilience",
			Name:        "breaker_open",
			Help:        "1 while the circuit breaker for an operation is open, 0.5 half-open.",
			ConstLabels: constLabels,
		}, []string{"operation"}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "runs_total",
			Help:        "Pipeline runs by routed category.",
			ConstLabels: constLabels,
		}, []string{"category", "retrieval"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "run_duration_seconds",
			Help:        "End-to-end pipeline duration.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"retrieval"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "requests_total",
			Help:        "Total HTTP requests processed.",
			ConstLabels: constLabels,
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "request_duration_seconds",
			Help:        "HTTP request duration in seconds.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"method", "path"}),
		requestInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "in_flight_requests",
			Help:        "Number of in-flight HTTP requests.",
			ConstLabels: constLabels,
		}),
	}

	registry.MustRegister(
		m.stageDuration, m.fallbackTotal, m.strategyTotal, m.strategyHits, m.retrievedDocs,
		m.providerHealthy, m.llmCallsTotal, m.llmCallSeconds, m.breakerState,
		m.runsTotal, m.runDuration,
		m.requestTotal, m.requestDuration, m.requestInFlight,
	)
	return m
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *PipelineMetrics) ObserveStage(stage, outcome string, elapsed time.Duration) {
	m.stageDuration.WithLabelValues(stage, outcome).Observe(elapsed.Seconds())
}

func (m *PipelineMetrics) ObserveFallback(stage, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	m.fallbackTotal.WithLabelValues(stage, reason).Inc()
}

func (m *PipelineMetrics) ObserveStrategy(strategy domain.Strategy, status string, hits int) {
	m.strategyTotal.WithLabelValues(string(strategy), status).Inc()
	m.strategyHits.WithLabelValues(string(strategy)).Observe(float64(hits))
}

func (m *PipelineMetrics) ObserveRetrieved(count int) {
	m.retrievedDocs.Observe(float64(count))
}

func (m *PipelineMetrics) SetProviderHealth(target string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1
	}
	m.providerHealthy.WithLabelValues(target).Set(value)
}

func (m *PipelineMetrics) ObserveLLMCall(provider, tier, outcome string, elapsed time.Duration) {
	m.llmCallsTotal.WithLabelValues(provider, tier, outcome).Inc()
	m.llmCallSeconds.WithLabelValues(provider, tier).Observe(elapsed.Seconds())
}

// BreakerStateChanged matches resilience.StateListener.
func (m *PipelineMetrics) BreakerStateChanged(operation, _ string, to string) {
	value := 0.0
	switch to {
	case "open":
		value = 1
	case "half-open":
		value = 0.5
	}
	m.breakerState.WithLabelValues(operation).Set(value)
}

func (m *PipelineMetrics) RecordRun(result *domain.PipelineResult) {
	if result == nil {
		return
	}
	retrieval := "skipped"
	if result.Decision.NeedsRetrieval {
		retrieval = "performed"
	}
	category := string(result.Decision.Category)
	if category == "" {
		category = "unknown"
	}
	m.runsTotal.WithLabelValues(category, retrieval).Inc()
	m.runDuration.WithLabelValues(retrieval).Observe(result.Elapsed.Seconds())
}

type instrumentedPipeline struct {
	next    ports.RetrievalPipeline
	metrics *PipelineMetrics
}

// Instrument records every completed run of next.
func (m *PipelineMetrics) Instrument(next ports.RetrievalPipeline) ports.RetrievalPipeline {
	return &instrumentedPipeline{next: next, metrics: m}
}

func (p *instrumentedPipeline) Run(ctx context.Context, req domain.PipelineRequest) (*domain.PipelineResult, error) {
	result, err := p.next.Run(ctx, req)
	if err != nil {
		p.metrics.runsTotal.WithLabelValues("unknown", "error").Inc()
		return nil, err
	}
	p.metrics.RecordRun(result)
	return result, nil
}
