package httpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
	"github.com/mickgian/pratikoai-retrieval/internal/core/ports"
)

// ReadinessCheck reports whether one dependency can serve traffic.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Options struct {
	Metrics          http.Handler
	Middleware       func(http.Handler) http.Handler
	Checks           []ReadinessCheck
	CheckTimeout     time.Duration
	RateLimitRPS     float64
	RateLimitBurst   int
	MaxInFlight      int
	BackpressureWait time.Duration
	Logger           *slog.Logger
}

// Router serves the worker's ops surface and a synchronous retrieval endpoint
// used for debugging the pipeline without NATS.
type Router struct {
	pipeline ports.RetrievalPipeline
	opts     Options
	logger   *slog.Logger
}

func NewRouter(pipeline ports.RetrievalPipeline, opts Options) *Router {
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = 2 * time.Second
	}
	if opts.BackpressureWait <= 0 {
		opts.BackpressureWait = 250 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		pipeline: pipeline,
		opts:     opts,
		logger:   logger.With("component", "http"),
	}
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(func(next http.Handler) http.Handler { return accessLogMiddleware(next, rt.logger) })
	r.Use(middleware.Recoverer)
	if rt.opts.Middleware != nil {
		r.Use(rt.opts.Middleware)
	}

	r.Get("/healthz", rt.healthz)
	r.Get("/readyz", rt.readyz)
	if rt.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.opts.Metrics)
	}

	r.Group(func(r chi.Router) {
		if rt.opts.RateLimitRPS > 0 {
			r.Use(func(next http.Handler) http.Handler {
				return rateLimitMiddleware(next, rt.opts.RateLimitRPS, rt.opts.RateLimitBurst)
			})
		}
		if rt.opts.MaxInFlight > 0 {
			r.Use(func(next http.Handler) http.Handler {
				return backpressureMiddleware(next, rt.opts.MaxInFlight, rt.opts.BackpressureWait)
			})
		}
		r.Post("/v1/retrieve", rt.retrieve)
	})
	return r
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), rt.opts.CheckTimeout)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(rt.opts.Checks))
	for _, check := range rt.opts.Checks {
		if err := check.Check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			checks[check.Name] = err.Error()
			rt.logger.Warn("readiness_check_failed", "check", check.Name, "error", err)
			continue
		}
		checks[check.Name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": checks})
}

type retrieveRequest struct {
	Query   string                    `json:"query"`
	History []domain.ConversationTurn `json:"history"`
	TopK    int                       `json:"top_k"`
}

func (rt *Router) retrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}

	result, err := rt.pipeline.Run(r.Context(), domain.PipelineRequest{
		RequestID: requestIDFromContext(r.Context()),
		Query:     req.Query,
		History:   req.History,
		TopK:      req.TopK,
	})
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
