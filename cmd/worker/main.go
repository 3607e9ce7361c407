package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/mickgian/pratikoai-retrieval/internal/adapters/http"
	"github.com/mickgian/pratikoai-retrieval/internal/bootstrap"
	"github.com/mickgian/pratikoai-retrieval/internal/config"
	"github.com/mickgian/pratikoai-retrieval/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("retrieval-worker", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	transport, err := app.ConnectTransport()
	if err != nil {
		logger.Error("transport_connect_failed", "error", err)
		os.Exit(1)
	}

	health := app.Selector.PreWarm(ctx)
	logger.Info("premium_prewarm_completed", "health", health)

	router := httpadapter.NewRouter(app.Pipeline, httpadapter.Options{
		Metrics:        app.Metrics.Handler(),
		Middleware:     app.Metrics.Middleware,
		Checks:         readinessChecks(app, transport.Connected),
		RateLimitRPS:   cfg.OpsRetrieveRPS,
		RateLimitBurst: cfg.OpsRetrieveBurst,
		MaxInFlight:    cfg.OpsRetrieveInFlight,
		Logger:         logger,
	})
	server := &http.Server{
		Addr:              ":" + cfg.OpsPort,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("ops_server_listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops_server_failed", "error", err)
			stop()
		}
	}()

	logger.Info("worker_serving",
		"subject", cfg.NATSRequestSubject,
		"queue_group", cfg.NATSQueueGroup,
		"max_concurrent", cfg.NATSMaxConcurrent,
		"lexical_backend", bootstrap.LexicalBackendName(cfg),
	)
	if err := transport.Serve(ctx, app.Pipeline); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker_serve_failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ops_server_shutdown_failed", "error", err)
	}
}

func readinessChecks(app *bootstrap.App, natsConnected func() bool) []httpadapter.ReadinessCheck {
	checks := []httpadapter.ReadinessCheck{
		{Name: "nats", Check: func(context.Context) error {
			if !natsConnected() {
				return errors.New("not connected")
			}
			return nil
		}},
		{Name: "premium", Check: func(context.Context) error {
			for _, healthy := range app.Selector.Health() {
				if healthy {
					return nil
				}
			}
			return errors.New("no healthy premium provider")
		}},
	}
	if app.DB != nil {
		checks = append(checks, httpadapter.ReadinessCheck{Name: "postgres", Check: app.DB.PingContext})
	}
	if app.Cache != nil {
		checks = append(checks, httpadapter.ReadinessCheck{Name: "redis", Check: app.Cache.Ping})
	}
	return checks
}
