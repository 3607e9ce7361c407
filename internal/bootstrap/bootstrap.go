package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/mickgian/pratikoai-retrieval/internal/config"
	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
	"github.com/mickgian/pratikoai-retrieval/internal/core/ports"
	"github.com/mickgian/pratikoai-retrieval/internal/core/usecase"
	"github.com/mickgian/pratikoai-retrieval/internal/infrastructure/cache/redis"
	"github.com/mickgian/pratikoai-retrieval/internal/infrastructure/keyword"
	"github.com/mickgian/pratikoai-retrieval/internal/infrastructure/llm"
	"github.com/mickgian/pratikoai-retrieval/internal/infrastructure/llm/anthropic"
	"github.com/mickgian/pratikoai-retrieval/internal/infrastructure/llm/ollama"
	"github.com/mickgian/pratikoai-retrieval/internal/infrastructure/llm/openai"
	"github.com/mickgian/pratikoai-retrieval/internal/infrastructure/queue/nats"
	"github.com/mickgian/pratikoai-retrieval/internal/infrastructure/repository/postgres"
	"github.com/mickgian/pratikoai-retrieval/internal/infrastructure/resilience"
	"github.com/mickgian/pratikoai-retrieval/internal/infrastructure/vector/qdrant"
	"github.com/mickgian/pratikoai-retrieval/internal/observability/metrics"
)

const (
	LexicalBackendPostgres = "postgres"
	LexicalBackendBleve    = "bleve"
)

type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Tiers   *config.TierRegistry
	Metrics *metrics.PipelineMetrics

	Pipeline ports.RetrievalPipeline
	Selector *usecase.PremiumSelector
	Indexers []ports.CorpusIndexer

	DB       *sql.DB
	Cache    *redis.ExpansionCache
	Executor *resilience.Executor

	closers []func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewPipelineMetrics("retrieval-worker"),
	}

	tiers, err := config.LoadTierRegistry(cfg.ModelTiersFile, logger)
	if err != nil {
		return nil, fmt.Errorf("load model tiers: %w", err)
	}
	app.Tiers = tiers

	app.Executor = resilience.NewExecutor(
		resilienceConfig(cfg),
		resilience.WithLogger(logger),
		resilience.WithStateListener(app.Metrics.BreakerStateChanged),
	)

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaEmbedModel)
	providers := []ports.ChatProvider{
		openai.New(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey),
		anthropic.New(cfg.AnthropicBaseURL, cfg.AnthropicAPIKey),
		ollamaClient,
	}
	gateway := llm.NewGateway(tiers, providers, app.Executor, llm.RateLimit{
		RPS:   cfg.ProviderRateLimitRPS,
		Burst: cfg.ProviderRateLimitBurst,
	}, app.Metrics, logger)

	lexical, lexicalIndexer, err := app.openLexicalBackend(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}
	semantic := qdrant.NewSearcher(ollamaClient, qdrant.New(cfg.QdrantURL, cfg.QdrantCollection))
	app.Indexers = []ports.CorpusIndexer{lexicalIndexer, semantic}

	var cache ports.ExpansionCache
	if cfg.ExpansionCacheEnabled {
		redisCache, err := redis.New(cfg.RedisURL, cfg.ExpansionCacheTTL)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init expansion cache: %w", err)
		}
		app.Cache = redisCache
		app.closers = append(app.closers, func() { _ = redisCache.Close() })
		cache = redisCache
	}

	selectorCfg, err := selectorConfig(cfg, tiers, gateway)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Selector = usecase.NewPremiumSelector(selectorCfg, app.Metrics, logger)

	retriever := usecase.NewHybridRetriever(
		guardSearch(LexicalBackendName(cfg), lexical, app.Executor),
		guardSearch("qdrant", semantic, app.Executor),
		usecase.RetrieverConfig{
			TopK:                  cfg.RAGTopK,
			CandidatesPerStrategy: cfg.RAGCandidatesPerStrategy,
			StrategyTimeout:       cfg.RAGStrategyTimeout,
			RRFK:                  cfg.RAGFusionRRFK,
			RecencyWindowDays:     cfg.RAGRecencyWindowDays,
		},
		app.Metrics,
		logger,
	)

	pipeline := usecase.NewPipeline(
		usecase.NewQueryRouter(gateway, app.Metrics, logger, cfg.RouterHistoryTurns),
		usecase.NewQueryExpander(gateway, cache, app.Metrics, logger),
		usecase.NewHypotheticalGenerator(gateway, app.Metrics, logger),
		retriever,
		usecase.NewContextFormatter(0),
		app.Selector,
		usecase.PipelineConfig{TopK: cfg.RAGTopK, Timeout: cfg.PipelineTimeout},
		logger,
	)
	app.Pipeline = app.Metrics.Instrument(pipeline)
	return app, nil
}

// LexicalBackendName normalizes LEXICAL_BACKEND; anything but bleve means postgres.
func LexicalBackendName(cfg config.Config) string {
	if cfg.LexicalBackend == LexicalBackendBleve {
		return LexicalBackendBleve
	}
	return LexicalBackendPostgres
}

func (a *App) openLexicalBackend(ctx context.Context) (ports.SearchBackend, ports.CorpusIndexer, error) {
	if LexicalBackendName(a.Config) == LexicalBackendBleve {
		index, err := keyword.NewBleveIndex(a.Config.BleveIndexPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open bleve index: %w", err)
		}
		a.closers = append(a.closers, func() { _ = index.Close() })
		return index, index, nil
	}

	db, err := postgres.OpenDB(a.Config.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, func() { _ = db.Close() })

	repo := postgres.NewLegalDocumentRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	return repo, repo, nil
}

// ConnectTransport opens the NATS transport sharing the app's executor.
func (a *App) ConnectTransport() (*nats.Transport, error) {
	transport, err := nats.NewWithOptions(a.Config.NATSURL, a.Config.NATSRequestSubject, nats.Options{
		ContextSubject:     a.Config.NATSContextSubject,
		QueueGroup:         a.Config.NATSQueueGroup,
		MaxConcurrent:      a.Config.NATSMaxConcurrent,
		ResilienceExecutor: a.Executor,
		Logger:             a.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init nats transport: %w", err)
	}
	a.closers = append(a.closers, transport.Close)
	return transport, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func resilienceConfig(cfg config.Config) resilience.Config {
	out := resilience.DefaultConfig()
	out.RetryMaxAttempts = cfg.ResilienceRetryMaxAttempts
	out.RetryInitialBackoff = cfg.ResilienceRetryInitialBackoff
	out.RetryMaxBackoff = cfg.ResilienceRetryMaxBackoff
	if cfg.ResilienceSearchMaxAttempts > 0 {
		out.OperationAttempts = map[string]int{
			LexicalBackendPostgres + searchOperationSuffix: cfg.ResilienceSearchMaxAttempts,
			LexicalBackendBleve + searchOperationSuffix:    cfg.ResilienceSearchMaxAttempts,
			"qdrant" + searchOperationSuffix:               cfg.ResilienceSearchMaxAttempts,
		}
	}
	out.BreakerEnabled = cfg.ResilienceBreakerEnabled
	if cfg.ResilienceBreakerMinRequests > 0 {
		out.BreakerMinRequests = uint32(cfg.ResilienceBreakerMinRequests)
	}
	out.BreakerOpenTimeout = cfg.ResilienceBreakerOpenTimeout
	return out
}

type providerLookup interface {
	Provider(name string) (ports.ChatProvider, bool)
}

// selectorConfig derives the premium targets from the synthesis tier.
func selectorConfig(cfg config.Config, tiers *config.TierRegistry, providers providerLookup) (usecase.SelectorConfig, error) {
	tier, err := tiers.Resolve(domain.TierSynthesis)
	if err != nil {
		return usecase.SelectorConfig{}, err
	}
	primary, ok := providers.Provider(tier.Provider)
	if !ok {
		return usecase.SelectorConfig{}, domain.WrapError(domain.ErrProviderUnavailable, "configure premium selector",
			fmt.Errorf("provider %q is not registered", tier.Provider))
	}

	out := usecase.SelectorConfig{
		Primary: usecase.PremiumTarget{
			Provider:    primary,
			Model:       tier.Model,
			Timeout:     tier.Timeout,
			Temperature: tier.Temperature,
			MaxTokens:   tier.MaxTokens,
		},
		LongContextThresholdTokens: cfg.PremiumLongContextThresholdTokens,
		LongContextModel:           cfg.PremiumLongContextModel,
		PreWarmTimeout:             cfg.PremiumPreWarmTimeout,
	}
	if tier.Fallback != nil {
		fallback, ok := providers.Provider(tier.Fallback.Provider)
		if !ok {
			return usecase.SelectorConfig{}, domain.WrapError(domain.ErrProviderUnavailable, "configure premium selector",
				fmt.Errorf("fallback provider %q is not registered", tier.Fallback.Provider))
		}
		timeout := tier.Fallback.Timeout
		if timeout <= 0 {
			timeout = tier.Timeout
		}
		out.Fallback = &usecase.PremiumTarget{
			Provider:    fallback,
			Model:       tier.Fallback.Model,
			Timeout:     timeout,
			Temperature: tier.Temperature,
			MaxTokens:   tier.MaxTokens,
		}
	}
	return out, nil
}
