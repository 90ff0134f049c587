package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/iago/content-router/internal/ai"
	"github.com/iago/content-router/internal/cache"
	"github.com/iago/content-router/internal/classify"
	"github.com/iago/content-router/internal/config"
	"github.com/iago/content-router/internal/dedup"
	"github.com/iago/content-router/internal/domain"
	httpserver "github.com/iago/content-router/internal/http"
	"github.com/iago/content-router/internal/http/handlers"
	"github.com/iago/content-router/internal/policy"
	"github.com/iago/content-router/internal/queue"
	"github.com/iago/content-router/internal/repository"
	"github.com/iago/content-router/internal/routing"
	"github.com/iago/content-router/internal/service"
	"github.com/iago/content-router/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "[content-router] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	loaded, err := config.LoadDotEnv(".env", ".env.local")
	if err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	if len(loaded) > 0 {
		logger.Printf("loaded env files: %v", loaded)
	}
	cfg := config.Load()

	routingCfg, err := config.LoadRouting(cfg.RoutingConfigPath)
	if err != nil {
		logger.Fatalf("routing config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, storeCloser := setupRecordStore(ctx, cfg, logger)
	defer storeCloser()

	producer, consumer, queueCloser := setupQueue(ctx, cfg, logger)
	defer queueCloser()

	performance := routing.NewPerformanceTracker()
	tracker := dedup.NewTracker(dedup.Dependencies{
		Store: store,
		Cache: cache.NewRecordCache(cache.Config{
			TTL:        cfg.RecordCacheTTL(),
			MaxEntries: cfg.RecordCacheMaxEntries,
		}),
		Policy: policy.NewReprocess(policy.ReprocessConfig{
			CurrentVersion:      routingCfg.CurrentVersion,
			PriorityTagsVersion: routingCfg.PriorityTagsVersion,
			MaxRetries:          routingCfg.MaxRetries,
			QualityThreshold:    routingCfg.QualityThreshold,
			PriorityTags:        tagNames(routingCfg.PriorityTags),
			StaleAfter:          cfg.StaleProcessingAfter(),
		}),
		Logger: logger,
	})

	router := service.NewRouter(service.Dependencies{
		Tracker:    tracker,
		Classifier: classify.New(routingCfg.PriorityTags),
		Engine:     routing.NewEngine(routingCfg.Rules),
		Optimizer: routing.NewOptimizer(routing.OptimizerConfig{
			DailyCostCeiling: routingCfg.DailyCostCeiling,
			LatencyThreshold: routingCfg.LatencyThreshold,
		}, performance),
		Performance: performance,
		Backend:     setupDispatcher(cfg, routingCfg.Catalog, logger),
		BatchSize:   cfg.BatchSize,
		Logger:      logger,
	})

	api := handlers.NewAPI(handlers.Dependencies{
		Router:        router,
		Producer:      producer,
		Logger:        logger,
		MaxBatchItems: cfg.MaxBatchItems,
	})
	handler := httpserver.NewRouter(ctx, httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	if cfg.WorkerEnabled {
		processor := worker.NewProcessor(consumer, router, logger)
		go processor.Start(ctx)
		logger.Printf("worker enabled and started")
	} else {
		logger.Printf("worker disabled by configuration")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.WriteTimeout(),
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s rules=%d store=%s", cfg.Port, len(routingCfg.Rules), cfg.RecordStore)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func setupRecordStore(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (repository.RecordStore, func()) {
	switch cfg.RecordStore {
	case "postgres":
		if cfg.DatabaseURL == "" {
			logger.Printf("RECORD_STORE=postgres without DATABASE_URL, using in-memory store")
			break
		}
		pgStore, err := repository.NewPostgresRecordStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Printf("failed to initialize postgres store, fallback to memory: %v", err)
			break
		}
		logger.Printf("postgres record store initialized")
		return pgStore, pgStore.Close
	case "sqlite":
		sqliteStore, err := repository.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			logger.Printf("failed to open sqlite store %s, fallback to memory: %v", cfg.SQLitePath, err)
			break
		}
		logger.Printf("sqlite record store initialized path=%s", cfg.SQLitePath)
		return sqliteStore, func() { _ = sqliteStore.Close() }
	case "redis":
		redisStore, err := repository.NewRedisRecordStore(ctx, repository.RedisRecordConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		})
		if err != nil {
			logger.Printf("failed to initialize redis store, fallback to memory: %v", err)
			break
		}
		logger.Printf("redis record store initialized")
		return redisStore, func() { _ = redisStore.Close() }
	case "memory":
	default:
		logger.Printf("unknown RECORD_STORE=%q, using in-memory store", cfg.RecordStore)
	}
	return repository.NewMemoryRecordStore(), func() {}
}

func setupDispatcher(cfg config.Config, catalog ai.Catalog, logger *log.Logger) *ai.Dispatcher {
	generators := map[domain.Destination]ai.TextGenerator{
		domain.DestinationLocal: ai.NewOllamaClient(ai.OllamaClientConfig{
			BaseURL:    cfg.OllamaBaseURL,
			Timeout:    cfg.ModelTimeout(),
			MaxRetries: cfg.OllamaMaxRetries,
		}),
		domain.DestinationCloud: ai.NewOpenRouterClient(ai.OpenRouterClientConfig{
			APIKey:     cfg.OpenRouterAPIKey,
			BaseURL:    cfg.OpenRouterBaseURL,
			Timeout:    cfg.ModelTimeout(),
			MaxRetries: cfg.OpenRouterMaxRetries,
			SiteURL:    cfg.OpenRouterSiteURL,
			AppName:    cfg.OpenRouterAppName,
		}),
	}
	if cfg.WorkflowWebhookURL != "" {
		generators[domain.DestinationWorkflow] = ai.NewWebhookClient(ai.WebhookClientConfig{
			BaseURL: cfg.WorkflowWebhookURL,
			Token:   cfg.WorkflowWebhookToken,
			Timeout: cfg.ModelTimeout(),
		})
	}
	for destination, generator := range generators {
		if !generator.Available() {
			logger.Printf("%s backend not configured, requests routed there will fail", destination)
		}
	}

	return ai.NewDispatcher(ai.DispatcherConfig{
		Catalog:    catalog,
		Generators: generators,
		Timeout:    cfg.ModelTimeout(),
	})
}

func setupQueue(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (queue.Producer, queue.Consumer, func()) {
	if cfg.RedisAddr == "" {
		logger.Printf("REDIS_ADDR not configured, using local queue fallback")
		local := queue.NewLocalQueue(cfg.QueueCapacity, queue.DefaultMaxAttempts, logger)
		return local, local, func() {}
	}

	streams, err := queue.NewStreamsQueue(ctx, queue.StreamsConfig{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		Stream:      cfg.RedisStream,
		DLQStream:   cfg.RedisDLQ,
		Group:       cfg.RedisGroup,
		Consumer:    cfg.RedisConsumer,
		MaxAttempts: queue.DefaultMaxAttempts,
	})
	if err != nil {
		logger.Printf("failed to initialize redis streams queue, fallback to local: %v", err)
		local := queue.NewLocalQueue(cfg.QueueCapacity, queue.DefaultMaxAttempts, logger)
		return local, local, func() {}
	}
	logger.Printf("redis streams queue initialized stream=%s group=%s", cfg.RedisStream, cfg.RedisGroup)
	return streams, streams, func() { _ = streams.Close() }
}

func tagNames(multipliers map[string]float64) []string {
	names := make([]string, 0, len(multipliers))
	for name := range multipliers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
