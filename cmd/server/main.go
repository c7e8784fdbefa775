package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/go-redis/redis/v8"

	"github.com/S-Corkum/ragcore/internal/cache"
	"github.com/S-Corkum/ragcore/internal/compactor"
	"github.com/S-Corkum/ragcore/internal/config"
	"github.com/S-Corkum/ragcore/internal/database"
	"github.com/S-Corkum/ragcore/internal/embedding"
	"github.com/S-Corkum/ragcore/internal/httpapi"
	"github.com/S-Corkum/ragcore/internal/observability"
	"github.com/S-Corkum/ragcore/internal/orchestrator"
	"github.com/S-Corkum/ragcore/internal/search"
	"github.com/S-Corkum/ragcore/internal/search/rerank"
	"github.com/S-Corkum/ragcore/internal/tokenizer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := observability.NewLogger("ragcore")
	metricsClient := observability.NewPrometheusMetricsClient("ragcore", "server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.Open(ctx, database.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger, metricsClient)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	chunks := database.NewChunkRepository(db)
	contexts := database.NewContextRepository(db)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatalf("failed to load AWS config: %v", err)
	}
	bedrockClient := bedrockruntime.NewFromConfig(awsCfg)
	provider := embedding.NewBedrockProvider(bedrockClient, cfg.Embedding.Model, "")

	l1 := cache.NewMemoryL1(10000, logger, metricsClient)
	l2, err := cache.NewRedisL2(ctx, cache.RedisConfig{
		Address:  cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger, metricsClient)
	if err != nil {
		log.Fatalf("failed to initialize L2 cache: %v", err)
	}
	tiered, err := cache.NewTieredCache(l1, l2, cfg.Tiered, logger, metricsClient)
	if err != nil {
		log.Fatalf("failed to initialize tiered cache: %v", err)
	}
	semanticCache, err := cache.NewSemanticCache(tiered, provider, cfg.Semantic, logger, metricsClient)
	if err != nil {
		log.Fatalf("failed to initialize semantic cache: %v", err)
	}

	engine := search.NewEngine(chunks, provider, logger, metricsClient)

	var reranker *rerank.Service
	if cfg.Rerank.Enabled {
		httpProvider := rerank.NewHTTPProvider(cfg.Rerank.Endpoint)
		crossEncoder, err := rerank.NewCrossEncoderReranker(httpProvider, rerank.CrossEncoderConfig{
			Model:     cfg.Rerank.Provider,
			BatchSize: cfg.Rerank.BatchSize,
		}, logger, metricsClient)
		if err != nil {
			log.Fatalf("failed to initialize cross-encoder reranker: %v", err)
		}
		llmFallback := rerank.NewLLMReranker(provider, logger)
		reranker = rerank.NewService(crossEncoder, llmFallback, cfg.Hybrid.RerankScoreThreshold, logger)
	}

	expander := orchestrator.NewExpander(provider, logger, metricsClient)
	orch := orchestrator.NewOrchestrator(expander, engine, logger, metricsClient).WithSemanticCache(semanticCache)

	counter := tokenizer.NewWordHeuristicCounter()
	summarizer := compactor.NewSummarizer(provider)
	comp := compactor.New(contexts, redisClient, summarizer, counter, cfg.Compactor, logger, metricsClient)

	api := httpapi.NewAPI(engine, reranker, orch, expander, comp, contexts, counter, cfg.Hybrid, cfg.Orchestrator, cfg.Context, logger, metricsClient)
	router := httpapi.NewRouter(api, logger)

	srv := &http.Server{
		Addr:         cfg.Server.ListenAddress,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting server", map[string]interface{}{"address": cfg.Server.ListenAddress})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("received shutdown signal", nil)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", map[string]interface{}{"error": err.Error()})
	}
	logger.Info("server stopped gracefully", nil)
}
