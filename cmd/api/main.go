package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"

	"github.com/boyeodream/dream-pipeline/internal/api/router"
	appconfig "github.com/boyeodream/dream-pipeline/internal/config"
	"github.com/boyeodream/dream-pipeline/internal/dream"
	"github.com/boyeodream/dream-pipeline/internal/observability/metrics"
	"github.com/boyeodream/dream-pipeline/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting dream-pipeline API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	if cfg.OpenAIAPIKey == "" {
		logger.Error("OPENAI_API_KEY is required")
		os.Exit(1)
	}

	openaiClient := openai.NewClient(cfg.OpenAIAPIKey)

	// LLM chain: OpenAI primary, Gemini fallback when configured.
	var llm dream.LLMClient = dream.NewOpenAILLMClient(openaiClient, cfg.OpenAIChatModel)
	var geminiClient *dream.GeminiLLMClient
	if cfg.GeminiAPIKey != "" {
		var err error
		geminiClient, err = dream.NewGeminiLLMClient(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			logger.Error("failed to create gemini client", "error", err)
			os.Exit(1)
		}
		llm = dream.NewFallbackLLMClient(llm, geminiClient, logger)
		logger.Info("gemini fallback enabled", "model", cfg.GeminiModel)
	}

	// Session store: Redis when configured, in-memory otherwise.
	var sessionStore dream.SessionStore = dream.NewMemorySessionStore()
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		opts := &redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient = redis.NewClient(opts)
		sessionStore = dream.NewRedisSessionStore(redisClient, cfg.SessionTTL)
		logger.Info("using redis session store", "addr", cfg.RedisAddr)
	}

	// Knowledge index: pgvector when a database is configured, in-memory
	// otherwise so the admin ingestion endpoint still works in development.
	var (
		retriever dream.Retriever
		ingestor  dream.Ingestor
		pool      *pgxpool.Pool
	)
	if cfg.DatabaseURL != "" {
		var err error
		pool, err = pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		store := dream.NewPGVectorKnowledgeStore(pool, openaiClient, cfg.OpenAIEmbeddingModel, logger)
		retriever, ingestor = store, store
		logger.Info("using pgvector knowledge index")
	} else {
		store := dream.NewMemoryKnowledgeStore(openaiClient, cfg.OpenAIEmbeddingModel, logger)
		retriever, ingestor = store, store
		logger.Info("using in-memory knowledge index")
	}

	templates := dream.DefaultTemplates()
	if err := templates.LoadOverrides(cfg.PromptTemplateDir); err != nil {
		logger.Error("failed to load prompt template overrides", "error", err)
		os.Exit(1)
	}

	pipelineMetrics := metrics.NewPipelineMetrics(prometheus.DefaultRegisterer)

	transcriber := dream.NewTranscriber(openaiClient, logger.Component("transcriber"))
	screener := dream.NewScreener(openaiClient, logger.Component("screener"))
	reports := dream.NewReportGenerator(llm, retriever, templates, cfg.KnowledgeTopK, logger.Component("reports"))
	synthesizer := dream.NewSynthesizer(llm, templates, logger.Component("synthesizer"))
	renderer := dream.NewImageRenderer(openaiClient, screener, cfg.ImageModel, cfg.ImageSize, cfg.ImageQuality, logger.Component("renderer"))

	pipeline := dream.NewPipeline(transcriber, screener, reports, synthesizer, renderer, sessionStore, pipelineMetrics, logger.Component("pipeline"))
	runner := dream.NewRunner(pipeline, logger.Component("runner"), dream.WithRunnerWorkers(cfg.WorkerCount))

	handler := dream.NewHandler(runner, pipeline, transcriber, ingestor, logger.Component("handler"))

	r := router.New(&router.Config{
		Logger:             logger,
		DreamHandler:       handler,
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     promhttp.Handler(),
		CORSAllowedOrigins: cfg.CORSAllowed,
		SubmitRate:         cfg.SubmitRate,
		SubmitBurst:        cfg.SubmitBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := runner.Shutdown(ctx); err != nil {
		logger.Error("runner forced to shutdown", "error", err)
	}
	if geminiClient != nil {
		_ = geminiClient.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if pool != nil {
		pool.Close()
	}

	logger.Info("server stopped")
}
