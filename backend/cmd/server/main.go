package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"projectbrain/backend/internal/adapter"
	"projectbrain/backend/internal/briefing"
	"projectbrain/backend/internal/constants"
	"projectbrain/backend/internal/contacts"
	"projectbrain/backend/internal/correlate"
	"projectbrain/backend/internal/extraction"
	"projectbrain/backend/internal/graph"
	"projectbrain/backend/internal/ingest"
	"projectbrain/backend/internal/notify"
	"projectbrain/backend/internal/processing"
	"projectbrain/backend/internal/services"
	"projectbrain/backend/internal/store"
	"projectbrain/backend/pkg/config"
	"projectbrain/backend/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	// Initialize logger
	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting HTTP API server...")

	ctx := context.Background()

	// The relational store is required
	repo, err := store.Open(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	defer repo.Close()
	if err := repo.AutoMigrate(ctx); err != nil {
		log.Fatal("Failed to migrate database", zap.Error(err))
	}

	backend := connectGraph(ctx, cfg, log)
	defer backend.Close(context.Background())

	var sinks notify.Multi
	sinks = append(sinks, notify.NewLogSink(nil))
	if cfg.RedisAddr != "" {
		redisSink, err := notify.NewRedisSink(ctx, cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			log.Warn("Redis unavailable, events are only logged", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		} else {
			defer redisSink.Close()
			sinks = append(sinks, redisSink)
		}
	}

	llm := adapter.NewLLMAdapter(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.ModelID, cfg.EmbeddingModelID)
	cache := briefing.NewCache(repo, cfg.ContextCharBudget)
	defer cache.Close()

	naming := graph.NewNaming(cfg.GraphBaseName)
	syncer := graph.NewSyncEngine(backend, naming, repo)
	graphs := graph.NewManager(backend, naming, repo, syncer, cache)
	resolver := contacts.NewResolver(repo)

	temperature := float32(cfg.ExtractionTemperature)
	pipeline := ingest.NewPipeline(ingest.Deps{
		Store:    repo,
		Contacts: resolver,
		Extractor: extraction.NewEngine(llm, cache, extraction.Options{
			Model:           cfg.ModelID,
			Temperature:     &temperature,
			MaxTokens:       cfg.ExtractionMaxTokens,
			PromptOverrides: cfg.PromptOverrides,
		}),
		Persister:  extraction.NewPersister(repo, resolver, cache),
		Graph:      syncer,
		Correlator: correlate.NewCorrelator(llm, repo, syncer, cache),
		Sink:       sinks,
	})
	runner := processing.NewRunner(pipeline, llm, repo, sinks, processing.Options{})

	scheduler := services.NewScheduler(graphs, sinks)
	if err := scheduler.ScheduleOrphanCleanup(cfg.OrphanCleanupSchedule); err != nil {
		log.Fatal("Invalid orphan cleanup schedule", zap.Error(err))
	}
	scheduler.Start()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := newRouter(&server{
		repo:      repo,
		pipeline:  pipeline,
		syncer:    syncer,
		graphs:    graphs,
		runner:    runner,
		scheduler: scheduler,
		log:       log,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started",
		zap.String("port", cfg.Port),
		zap.Bool("graph_connected", backend.Connected()),
		zap.Bool("redis", len(sinks) > 1))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeoutSeconds*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		log.Warn("Scheduler did not stop cleanly", zap.Error(err))
	}

	log.Info("Server exited")
}

// connectGraph returns the Neo4j backend, or the no-op backend when none is
// configured or the server is unreachable. Ingestion keeps working either way.
func connectGraph(ctx context.Context, cfg *config.Config, log *zap.Logger) graph.Backend {
	if !cfg.GraphEnabled() {
		log.Info("NEO4J_URI not set, graph sync disabled")
		return graph.NoopBackend{}
	}
	backend, err := graph.NewNeo4jBackend(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, cfg.Neo4jDatabase)
	if err != nil {
		log.Warn("Neo4j unavailable, graph sync disabled", zap.String("uri", cfg.Neo4jURI), zap.Error(err))
		return graph.NoopBackend{}
	}
	if err := backend.EnsureSchema(ctx); err != nil {
		log.Warn("Failed to ensure graph schema", zap.Error(err))
	}
	return backend
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
