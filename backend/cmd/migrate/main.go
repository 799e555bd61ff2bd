// Command migrate creates the relational tables and the graph constraints.
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"go.uber.org/zap"

	"projectbrain/backend/internal/graph"
	"projectbrain/backend/internal/store"
	"projectbrain/backend/pkg/config"
	"projectbrain/backend/pkg/logger"
)

func main() {
	skipGraph := flag.Bool("skip-graph", false, "only migrate the relational store")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}
	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()
	log := logger.Named("migrate")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	repo, err := store.Open(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	defer repo.Close()
	if err := repo.AutoMigrate(ctx); err != nil {
		log.Fatal("Failed to migrate database", zap.Error(err))
	}
	log.Info("Relational schema migrated", zap.String("driver", cfg.DBDriver))

	if *skipGraph || !cfg.GraphEnabled() {
		log.Info("Skipping graph schema")
		return
	}
	backend, err := graph.NewNeo4jBackend(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, cfg.Neo4jDatabase)
	if err != nil {
		log.Fatal("Failed to connect to Neo4j", zap.Error(err))
	}
	defer backend.Close(context.Background())
	if err := backend.EnsureSchema(ctx); err != nil {
		log.Fatal("Failed to create graph constraints", zap.Error(err))
	}
	log.Info("Graph schema ensured", zap.String("uri", cfg.Neo4jURI))
}
