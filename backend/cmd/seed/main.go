// Command seed loads a demo project with a small message thread and the
// knowledge it produced, without calling a language model, then mirrors it
// into the graph when one is configured.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"projectbrain/backend/internal/contacts"
	"projectbrain/backend/internal/domain"
	"projectbrain/backend/internal/graph"
	"projectbrain/backend/internal/ingest"
	"projectbrain/backend/internal/store"
	"projectbrain/backend/pkg/config"
	"projectbrain/backend/pkg/logger"
)

type seedMessage struct {
	from, fromName string
	to             []string
	subject, body  string
	at             time.Time
	facts          []string
	decisions      []domain.Decision
	questions      []string
}

var thread = []seedMessage{
	{
		from: "alice@example.com", fromName: "Alice Martin",
		to:      []string{"bob@example.com", "carol@example.com"},
		subject: "Apollo launch plan",
		body:    "Hi both,\n\nWe are targeting May 3rd for the launch. Postgres stays the primary store.\nWho owns the migration runbook?\n\nAlice",
		at:      time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		facts:   []string{"Launch is targeted for May 3rd"},
		decisions: []domain.Decision{
			{Content: "Postgres stays the primary store", MadeBy: "Alice Martin", Confidence: domain.ScoreHigh},
		},
		questions: []string{"Who owns the migration runbook?"},
	},
	{
		from: "bob@example.com", fromName: "Bob Chen",
		to:      []string{"alice@example.com"},
		subject: "Re: Apollo launch plan",
		body:    "Carol owns the migration runbook. I will review the rollback section this week.",
		at:      time.Date(2024, 3, 1, 11, 30, 0, 0, time.UTC),
		facts:   []string{"Carol owns the migration runbook"},
	},
}

func main() {
	projectName := flag.String("project", "Apollo", "Name of the demo project to create")
	force := flag.Bool("force", false, "Create the project even if one with this name exists")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}
	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting database seeding...")

	ctx := context.Background()
	repo, err := store.Open(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	defer repo.Close()
	if err := repo.AutoMigrate(ctx); err != nil {
		log.Fatal("Failed to migrate database", zap.Error(err))
	}

	projects, err := repo.ListProjects(ctx)
	if err != nil {
		log.Fatal("Failed to list projects", zap.Error(err))
	}
	for _, p := range projects {
		if p.Name == *projectName && !*force {
			log.Info("Project already exists, skipping creation (use -force to recreate)",
				zap.String("project_id", p.ID))
			os.Exit(0)
		}
	}

	project := &domain.Project{Name: *projectName}
	if err := repo.CreateProject(ctx, project); err != nil {
		log.Fatal("Failed to create project", zap.Error(err))
	}

	resolver := contacts.NewResolver(repo)
	for _, sm := range thread {
		if err := seed(ctx, repo, resolver, project.ID, sm); err != nil {
			log.Fatal("Failed to seed message", zap.String("subject", sm.subject), zap.Error(err))
		}
	}
	log.Info("Relational data seeded", zap.String("project_id", project.ID), zap.Int("messages", len(thread)))

	if !cfg.GraphEnabled() {
		log.Info("NEO4J_URI not set, skipping graph sync")
		return
	}
	backend, err := graph.NewNeo4jBackend(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, cfg.Neo4jDatabase)
	if err != nil {
		log.Fatal("Failed to connect to Neo4j", zap.Error(err))
	}
	defer backend.Close(context.Background())

	syncer := graph.NewSyncEngine(backend, graph.NewNaming(cfg.GraphBaseName), repo)
	res, err := syncer.FullSync(ctx, project.ID)
	if err != nil {
		log.Fatal("Graph sync failed", zap.Error(err))
	}
	log.Info("Graph seeded",
		zap.String("graph", res.Graph),
		zap.Int("messages", res.Messages),
		zap.Int("entities", res.Entities))
}

func seed(ctx context.Context, repo *store.Repository, resolver *contacts.Resolver, projectID string, sm seedMessage) error {
	msg := &domain.Message{
		ProjectID:   projectID,
		SourceType:  domain.SourceAPI,
		FromAddress: sm.from,
		FromName:    sm.fromName,
		Subject:     sm.subject,
		BodyText:    sm.body,
		Timestamp:   sm.at,
	}
	for _, addr := range sm.to {
		msg.Recipients = append(msg.Recipients, domain.Recipient{Kind: domain.RecipientTo, Address: addr})
	}
	msg.ContentFingerprint = ingest.Fingerprint(msg.FromAddress, msg.Subject, msg.BodyText, msg.Timestamp)
	if err := repo.CreateMessage(ctx, msg); err != nil {
		return err
	}
	if _, err := resolver.Resolve(ctx, msg); err != nil {
		return err
	}

	origin := domain.Origin{ProjectID: projectID, Provenance: "seed", SourceRef: msg.ID}
	for _, content := range sm.facts {
		if err := repo.CreateFact(ctx, &domain.Fact{Origin: origin, Content: content, Confidence: domain.ScoreHigh}); err != nil {
			return err
		}
	}
	for _, d := range sm.decisions {
		d.Origin = origin
		if err := repo.CreateDecision(ctx, &d); err != nil {
			return err
		}
	}
	for _, content := range sm.questions {
		if err := repo.CreateQuestion(ctx, &domain.Question{Origin: origin, Content: content, Confidence: domain.ScoreMedium}); err != nil {
			return err
		}
	}
	return repo.MarkMessageProcessed(ctx, msg.ID, store.ExtractionOutcome{Summary: sm.subject})
}
