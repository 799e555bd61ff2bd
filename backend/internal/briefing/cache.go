// Package briefing builds and caches the per-project context block that is
// fed to extraction prompts.
package briefing

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"projectbrain/backend/internal/domain"
	"projectbrain/backend/internal/store"
	"projectbrain/backend/pkg/logger"
)

// Store is the read side of the knowledge store the briefing needs
type Store interface {
	ListFacts(ctx context.Context, f store.KnowledgeFilter) ([]domain.Fact, error)
	ListDecisions(ctx context.Context, f store.KnowledgeFilter) ([]domain.Decision, error)
	ListOpenQuestions(ctx context.Context, projectID string, limit int) ([]domain.Question, error)
}

const (
	DefaultCharBudget = 4000
	itemsPerSection   = 10
)

// Cache holds one rendered context block per project. Entries are dropped
// on entity mutation (Invalidate) and project switch (InvalidateAll).
type Cache struct {
	store   Store
	budget  int
	mu      sync.RWMutex
	entries map[string]string
	closed  bool
	logger  *zap.Logger
}

// NewCache creates a briefing cache; budget <= 0 uses DefaultCharBudget
func NewCache(s Store, budget int) *Cache {
	if budget <= 0 {
		budget = DefaultCharBudget
	}
	return &Cache{
		store:   s,
		budget:  budget,
		entries: make(map[string]string),
		logger:  logger.Named("briefing"),
	}
}

// ContextFor returns the project's context block, building it on a miss
func (c *Cache) ContextFor(ctx context.Context, projectID string) (string, error) {
	c.mu.RLock()
	block, ok := c.entries[projectID]
	closed := c.closed
	c.mu.RUnlock()
	if ok {
		return block, nil
	}

	block, err := c.build(ctx, projectID)
	if err != nil {
		return "", err
	}
	if closed {
		return block, nil
	}

	c.mu.Lock()
	if !c.closed {
		c.entries[projectID] = block
	}
	c.mu.Unlock()
	return block, nil
}

// Invalidate drops the cached block of one project
func (c *Cache) Invalidate(projectID string) {
	c.mu.Lock()
	delete(c.entries, projectID)
	c.mu.Unlock()
}

// InvalidateAll drops every cached block
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]string)
	c.mu.Unlock()
	c.logger.Debug("Briefing cache cleared")
}

// Close releases cached state. Later lookups are built but not stored.
func (c *Cache) Close() error {
	c.mu.Lock()
	c.entries = make(map[string]string)
	c.closed = true
	c.mu.Unlock()
	return nil
}

// Len reports how many projects are cached
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) build(ctx context.Context, projectID string) (string, error) {
	filter := store.KnowledgeFilter{ProjectID: projectID, Limit: itemsPerSection}

	facts, err := c.store.ListFacts(ctx, filter)
	if err != nil {
		return "", fmt.Errorf("failed to load facts for briefing: %w", err)
	}
	decisions, err := c.store.ListDecisions(ctx, filter)
	if err != nil {
		return "", fmt.Errorf("failed to load decisions for briefing: %w", err)
	}
	questions, err := c.store.ListOpenQuestions(ctx, projectID, itemsPerSection)
	if err != nil {
		return "", fmt.Errorf("failed to load questions for briefing: %w", err)
	}

	var b strings.Builder
	if len(facts) > 0 {
		b.WriteString("Known facts:\n")
		for _, f := range facts {
			fmt.Fprintf(&b, "- %s\n", f.Content)
		}
	}
	if len(decisions) > 0 {
		b.WriteString("Decisions made:\n")
		for _, d := range decisions {
			fmt.Fprintf(&b, "- %s\n", d.Content)
		}
	}
	if len(questions) > 0 {
		b.WriteString("Open questions:\n")
		for _, q := range questions {
			fmt.Fprintf(&b, "- %s\n", q.Content)
		}
	}

	block := truncate(b.String(), c.budget)
	c.logger.Debug("Briefing built",
		zap.String("project_id", projectID),
		zap.Int("chars", len([]rune(block))))
	return block, nil
}

// truncate cuts s to at most max characters, preferring a line boundary
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	cut := string(runes[:max])
	if i := strings.LastIndex(cut, "\n"); i > 0 {
		return cut[:i+1]
	}
	return cut
}
