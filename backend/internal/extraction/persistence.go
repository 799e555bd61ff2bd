package extraction

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"projectbrain/backend/internal/contacts"
	"projectbrain/backend/internal/domain"
	apperrors "projectbrain/backend/pkg/errors"
	"projectbrain/backend/pkg/logger"
)

// KnowledgeStore writes knowledge items
type KnowledgeStore interface {
	CreateFact(ctx context.Context, f *domain.Fact) error
	CreateDecision(ctx context.Context, d *domain.Decision) error
	CreateRisk(ctx context.Context, r *domain.Risk) error
	CreateActionItem(ctx context.Context, a *domain.ActionItem) error
	CreateQuestion(ctx context.Context, q *domain.Question) error
}

// PersonResolver is the contact matching shared with message resolution
type PersonResolver interface {
	ResolvePerson(ctx context.Context, projectID string, p contacts.Person, source domain.ContactSource) (*domain.Contact, bool, error)
}

// Invalidator is notified when a project's knowledge changes
type Invalidator interface {
	Invalidate(projectID string)
}

// Grouping is an optional context (sprint, task, ...) stamped on every
// persisted item.
type Grouping struct {
	Kind string
	ID   string
}

// PersistResult lists what was written
type PersistResult struct {
	Facts       []domain.Fact
	Decisions   []domain.Decision
	Risks       []domain.Risk
	ActionItems []domain.ActionItem
	Questions   []domain.Question
	People      []*domain.Contact
	NewPeople   int
	Counts      domain.EntityCounts
	Failures    []apperrors.ItemFailure
}

// Persister writes an entity bundle as independent knowledge rows
type Persister struct {
	store  KnowledgeStore
	people PersonResolver
	cache  Invalidator
	logger *zap.Logger
}

// NewPersister creates entity persistence. cache may be nil.
func NewPersister(store KnowledgeStore, people PersonResolver, cache Invalidator) *Persister {
	return &Persister{
		store:  store,
		people: people,
		cache:  cache,
		logger: logger.Named("persistence"),
	}
}

// Persist writes every item in the bundle for the message. Each write is
// independent; failures are collected and returned as a
// *PersistencePartialFailure next to the successful result.
func (p *Persister) Persist(ctx context.Context, msg *domain.Message, bundle *domain.EntityBundle, group Grouping) (*PersistResult, error) {
	res := &PersistResult{}
	if bundle.Empty() {
		return res, nil
	}

	origin := domain.Origin{
		ProjectID:  msg.ProjectID,
		Provenance: domain.Provenance(string(msg.SourceType), msg.ID),
		SourceRef:  msg.ID,
		GroupKind:  group.Kind,
		GroupID:    group.ID,
	}
	fail := func(kind string, i int, err error) {
		res.Failures = append(res.Failures, apperrors.ItemFailure{EntityType: kind, Index: i, Reason: err.Error()})
		p.logger.Warn("Entity write failed",
			zap.String("message_id", msg.ID),
			zap.String("entity_type", kind),
			zap.Int("index", i),
			zap.Error(err))
	}

	for i, f := range bundle.Facts {
		row := domain.Fact{Origin: origin, Content: f.Content, Category: f.Category, Confidence: f.Confidence}
		if err := p.store.CreateFact(ctx, &row); err != nil {
			fail("fact", i, err)
			continue
		}
		res.Facts = append(res.Facts, row)
	}

	for i, d := range bundle.Decisions {
		row := domain.Decision{Origin: origin, Content: d.Content, Rationale: d.Rationale, MadeBy: d.MadeBy, Confidence: d.Confidence}
		if err := p.store.CreateDecision(ctx, &row); err != nil {
			fail("decision", i, err)
			continue
		}
		res.Decisions = append(res.Decisions, row)
	}

	for i, r := range bundle.Risks {
		row := domain.Risk{
			Origin: origin, Content: r.Content, Severity: r.Severity, Likelihood: r.Likelihood,
			Mitigation: r.Mitigation, Owner: r.Owner, Confidence: r.Confidence,
		}
		if err := p.store.CreateRisk(ctx, &row); err != nil {
			fail("risk", i, err)
			continue
		}
		res.Risks = append(res.Risks, row)
	}

	for i, a := range bundle.ActionItems {
		row := domain.ActionItem{
			Origin: origin, Content: a.Content, Owner: a.Owner, Priority: a.Priority,
			Confidence: a.Confidence, DueText: a.DueDate,
		}
		if due, ok := parseDueDate(a.DueDate); ok {
			row.DueDate = &due
		}
		if a.Owner != "" && p.people != nil {
			owner := ownerPerson(a.Owner)
			if c, _, err := p.people.ResolvePerson(ctx, msg.ProjectID, owner, domain.ContactFromExtraction); err == nil {
				row.OwnerContactID = c.ID
			}
		}
		if err := p.store.CreateActionItem(ctx, &row); err != nil {
			fail("action_item", i, err)
			continue
		}
		res.ActionItems = append(res.ActionItems, row)
	}

	for i, q := range bundle.Questions {
		row := domain.Question{
			Origin: origin, Content: q.Content, AskedBy: q.AskedBy, Assignee: q.Assignee,
			Priority: q.Priority, Confidence: q.Confidence,
		}
		if err := p.store.CreateQuestion(ctx, &row); err != nil {
			fail("question", i, err)
			continue
		}
		res.Questions = append(res.Questions, row)
	}

	if p.people != nil {
		for i, person := range bundle.People {
			c, created, err := p.people.ResolvePerson(ctx, msg.ProjectID, contacts.Person{
				Email:        person.Email,
				Name:         person.Name,
				Phone:        person.Phone,
				Role:         person.Role,
				Organization: person.Organization,
			}, domain.ContactFromExtraction)
			if err != nil {
				fail("person", i, err)
				continue
			}
			res.People = append(res.People, c)
			if created {
				res.NewPeople++
			}
		}
	}

	res.Counts = domain.EntityCounts{
		Facts:       len(res.Facts),
		Decisions:   len(res.Decisions),
		Risks:       len(res.Risks),
		ActionItems: len(res.ActionItems),
		Questions:   len(res.Questions),
		People:      len(res.People),
	}
	if res.Counts.Total() > 0 && p.cache != nil {
		p.cache.Invalidate(msg.ProjectID)
	}

	p.logger.Debug("Bundle persisted",
		zap.String("message_id", msg.ID),
		zap.Int("written", res.Counts.Total()),
		zap.Int("failed", len(res.Failures)))

	if len(res.Failures) > 0 {
		return res, apperrors.NewPersistencePartialFailure(res.Failures)
	}
	return res, nil
}

// ownerPerson reads "Jane <jane@x.com>", an address or a plain name
func ownerPerson(owner string) contacts.Person {
	owner = strings.TrimSpace(owner)
	if open := strings.Index(owner, "<"); open >= 0 && strings.HasSuffix(owner, ">") {
		return contacts.Person{
			Name:  strings.TrimSpace(owner[:open]),
			Email: strings.TrimSpace(owner[open+1 : len(owner)-1]),
		}
	}
	if strings.Contains(owner, "@") && !strings.Contains(owner, " ") {
		return contacts.Person{Email: owner}
	}
	return contacts.Person{Name: owner}
}

func parseDueDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
