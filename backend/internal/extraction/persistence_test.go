package extraction

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectbrain/backend/internal/contacts"
	"projectbrain/backend/internal/domain"
	"projectbrain/backend/internal/store"
	"projectbrain/backend/internal/store/storetest"
	apperrors "projectbrain/backend/pkg/errors"
)

type recordingInvalidator struct {
	projects []string
}

func (r *recordingInvalidator) Invalidate(projectID string) {
	r.projects = append(r.projects, projectID)
}

// failingRisks wraps a real store and rejects every risk write
type failingRisks struct {
	*store.Repository
}

func (f failingRisks) CreateRisk(context.Context, *domain.Risk) error {
	return errors.New("disk full")
}

func persistedMessage(t *testing.T, repo *store.Repository) *domain.Message {
	t.Helper()
	p := storetest.Project(t, repo, "Apollo")
	msg := sampleMessage()
	msg.ID = ""
	msg.ProjectID = p.ID
	msg.ContentFingerprint = "fp"
	require.NoError(t, repo.CreateMessage(context.Background(), msg))
	return msg
}

func TestPersist_WritesAllTypes(t *testing.T) {
	ctx := context.Background()
	repo := storetest.Open(t)
	msg := persistedMessage(t, repo)
	inv := &recordingInvalidator{}
	p := NewPersister(repo, contacts.NewResolver(repo), inv)

	bundle := &domain.EntityBundle{
		Facts:       []domain.ExtractedFact{{Content: "Beta ended", Confidence: 0.9}},
		Decisions:   []domain.ExtractedDecision{{Content: "Launch May 3", MadeBy: "Alice", Confidence: 0.7}},
		Risks:       []domain.ExtractedRisk{{Content: "Vendor delay", Severity: "high"}},
		ActionItems: []domain.ExtractedActionItem{{Content: "Update roadmap", Owner: "Bob <bob@example.com>", DueDate: "2024-05-01"}},
		Questions:   []domain.ExtractedQuestion{{Content: "Who signs off?", Assignee: "Carol"}},
		People:      []domain.ExtractedPerson{{Name: "Dana", Role: "PM"}},
	}
	res, err := p.Persist(ctx, msg, bundle, Grouping{Kind: "sprint", ID: "s7"})
	require.NoError(t, err)

	assert.Equal(t, domain.EntityCounts{Facts: 1, Decisions: 1, Risks: 1, ActionItems: 1, Questions: 1, People: 1}, res.Counts)
	assert.Equal(t, []string{msg.ProjectID}, inv.projects)

	fact := res.Facts[0]
	assert.Equal(t, "api:"+msg.ID, fact.Provenance)
	assert.Equal(t, msg.ID, fact.SourceRef)
	assert.Equal(t, "sprint", fact.GroupKind)
	assert.Equal(t, "s7", fact.GroupID)

	action := res.ActionItems[0]
	require.NotNil(t, action.DueDate)
	assert.Equal(t, 2024, action.DueDate.Year())
	assert.NotEmpty(t, action.OwnerContactID)

	assert.Equal(t, domain.QuestionAssigned, res.Questions[0].Status)

	facts, err := repo.ListFacts(ctx, store.KnowledgeFilter{ProjectID: msg.ProjectID})
	require.NoError(t, err)
	assert.Len(t, facts, 1)
}

func TestPersist_PartialFailure(t *testing.T) {
	ctx := context.Background()
	repo := storetest.Open(t)
	msg := persistedMessage(t, repo)
	p := NewPersister(failingRisks{repo}, nil, nil)

	bundle := &domain.EntityBundle{
		Facts: []domain.ExtractedFact{{Content: "a"}, {Content: "b"}},
		Risks: []domain.ExtractedRisk{{Content: "r1"}, {Content: "r2"}},
	}
	res, err := p.Persist(ctx, msg, bundle, Grouping{})
	require.Error(t, err)

	var partial *apperrors.PersistencePartialFailure
	require.True(t, errors.As(err, &partial))
	assert.Len(t, partial.Failures, 2)
	assert.Equal(t, "risk", partial.Failures[0].EntityType)
	assert.Equal(t, 2, res.Counts.Facts)
	assert.Zero(t, res.Counts.Risks)
}

func TestPersist_EmptyBundle(t *testing.T) {
	inv := &recordingInvalidator{}
	res, err := NewPersister(nil, nil, inv).Persist(context.Background(), sampleMessage(), &domain.EntityBundle{}, Grouping{})
	require.NoError(t, err)
	assert.Zero(t, res.Counts.Total())
	assert.Empty(t, inv.projects)
}

func TestOwnerPerson(t *testing.T) {
	assert.Equal(t, contacts.Person{Name: "Bob", Email: "bob@x.com"}, ownerPerson("Bob <bob@x.com>"))
	assert.Equal(t, contacts.Person{Email: "bob@x.com"}, ownerPerson("bob@x.com"))
	assert.Equal(t, contacts.Person{Name: "Bob Jones"}, ownerPerson(" Bob Jones "))
}
