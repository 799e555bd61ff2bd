package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"projectbrain/backend/internal/domain"
	"projectbrain/backend/internal/store"
	"projectbrain/backend/internal/store/storetest"
	apperrors "projectbrain/backend/pkg/errors"
)

func newMessage(projectID, fp string) *domain.Message {
	return &domain.Message{
		ProjectID:          projectID,
		SourceType:         domain.SourceAPI,
		FromAddress:        "alice@example.com",
		FromName:           "Alice",
		Subject:            "Status",
		BodyText:           "All good",
		Timestamp:          time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		ContentFingerprint: fp,
		Recipients: []domain.Recipient{
			{Kind: domain.RecipientTo, Address: "bob@example.com", Name: "Bob"},
		},
	}
}

func TestCreateProject_RequiresName(t *testing.T) {
	repo := storetest.Open(t)
	err := repo.CreateProject(context.Background(), &domain.Project{})
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeValidation))
}

func TestGetProject_NotFound(t *testing.T) {
	repo := storetest.Open(t)
	_, err := repo.GetProject(context.Background(), "missing")
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeNotFound))
}

func TestCreateMessage_WithRecipients(t *testing.T) {
	ctx := context.Background()
	repo := storetest.Open(t)
	p := storetest.Project(t, repo, "Apollo")

	msg := newMessage(p.ID, "fp-1")
	require.NoError(t, repo.CreateMessage(ctx, msg))
	require.NotEmpty(t, msg.ID)

	got, err := repo.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, got.Recipients, 1)
	assert.Equal(t, "bob@example.com", got.Recipients[0].Address)
	assert.False(t, got.Processed)
}

func TestCreateMessage_DuplicateFingerprint(t *testing.T) {
	ctx := context.Background()
	repo := storetest.Open(t)
	p := storetest.Project(t, repo, "Apollo")

	first := newMessage(p.ID, "fp-dup")
	require.NoError(t, repo.CreateMessage(ctx, first))

	err := repo.CreateMessage(ctx, newMessage(p.ID, "fp-dup"))
	require.Error(t, err)
	dup, ok := apperrors.AsDuplicate(err)
	require.True(t, ok)
	assert.Equal(t, first.ID, dup.ExistingID)
}

func TestCreateMessage_SameFingerprintOtherProject(t *testing.T) {
	ctx := context.Background()
	repo := storetest.Open(t)
	a := storetest.Project(t, repo, "A")
	b := storetest.Project(t, repo, "B")

	require.NoError(t, repo.CreateMessage(ctx, newMessage(a.ID, "fp-shared")))
	require.NoError(t, repo.CreateMessage(ctx, newMessage(b.ID, "fp-shared")))
}

func TestFindMessageByFingerprint(t *testing.T) {
	ctx := context.Background()
	repo := storetest.Open(t)
	p := storetest.Project(t, repo, "Apollo")

	none, err := repo.FindMessageByFingerprint(ctx, p.ID, "nope")
	require.NoError(t, err)
	assert.Nil(t, none)

	msg := newMessage(p.ID, "fp-x")
	require.NoError(t, repo.CreateMessage(ctx, msg))
	found, err := repo.FindMessageByFingerprint(ctx, p.ID, "fp-x")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, msg.ID, found.ID)
}

func TestMarkMessageProcessed(t *testing.T) {
	ctx := context.Background()
	repo := storetest.Open(t)
	p := storetest.Project(t, repo, "Apollo")
	msg := newMessage(p.ID, "fp-p")
	require.NoError(t, repo.CreateMessage(ctx, msg))

	require.NoError(t, repo.MarkMessageProcessed(ctx, msg.ID, store.ExtractionOutcome{
		Summary: "status update",
		Error:   "no JSON object in response",
	}))

	got, err := repo.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, got.Processed)
	assert.NotNil(t, got.ProcessedAt)
	assert.Equal(t, "status update", got.Summary)
	assert.Equal(t, "no JSON object in response", got.ExtractionError)

	err = repo.MarkMessageProcessed(ctx, "missing", store.ExtractionOutcome{})
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeNotFound))
}

func TestDeleteMessage_Cascades(t *testing.T) {
	ctx := context.Background()
	repo := storetest.Open(t)
	p := storetest.Project(t, repo, "Apollo")
	msg := newMessage(p.ID, "fp-del")
	require.NoError(t, repo.CreateMessage(ctx, msg))
	require.NoError(t, repo.UpsertEmbedding(ctx, &domain.MessageEmbedding{
		MessageID: msg.ID, ProjectID: p.ID, Model: "m", Dimensions: 2,
		Vector: datatypes.JSON(`[0.1,0.2]`),
	}))

	deleted, err := repo.DeleteMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, deleted.ProjectID)

	var recipients int64
	repo.DB().Model(&domain.Recipient{}).Where("message_id = ?", msg.ID).Count(&recipients)
	assert.Zero(t, recipients)
	_, err = repo.GetEmbedding(ctx, msg.ID)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeNotFound))
}

func TestEmbeddings_UpsertAndPending(t *testing.T) {
	ctx := context.Background()
	repo := storetest.Open(t)
	p := storetest.Project(t, repo, "Apollo")
	m1 := newMessage(p.ID, "fp-e1")
	m2 := newMessage(p.ID, "fp-e2")
	require.NoError(t, repo.CreateMessage(ctx, m1))
	require.NoError(t, repo.CreateMessage(ctx, m2))

	require.NoError(t, repo.UpsertEmbedding(ctx, &domain.MessageEmbedding{
		MessageID: m1.ID, ProjectID: p.ID, Model: "a", Dimensions: 1, Vector: datatypes.JSON(`[1]`),
	}))
	require.NoError(t, repo.UpsertEmbedding(ctx, &domain.MessageEmbedding{
		MessageID: m1.ID, ProjectID: p.ID, Model: "b", Dimensions: 1, Vector: datatypes.JSON(`[2]`),
	}))

	e, err := repo.GetEmbedding(ctx, m1.ID)
	require.NoError(t, err)
	assert.Equal(t, "b", e.Model)

	pending, err := repo.ListMessagesWithoutEmbedding(ctx, p.ID, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, m2.ID, pending[0].ID)
}

func TestContacts_CaseInsensitiveLookup(t *testing.T) {
	ctx := context.Background()
	repo := storetest.Open(t)
	p := storetest.Project(t, repo, "Apollo")

	c := &domain.Contact{ProjectID: p.ID, Email: "Alice@Example.com", Name: "Alice Smith", Source: domain.ContactFromMessage}
	require.NoError(t, repo.CreateContact(ctx, c))
	assert.Equal(t, "alice@example.com", c.Email)

	byEmail, err := repo.FindContactByEmail(ctx, p.ID, "ALICE@example.com")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, c.ID, byEmail.ID)

	byName, err := repo.FindContactByName(ctx, p.ID, "alice smith")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, c.ID, byName.ID)

	other := storetest.Project(t, repo, "Other")
	miss, err := repo.FindContactByEmail(ctx, other.ID, "alice@example.com")
	require.NoError(t, err)
	assert.Nil(t, miss)
}

func TestListOpenQuestions_OrderAndFilter(t *testing.T) {
	ctx := context.Background()
	repo := storetest.Open(t)
	p := storetest.Project(t, repo, "Apollo")

	base := time.Now().UTC().Add(-time.Hour)
	for i, status := range []domain.QuestionStatus{
		domain.QuestionPending, domain.QuestionResolved, domain.QuestionAssigned,
		domain.QuestionDismissed, domain.QuestionReopened,
	} {
		q := &domain.Question{
			Origin:    domain.Origin{ProjectID: p.ID, Provenance: "manual"},
			Content:   string(status),
			Status:    status,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.CreateQuestion(ctx, q))
	}

	open, err := repo.ListOpenQuestions(ctx, p.ID, 10)
	require.NoError(t, err)
	require.Len(t, open, 3)
	assert.Equal(t, "reopened", open[0].Content)
	assert.Equal(t, "assigned", open[1].Content)
	assert.Equal(t, "pending", open[2].Content)
}

func TestListOpenQuestionsExcluding(t *testing.T) {
	ctx := context.Background()
	repo := storetest.Open(t)
	p := storetest.Project(t, repo, "Apollo")

	for _, ref := range []string{"m-1", "m-2", ""} {
		require.NoError(t, repo.CreateQuestion(ctx, &domain.Question{
			Origin:  domain.Origin{ProjectID: p.ID, SourceRef: ref},
			Content: "asked in " + ref,
		}))
	}

	open, err := repo.ListOpenQuestionsExcluding(ctx, p.ID, "m-1", 10)
	require.NoError(t, err)
	require.Len(t, open, 2)
	for _, q := range open {
		assert.NotEqual(t, "m-1", q.SourceRef)
	}

	all, err := repo.ListOpenQuestionsExcluding(ctx, p.ID, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestResolveQuestion_OnlyOpen(t *testing.T) {
	ctx := context.Background()
	repo := storetest.Open(t)
	p := storetest.Project(t, repo, "Apollo")

	q := &domain.Question{Origin: domain.Origin{ProjectID: p.ID}, Content: "When is the launch?"}
	require.NoError(t, repo.CreateQuestion(ctx, q))
	assert.Equal(t, domain.QuestionPending, q.Status)

	res := store.Resolution{Answer: "Friday", Provenance: "api:m9", SourceRef: "m9", Auto: true}
	got, resolved, err := repo.ResolveQuestion(ctx, q.ID, res)
	require.NoError(t, err)
	assert.True(t, resolved)
	assert.Equal(t, domain.QuestionResolved, got.Status)
	assert.Equal(t, "Friday", got.Answer)
	assert.True(t, got.AutoResolved)
	assert.NotNil(t, got.ResolvedAt)

	_, resolved, err = repo.ResolveQuestion(ctx, q.ID, store.Resolution{Answer: "Monday"})
	require.NoError(t, err)
	assert.False(t, resolved)
}

func TestCreateKnowledge_Validation(t *testing.T) {
	ctx := context.Background()
	repo := storetest.Open(t)
	err := repo.CreateFact(ctx, &domain.Fact{Content: "  "})
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeValidation))
}

func TestListFacts_BySourceRef(t *testing.T) {
	ctx := context.Background()
	repo := storetest.Open(t)
	p := storetest.Project(t, repo, "Apollo")

	require.NoError(t, repo.CreateFact(ctx, &domain.Fact{Origin: domain.Origin{ProjectID: p.ID, SourceRef: "m1"}, Content: "a"}))
	require.NoError(t, repo.CreateFact(ctx, &domain.Fact{Origin: domain.Origin{ProjectID: p.ID, SourceRef: "m2"}, Content: "b"}))

	facts, err := repo.ListFacts(ctx, store.KnowledgeFilter{ProjectID: p.ID, SourceRef: "m1"})
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, domain.FactActive, facts[0].Status)
}

func TestDeleteProject_RemovesOwnedRows(t *testing.T) {
	ctx := context.Background()
	repo := storetest.Open(t)
	p := storetest.Project(t, repo, "Apollo")
	require.NoError(t, repo.CreateMessage(ctx, newMessage(p.ID, "fp-1")))
	require.NoError(t, repo.CreateFact(ctx, &domain.Fact{Origin: domain.Origin{ProjectID: p.ID}, Content: "x"}))

	require.NoError(t, repo.DeleteProject(ctx, p.ID))

	ids, err := repo.ListProjectIDs(ctx)
	require.NoError(t, err)
	assert.NotContains(t, ids, p.ID)
	msgs, err := repo.ListMessages(ctx, p.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	err = repo.DeleteProject(ctx, p.ID)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeNotFound))
}
