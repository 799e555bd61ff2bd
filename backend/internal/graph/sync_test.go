package graph_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectbrain/backend/internal/domain"
	"projectbrain/backend/internal/extraction"
	"projectbrain/backend/internal/graph"
	"projectbrain/backend/internal/graph/graphtest"
	"projectbrain/backend/internal/store"
	"projectbrain/backend/internal/store/storetest"
	apperrors "projectbrain/backend/pkg/errors"
)

var naming = graph.NewNaming("kg")

func testMessage() *domain.Message {
	return &domain.Message{
		ID:          "msg-1",
		ProjectID:   "p1",
		SourceType:  domain.SourceUpload,
		FromAddress: "alice@example.com",
		FromName:    "Alice Smith",
		Subject:     "Launch plan",
		Timestamp:   time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Recipients: []domain.Recipient{
			{Kind: domain.RecipientTo, Address: "bob@example.com", Name: "Bob"},
			{Kind: domain.RecipientCc, Name: "Carol Jones"},
		},
	}
}

func TestSyncMessage_CreatesNodesAndEdges(t *testing.T) {
	backend := graphtest.NewMemoryBackend()
	engine := graph.NewSyncEngine(backend, naming, nil)
	ctx := context.Background()

	require.NoError(t, engine.SyncMessage(ctx, testMessage(), "Apollo"))

	g := naming.GraphName("p1")
	assert.Equal(t, "Apollo", backend.Node(g, graph.LabelProject, "p1")["name"])
	assert.Equal(t, "Launch plan", backend.Node(g, graph.LabelMessage, "msg-1")["subject"])

	alice := backend.Node(g, graph.LabelPerson, "alice@example.com")
	require.NotNil(t, alice)
	assert.Equal(t, "alice smith", alice["name_lower"])
	require.NotNil(t, backend.Node(g, graph.LabelPerson, "name:carol jones"))

	assert.True(t, backend.HasRelationship(g, graph.RelInProject, "msg-1", "p1"))
	assert.True(t, backend.HasRelationship(g, graph.RelSent, "alice@example.com", "msg-1"))
	assert.True(t, backend.HasRelationship(g, graph.RelSentTo, "msg-1", "bob@example.com"))
	assert.True(t, backend.HasRelationship(g, graph.RelSentTo, "msg-1", "name:carol jones"))
}

func TestSyncMessage_Idempotent(t *testing.T) {
	backend := graphtest.NewMemoryBackend()
	engine := graph.NewSyncEngine(backend, naming, nil)
	ctx := context.Background()

	require.NoError(t, engine.SyncMessage(ctx, testMessage(), "Apollo"))
	first, err := backend.CountElements(ctx, naming.GraphName("p1"))
	require.NoError(t, err)

	require.NoError(t, engine.SyncMessage(ctx, testMessage(), "Apollo"))
	second, err := backend.CountElements(ctx, naming.GraphName("p1"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, backend.Calls["ensure_instance"])
}

func TestSyncEngine_DisconnectedIsNoop(t *testing.T) {
	backend := graphtest.NewMemoryBackend()
	backend.Disconnected = true
	engine := graph.NewSyncEngine(backend, naming, nil)
	ctx := context.Background()

	assert.NoError(t, engine.SyncMessage(ctx, testMessage(), "Apollo"))
	assert.NoError(t, engine.LinkToEntities(ctx, "p1", "msg-1", &extraction.PersistResult{
		Facts: []domain.Fact{{ID: "f1", Content: "x"}},
	}))
	assert.NoError(t, engine.OnEntityDeleted(ctx, "p1", "msg-1"))
	assert.Zero(t, backend.Calls["upsert_node"])

	status, err := engine.GetSyncStatus(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, status.Connected)
	assert.Equal(t, int64(3), status.Stats.Skipped)
	assert.Zero(t, status.Stats.Errors)
}

func TestSyncEngine_NilBackendUsesNoop(t *testing.T) {
	engine := graph.NewSyncEngine(nil, naming, nil)
	assert.False(t, engine.Connected())
	assert.NoError(t, engine.SyncMessage(context.Background(), testMessage(), "Apollo"))
}

func TestSyncMessage_FailureCountedInStats(t *testing.T) {
	backend := graphtest.NewMemoryBackend()
	backend.Fail["upsert_relationship"] = errors.New("boom")
	engine := graph.NewSyncEngine(backend, naming, nil)
	ctx := context.Background()

	err := engine.SyncMessage(ctx, testMessage(), "Apollo")
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeGraph))

	status, err := engine.GetSyncStatus(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.Stats.Errors)
	assert.Contains(t, status.Stats.LastError, "boom")
	assert.Zero(t, status.Stats.MessagesSynced)
}

func TestLinkToEntities(t *testing.T) {
	backend := graphtest.NewMemoryBackend()
	engine := graph.NewSyncEngine(backend, naming, nil)
	ctx := context.Background()
	require.NoError(t, engine.SyncMessage(ctx, testMessage(), "Apollo"))

	res := &extraction.PersistResult{
		Facts:       []domain.Fact{{ID: "f1", Content: "Launch is in May"}},
		Decisions:   []domain.Decision{{ID: "d1", Content: "Use Postgres", MadeBy: "Alice Smith"}},
		Risks:       []domain.Risk{{ID: "r1", Content: "Vendor delay"}},
		ActionItems: []domain.ActionItem{{ID: "a1", Content: "Draft plan", Owner: "Dave <dave@example.com>"}},
		Questions:   []domain.Question{{ID: "q1", Content: "Who signs off?"}},
		People:      []*domain.Contact{{ID: "c1", Name: "Erin", Email: "erin@example.com", Role: "PM"}},
	}
	require.NoError(t, engine.LinkToEntities(ctx, "p1", "msg-1", res))

	g := naming.GraphName("p1")
	assert.True(t, backend.HasRelationship(g, graph.RelContainsFact, "msg-1", "f1"))
	assert.True(t, backend.HasRelationship(g, graph.RelRecordsDecision, "msg-1", "d1"))
	assert.True(t, backend.HasRelationship(g, graph.RelRaisesRisk, "msg-1", "r1"))
	assert.True(t, backend.HasRelationship(g, graph.RelCreatesAction, "msg-1", "a1"))
	assert.True(t, backend.HasRelationship(g, graph.RelAsksQuestion, "msg-1", "q1"))
	assert.True(t, backend.HasRelationship(g, graph.RelMentions, "msg-1", "erin@example.com"))

	// Name-only reference resolves to the existing email-keyed person
	assert.True(t, backend.HasRelationship(g, graph.RelDecidedBy, "d1", "alice@example.com"))
	assert.True(t, backend.HasRelationship(g, graph.RelAssignedTo, "a1", "dave@example.com"))
	assert.Equal(t, "PM", backend.Node(g, graph.LabelPerson, "erin@example.com")["role"])

	status, err := engine.GetSyncStatus(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), status.Stats.EntitiesSynced)
	assert.NotNil(t, status.Stats.LastSyncAt)
}

func TestLinkToEntities_PartialFailureContinues(t *testing.T) {
	backend := graphtest.NewMemoryBackend()
	engine := graph.NewSyncEngine(backend, naming, nil)
	ctx := context.Background()
	backend.Fail["upsert_relationship"] = errors.New("edge write failed")

	err := engine.LinkToEntities(ctx, "p1", "msg-1", &extraction.PersistResult{
		Facts: []domain.Fact{{ID: "f1", Content: "a"}, {ID: "f2", Content: "b"}},
	})
	require.Error(t, err)

	g := naming.GraphName("p1")
	assert.NotNil(t, backend.Node(g, graph.LabelFact, "f1"))
	assert.NotNil(t, backend.Node(g, graph.LabelFact, "f2"))

	status, _ := engine.GetSyncStatus(ctx, "p1")
	assert.Equal(t, int64(2), status.Stats.Errors)
}

func TestSyncQuestion_AnsweredBy(t *testing.T) {
	backend := graphtest.NewMemoryBackend()
	engine := graph.NewSyncEngine(backend, naming, nil)
	ctx := context.Background()

	now := time.Now().UTC()
	q := &domain.Question{
		ID:              "q1",
		Origin:          domain.Origin{ProjectID: "p1"},
		Content:         "When is launch?",
		Status:          domain.QuestionResolved,
		Answer:          "May 3rd",
		AnswerSourceRef: "msg-2",
		AutoResolved:    true,
		ResolvedAt:      &now,
	}
	require.NoError(t, engine.SyncQuestion(ctx, q))

	g := naming.GraphName("p1")
	assert.Equal(t, "resolved", backend.Node(g, graph.LabelQuestion, "q1")["status"])
	assert.True(t, backend.HasRelationship(g, graph.RelAnsweredBy, "q1", "msg-2"))
}

func TestSyncQuestion_OpenHasNoAnswerEdge(t *testing.T) {
	backend := graphtest.NewMemoryBackend()
	engine := graph.NewSyncEngine(backend, naming, nil)

	q := &domain.Question{ID: "q1", Origin: domain.Origin{ProjectID: "p1"}, Content: "?", Status: domain.QuestionPending}
	require.NoError(t, engine.SyncQuestion(context.Background(), q))
	assert.Zero(t, backend.Calls["upsert_relationship"])
}

func TestOnEntityDeleted(t *testing.T) {
	backend := graphtest.NewMemoryBackend()
	engine := graph.NewSyncEngine(backend, naming, nil)
	ctx := context.Background()
	require.NoError(t, engine.SyncMessage(ctx, testMessage(), "Apollo"))

	require.NoError(t, engine.OnEntityDeleted(ctx, "p1", "msg-1"))

	g := naming.GraphName("p1")
	assert.Nil(t, backend.Node(g, graph.LabelMessage, "msg-1"))
	assert.False(t, backend.HasRelationship(g, graph.RelSent, "alice@example.com", "msg-1"))
	assert.NotNil(t, backend.Node(g, graph.LabelPerson, "alice@example.com"))
}

func TestFullSync_RebuildsFromStore(t *testing.T) {
	repo := storetest.Open(t)
	ctx := context.Background()
	project := storetest.Project(t, repo, "Apollo")

	msg := &domain.Message{
		ProjectID:          project.ID,
		SourceType:         domain.SourcePaste,
		FromAddress:        "alice@example.com",
		FromName:           "Alice",
		Subject:            "Kickoff",
		BodyText:           "We decided to ship in May.",
		Timestamp:          time.Now().UTC(),
		ContentFingerprint: "fp-1",
		Recipients:         []domain.Recipient{{Kind: domain.RecipientTo, Address: "bob@example.com"}},
	}
	require.NoError(t, repo.CreateMessage(ctx, msg))

	origin := domain.Origin{ProjectID: project.ID, SourceRef: msg.ID, Provenance: domain.Provenance("paste", msg.ID)}
	require.NoError(t, repo.CreateDecision(ctx, &domain.Decision{Origin: origin, Content: "Ship in May", MadeBy: "Alice"}))
	require.NoError(t, repo.CreateFact(ctx, &domain.Fact{Origin: domain.Origin{ProjectID: project.ID}, Content: "Manual fact"}))

	backend := graphtest.NewMemoryBackend()
	engine := graph.NewSyncEngine(backend, naming, repo)

	result, err := engine.FullSync(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Messages)
	assert.Equal(t, 2, result.Entities)
	assert.Zero(t, result.Errors)

	g := naming.GraphName(project.ID)
	assert.True(t, backend.HasRelationship(g, graph.RelSent, "alice@example.com", msg.ID))
	assert.True(t, backend.HasRelationship(g, graph.RelSentTo, msg.ID, "bob@example.com"))

	decisions, err := repo.ListDecisions(ctx, store.KnowledgeFilter{ProjectID: project.ID})
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.True(t, backend.HasRelationship(g, graph.RelRecordsDecision, msg.ID, decisions[0].ID))
	assert.True(t, backend.HasRelationship(g, graph.RelDecidedBy, decisions[0].ID, "alice@example.com"))

	status, err := engine.GetSyncStatus(ctx, project.ID)
	require.NoError(t, err)
	assert.NotNil(t, status.Stats.LastFullSyncAt)
	assert.Positive(t, status.Counts.Nodes)
}

func TestFullSync_RebuildsItemsOfDeletedMessages(t *testing.T) {
	repo := storetest.Open(t)
	ctx := context.Background()
	project := storetest.Project(t, repo, "Apollo")

	msg := &domain.Message{
		ProjectID:          project.ID,
		SourceType:         domain.SourcePaste,
		Subject:            "Budget",
		BodyText:           "The budget is frozen until Q3.",
		Timestamp:          time.Now().UTC(),
		ContentFingerprint: "fp-gone",
	}
	require.NoError(t, repo.CreateMessage(ctx, msg))
	fact := &domain.Fact{
		Origin:  domain.Origin{ProjectID: project.ID, SourceRef: msg.ID},
		Content: "Budget frozen until Q3",
	}
	require.NoError(t, repo.CreateFact(ctx, fact))
	_, err := repo.DeleteMessage(ctx, msg.ID)
	require.NoError(t, err)

	backend := graphtest.NewMemoryBackend()
	engine := graph.NewSyncEngine(backend, naming, repo)

	result, err := engine.FullSync(ctx, project.ID)
	require.NoError(t, err)
	assert.Zero(t, result.Messages)
	assert.Equal(t, 1, result.Entities)

	g := naming.GraphName(project.ID)
	node := backend.Node(g, graph.LabelFact, fact.ID)
	require.NotNil(t, node)
	assert.Equal(t, "Budget frozen until Q3", node["content"])
	assert.False(t, backend.HasRelationship(g, graph.RelContainsFact, msg.ID, fact.ID))
}

func TestFullSync_Disconnected(t *testing.T) {
	backend := graphtest.NewMemoryBackend()
	backend.Disconnected = true
	engine := graph.NewSyncEngine(backend, naming, nil)

	result, err := engine.FullSync(context.Background(), "p1")
	require.NoError(t, err)
	assert.False(t, result.Connected)
	assert.Zero(t, result.Messages)
}
