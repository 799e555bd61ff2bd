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
)

func message(projectID, id, from string, to ...string) *domain.Message {
	msg := &domain.Message{
		ID:          id,
		ProjectID:   projectID,
		SourceType:  domain.SourceAPI,
		FromAddress: from,
		Subject:     "subject " + id,
		Timestamp:   time.Now().UTC(),
	}
	for _, addr := range to {
		msg.Recipients = append(msg.Recipients, domain.Recipient{Kind: domain.RecipientTo, Address: addr})
	}
	return msg
}

// seedProjects builds three project graphs:
//
//	p1: alice -> bob, carol
//	p2: alice -> bob
//	p3: dave -> carol
func seedProjects(t *testing.T) (*graphtest.MemoryBackend, *graph.Manager) {
	t.Helper()
	backend := graphtest.NewMemoryBackend()
	engine := graph.NewSyncEngine(backend, naming, nil)
	ctx := context.Background()

	for _, msg := range []*domain.Message{
		message("p1", "m1", "alice@x.com", "bob@x.com", "carol@x.com"),
		message("p1", "m2", "bob@x.com", "alice@x.com"),
		message("p2", "m3", "alice@x.com", "bob@x.com"),
		message("p3", "m4", "dave@x.com", "carol@x.com"),
	} {
		require.NoError(t, engine.SyncMessage(ctx, msg, "project "+msg.ProjectID))
	}
	m := graph.NewManager(backend, naming, &fakeProjects{ids: []string{"p1", "p2", "p3"}}, engine)
	return backend, m
}

func TestFindCrossProjectPeople(t *testing.T) {
	_, m := seedProjects(t)

	people, err := m.FindCrossProjectPeople(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, people, 3)

	byKey := map[string][]string{}
	for _, p := range people {
		byKey[p.Key] = p.Projects
	}
	assert.Equal(t, []string{"p1", "p2"}, byKey["alice@x.com"])
	assert.Equal(t, []string{"p1", "p2"}, byKey["bob@x.com"])
	assert.Equal(t, []string{"p1", "p3"}, byKey["carol@x.com"])
	assert.NotContains(t, byKey, "dave@x.com")
}

func TestFindCrossProjectPeople_MinProjects(t *testing.T) {
	_, m := seedProjects(t)

	people, err := m.FindCrossProjectPeople(context.Background(), 3)
	require.NoError(t, err)
	assert.Empty(t, people)
}

func TestFindProjectConnections(t *testing.T) {
	_, m := seedProjects(t)

	conns, err := m.FindProjectConnections(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, conns, 2)

	assert.Equal(t, "p2", conns[0].ProjectID)
	assert.Equal(t, 2, conns[0].Strength)
	assert.Equal(t, []string{"alice@x.com", "bob@x.com"}, conns[0].SharedPeople)
	assert.Equal(t, "p3", conns[1].ProjectID)
	assert.Equal(t, []string{"carol@x.com"}, conns[1].SharedPeople)
}

func TestFindPersonProjects(t *testing.T) {
	_, m := seedProjects(t)

	projects, err := m.FindPersonProjects(context.Background(), "Alice@X.com")
	require.NoError(t, err)
	require.Len(t, projects, 2)

	assert.Equal(t, "p1", projects[0].ProjectID)
	assert.Equal(t, 1, projects[0].MessagesSent)
	assert.Equal(t, 1, projects[0].MessagesReceived)
	assert.Equal(t, "p2", projects[1].ProjectID)
	assert.Equal(t, 1, projects[1].MessagesSent)
}

func TestFindPersonProjects_ByName(t *testing.T) {
	backend := graphtest.NewMemoryBackend()
	engine := graph.NewSyncEngine(backend, naming, nil)
	ctx := context.Background()
	msg := message("p1", "m1", "")
	msg.FromName = "Grace Hopper"
	require.NoError(t, engine.SyncMessage(ctx, msg, "Apollo"))
	m := graph.NewManager(backend, naming, &fakeProjects{ids: []string{"p1"}}, engine)

	projects, err := m.FindPersonProjects(ctx, "grace  hopper")
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, 1, projects[0].MessagesSent)
}

func TestCrossProject_FanOutErrorPropagates(t *testing.T) {
	backend, m := seedProjects(t)
	backend.Fail["find_nodes"] = errors.New("tenant unavailable")

	_, err := m.FindCrossProjectPeople(context.Background(), 2)
	assert.ErrorContains(t, err, "tenant unavailable")
}

func TestInfluenceMap(t *testing.T) {
	backend, m := seedProjects(t)
	engine := graph.NewSyncEngine(backend, naming, nil)
	ctx := context.Background()
	require.NoError(t, engine.LinkToEntities(ctx, "p1", "m1", &extraction.PersistResult{
		Decisions:   []domain.Decision{{ID: "d1", Content: "Go", MadeBy: "alice@x.com"}},
		ActionItems: []domain.ActionItem{{ID: "a1", Content: "Do it", Owner: "bob@x.com"}},
	}))

	scores, err := m.InfluenceMap(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, scores, 3)

	// alice: sent 1, received 1, decided 1 -> 1 + 0.5 + 3
	assert.Equal(t, "alice@x.com", scores[0].Key)
	assert.InDelta(t, 4.5, scores[0].Score, 0.001)
	// bob: sent 1, received 1, owns 1 -> 1 + 0.5 + 2
	assert.Equal(t, "bob@x.com", scores[1].Key)
	assert.InDelta(t, 3.5, scores[1].Score, 0.001)
	assert.Equal(t, 1, scores[1].ActionsOwned)
	// carol: received 1
	assert.InDelta(t, 0.5, scores[2].Score, 0.001)
}

func TestTeamDynamics(t *testing.T) {
	_, m := seedProjects(t)

	pairs, err := m.TeamDynamics(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, pairs, 3)

	assert.Equal(t, graph.Collaboration{PersonA: "alice@x.com", PersonB: "bob@x.com", SharedMessages: 2}, pairs[0])
	assert.Equal(t, 1, pairs[1].SharedMessages)
	assert.Equal(t, 1, pairs[2].SharedMessages)
}

func TestAnalytics_Disconnected(t *testing.T) {
	backend := graphtest.NewMemoryBackend()
	backend.Disconnected = true
	m := graph.NewManager(backend, naming, &fakeProjects{}, nil)

	scores, err := m.InfluenceMap(context.Background(), "p1")
	require.NoError(t, err)
	assert.Empty(t, scores)
	pairs, err := m.TeamDynamics(context.Background(), "p1")
	require.NoError(t, err)
	assert.Empty(t, pairs)
}
