package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"projectbrain/backend/internal/adapter"
	"projectbrain/backend/internal/briefing"
	"projectbrain/backend/internal/contacts"
	"projectbrain/backend/internal/correlate"
	"projectbrain/backend/internal/domain"
	"projectbrain/backend/internal/extraction"
	"projectbrain/backend/internal/graph"
	"projectbrain/backend/internal/graph/graphtest"
	"projectbrain/backend/internal/ingest"
	"projectbrain/backend/internal/processing"
	"projectbrain/backend/internal/services"
	"projectbrain/backend/internal/store"
	"projectbrain/backend/internal/store/storetest"
)

type mockGenerator struct{}

func (mockGenerator) Generate(context.Context, adapter.GenerateRequest) (*adapter.GenerateResult, error) {
	return &adapter.GenerateResult{
		Success: true,
		Text:    `{"summary": "status update", "facts": [{"content": "Launch is on May 3rd"}]}`,
	}, nil
}

type testServer struct {
	router  *gin.Engine
	repo    *store.Repository
	backend *graphtest.MemoryBackend
	runner  *processing.Runner
	project *domain.Project
}

func newTestServer(t *testing.T) *testServer {
	gin.SetMode(gin.TestMode)
	repo := storetest.Open(t)
	backend := graphtest.NewMemoryBackend()
	cache := briefing.NewCache(repo, 0)
	t.Cleanup(func() { _ = cache.Close() })

	naming := graph.NewNaming("kg")
	syncer := graph.NewSyncEngine(backend, naming, repo)
	graphs := graph.NewManager(backend, naming, repo, syncer, cache)
	resolver := contacts.NewResolver(repo)
	gen := mockGenerator{}

	pipeline := ingest.NewPipeline(ingest.Deps{
		Store:      repo,
		Contacts:   resolver,
		Extractor:  extraction.NewEngine(gen, cache, extraction.Options{}),
		Persister:  extraction.NewPersister(repo, resolver, cache),
		Graph:      syncer,
		Correlator: correlate.NewCorrelator(gen, repo, syncer, cache),
	})
	runner := processing.NewRunner(pipeline, nil, nil, nil, processing.Options{BroadcastInterval: 10 * time.Millisecond})

	return &testServer{
		router: newRouter(&server{
			repo:      repo,
			pipeline:  pipeline,
			syncer:    syncer,
			graphs:    graphs,
			runner:    runner,
			scheduler: services.NewScheduler(graphs, nil),
			log:       zap.NewNop(),
		}),
		repo:    repo,
		backend: backend,
		runner:  runner,
		project: storetest.Project(t, repo, "Apollo"),
	}
}

func (s *testServer) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

var launch = map[string]interface{}{
	"from":      "Alice <alice@example.com>",
	"to":        []string{"bob@example.com"},
	"subject":   "Launch",
	"body":      "We launch on May 3rd.",
	"timestamp": "2024-03-01T10:00:00Z",
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	w := s.do("GET", "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, true, resp["graph_connected"])
}

func TestProjectEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do("POST", "/api/projects", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do("POST", "/api/projects", map[string]string{"name": "Gemini"})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode(t, w)["id"].(string)

	w = s.do("GET", "/api/projects/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do("GET", "/api/projects", nil)
	assert.Len(t, decode(t, w)["projects"], 2)

	w = s.do("POST", "/api/projects/"+id+"/messages", launch)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	names, err := s.backend.ListGraphInstances(context.Background())
	require.NoError(t, err)
	assert.Contains(t, names, "kg_"+id)

	w = s.do("DELETE", "/api/projects/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["graph_dropped"])
	w = s.do("GET", "/api/projects/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// The project's graph goes with it
	names, err = s.backend.ListGraphInstances(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, names, "kg_"+id)
}

func TestSwitchProject(t *testing.T) {
	s := newTestServer(t)

	w := s.do("POST", "/api/projects/"+s.project.ID+"/switch", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "kg_"+s.project.ID, decode(t, w)["graph"])
	assert.Equal(t, "kg_"+s.project.ID, s.backend.Active())

	// The active project cannot be deleted
	w = s.do("DELETE", "/api/projects/"+s.project.ID, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do("POST", "/api/projects/missing/switch", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIngestEndpoint(t *testing.T) {
	s := newTestServer(t)
	path := "/api/projects/" + s.project.ID + "/messages"

	w := s.do("POST", path, launch)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first := decode(t, w)
	assert.NotEmpty(t, first["message_id"])
	assert.Equal(t, true, first["extracted"])
	assert.Equal(t, true, first["graph_synced"])

	w = s.do("POST", path, launch)
	require.Equal(t, http.StatusConflict, w.Code)
	dup := decode(t, w)
	assert.Equal(t, true, dup["duplicate"])
	assert.Equal(t, first["message_id"], dup["existing_id"])

	w = s.do("POST", path, map[string]string{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do("POST", path, map[string]interface{}{"body": "x", "source_type": "carrier-pigeon"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do("POST", "/api/projects/missing/messages", launch)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do("DELETE", "/api/messages/"+first["message_id"].(string), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do("DELETE", "/api/messages/"+first["message_id"].(string), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadEndpoint(t *testing.T) {
	s := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("Subject: Notes\n\nThe vendor contract is signed."))
	require.NoError(t, mw.Close())

	req, _ := http.NewRequest("POST", "/api/projects/"+s.project.ID+"/messages/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	msgs, err := s.repo.ListMessages(context.Background(), s.project.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.SourceUpload, msgs[0].SourceType)
	assert.Equal(t, "Notes", msgs[0].Subject)
}

func TestGraphEndpoints(t *testing.T) {
	s := newTestServer(t)
	base := "/api/projects/" + s.project.ID

	w := s.do("POST", base+"/messages", launch)
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do("GET", base+"/graph/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode(t, w)
	assert.Equal(t, true, status["connected"])

	w = s.do("POST", base+"/graph/sync", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["messages"])

	w = s.do("GET", "/api/graphs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["graphs"], 1)

	for _, p := range []string{"/graph/influence", "/graph/team", "/graph/connections"} {
		w = s.do("GET", base+p, nil)
		assert.Equal(t, http.StatusOK, w.Code, p)
	}
	w = s.do("GET", "/api/people/alice@example.com/projects", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do("GET", "/api/people/cross-project?min_projects=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do("POST", "/api/graphs/cleanup", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["deleted"])

	w = s.do("POST", "/api/projects/missing/graph/sync", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGraphQueryEndpoint(t *testing.T) {
	s := newTestServer(t)
	path := "/api/projects/" + s.project.ID + "/graph/query"
	s.backend.QueryFunc = func(g, _ string, _ map[string]interface{}) ([]map[string]interface{}, error) {
		return []map[string]interface{}{{"graph": g}}, nil
	}

	w := s.do("POST", path, map[string]interface{}{"statement": "MATCH (m:Message {graph: $graph}) RETURN count(m) AS n"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.EqualValues(t, 1, resp["count"])
	assert.Equal(t, []interface{}{map[string]interface{}{"graph": "kg_" + s.project.ID}}, resp["rows"])

	w = s.do("POST", path, map[string]interface{}{"statement": "MATCH (n) DETACH DELETE n"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do("POST", "/api/projects/missing/graph/query", map[string]interface{}{"statement": "MATCH (n) RETURN n"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	s.backend.Disconnected = true
	w = s.do("POST", path, map[string]interface{}{"statement": "MATCH (n) RETURN n"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestProcessingEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do("POST", "/api/projects/"+s.project.ID+"/processing", map[string]interface{}{
		"texts": []string{"First pasted note about the launch.", "Second note about hiring."},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.EqualValues(t, 2, decode(t, w)["documents"])

	select {
	case <-s.runner.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("processing run did not finish")
	}

	w = s.do("GET", "/api/processing/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := decode(t, w)
	assert.Equal(t, "completed", st["phase"])
	assert.EqualValues(t, 2, st["succeeded"])

	w = s.do("POST", "/api/projects/missing/processing", map[string]interface{}{"texts": []string{"x"}})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
