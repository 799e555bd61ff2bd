package graph

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"projectbrain/backend/internal/domain"
	apperrors "projectbrain/backend/pkg/errors"
	"projectbrain/backend/pkg/logger"
)

var writeClause = regexp.MustCompile(`(?i)\b(CREATE|MERGE|DELETE|DETACH|SET|REMOVE|DROP|LOAD\s+CSV|FOREACH|CALL)\b`)

// ProjectSource is the authority on which projects exist
type ProjectSource interface {
	GetProject(ctx context.Context, id string) (*domain.Project, error)
	ListProjectIDs(ctx context.Context) ([]string, error)
}

// CacheInvalidator is dropped wholesale on a project switch
type CacheInvalidator interface {
	InvalidateAll()
}

// GraphState classifies a tenant graph against the project list
type GraphState string

const (
	GraphExisting GraphState = "existing"
	GraphActive   GraphState = "active"
	GraphOrphaned GraphState = "orphaned"
)

// GraphInfo describes one tenant graph
type GraphInfo struct {
	Name      string     `json:"name"`
	ProjectID string     `json:"project_id"`
	State     GraphState `json:"state"`
}

// CleanupResult reports an orphan cleanup pass
type CleanupResult struct {
	Deleted []string          `json:"deleted"`
	Kept    []string          `json:"kept,omitempty"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// Manager owns the set of per-project graphs: naming, the active project,
// orphan detection and cross-project reads.
type Manager struct {
	backend  Backend
	naming   Naming
	projects ProjectSource
	syncer   *SyncEngine
	caches   []CacheInvalidator

	mu     sync.RWMutex
	active string
	logger *zap.Logger
}

// NewManager creates the multi-graph manager. syncEngine may be nil.
func NewManager(backend Backend, naming Naming, projects ProjectSource, syncEngine *SyncEngine, caches ...CacheInvalidator) *Manager {
	if backend == nil {
		backend = NoopBackend{}
	}
	return &Manager{
		backend:  backend,
		naming:   naming,
		projects: projects,
		syncer:   syncEngine,
		caches:   caches,
		logger:   logger.Named("graph.manager"),
	}
}

// Naming returns the graph naming scheme
func (m *Manager) Naming() Naming {
	return m.naming
}

// ActiveProject returns the project last switched to, or ""
func (m *Manager) ActiveProject() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// SwitchProject makes a project the active one. Its graph is ensured and
// marked active when a backend is connected, and every registered cache
// is invalidated.
func (m *Manager) SwitchProject(ctx context.Context, projectID string) error {
	if _, err := m.projects.GetProject(ctx, projectID); err != nil {
		return err
	}

	graph := m.naming.GraphName(projectID)
	if m.backend.Connected() {
		if err := m.backend.EnsureGraphInstance(ctx, graph); err != nil {
			return apperrors.NewGraphSyncFailure(graph, "ensure_instance", err)
		}
		if err := m.backend.SwitchActiveInstance(ctx, graph); err != nil {
			return apperrors.NewGraphSyncFailure(graph, "switch_instance", err)
		}
	}

	m.mu.Lock()
	previous := m.active
	m.active = projectID
	m.mu.Unlock()

	for _, c := range m.caches {
		c.InvalidateAll()
	}

	m.logger.Info("Active project switched",
		zap.String("from", previous),
		zap.String("to", projectID),
		zap.Bool("graph_connected", m.backend.Connected()))
	return nil
}

// ListProjectGraphs classifies every tenant graph in the naming scheme.
// Graphs outside the scheme are ignored.
func (m *Manager) ListProjectGraphs(ctx context.Context) ([]GraphInfo, error) {
	if !m.backend.Connected() {
		return []GraphInfo{}, nil
	}

	names, err := m.backend.ListGraphInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list graph instances: %w", err)
	}
	ids, err := m.projects.ListProjectIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	active := m.ActiveProject()

	infos := make([]GraphInfo, 0, len(names))
	for _, name := range names {
		projectID, ok := m.naming.ProjectID(name)
		if !ok {
			continue
		}
		info := GraphInfo{Name: name, ProjectID: projectID, State: GraphExisting}
		switch {
		case projectID == active:
			info.State = GraphActive
		case !known[projectID]:
			info.State = GraphOrphaned
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// CleanupOrphans deletes graphs whose project no longer exists. The
// active project's graph is never deleted. A failed deletion is reported
// and does not stop the pass.
func (m *Manager) CleanupOrphans(ctx context.Context) (*CleanupResult, error) {
	result := &CleanupResult{Deleted: []string{}}
	infos, err := m.ListProjectGraphs(ctx)
	if err != nil {
		return nil, err
	}

	for _, info := range infos {
		if info.State != GraphOrphaned {
			continue
		}
		// Re-read in case a switch happened during the pass
		if info.ProjectID == m.ActiveProject() {
			result.Kept = append(result.Kept, info.Name)
			continue
		}
		if err := m.backend.DeleteGraphInstance(ctx, info.Name); err != nil {
			if result.Failed == nil {
				result.Failed = make(map[string]string)
			}
			result.Failed[info.Name] = err.Error()
			m.logger.Warn("Orphan graph deletion failed", zap.String("graph", info.Name), zap.Error(err))
			continue
		}
		if m.syncer != nil {
			m.syncer.forget(info.Name)
		}
		result.Deleted = append(result.Deleted, info.Name)
	}

	if len(result.Deleted) > 0 || len(result.Failed) > 0 {
		m.logger.Info("Orphan graph cleanup completed",
			zap.Strings("deleted", result.Deleted),
			zap.Int("failed", len(result.Failed)))
	}
	return result, nil
}

// DropProjectGraph deletes the graph of a project that is being removed.
// The active project's graph is refused.
func (m *Manager) DropProjectGraph(ctx context.Context, projectID string) error {
	if !m.backend.Connected() {
		return nil
	}
	if projectID == m.ActiveProject() {
		return apperrors.NewValidationError("project_id", "cannot delete the active project's graph")
	}
	graph := m.naming.GraphName(projectID)
	if err := m.backend.DeleteGraphInstance(ctx, graph); err != nil {
		return apperrors.NewGraphSyncFailure(graph, "delete_instance", err)
	}
	if m.syncer != nil {
		m.syncer.forget(graph)
	}
	return nil
}

// QueryProject runs a read-only Cypher query against one project's graph.
// The query sees the tenant name as $graph. Statements with write clauses
// or procedure calls are rejected.
func (m *Manager) QueryProject(ctx context.Context, projectID, cypher string, params map[string]interface{}) ([]map[string]interface{}, error) {
	if strings.TrimSpace(cypher) == "" {
		return nil, apperrors.NewValidationError("statement", "statement is required")
	}
	if clause := writeClause.FindString(cypher); clause != "" {
		return nil, apperrors.NewValidationError("statement", fmt.Sprintf("read-only queries only, found %s", strings.ToUpper(clause)))
	}
	if !m.backend.Connected() {
		return nil, apperrors.ErrGraphNotConnected
	}
	return m.backend.Query(ctx, m.naming.GraphName(projectID), cypher, params)
}

// projectGraphs lists the tenant graphs in the naming scheme
func (m *Manager) projectGraphs(ctx context.Context) (map[string]string, error) {
	names, err := m.backend.ListGraphInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list graph instances: %w", err)
	}
	out := make(map[string]string, len(names))
	for _, name := range names {
		if projectID, ok := m.naming.ProjectID(name); ok {
			out[name] = projectID
		}
	}
	return out, nil
}

// Close releases the graph backend
func (m *Manager) Close(ctx context.Context) error {
	return m.backend.Close(ctx)
}
