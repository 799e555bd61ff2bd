// Package graphtest provides an in-memory graph backend for tests.
package graphtest

import (
	"context"
	"errors"
	"sort"
	"sync"

	"projectbrain/backend/internal/graph"
	apperrors "projectbrain/backend/pkg/errors"
)

type nodeKey struct {
	label string
	id    string
}

type tenant struct {
	nodes map[nodeKey]map[string]interface{}
	rels  map[string]graph.Relationship
}

// MemoryBackend implements graph.Backend in memory. Set Disconnected to
// simulate an unreachable store and Fail to inject per-operation errors.
type MemoryBackend struct {
	mu           sync.Mutex
	tenants      map[string]*tenant
	active       string
	Disconnected bool
	// Fail maps an operation name ("upsert_node", "delete_instance", ...)
	// to the error it should return
	Fail map[string]error
	// Calls counts invocations per operation name
	Calls map[string]int
	// QueryFunc answers Query; without it Query fails
	QueryFunc func(graph, cypher string, params map[string]interface{}) ([]map[string]interface{}, error)
}

// NewMemoryBackend creates an empty connected backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		tenants: make(map[string]*tenant),
		Fail:    make(map[string]error),
		Calls:   make(map[string]int),
	}
}

func (m *MemoryBackend) enter(op string) error {
	m.Calls[op]++
	if m.Disconnected {
		return apperrors.ErrGraphNotConnected
	}
	return m.Fail[op]
}

func (m *MemoryBackend) tenant(name string) *tenant {
	t, ok := m.tenants[name]
	if !ok {
		t = &tenant{
			nodes: make(map[nodeKey]map[string]interface{}),
			rels:  make(map[string]graph.Relationship),
		}
		m.tenants[name] = t
	}
	return t
}

func relKey(r graph.Relationship) string {
	return r.FromLabel + "/" + r.FromID + "-" + r.Type + "->" + r.ToLabel + "/" + r.ToID
}

func (m *MemoryBackend) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.Disconnected
}

func (m *MemoryBackend) Query(_ context.Context, g, cypher string, params map[string]interface{}) ([]map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("query"); err != nil {
		return nil, err
	}
	if m.QueryFunc == nil {
		return nil, errors.New("cypher queries are not supported by the memory backend")
	}
	return m.QueryFunc(g, cypher, params)
}

func (m *MemoryBackend) UpsertNode(_ context.Context, g string, n graph.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("upsert_node"); err != nil {
		return err
	}
	if err := graph.ValidateLabel(n.Label); err != nil {
		return err
	}
	t := m.tenant(g)
	key := nodeKey{n.Label, n.ID}
	props, ok := t.nodes[key]
	if !ok {
		props = map[string]interface{}{}
		t.nodes[key] = props
	}
	for k, v := range n.Properties {
		if v != nil {
			props[k] = v
		}
	}
	props["id"] = n.ID
	return nil
}

func (m *MemoryBackend) UpsertRelationship(_ context.Context, g string, r graph.Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("upsert_relationship"); err != nil {
		return err
	}
	if err := graph.ValidateRelationship(r.Type); err != nil {
		return err
	}
	t := m.tenant(g)
	for _, end := range []nodeKey{{r.FromLabel, r.FromID}, {r.ToLabel, r.ToID}} {
		if _, ok := t.nodes[end]; !ok {
			t.nodes[end] = map[string]interface{}{"id": end.id}
		}
	}
	key := relKey(r)
	existing, ok := t.rels[key]
	if ok {
		for k, v := range r.Properties {
			existing.Properties[k] = v
		}
		return nil
	}
	props := map[string]interface{}{}
	for k, v := range r.Properties {
		props[k] = v
	}
	r.Properties = props
	t.rels[key] = r
	return nil
}

func (m *MemoryBackend) DeleteNode(_ context.Context, g, label, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("delete_node"); err != nil {
		return err
	}
	t, ok := m.tenants[g]
	if !ok {
		return nil
	}
	for key := range t.nodes {
		if key.id == id && (label == "" || key.label == label) {
			delete(t.nodes, key)
		}
	}
	for k, r := range t.rels {
		if (r.FromID == id && (label == "" || r.FromLabel == label)) ||
			(r.ToID == id && (label == "" || r.ToLabel == label)) {
			delete(t.rels, k)
		}
	}
	return nil
}

func (m *MemoryBackend) FindNodes(_ context.Context, g string, f graph.NodeFilter) ([]graph.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("find_nodes"); err != nil {
		return nil, err
	}
	t, ok := m.tenants[g]
	if !ok {
		return nil, nil
	}
	var out []graph.Node
	for key, props := range t.nodes {
		if key.label != f.Label || !matches(props, f.Properties) {
			continue
		}
		copied := make(map[string]interface{}, len(props))
		for k, v := range props {
			copied[k] = v
		}
		out = append(out, graph.Node{Label: key.label, ID: key.id, Properties: copied})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matches(props, want map[string]interface{}) bool {
	for k, v := range want {
		if props[k] != v {
			return false
		}
	}
	return true
}

func (m *MemoryBackend) ListRelationships(_ context.Context, g, relType string) ([]graph.Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("list_relationships"); err != nil {
		return nil, err
	}
	t, ok := m.tenants[g]
	if !ok {
		return nil, nil
	}
	var out []graph.Relationship
	for _, r := range t.rels {
		if relType == "" || r.Type == relType {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return relKey(out[i]) < relKey(out[j]) })
	return out, nil
}

func (m *MemoryBackend) ListGraphInstances(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("list_instances"); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(m.tenants))
	for name := range m.tenants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryBackend) EnsureGraphInstance(_ context.Context, g string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ensure_instance"); err != nil {
		return err
	}
	m.tenant(g)
	return nil
}

func (m *MemoryBackend) DeleteGraphInstance(_ context.Context, g string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("delete_instance"); err != nil {
		return err
	}
	delete(m.tenants, g)
	return nil
}

func (m *MemoryBackend) SwitchActiveInstance(_ context.Context, g string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("switch_instance"); err != nil {
		return err
	}
	m.tenant(g)
	m.active = g
	return nil
}

func (m *MemoryBackend) CountElements(_ context.Context, g string) (graph.ElementCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("count"); err != nil {
		return graph.ElementCounts{}, err
	}
	t, ok := m.tenants[g]
	if !ok {
		return graph.ElementCounts{}, nil
	}
	return graph.ElementCounts{Nodes: int64(len(t.nodes)), Relationships: int64(len(t.rels))}, nil
}

func (m *MemoryBackend) Close(context.Context) error { return nil }

// Active returns the graph last switched to
func (m *MemoryBackend) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Node returns a node's properties, or nil
func (m *MemoryBackend) Node(g, label, id string) map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[g]
	if !ok {
		return nil
	}
	return t.nodes[nodeKey{label, id}]
}

// HasRelationship reports whether the edge exists
func (m *MemoryBackend) HasRelationship(g, relType, fromID, toID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[g]
	if !ok {
		return false
	}
	for _, r := range t.rels {
		if r.Type == relType && r.FromID == fromID && r.ToID == toID {
			return true
		}
	}
	return false
}
