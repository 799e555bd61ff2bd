package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	apperrors "projectbrain/backend/pkg/errors"
	"projectbrain/backend/pkg/logger"
)

// deleteBatchSize bounds each DETACH DELETE transaction when dropping a
// tenant graph
const deleteBatchSize = 10000

// Neo4jBackend stores every tenant graph in one Neo4j database. Nodes carry
// a `graph` property naming their tenant, and each tenant has a
// (:GraphInstance {name}) catalog node.
type Neo4jBackend struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

// NewNeo4jBackend connects to Neo4j and verifies connectivity
func NewNeo4jBackend(ctx context.Context, uri, user, password, database string) (*Neo4jBackend, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, apperrors.NewGraphConnectionFailed(uri, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, apperrors.NewGraphConnectionFailed(uri, err)
	}
	return NewNeo4jBackendWithDriver(driver, database), nil
}

// NewNeo4jBackendWithDriver wraps an existing driver
func NewNeo4jBackendWithDriver(driver neo4j.DriverWithContext, database string) *Neo4jBackend {
	return &Neo4jBackend{
		driver:   driver,
		database: database,
		logger:   logger.Named("graph.neo4j"),
	}
}

func (b *Neo4jBackend) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return b.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: b.database})
}

// Connected reports whether the backend is usable
func (b *Neo4jBackend) Connected() bool {
	return b.driver != nil
}

// Close closes the Neo4j driver connection
func (b *Neo4jBackend) Close(ctx context.Context) error {
	return b.driver.Close(ctx)
}

// EnsureSchema creates the uniqueness constraints the MERGE statements rely
// on. Failures are logged and skipped.
func (b *Neo4jBackend) EnsureSchema(ctx context.Context) error {
	session := b.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	stmts := []string{
		"CREATE CONSTRAINT graph_instance_name IF NOT EXISTS FOR (g:GraphInstance) REQUIRE g.name IS UNIQUE",
	}
	labels := make([]string, 0, len(validLabels))
	for l := range validLabels {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		stmts = append(stmts, fmt.Sprintf(
			"CREATE CONSTRAINT %s_graph_id IF NOT EXISTS FOR (n:%s) REQUIRE (n.graph, n.id) IS UNIQUE",
			strings.ToLower(l), l))
	}

	for _, stmt := range stmts {
		if err := exec(ctx, session, stmt, nil); err != nil {
			b.logger.Warn("Failed to create graph constraint", zap.String("statement", stmt), zap.Error(err))
		}
	}
	b.logger.Info("Graph schema ensured", zap.Int("statements", len(stmts)))
	return nil
}

// Query runs a read-only Cypher statement. $graph is bound to the tenant
// graph name.
func (b *Neo4jBackend) Query(ctx context.Context, graph, cypher string, params map[string]interface{}) ([]map[string]interface{}, error) {
	session := b.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	bound := map[string]interface{}{"graph": graph}
	for k, v := range params {
		bound[k] = v
	}

	result, err := session.Run(ctx, cypher, bound)
	if err != nil {
		return nil, apperrors.NewGraphSyncFailure(graph, "query", err)
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, apperrors.NewGraphSyncFailure(graph, "query", err)
	}

	rows := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		rows = append(rows, rec.AsMap())
	}
	return rows, nil
}

// UpsertNode merges a node by (graph, id) and overwrites the given
// properties
func (b *Neo4jBackend) UpsertNode(ctx context.Context, graph string, n Node) error {
	if err := ValidateLabel(n.Label); err != nil {
		return err
	}
	session := b.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	query := fmt.Sprintf(`
		MERGE (n:%s {graph: $graph, id: $id})
		ON CREATE SET n.created_at = datetime()
		SET n += $props, n.updated_at = datetime()
	`, n.Label)

	err := exec(ctx, session, query, map[string]interface{}{
		"graph": graph,
		"id":    n.ID,
		"props": sanitizeProps(n.Properties),
	})
	if err != nil {
		return apperrors.NewGraphSyncFailure(graph, "upsert_node", err)
	}
	return nil
}

// UpsertRelationship merges both endpoints and the edge between them.
// Endpoints that do not exist yet are created as bare nodes.
func (b *Neo4jBackend) UpsertRelationship(ctx context.Context, graph string, r Relationship) error {
	if err := ValidateRelationship(r.Type); err != nil {
		return err
	}
	if err := ValidateLabel(r.FromLabel); err != nil {
		return err
	}
	if err := ValidateLabel(r.ToLabel); err != nil {
		return err
	}
	session := b.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	query := fmt.Sprintf(`
		MERGE (a:%s {graph: $graph, id: $from})
		MERGE (b:%s {graph: $graph, id: $to})
		MERGE (a)-[r:%s]->(b)
		SET r += $props
	`, r.FromLabel, r.ToLabel, r.Type)

	err := exec(ctx, session, query, map[string]interface{}{
		"graph": graph,
		"from":  r.FromID,
		"to":    r.ToID,
		"props": sanitizeProps(r.Properties),
	})
	if err != nil {
		return apperrors.NewGraphSyncFailure(graph, "upsert_relationship", err)
	}
	return nil
}

// DeleteNode detaches and deletes one node
func (b *Neo4jBackend) DeleteNode(ctx context.Context, graph, label, id string) error {
	match := "(n {graph: $graph, id: $id})"
	if label != "" {
		if err := ValidateLabel(label); err != nil {
			return err
		}
		match = fmt.Sprintf("(n:%s {graph: $graph, id: $id})", label)
	}
	session := b.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	err := exec(ctx, session, "MATCH "+match+" DETACH DELETE n", map[string]interface{}{
		"graph": graph,
		"id":    id,
	})
	if err != nil {
		return apperrors.NewGraphSyncFailure(graph, "delete_node", err)
	}
	return nil
}

// FindNodes returns nodes of a label whose properties equal the filter
func (b *Neo4jBackend) FindNodes(ctx context.Context, graph string, f NodeFilter) ([]Node, error) {
	if err := ValidateLabel(f.Label); err != nil {
		return nil, err
	}

	params := map[string]interface{}{"graph": graph}
	conds := []string{"n.graph = $graph"}
	keys := make([]string, 0, len(f.Properties))
	for k := range f.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if err := validatePropertyKey(k); err != nil {
			return nil, err
		}
		p := fmt.Sprintf("p%d", i)
		conds = append(conds, fmt.Sprintf("n.%s = $%s", k, p))
		params[p] = f.Properties[k]
	}

	query := fmt.Sprintf("MATCH (n:%s) WHERE %s RETURN n.id AS id, properties(n) AS props ORDER BY n.id",
		f.Label, strings.Join(conds, " AND "))
	if f.Limit > 0 {
		query += " LIMIT $limit"
		params["limit"] = int64(f.Limit)
	}

	session := b.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, apperrors.NewGraphSyncFailure(graph, "find_nodes", err)
	}

	var nodes []Node
	for result.Next(ctx) {
		record := result.Record()
		nodes = append(nodes, Node{
			Label:      f.Label,
			ID:         getStringFromRecord(record, "id"),
			Properties: getMapFromRecord(record, "props"),
		})
	}
	if err := result.Err(); err != nil {
		return nil, apperrors.NewGraphSyncFailure(graph, "find_nodes", err)
	}
	return nodes, nil
}

// ListRelationships returns every edge of a type within one tenant graph
func (b *Neo4jBackend) ListRelationships(ctx context.Context, graph, relType string) ([]Relationship, error) {
	pattern := "[r]"
	if relType != "" {
		if err := ValidateRelationship(relType); err != nil {
			return nil, err
		}
		pattern = fmt.Sprintf("[r:%s]", relType)
	}

	session := b.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	query := fmt.Sprintf(`
		MATCH (a)-%s->(b)
		WHERE a.graph = $graph AND b.graph = $graph
		RETURN labels(a)[0] AS from_label, a.id AS from_id,
		       type(r) AS type,
		       labels(b)[0] AS to_label, b.id AS to_id,
		       properties(r) AS props
	`, pattern)

	result, err := session.Run(ctx, query, map[string]interface{}{"graph": graph})
	if err != nil {
		return nil, apperrors.NewGraphSyncFailure(graph, "list_relationships", err)
	}

	var rels []Relationship
	for result.Next(ctx) {
		record := result.Record()
		rels = append(rels, Relationship{
			Type:       getStringFromRecord(record, "type"),
			FromLabel:  getStringFromRecord(record, "from_label"),
			FromID:     getStringFromRecord(record, "from_id"),
			ToLabel:    getStringFromRecord(record, "to_label"),
			ToID:       getStringFromRecord(record, "to_id"),
			Properties: getMapFromRecord(record, "props"),
		})
	}
	if err := result.Err(); err != nil {
		return nil, apperrors.NewGraphSyncFailure(graph, "list_relationships", err)
	}
	return rels, nil
}

// ListGraphInstances returns every tenant graph in the catalog
func (b *Neo4jBackend) ListGraphInstances(ctx context.Context) ([]string, error) {
	session := b.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.Run(ctx, "MATCH (g:GraphInstance) RETURN g.name AS name ORDER BY name", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list graph instances: %w", err)
	}

	var names []string
	for result.Next(ctx) {
		if name := getStringFromRecord(result.Record(), "name"); name != "" {
			names = append(names, name)
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to list graph instances: %w", err)
	}
	return names, nil
}

// EnsureGraphInstance registers a tenant graph in the catalog
func (b *Neo4jBackend) EnsureGraphInstance(ctx context.Context, graph string) error {
	session := b.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	err := exec(ctx, session, `
		MERGE (g:GraphInstance {name: $graph})
		ON CREATE SET g.created_at = datetime(), g.active = false
	`, map[string]interface{}{"graph": graph})
	if err != nil {
		return apperrors.NewGraphSyncFailure(graph, "ensure_instance", err)
	}
	return nil
}

// DeleteGraphInstance removes every node of a tenant graph in batches,
// then its catalog entry
func (b *Neo4jBackend) DeleteGraphInstance(ctx context.Context, graph string) error {
	session := b.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	var total int64
	for {
		result, err := session.Run(ctx, `
			MATCH (n) WHERE n.graph = $graph
			WITH n LIMIT $batch
			DETACH DELETE n
			RETURN count(*) AS deleted
		`, map[string]interface{}{"graph": graph, "batch": int64(deleteBatchSize)})
		if err != nil {
			return apperrors.NewGraphSyncFailure(graph, "delete_instance", err)
		}
		record, err := result.Single(ctx)
		if err != nil {
			return apperrors.NewGraphSyncFailure(graph, "delete_instance", err)
		}
		deleted := getInt64FromRecord(record, "deleted")
		total += deleted
		if deleted < deleteBatchSize {
			break
		}
	}

	if err := exec(ctx, session, "MATCH (g:GraphInstance {name: $graph}) DELETE g",
		map[string]interface{}{"graph": graph}); err != nil {
		return apperrors.NewGraphSyncFailure(graph, "delete_instance", err)
	}

	b.logger.Info("Graph instance deleted", zap.String("graph", graph), zap.Int64("nodes", total))
	return nil
}

// SwitchActiveInstance flags one catalog entry active and clears the rest
func (b *Neo4jBackend) SwitchActiveInstance(ctx context.Context, graph string) error {
	session := b.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	err := exec(ctx, session, `
		MERGE (target:GraphInstance {name: $graph})
		ON CREATE SET target.created_at = datetime()
		WITH target
		MATCH (g:GraphInstance)
		SET g.active = (g.name = $graph)
	`, map[string]interface{}{"graph": graph})
	if err != nil {
		return apperrors.NewGraphSyncFailure(graph, "switch_instance", err)
	}
	return nil
}

// CountElements counts nodes and relationships of a tenant graph
func (b *Neo4jBackend) CountElements(ctx context.Context, graph string) (ElementCounts, error) {
	session := b.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (n) WHERE n.graph = $graph
		OPTIONAL MATCH (n)-[r]->()
		RETURN count(DISTINCT n) AS nodes, count(r) AS relationships
	`, map[string]interface{}{"graph": graph})
	if err != nil {
		return ElementCounts{}, apperrors.NewGraphSyncFailure(graph, "count", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return ElementCounts{}, apperrors.NewGraphSyncFailure(graph, "count", err)
	}
	return ElementCounts{
		Nodes:         getInt64FromRecord(record, "nodes"),
		Relationships: getInt64FromRecord(record, "relationships"),
	}, nil
}

// sanitizeProps converts values to types the driver accepts and drops nils
func sanitizeProps(props map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(props))
	for k, v := range props {
		switch val := v.(type) {
		case nil:
			continue
		case *time.Time:
			if val != nil {
				out[k] = val.UTC()
			}
		case time.Time:
			if !val.IsZero() {
				out[k] = val.UTC()
			}
		case int:
			out[k] = int64(val)
		case float32:
			out[k] = float64(val)
		default:
			out[k] = v
		}
	}
	return out
}
