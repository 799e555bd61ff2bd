package graph

import (
	"context"
	"fmt"
	"regexp"

	apperrors "projectbrain/backend/pkg/errors"
)

// Node labels
const (
	LabelProject    = "Project"
	LabelMessage    = "Message"
	LabelPerson     = "Person"
	LabelFact       = "Fact"
	LabelDecision   = "Decision"
	LabelRisk       = "Risk"
	LabelActionItem = "ActionItem"
	LabelQuestion   = "Question"
)

// Relationship types
const (
	RelInProject       = "IN_PROJECT"
	RelSent            = "SENT"
	RelSentTo          = "SENT_TO"
	RelContainsFact    = "CONTAINS_FACT"
	RelRecordsDecision = "RECORDS_DECISION"
	RelRaisesRisk      = "RAISES_RISK"
	RelCreatesAction   = "CREATES_ACTION"
	RelAsksQuestion    = "ASKS_QUESTION"
	RelMentions        = "MENTIONS"
	RelAssignedTo      = "ASSIGNED_TO"
	RelDecidedBy       = "DECIDED_BY"
	RelAnsweredBy      = "ANSWERED_BY"
)

// Labels and relationship types are interpolated into Cypher, so only
// these values are accepted.
var (
	validLabels = map[string]bool{
		LabelProject: true, LabelMessage: true, LabelPerson: true, LabelFact: true,
		LabelDecision: true, LabelRisk: true, LabelActionItem: true, LabelQuestion: true,
	}
	validRelationships = map[string]bool{
		RelInProject: true, RelSent: true, RelSentTo: true, RelContainsFact: true,
		RelRecordsDecision: true, RelRaisesRisk: true, RelCreatesAction: true,
		RelAsksQuestion: true, RelMentions: true, RelAssignedTo: true,
		RelDecidedBy: true, RelAnsweredBy: true,
	}
	propertyKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// ValidateLabel rejects labels outside the schema
func ValidateLabel(label string) error {
	if !validLabels[label] {
		return fmt.Errorf("invalid node label: %s", label)
	}
	return nil
}

// ValidateRelationship rejects relationship types outside the schema
func ValidateRelationship(relType string) error {
	if !validRelationships[relType] {
		return fmt.Errorf("invalid relationship type: %s", relType)
	}
	return nil
}

func validatePropertyKey(key string) error {
	if !propertyKeyPattern.MatchString(key) {
		return fmt.Errorf("invalid property key: %s", key)
	}
	return nil
}

// Node is a labelled graph node identified by ID within one tenant graph
type Node struct {
	Label      string                 `json:"label"`
	ID         string                 `json:"id"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// String property helper
func (n Node) String(key string) string {
	if v, ok := n.Properties[key].(string); ok {
		return v
	}
	return ""
}

// Relationship is a typed, directed edge between two nodes
type Relationship struct {
	Type       string                 `json:"type"`
	FromLabel  string                 `json:"from_label"`
	FromID     string                 `json:"from_id"`
	ToLabel    string                 `json:"to_label"`
	ToID       string                 `json:"to_id"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// NodeFilter selects nodes by label and exact property values
type NodeFilter struct {
	Label      string
	Properties map[string]interface{}
	Limit      int
}

// ElementCounts is the size of a tenant graph
type ElementCounts struct {
	Nodes         int64 `json:"nodes"`
	Relationships int64 `json:"relationships"`
}

// Backend is the capability set every graph store provides. Every
// operation names the tenant graph it touches.
type Backend interface {
	Connected() bool
	Query(ctx context.Context, graph, cypher string, params map[string]interface{}) ([]map[string]interface{}, error)
	UpsertNode(ctx context.Context, graph string, n Node) error
	UpsertRelationship(ctx context.Context, graph string, r Relationship) error
	// DeleteNode removes a node and its edges. An empty label matches any.
	DeleteNode(ctx context.Context, graph, label, id string) error
	FindNodes(ctx context.Context, graph string, f NodeFilter) ([]Node, error)
	// ListRelationships returns edges of relType, or all edges when empty
	ListRelationships(ctx context.Context, graph, relType string) ([]Relationship, error)
	ListGraphInstances(ctx context.Context) ([]string, error)
	EnsureGraphInstance(ctx context.Context, graph string) error
	DeleteGraphInstance(ctx context.Context, graph string) error
	SwitchActiveInstance(ctx context.Context, graph string) error
	CountElements(ctx context.Context, graph string) (ElementCounts, error)
	Close(ctx context.Context) error
}

// NoopBackend stands in when no graph store is configured. It reports
// disconnected and every operation fails with ErrGraphNotConnected.
type NoopBackend struct{}

func (NoopBackend) Connected() bool { return false }

func (NoopBackend) Query(context.Context, string, string, map[string]interface{}) ([]map[string]interface{}, error) {
	return nil, apperrors.ErrGraphNotConnected
}

func (NoopBackend) UpsertNode(context.Context, string, Node) error {
	return apperrors.ErrGraphNotConnected
}

func (NoopBackend) UpsertRelationship(context.Context, string, Relationship) error {
	return apperrors.ErrGraphNotConnected
}

func (NoopBackend) DeleteNode(context.Context, string, string, string) error {
	return apperrors.ErrGraphNotConnected
}

func (NoopBackend) FindNodes(context.Context, string, NodeFilter) ([]Node, error) {
	return nil, apperrors.ErrGraphNotConnected
}

func (NoopBackend) ListRelationships(context.Context, string, string) ([]Relationship, error) {
	return nil, apperrors.ErrGraphNotConnected
}

func (NoopBackend) ListGraphInstances(context.Context) ([]string, error) {
	return nil, apperrors.ErrGraphNotConnected
}

func (NoopBackend) EnsureGraphInstance(context.Context, string) error {
	return apperrors.ErrGraphNotConnected
}

func (NoopBackend) DeleteGraphInstance(context.Context, string) error {
	return apperrors.ErrGraphNotConnected
}

func (NoopBackend) SwitchActiveInstance(context.Context, string) error {
	return apperrors.ErrGraphNotConnected
}

func (NoopBackend) CountElements(context.Context, string) (ElementCounts, error) {
	return ElementCounts{}, apperrors.ErrGraphNotConnected
}

func (NoopBackend) Close(context.Context) error { return nil }
