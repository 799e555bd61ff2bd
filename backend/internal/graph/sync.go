package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"projectbrain/backend/internal/domain"
	"projectbrain/backend/internal/extraction"
	"projectbrain/backend/internal/store"
	apperrors "projectbrain/backend/pkg/errors"
	"projectbrain/backend/pkg/logger"
)

// SyncSource is the relational data a full re-sync reads
type SyncSource interface {
	GetProject(ctx context.Context, id string) (*domain.Project, error)
	ListMessages(ctx context.Context, projectID string, limit int) ([]domain.Message, error)
	ListContacts(ctx context.Context, projectID string) ([]domain.Contact, error)
	ListFacts(ctx context.Context, f store.KnowledgeFilter) ([]domain.Fact, error)
	ListDecisions(ctx context.Context, f store.KnowledgeFilter) ([]domain.Decision, error)
	ListRisks(ctx context.Context, f store.KnowledgeFilter) ([]domain.Risk, error)
	ListActionItems(ctx context.Context, f store.KnowledgeFilter) ([]domain.ActionItem, error)
	ListQuestions(ctx context.Context, f store.KnowledgeFilter) ([]domain.Question, error)
}

// SyncStats counts graph sync activity for one project
type SyncStats struct {
	MessagesSynced  int64      `json:"messages_synced"`
	EntitiesSynced  int64      `json:"entities_synced"`
	QuestionsSynced int64      `json:"questions_synced"`
	NodesDeleted    int64      `json:"nodes_deleted"`
	Skipped         int64      `json:"skipped"`
	Errors          int64      `json:"errors"`
	LastError       string     `json:"last_error,omitempty"`
	LastSyncAt      *time.Time `json:"last_sync_at,omitempty"`
	LastFullSyncAt  *time.Time `json:"last_full_sync_at,omitempty"`
}

// SyncStatus is the reported state of a project's graph
type SyncStatus struct {
	ProjectID string        `json:"project_id"`
	Graph     string        `json:"graph"`
	Connected bool          `json:"connected"`
	Counts    ElementCounts `json:"counts"`
	Stats     SyncStats     `json:"stats"`
}

// FullSyncResult summarizes a rebuild of one project's graph
type FullSyncResult struct {
	Graph     string        `json:"graph"`
	Messages  int           `json:"messages"`
	Entities  int           `json:"entities"`
	Errors    int64         `json:"errors"`
	Duration  time.Duration `json:"duration"`
	Connected bool          `json:"connected"`
}

const (
	fullSyncMessageLimit = 5000
	fullSyncItemLimit    = 1000
	fullSyncConcurrency  = 4
)

// SyncEngine mirrors relational records into the project's tenant graph.
// Failures are counted into SyncStats and never abort ingestion.
type SyncEngine struct {
	backend Backend
	naming  Naming
	source  SyncSource

	mu      sync.Mutex
	stats   map[string]*SyncStats
	ensured map[string]bool
	logger  *zap.Logger
}

// NewSyncEngine creates a graph sync engine. source is only needed for
// FullSync and may be nil.
func NewSyncEngine(backend Backend, naming Naming, source SyncSource) *SyncEngine {
	if backend == nil {
		backend = NoopBackend{}
	}
	return &SyncEngine{
		backend: backend,
		naming:  naming,
		source:  source,
		stats:   make(map[string]*SyncStats),
		ensured: make(map[string]bool),
		logger:  logger.Named("graph.sync"),
	}
}

// Connected reports whether graph sync does anything
func (s *SyncEngine) Connected() bool {
	return s.backend.Connected()
}

func (s *SyncEngine) record(projectID string, fn func(st *SyncStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[projectID]
	if !ok {
		st = &SyncStats{}
		s.stats[projectID] = st
	}
	fn(st)
}

func (s *SyncEngine) fail(projectID string, err error) {
	s.record(projectID, func(st *SyncStats) {
		st.Errors++
		st.LastError = err.Error()
	})
}

func (s *SyncEngine) touched(projectID string) {
	now := time.Now().UTC()
	s.record(projectID, func(st *SyncStats) { st.LastSyncAt = &now })
}

// skip reports (and counts) a disconnected backend
func (s *SyncEngine) skip(projectID, op string) bool {
	if s.backend.Connected() {
		return false
	}
	s.record(projectID, func(st *SyncStats) { st.Skipped++ })
	s.logger.Debug("Graph not connected, sync skipped",
		zap.String("project_id", projectID),
		zap.String("operation", op))
	return true
}

func (s *SyncEngine) ensureInstance(ctx context.Context, graph string) error {
	s.mu.Lock()
	done := s.ensured[graph]
	s.mu.Unlock()
	if done {
		return nil
	}
	if err := s.backend.EnsureGraphInstance(ctx, graph); err != nil {
		return err
	}
	s.mu.Lock()
	s.ensured[graph] = true
	s.mu.Unlock()
	return nil
}

// forget drops the ensured-instance memo, used after a graph is deleted
func (s *SyncEngine) forget(graph string) {
	s.mu.Lock()
	delete(s.ensured, graph)
	s.mu.Unlock()
}

// SyncMessage upserts the project, message and participant nodes with
// IN_PROJECT, SENT and SENT_TO edges.
func (s *SyncEngine) SyncMessage(ctx context.Context, msg *domain.Message, projectName string) error {
	if s.skip(msg.ProjectID, "sync_message") {
		return nil
	}
	graph := s.naming.GraphName(msg.ProjectID)

	err := s.syncMessage(ctx, graph, msg, projectName)
	if err != nil {
		s.fail(msg.ProjectID, err)
		s.logger.Warn("Message graph sync failed",
			zap.String("graph", graph),
			zap.String("message_id", msg.ID),
			zap.Error(err))
		return apperrors.NewGraphSyncFailure(graph, "sync_message", err)
	}

	s.record(msg.ProjectID, func(st *SyncStats) { st.MessagesSynced++ })
	s.touched(msg.ProjectID)
	return nil
}

func (s *SyncEngine) syncMessage(ctx context.Context, graph string, msg *domain.Message, projectName string) error {
	if err := s.ensureInstance(ctx, graph); err != nil {
		return err
	}
	if err := s.backend.UpsertNode(ctx, graph, Node{
		Label:      LabelProject,
		ID:         msg.ProjectID,
		Properties: map[string]interface{}{"name": projectName},
	}); err != nil {
		return err
	}

	if err := s.backend.UpsertNode(ctx, graph, Node{
		Label: LabelMessage,
		ID:    msg.ID,
		Properties: map[string]interface{}{
			"subject":      msg.Subject,
			"from_address": msg.FromAddress,
			"from_name":    msg.FromName,
			"timestamp":    msg.Timestamp,
			"source_type":  string(msg.SourceType),
			"thread_id":    msg.ThreadID,
			"summary":      msg.Summary,
			"intent":       msg.Intent,
			"sentiment":    msg.Sentiment,
		},
	}); err != nil {
		return err
	}

	if err := s.backend.UpsertRelationship(ctx, graph, Relationship{
		Type: RelInProject, FromLabel: LabelMessage, FromID: msg.ID, ToLabel: LabelProject, ToID: msg.ProjectID,
	}); err != nil {
		return err
	}

	if sender := PersonKey(msg.FromAddress, msg.FromName); sender != "" {
		if err := s.upsertPerson(ctx, graph, sender, msg.FromAddress, msg.FromName, nil); err != nil {
			return err
		}
		if err := s.backend.UpsertRelationship(ctx, graph, Relationship{
			Type: RelSent, FromLabel: LabelPerson, FromID: sender, ToLabel: LabelMessage, ToID: msg.ID,
			Properties: map[string]interface{}{"timestamp": msg.Timestamp},
		}); err != nil {
			return err
		}
	}

	for _, r := range msg.Recipients {
		key := PersonKey(r.Address, r.Name)
		if key == "" {
			continue
		}
		extra := map[string]interface{}{}
		if r.ContactID != "" {
			extra["contact_id"] = r.ContactID
		}
		if err := s.upsertPerson(ctx, graph, key, r.Address, r.Name, extra); err != nil {
			return err
		}
		if err := s.backend.UpsertRelationship(ctx, graph, Relationship{
			Type: RelSentTo, FromLabel: LabelMessage, FromID: msg.ID, ToLabel: LabelPerson, ToID: key,
			Properties: map[string]interface{}{"kind": string(r.Kind)},
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *SyncEngine) upsertPerson(ctx context.Context, graph, key, email, name string, extra map[string]interface{}) error {
	props := map[string]interface{}{}
	if e := strings.ToLower(strings.TrimSpace(email)); e != "" {
		props["email"] = e
	}
	if n := strings.TrimSpace(name); n != "" {
		props["name"] = n
		props["name_lower"] = normalizeName(n)
	}
	for k, v := range extra {
		if sv, ok := v.(string); ok && sv == "" {
			continue
		}
		props[k] = v
	}
	return s.backend.UpsertNode(ctx, graph, Node{Label: LabelPerson, ID: key, Properties: props})
}

// resolvePersonRef maps a free-text person reference to a Person node id,
// preferring an existing node with the same display name.
func (s *SyncEngine) resolvePersonRef(ctx context.Context, graph, ref string) (key, email, name string) {
	ref = strings.TrimSpace(ref)
	if open := strings.Index(ref, "<"); open >= 0 && strings.HasSuffix(ref, ">") {
		name = strings.TrimSpace(ref[:open])
		email = strings.TrimSpace(ref[open+1 : len(ref)-1])
		return PersonKey(email, name), email, name
	}
	if strings.Contains(ref, "@") && !strings.Contains(ref, " ") {
		return PersonKey(ref, ""), ref, ""
	}
	name = ref
	if nodes, err := s.backend.FindNodes(ctx, graph, NodeFilter{
		Label:      LabelPerson,
		Properties: map[string]interface{}{"name_lower": normalizeName(name)},
		Limit:      1,
	}); err == nil && len(nodes) > 0 {
		return nodes[0].ID, "", name
	}
	return PersonKey("", name), "", name
}

// LinkToEntities upserts the persisted knowledge items of a message and
// links them from the message node. Each item is independent.
func (s *SyncEngine) LinkToEntities(ctx context.Context, projectID, messageID string, res *extraction.PersistResult) error {
	if res == nil || s.skip(projectID, "link_entities") {
		return nil
	}
	graph := s.naming.GraphName(projectID)

	var (
		linked   int64
		firstErr error
	)
	try := func(err error) bool {
		if err != nil {
			s.fail(projectID, err)
			if firstErr == nil {
				firstErr = err
			}
			return false
		}
		return true
	}
	link := func(label, id, relType string, props map[string]interface{}) bool {
		if !try(s.backend.UpsertNode(ctx, graph, Node{Label: label, ID: id, Properties: props})) {
			return false
		}
		if messageID == "" {
			return true
		}
		return try(s.backend.UpsertRelationship(ctx, graph, Relationship{
			Type: relType, FromLabel: LabelMessage, FromID: messageID, ToLabel: label, ToID: id,
		}))
	}
	linkPerson := func(label, id, relType, ref string) {
		if strings.TrimSpace(ref) == "" {
			return
		}
		key, email, name := s.resolvePersonRef(ctx, graph, ref)
		if key == "" {
			return
		}
		if try(s.upsertPerson(ctx, graph, key, email, name, nil)) {
			try(s.backend.UpsertRelationship(ctx, graph, Relationship{
				Type: relType, FromLabel: label, FromID: id, ToLabel: LabelPerson, ToID: key,
			}))
		}
	}

	for _, f := range res.Facts {
		if link(LabelFact, f.ID, RelContainsFact, factProps(f)) {
			linked++
		}
	}
	for _, d := range res.Decisions {
		if link(LabelDecision, d.ID, RelRecordsDecision, decisionProps(d)) {
			linked++
			linkPerson(LabelDecision, d.ID, RelDecidedBy, d.MadeBy)
		}
	}
	for _, r := range res.Risks {
		if link(LabelRisk, r.ID, RelRaisesRisk, riskProps(r)) {
			linked++
		}
	}
	for _, a := range res.ActionItems {
		if link(LabelActionItem, a.ID, RelCreatesAction, actionProps(a)) {
			linked++
			linkPerson(LabelActionItem, a.ID, RelAssignedTo, a.Owner)
		}
	}
	for _, q := range res.Questions {
		if link(LabelQuestion, q.ID, RelAsksQuestion, questionProps(q)) {
			linked++
		}
	}
	for _, c := range res.People {
		key := PersonKey(c.Email, c.Name)
		if key == "" {
			continue
		}
		extra := map[string]interface{}{
			"contact_id":   c.ID,
			"role":         c.Role,
			"organization": c.Organization,
		}
		if !try(s.upsertPerson(ctx, graph, key, c.Email, c.Name, extra)) || messageID == "" {
			continue
		}
		try(s.backend.UpsertRelationship(ctx, graph, Relationship{
			Type: RelMentions, FromLabel: LabelMessage, FromID: messageID, ToLabel: LabelPerson, ToID: key,
		}))
	}

	s.record(projectID, func(st *SyncStats) { st.EntitiesSynced += linked })
	s.touched(projectID)

	if firstErr != nil {
		s.logger.Warn("Some entities failed to sync",
			zap.String("graph", graph),
			zap.String("message_id", messageID),
			zap.Error(firstErr))
		return apperrors.NewGraphSyncFailure(graph, "link_entities", firstErr)
	}
	return nil
}

// SyncQuestion upserts a question's current state and, once answered, the
// ANSWERED_BY edge to the answering message.
func (s *SyncEngine) SyncQuestion(ctx context.Context, q *domain.Question) error {
	if s.skip(q.ProjectID, "sync_question") {
		return nil
	}
	graph := s.naming.GraphName(q.ProjectID)

	err := s.backend.UpsertNode(ctx, graph, Node{Label: LabelQuestion, ID: q.ID, Properties: questionProps(*q)})
	if err == nil && q.AnswerSourceRef != "" {
		err = s.backend.UpsertRelationship(ctx, graph, Relationship{
			Type: RelAnsweredBy, FromLabel: LabelQuestion, FromID: q.ID, ToLabel: LabelMessage, ToID: q.AnswerSourceRef,
			Properties: map[string]interface{}{"auto": q.AutoResolved, "resolved_at": q.ResolvedAt},
		})
	}
	if err != nil {
		s.fail(q.ProjectID, err)
		s.logger.Warn("Question graph sync failed", zap.String("question_id", q.ID), zap.Error(err))
		return apperrors.NewGraphSyncFailure(graph, "sync_question", err)
	}

	s.record(q.ProjectID, func(st *SyncStats) { st.QuestionsSynced++ })
	s.touched(q.ProjectID)
	return nil
}

// OnEntityDeleted removes the node of a deleted record and its edges
func (s *SyncEngine) OnEntityDeleted(ctx context.Context, projectID, id string) error {
	if s.skip(projectID, "delete_entity") {
		return nil
	}
	graph := s.naming.GraphName(projectID)
	if err := s.backend.DeleteNode(ctx, graph, "", id); err != nil {
		s.fail(projectID, err)
		return apperrors.NewGraphSyncFailure(graph, "delete_entity", err)
	}
	s.record(projectID, func(st *SyncStats) { st.NodesDeleted++ })
	s.touched(projectID)
	return nil
}

// GetSyncStatus reports counters and graph size for a project
func (s *SyncEngine) GetSyncStatus(ctx context.Context, projectID string) (*SyncStatus, error) {
	status := &SyncStatus{
		ProjectID: projectID,
		Graph:     s.naming.GraphName(projectID),
		Connected: s.backend.Connected(),
	}
	s.mu.Lock()
	if st, ok := s.stats[projectID]; ok {
		status.Stats = *st
	}
	s.mu.Unlock()

	if !status.Connected {
		return status, nil
	}
	counts, err := s.backend.CountElements(ctx, status.Graph)
	if err != nil {
		return status, fmt.Errorf("failed to count graph elements: %w", err)
	}
	status.Counts = counts
	return status, nil
}

// FullSync rebuilds a project's graph from the relational store. Messages
// are synced concurrently; the store stays authoritative.
func (s *SyncEngine) FullSync(ctx context.Context, projectID string) (*FullSyncResult, error) {
	start := time.Now()
	graph := s.naming.GraphName(projectID)
	result := &FullSyncResult{Graph: graph, Connected: s.backend.Connected()}
	if s.skip(projectID, "full_sync") {
		return result, nil
	}
	if s.source == nil {
		return nil, fmt.Errorf("full sync needs a relational source")
	}

	project, err := s.source.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	messages, err := s.source.ListMessages(ctx, projectID, fullSyncMessageLimit)
	if err != nil {
		return nil, err
	}
	bySource, err := s.loadEntities(ctx, projectID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	before := int64(0)
	if st, ok := s.stats[projectID]; ok {
		before = st.Errors
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fullSyncConcurrency)
	for i := range messages {
		msg := &messages[i]
		g.Go(func() error {
			if err := s.SyncMessage(gctx, msg, project.Name); err != nil {
				return nil
			}
			_ = s.LinkToEntities(gctx, projectID, msg.ID, bySource[msg.ID])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Items without a listed source message (deleted, past the message
	// limit, or manual) are still written, just without a message edge
	listed := make(map[string]struct{}, len(messages))
	for i := range messages {
		listed[messages[i].ID] = struct{}{}
	}
	for ref, res := range bySource {
		if _, ok := listed[ref]; !ok {
			_ = s.LinkToEntities(ctx, projectID, "", res)
		}
	}
	for _, res := range bySource {
		for i := range res.Questions {
			if res.Questions[i].AnswerSourceRef != "" {
				_ = s.SyncQuestion(ctx, &res.Questions[i])
			}
		}
		result.Entities += res.Counts.Total()
	}

	now := time.Now().UTC()
	s.record(projectID, func(st *SyncStats) {
		st.LastFullSyncAt = &now
		result.Errors = st.Errors - before
	})
	result.Messages = len(messages)
	result.Duration = time.Since(start)

	s.logger.Info("Full graph sync completed",
		zap.String("graph", graph),
		zap.Int("messages", result.Messages),
		zap.Int("entities", result.Entities),
		zap.Int64("errors", result.Errors),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// loadEntities groups a project's knowledge items by their SourceRef.
// Extracted and manual contacts are grouped under "".
func (s *SyncEngine) loadEntities(ctx context.Context, projectID string) (map[string]*extraction.PersistResult, error) {
	filter := store.KnowledgeFilter{ProjectID: projectID, Limit: fullSyncItemLimit}
	out := map[string]*extraction.PersistResult{}
	group := func(ref string) *extraction.PersistResult {
		r, ok := out[ref]
		if !ok {
			r = &extraction.PersistResult{}
			out[ref] = r
		}
		return r
	}

	facts, err := s.source.ListFacts(ctx, filter)
	if err != nil {
		return nil, err
	}
	for _, f := range facts {
		r := group(f.SourceRef)
		r.Facts = append(r.Facts, f)
		r.Counts.Facts++
	}
	decisions, err := s.source.ListDecisions(ctx, filter)
	if err != nil {
		return nil, err
	}
	for _, d := range decisions {
		r := group(d.SourceRef)
		r.Decisions = append(r.Decisions, d)
		r.Counts.Decisions++
	}
	risks, err := s.source.ListRisks(ctx, filter)
	if err != nil {
		return nil, err
	}
	for _, rk := range risks {
		r := group(rk.SourceRef)
		r.Risks = append(r.Risks, rk)
		r.Counts.Risks++
	}
	actions, err := s.source.ListActionItems(ctx, filter)
	if err != nil {
		return nil, err
	}
	for _, a := range actions {
		r := group(a.SourceRef)
		r.ActionItems = append(r.ActionItems, a)
		r.Counts.ActionItems++
	}
	questions, err := s.source.ListQuestions(ctx, filter)
	if err != nil {
		return nil, err
	}
	for _, q := range questions {
		r := group(q.SourceRef)
		r.Questions = append(r.Questions, q)
		r.Counts.Questions++
	}
	people, err := s.source.ListContacts(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for i := range people {
		if people[i].Source == domain.ContactFromExtraction || people[i].Source == domain.ContactManual {
			r := group("")
			r.People = append(r.People, &people[i])
			r.Counts.People++
		}
	}
	return out, nil
}

func factProps(f domain.Fact) map[string]interface{} {
	return map[string]interface{}{
		"content": f.Content, "category": f.Category, "confidence": f.Confidence,
		"status": string(f.Status), "provenance": f.Provenance, "source_ref": f.SourceRef,
		"group_kind": f.GroupKind, "group_id": f.GroupID, "recorded_at": f.CreatedAt,
	}
}

func decisionProps(d domain.Decision) map[string]interface{} {
	return map[string]interface{}{
		"content": d.Content, "rationale": d.Rationale, "made_by": d.MadeBy,
		"confidence": d.Confidence, "status": string(d.Status), "provenance": d.Provenance,
		"source_ref": d.SourceRef, "recorded_at": d.CreatedAt,
	}
}

func riskProps(r domain.Risk) map[string]interface{} {
	return map[string]interface{}{
		"content": r.Content, "severity": r.Severity, "likelihood": r.Likelihood,
		"mitigation": r.Mitigation, "owner": r.Owner, "confidence": r.Confidence,
		"status": string(r.Status), "provenance": r.Provenance, "source_ref": r.SourceRef,
		"recorded_at": r.CreatedAt,
	}
}

func actionProps(a domain.ActionItem) map[string]interface{} {
	return map[string]interface{}{
		"content": a.Content, "owner": a.Owner, "due_date": a.DueDate, "due_text": a.DueText,
		"priority": a.Priority, "confidence": a.Confidence, "status": string(a.Status),
		"provenance": a.Provenance, "source_ref": a.SourceRef, "recorded_at": a.CreatedAt,
	}
}

func questionProps(q domain.Question) map[string]interface{} {
	return map[string]interface{}{
		"content": q.Content, "asked_by": q.AskedBy, "assignee": q.Assignee,
		"priority": q.Priority, "confidence": q.Confidence, "status": string(q.Status),
		"answer": q.Answer, "auto_resolved": q.AutoResolved, "resolved_at": q.ResolvedAt,
		"provenance": q.Provenance, "source_ref": q.SourceRef, "recorded_at": q.CreatedAt,
	}
}
