package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"projectbrain/backend/internal/contacts"
	"projectbrain/backend/internal/correlate"
	"projectbrain/backend/internal/domain"
	"projectbrain/backend/internal/extraction"
	"projectbrain/backend/internal/notify"
	"projectbrain/backend/internal/store"
	apperrors "projectbrain/backend/pkg/errors"
	"projectbrain/backend/pkg/logger"
)

// MessageStore is the relational side of ingestion
type MessageStore interface {
	FingerprintStore
	GetProject(ctx context.Context, id string) (*domain.Project, error)
	CreateMessage(ctx context.Context, m *domain.Message) error
	MarkMessageProcessed(ctx context.Context, id string, outcome store.ExtractionOutcome) error
	DeleteMessage(ctx context.Context, id string) (*domain.Message, error)
}

// ContactMatcher links message participants to identities
type ContactMatcher interface {
	Resolve(ctx context.Context, msg *domain.Message) (*contacts.MatchReport, error)
}

// Extractor produces the entity bundle of a message
type Extractor interface {
	Extract(ctx context.Context, msg *domain.Message) (*domain.EntityBundle, error)
}

// EntityPersister writes an entity bundle
type EntityPersister interface {
	Persist(ctx context.Context, msg *domain.Message, bundle *domain.EntityBundle, group extraction.Grouping) (*extraction.PersistResult, error)
}

// GraphSyncer mirrors ingested records into the project graph
type GraphSyncer interface {
	Connected() bool
	SyncMessage(ctx context.Context, msg *domain.Message, projectName string) error
	LinkToEntities(ctx context.Context, projectID, messageID string, res *extraction.PersistResult) error
	OnEntityDeleted(ctx context.Context, projectID, id string) error
}

// AnswerCorrelator resolves open questions answered by a message
type AnswerCorrelator interface {
	Correlate(ctx context.Context, msg *domain.Message) (*correlate.Report, error)
}

// Deps wires a pipeline. Graph, Correlator and Sink may be nil.
type Deps struct {
	Store      MessageStore
	Contacts   ContactMatcher
	Extractor  Extractor
	Persister  EntityPersister
	Graph      GraphSyncer
	Correlator AnswerCorrelator
	Sink       notify.Sink
}

// IngestResult reports everything one ingestion achieved. It is returned
// even when later stages failed.
type IngestResult struct {
	MessageID  string `json:"message_id,omitempty"`
	ProjectID  string `json:"project_id"`
	Duplicate  bool   `json:"duplicate"`
	ExistingID string `json:"existing_id,omitempty"`

	ContactsLinked int `json:"contacts_linked"`
	NewContacts    int `json:"new_contacts"`

	Extracted        bool                    `json:"extracted"`
	ExtractionError  string                  `json:"extraction_error,omitempty"`
	Summary          string                  `json:"summary,omitempty"`
	Intent           string                  `json:"intent,omitempty"`
	Sentiment        string                  `json:"sentiment,omitempty"`
	RequiresResponse bool                    `json:"requires_response"`
	Entities         domain.EntityCounts     `json:"entities"`
	SkippedItems     int                     `json:"skipped_items"`
	PersistFailures  []apperrors.ItemFailure `json:"persist_failures,omitempty"`

	GraphSynced bool   `json:"graph_synced"`
	GraphError  string `json:"graph_error,omitempty"`

	ResolvedQuestions []string      `json:"resolved_questions"`
	Duration          time.Duration `json:"duration"`
}

// Pipeline runs one ingestion as a sequential chain: normalize, dedup,
// persist, contacts, extract, entities, graph, answer correlation.
type Pipeline struct {
	normalizer *Normalizer
	dedup      *DedupGate
	deps       Deps
	logger     *zap.Logger
}

// NewPipeline creates an ingestion pipeline
func NewPipeline(deps Deps) *Pipeline {
	if deps.Sink == nil {
		deps.Sink = notify.Discard{}
	}
	return &Pipeline{
		normalizer: NewNormalizer(),
		dedup:      NewDedupGate(deps.Store),
		deps:       deps,
		logger:     logger.Named("ingest"),
	}
}

// Ingest runs the pipeline for one raw input. Only validation and
// duplicate outcomes are returned as errors (a duplicate also returns a
// result naming the existing message); every later failure is recorded on
// the result.
func (p *Pipeline) Ingest(ctx context.Context, raw RawInput, sourceType domain.SourceType, projectID string) (*IngestResult, error) {
	return p.IngestGrouped(ctx, raw, sourceType, projectID, extraction.Grouping{})
}

// IngestGrouped is Ingest with a grouping context stamped on every
// persisted knowledge item.
func (p *Pipeline) IngestGrouped(ctx context.Context, raw RawInput, sourceType domain.SourceType, projectID string, group extraction.Grouping) (*IngestResult, error) {
	start := time.Now()
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, apperrors.NewValidationError("project_id", "project id is required")
	}
	project, err := p.deps.Store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	msg, err := p.normalizer.Normalize(raw, sourceType)
	if err != nil {
		return nil, err
	}
	msg.ProjectID = projectID

	result := &IngestResult{ProjectID: projectID, ResolvedQuestions: []string{}}

	if err := p.dedup.Check(ctx, projectID, msg); err != nil {
		return p.rejectDuplicate(ctx, result, err)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	if err := p.deps.Store.CreateMessage(ctx, msg); err != nil {
		// A concurrent ingestion won the unique index
		return p.rejectDuplicate(ctx, result, err)
	}
	result.MessageID = msg.ID

	p.resolveContacts(ctx, msg, result)
	persisted := p.extract(ctx, msg, group, result)
	p.syncGraph(ctx, msg, project.Name, persisted, result)
	p.correlate(ctx, msg, result)

	result.Duration = time.Since(start)
	p.deps.Sink.Notify(ctx, notify.NewEvent(notify.EventMessageIngested, projectID, msg.ID, map[string]interface{}{
		"entities":     result.Entities.Total(),
		"extracted":    result.Extracted,
		"graph_synced": result.GraphSynced,
		"resolved":     len(result.ResolvedQuestions),
	}))

	p.logger.Info("Message ingested",
		zap.String("project_id", projectID),
		zap.String("message_id", msg.ID),
		zap.String("source_type", string(sourceType)),
		zap.Int("entities", result.Entities.Total()),
		zap.Bool("extracted", result.Extracted),
		zap.Bool("graph_synced", result.GraphSynced),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// rejectDuplicate turns a duplicate into a result plus error. Other errors
// from the dedup check or the insert stop ingestion as they are.
func (p *Pipeline) rejectDuplicate(ctx context.Context, result *IngestResult, err error) (*IngestResult, error) {
	dup, ok := apperrors.AsDuplicate(err)
	if !ok {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}
	result.Duplicate = true
	result.ExistingID = dup.ExistingID
	p.deps.Sink.Notify(ctx, notify.NewEvent(notify.EventMessageDuplicate, result.ProjectID, dup.ExistingID, nil))
	return result, err
}

func (p *Pipeline) resolveContacts(ctx context.Context, msg *domain.Message, result *IngestResult) {
	if p.deps.Contacts == nil {
		return
	}
	report, err := p.deps.Contacts.Resolve(ctx, msg)
	if err != nil {
		p.logger.Warn("Contact resolution failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
	if report == nil {
		return
	}
	if report.Sender != nil {
		result.ContactsLinked++
	}
	result.ContactsLinked += len(report.Recipients)
	result.NewContacts = report.NewIdentities
}

// extract runs extraction and entity persistence. The message is marked
// processed either way, carrying the extraction error when there was one.
func (p *Pipeline) extract(ctx context.Context, msg *domain.Message, group extraction.Grouping, result *IngestResult) *extraction.PersistResult {
	if p.deps.Extractor == nil {
		return nil
	}

	bundle, err := p.deps.Extractor.Extract(ctx, msg)
	outcome := store.ExtractionOutcome{}
	if err != nil {
		result.ExtractionError = err.Error()
		outcome.Error = err.Error()
	} else {
		result.Extracted = true
		result.Summary = bundle.Summary
		result.Intent = bundle.Intent
		result.Sentiment = bundle.Sentiment
		result.RequiresResponse = bundle.RequiresResponse
		result.SkippedItems = bundle.Skipped
		outcome = store.ExtractionOutcome{
			Summary:          bundle.Summary,
			Intent:           bundle.Intent,
			Sentiment:        bundle.Sentiment,
			RequiresResponse: bundle.RequiresResponse,
		}
	}
	if err := p.deps.Store.MarkMessageProcessed(ctx, msg.ID, outcome); err != nil {
		p.logger.Warn("Failed to mark message processed", zap.String("message_id", msg.ID), zap.Error(err))
	}
	msg.Summary, msg.Intent, msg.Sentiment = outcome.Summary, outcome.Intent, outcome.Sentiment

	if bundle == nil || p.deps.Persister == nil {
		return nil
	}
	persisted, err := p.deps.Persister.Persist(ctx, msg, bundle, group)
	var partial *apperrors.PersistencePartialFailure
	switch {
	case errors.As(err, &partial):
		result.PersistFailures = partial.Failures
	case err != nil:
		p.logger.Warn("Entity persistence failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
	if persisted != nil {
		result.Entities = persisted.Counts
	}
	return persisted
}

func (p *Pipeline) syncGraph(ctx context.Context, msg *domain.Message, projectName string, persisted *extraction.PersistResult, result *IngestResult) {
	if p.deps.Graph == nil || !p.deps.Graph.Connected() {
		return
	}
	if err := p.deps.Graph.SyncMessage(ctx, msg, projectName); err != nil {
		result.GraphError = err.Error()
		return
	}
	if err := p.deps.Graph.LinkToEntities(ctx, msg.ProjectID, msg.ID, persisted); err != nil {
		result.GraphError = err.Error()
		return
	}
	result.GraphSynced = true
}

func (p *Pipeline) correlate(ctx context.Context, msg *domain.Message, result *IngestResult) {
	if p.deps.Correlator == nil {
		return
	}
	report, err := p.deps.Correlator.Correlate(ctx, msg)
	if err != nil {
		p.logger.Warn("Answer correlation failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
	if report == nil {
		return
	}
	result.ResolvedQuestions = append(result.ResolvedQuestions, report.Resolved...)
	for _, id := range report.Resolved {
		p.deps.Sink.Notify(ctx, notify.NewEvent(notify.EventQuestionResolved, msg.ProjectID, msg.ID, map[string]interface{}{
			"question_id": id,
		}))
	}
}

// DeleteMessage removes a message with its recipients and embedding, then
// its graph node. Knowledge items keep their weak source reference.
func (p *Pipeline) DeleteMessage(ctx context.Context, id string) error {
	msg, err := p.deps.Store.DeleteMessage(ctx, id)
	if err != nil {
		return err
	}
	if p.deps.Graph != nil {
		if err := p.deps.Graph.OnEntityDeleted(ctx, msg.ProjectID, msg.ID); err != nil {
			p.logger.Warn("Graph cleanup after message delete failed", zap.String("message_id", id), zap.Error(err))
		}
	}
	return nil
}
