// Package processing runs batch document ingestion and embedding
// regeneration in the background, broadcasting progress while it works.
package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"projectbrain/backend/internal/adapter"
	"projectbrain/backend/internal/domain"
	"projectbrain/backend/internal/ingest"
	"projectbrain/backend/internal/notify"
	apperrors "projectbrain/backend/pkg/errors"
	"projectbrain/backend/pkg/logger"
)

const (
	DefaultBroadcastInterval = time.Second
	DefaultEmbeddingBatch    = 16
	maxRecordedErrors        = 20
)

// ErrBusy is returned by Start while another run is active
var ErrBusy = errors.New("a processing run is already active")

// Ingester runs one document through the ingestion pipeline
type Ingester interface {
	Ingest(ctx context.Context, raw ingest.RawInput, sourceType domain.SourceType, projectID string) (*ingest.IngestResult, error)
}

// EmbeddingStore finds messages lacking a vector and stores new ones
type EmbeddingStore interface {
	ListMessagesWithoutEmbedding(ctx context.Context, projectID string, limit int) ([]domain.Message, error)
	UpsertEmbedding(ctx context.Context, e *domain.MessageEmbedding) error
}

// Phase is the stage a run is in
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseIngesting Phase = "ingesting"
	PhaseEmbedding Phase = "embedding"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// Status is a snapshot of the current (or last) run
type Status struct {
	RunID      string     `json:"run_id,omitempty"`
	ProjectID  string     `json:"project_id,omitempty"`
	Phase      Phase      `json:"phase"`
	Running    bool       `json:"running"`
	Total      int        `json:"total"`
	Processed  int        `json:"processed"`
	Succeeded  int        `json:"succeeded"`
	Duplicates int        `json:"duplicates"`
	Failed     int        `json:"failed"`
	Embedded   int        `json:"embedded"`
	Errors     []string   `json:"errors,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Options tunes a Runner
type Options struct {
	BroadcastInterval time.Duration
	EmbeddingBatch    int
}

// Runner owns at most one background run at a time. Runs are detached from
// the caller's context and cannot be cancelled.
type Runner struct {
	ingester Ingester
	embedder adapter.Embedder
	store    EmbeddingStore
	sink     notify.Sink
	opts     Options

	mu      sync.Mutex
	status  Status
	done    chan struct{}
	subs    map[int]chan Status
	nextSub int

	logger *zap.Logger
}

// NewRunner creates a runner. embedder and store may be nil, which skips
// embedding regeneration; sink may be nil.
func NewRunner(ingester Ingester, embedder adapter.Embedder, store EmbeddingStore, sink notify.Sink, opts Options) *Runner {
	if opts.BroadcastInterval <= 0 {
		opts.BroadcastInterval = DefaultBroadcastInterval
	}
	if opts.EmbeddingBatch <= 0 {
		opts.EmbeddingBatch = DefaultEmbeddingBatch
	}
	if sink == nil {
		sink = notify.Discard{}
	}
	done := make(chan struct{})
	close(done)
	return &Runner{
		ingester: ingester,
		embedder: embedder,
		store:    store,
		sink:     sink,
		opts:     opts,
		status:   Status{Phase: PhaseIdle},
		done:     done,
		subs:     make(map[int]chan Status),
		logger:   logger.Named("processing"),
	}
}

// Start launches a run over docs for projectID and returns its id. An empty
// docs list only regenerates embeddings.
func (r *Runner) Start(projectID string, docs []ingest.RawInput, sourceType domain.SourceType) (string, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return "", apperrors.NewValidationError("project_id", "project id is required")
	}

	r.mu.Lock()
	if r.status.Running {
		r.mu.Unlock()
		return "", ErrBusy
	}
	now := time.Now().UTC()
	runID := uuid.New().String()
	r.status = Status{
		RunID:     runID,
		ProjectID: projectID,
		Phase:     PhaseIngesting,
		Running:   true,
		Total:     len(docs),
		StartedAt: &now,
	}
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	r.logger.Info("Processing run started",
		zap.String("run_id", runID),
		zap.String("project_id", projectID),
		zap.Int("documents", len(docs)))

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		r.broadcastLoop(stop)
	}()
	go func() {
		defer close(done)
		r.run(context.Background(), projectID, docs, sourceType)
		// The final snapshot goes out after the last periodic one
		close(stop)
		<-stopped
		r.broadcast(r.Status())
	}()
	return runID, nil
}

// Status returns a snapshot of the current or last run
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

// Done is closed when the current run finishes. It is already closed when
// nothing is running.
func (r *Runner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Subscribe registers for status broadcasts. Slow subscribers only see the
// latest snapshot. The returned func unsubscribes and closes the channel.
func (r *Runner) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 1)
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	ch <- r.snapshot()
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
			close(ch)
		})
	}
}

func (r *Runner) snapshot() Status {
	s := r.status
	s.Errors = append([]string(nil), r.status.Errors...)
	return s
}

func (r *Runner) update(fn func(s *Status)) {
	r.mu.Lock()
	fn(&r.status)
	r.mu.Unlock()
}

func (r *Runner) recordError(format string, args ...interface{}) {
	r.update(func(s *Status) {
		if len(s.Errors) < maxRecordedErrors {
			s.Errors = append(s.Errors, fmt.Sprintf(format, args...))
		}
	})
}

func (r *Runner) run(ctx context.Context, projectID string, docs []ingest.RawInput, sourceType domain.SourceType) {
	for i, doc := range docs {
		res, err := r.ingester.Ingest(ctx, doc, sourceType, projectID)
		var dup bool
		if _, ok := apperrors.AsDuplicate(err); ok {
			dup = true
		}
		r.update(func(s *Status) {
			s.Processed++
			switch {
			case dup:
				s.Duplicates++
			case err != nil:
				s.Failed++
			default:
				s.Succeeded++
			}
		})
		if err != nil && !dup {
			r.recordError("document %d (%s): %v", i+1, documentName(doc), err)
			r.logger.Warn("Document ingestion failed",
				zap.String("project_id", projectID),
				zap.Int("index", i),
				zap.Error(err))
			continue
		}
		if res != nil && res.ExtractionError != "" {
			r.recordError("document %d (%s): extraction: %s", i+1, documentName(doc), res.ExtractionError)
		}
	}

	phase := PhaseCompleted
	if r.embedder != nil && r.store != nil {
		r.update(func(s *Status) { s.Phase = PhaseEmbedding })
		if err := r.regenerateEmbeddings(ctx, projectID); err != nil {
			r.recordError("embeddings: %v", err)
			r.logger.Error("Embedding regeneration failed", zap.String("project_id", projectID), zap.Error(err))
			phase = PhaseFailed
		}
	}

	now := time.Now().UTC()
	r.update(func(s *Status) {
		s.Phase = phase
		s.Running = false
		s.FinishedAt = &now
	})
	final := r.Status()

	r.logger.Info("Processing run finished",
		zap.String("run_id", final.RunID),
		zap.String("phase", string(final.Phase)),
		zap.Int("succeeded", final.Succeeded),
		zap.Int("duplicates", final.Duplicates),
		zap.Int("failed", final.Failed),
		zap.Int("embedded", final.Embedded))
}

// regenerateEmbeddings embeds every message of the project that has no
// vector yet, one batch at a time. It stops when a batch makes no progress.
func (r *Runner) regenerateEmbeddings(ctx context.Context, projectID string) error {
	model := r.embedder.EmbeddingModel()
	for {
		msgs, err := r.store.ListMessagesWithoutEmbedding(ctx, projectID, r.opts.EmbeddingBatch)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}

		texts := make([]string, len(msgs))
		for i := range msgs {
			texts[i] = embeddingText(&msgs[i])
		}
		vectors, err := r.embedder.Embed(ctx, texts)
		if err != nil {
			return err
		}
		if len(vectors) != len(msgs) {
			return fmt.Errorf("embedder returned %d vectors for %d messages", len(vectors), len(msgs))
		}

		stored := 0
		for i, vec := range vectors {
			raw, err := json.Marshal(vec)
			if err != nil {
				return fmt.Errorf("failed to encode vector: %w", err)
			}
			err = r.store.UpsertEmbedding(ctx, &domain.MessageEmbedding{
				MessageID:  msgs[i].ID,
				ProjectID:  projectID,
				Model:      model,
				Dimensions: len(vec),
				Vector:     datatypes.JSON(raw),
				CreatedAt:  time.Now().UTC(),
			})
			if err != nil {
				r.recordError("embedding %s: %v", msgs[i].ID, err)
				continue
			}
			stored++
		}
		r.update(func(s *Status) { s.Embedded += stored })
		if stored == 0 {
			return fmt.Errorf("no embeddings stored for a batch of %d messages", len(msgs))
		}
	}
}

func embeddingText(m *domain.Message) string {
	if m.Subject == "" {
		return m.BodyText
	}
	return m.Subject + "\n\n" + m.BodyText
}

func documentName(doc ingest.RawInput) string {
	switch {
	case doc.Filename != "":
		return doc.Filename
	case doc.Fields != nil:
		return "fields"
	}
	return "paste"
}

func (r *Runner) broadcastLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(r.opts.BroadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.broadcast(r.Status())
		}
	}
}

func (r *Runner) broadcast(s Status) {
	r.mu.Lock()
	for _, ch := range r.subs {
		// Replace a stale snapshot the subscriber has not read yet
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
	r.mu.Unlock()

	r.sink.Notify(context.Background(), notify.NewEvent(notify.EventProcessingStatus, s.ProjectID, "", map[string]interface{}{
		"run_id":     s.RunID,
		"phase":      string(s.Phase),
		"running":    s.Running,
		"total":      s.Total,
		"processed":  s.Processed,
		"succeeded":  s.Succeeded,
		"duplicates": s.Duplicates,
		"failed":     s.Failed,
		"embedded":   s.Embedded,
	}))
}
