package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"projectbrain/backend/internal/domain"
	apperrors "projectbrain/backend/pkg/errors"
)

// ============================================================================
// Knowledge Item Operations
// ============================================================================

// KnowledgeFilter narrows knowledge listings
type KnowledgeFilter struct {
	ProjectID string
	SourceRef string
	Limit     int
}

func (f KnowledgeFilter) apply(db *gorm.DB) *gorm.DB {
	db = db.Where("project_id = ?", f.ProjectID)
	if f.SourceRef != "" {
		db = db.Where("source_ref = ?", f.SourceRef)
	}
	return db.Order("created_at DESC").Limit(clampLimit(f.Limit, 50, 1000))
}

func listKnowledge[T any](ctx context.Context, db *gorm.DB, f KnowledgeFilter, kind string) ([]T, error) {
	var out []T
	if err := f.apply(db.WithContext(ctx)).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	return out, nil
}

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return apperrors.NewValidationError("content", "content is required")
	}
	return nil
}

// CreateFact inserts a fact
func (r *Repository) CreateFact(ctx context.Context, f *domain.Fact) error {
	if err := validateContent(f.Content); err != nil {
		return err
	}
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.Status == "" {
		f.Status = domain.FactActive
	}
	if err := r.db.WithContext(ctx).Create(f).Error; err != nil {
		return fmt.Errorf("failed to create fact: %w", err)
	}
	return nil
}

// CreateDecision inserts a decision
func (r *Repository) CreateDecision(ctx context.Context, d *domain.Decision) error {
	if err := validateContent(d.Content); err != nil {
		return err
	}
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Status == "" {
		d.Status = domain.DecisionMade
	}
	if err := r.db.WithContext(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("failed to create decision: %w", err)
	}
	return nil
}

// CreateRisk inserts a risk
func (r *Repository) CreateRisk(ctx context.Context, rk *domain.Risk) error {
	if err := validateContent(rk.Content); err != nil {
		return err
	}
	if rk.ID == "" {
		rk.ID = uuid.New().String()
	}
	if rk.Status == "" {
		rk.Status = domain.RiskOpen
	}
	if err := r.db.WithContext(ctx).Create(rk).Error; err != nil {
		return fmt.Errorf("failed to create risk: %w", err)
	}
	return nil
}

// CreateActionItem inserts an action item
func (r *Repository) CreateActionItem(ctx context.Context, a *domain.ActionItem) error {
	if err := validateContent(a.Content); err != nil {
		return err
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = domain.ActionOpen
	}
	if err := r.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("failed to create action item: %w", err)
	}
	return nil
}

// CreateQuestion inserts a question. New questions with an assignee start
// as assigned, otherwise pending.
func (r *Repository) CreateQuestion(ctx context.Context, q *domain.Question) error {
	if err := validateContent(q.Content); err != nil {
		return err
	}
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	if q.Status == "" {
		q.Status = domain.QuestionPending
		if q.Assignee != "" {
			q.Status = domain.QuestionAssigned
		}
	}
	if err := r.db.WithContext(ctx).Create(q).Error; err != nil {
		return fmt.Errorf("failed to create question: %w", err)
	}
	return nil
}

func (r *Repository) ListFacts(ctx context.Context, f KnowledgeFilter) ([]domain.Fact, error) {
	return listKnowledge[domain.Fact](ctx, r.db, f, "facts")
}

func (r *Repository) ListDecisions(ctx context.Context, f KnowledgeFilter) ([]domain.Decision, error) {
	return listKnowledge[domain.Decision](ctx, r.db, f, "decisions")
}

func (r *Repository) ListRisks(ctx context.Context, f KnowledgeFilter) ([]domain.Risk, error) {
	return listKnowledge[domain.Risk](ctx, r.db, f, "risks")
}

func (r *Repository) ListActionItems(ctx context.Context, f KnowledgeFilter) ([]domain.ActionItem, error) {
	return listKnowledge[domain.ActionItem](ctx, r.db, f, "action items")
}

func (r *Repository) ListQuestions(ctx context.Context, f KnowledgeFilter) ([]domain.Question, error) {
	return listKnowledge[domain.Question](ctx, r.db, f, "questions")
}

// ListOpenQuestions returns a project's questions that still await an
// answer, most recent first.
func (r *Repository) ListOpenQuestions(ctx context.Context, projectID string, limit int) ([]domain.Question, error) {
	return r.ListOpenQuestionsExcluding(ctx, projectID, "", limit)
}

// ListOpenQuestionsExcluding is ListOpenQuestions without the questions
// raised by the message excludeSourceRef.
func (r *Repository) ListOpenQuestionsExcluding(ctx context.Context, projectID, excludeSourceRef string, limit int) ([]domain.Question, error) {
	var out []domain.Question
	q := r.db.WithContext(ctx).
		Where("project_id = ? AND status IN ?", projectID, domain.OpenQuestionStatuses)
	if excludeSourceRef != "" {
		q = q.Where("source_ref <> ?", excludeSourceRef)
	}
	err := q.Order("created_at DESC").
		Limit(clampLimit(limit, 10, 100)).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list open questions: %w", err)
	}
	return out, nil
}

// GetQuestion loads one question
func (r *Repository) GetQuestion(ctx context.Context, id string) (*domain.Question, error) {
	var q domain.Question
	if err := r.db.WithContext(ctx).First(&q, "id = ?", id).Error; err != nil {
		if isNotFound(err) {
			return nil, apperrors.NewNotFound("question", id)
		}
		return nil, fmt.Errorf("failed to get question: %w", err)
	}
	return &q, nil
}

// Resolution is the answer recorded against a question
type Resolution struct {
	Answer     string
	Provenance string
	SourceRef  string
	Auto       bool
}

// ResolveQuestion marks an open question resolved. Questions already
// resolved or dismissed are left untouched and returned with
// resolved=false.
func (r *Repository) ResolveQuestion(ctx context.Context, id string, res Resolution) (*domain.Question, bool, error) {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&domain.Question{}).
		Where("id = ? AND status IN ?", id, domain.OpenQuestionStatuses).
		Updates(map[string]interface{}{
			"status":            domain.QuestionResolved,
			"answer":            res.Answer,
			"answer_provenance": res.Provenance,
			"answer_source_ref": res.SourceRef,
			"auto_resolved":     res.Auto,
			"resolved_at":       now,
		})
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to resolve question: %w", result.Error)
	}

	q, err := r.GetQuestion(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if result.RowsAffected > 0 {
		r.logger.Info("Question resolved",
			zap.String("question_id", id),
			zap.Bool("auto", res.Auto),
			zap.String("source_ref", res.SourceRef))
	}
	return q, result.RowsAffected > 0, nil
}
