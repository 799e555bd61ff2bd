package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"projectbrain/backend/internal/domain"
	apperrors "projectbrain/backend/pkg/errors"
)

// ============================================================================
// Message Operations
// ============================================================================

// CreateMessage inserts a canonical message together with its recipients.
// A unique (project, fingerprint) collision is reported as a DuplicateError
// naming the existing message.
func (r *Repository) CreateMessage(ctx context.Context, m *domain.Message) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	for i := range m.Recipients {
		m.Recipients[i].MessageID = m.ID
	}

	err := r.db.WithContext(ctx).Create(m).Error
	if err == nil {
		return nil
	}
	if isDuplicateKey(err) {
		existing, lookupErr := r.FindMessageByFingerprint(ctx, m.ProjectID, m.ContentFingerprint)
		if lookupErr == nil && existing != nil {
			return apperrors.NewDuplicateError(existing.ID, m.ContentFingerprint)
		}
		return apperrors.NewDuplicateError("", m.ContentFingerprint)
	}
	return fmt.Errorf("failed to create message: %w", err)
}

// FindMessageByFingerprint returns the message with the fingerprint in the
// project, or nil when none exists.
func (r *Repository) FindMessageByFingerprint(ctx context.Context, projectID, fingerprint string) (*domain.Message, error) {
	var m domain.Message
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND content_fingerprint = ?", projectID, fingerprint).
		First(&m).Error
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up fingerprint: %w", err)
	}
	return &m, nil
}

// GetMessage loads a message and its recipients
func (r *Repository) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	var m domain.Message
	if err := r.db.WithContext(ctx).Preload("Recipients").First(&m, "id = ?", id).Error; err != nil {
		if isNotFound(err) {
			return nil, apperrors.NewNotFound("message", id)
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &m, nil
}

// ListMessages returns a project's messages, newest first
func (r *Repository) ListMessages(ctx context.Context, projectID string, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := r.db.WithContext(ctx).
		Preload("Recipients").
		Where("project_id = ?", projectID).
		Order("timestamp DESC").
		Limit(clampLimit(limit, 100, 5000)).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return out, nil
}

// ExtractionOutcome is what the extraction step attaches to a message
type ExtractionOutcome struct {
	Summary          string
	Intent           string
	Sentiment        string
	RequiresResponse bool
	Error            string
}

// MarkMessageProcessed records that extraction ran for the message,
// whether or not it produced entities.
func (r *Repository) MarkMessageProcessed(ctx context.Context, id string, outcome ExtractionOutcome) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.Message{}).Where("id = ?", id).Updates(map[string]interface{}{
		"processed":         true,
		"processed_at":      now,
		"summary":           outcome.Summary,
		"intent":            outcome.Intent,
		"sentiment":         outcome.Sentiment,
		"requires_response": outcome.RequiresResponse,
		"extraction_error":  outcome.Error,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to mark message processed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NewNotFound("message", id)
	}
	return nil
}

// LinkRecipientContact attaches a resolved contact id to a recipient row
func (r *Repository) LinkRecipientContact(ctx context.Context, messageID, address, contactID string) error {
	err := r.db.WithContext(ctx).Model(&domain.Recipient{}).
		Where("message_id = ? AND LOWER(address) = LOWER(?)", messageID, address).
		Update("contact_id", contactID).Error
	if err != nil {
		return fmt.Errorf("failed to link recipient contact: %w", err)
	}
	return nil
}

// DeleteMessage removes a message, its recipients and its embedding.
// Knowledge items keep their weak SourceRef.
func (r *Repository) DeleteMessage(ctx context.Context, id string) (*domain.Message, error) {
	var deleted domain.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&deleted, "id = ?", id).Error; err != nil {
			if isNotFound(err) {
				return apperrors.NewNotFound("message", id)
			}
			return err
		}
		if err := tx.Where("message_id = ?", id).Delete(&domain.Recipient{}).Error; err != nil {
			return err
		}
		if err := tx.Where("message_id = ?", id).Delete(&domain.MessageEmbedding{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&domain.Message{}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete message: %w", err)
	}
	r.logger.Info("Message deleted", zap.String("message_id", id), zap.String("project_id", deleted.ProjectID))
	return &deleted, nil
}

// ============================================================================
// Embedding Operations
// ============================================================================

// ListMessagesWithoutEmbedding returns messages that have no embedding yet
func (r *Repository) ListMessagesWithoutEmbedding(ctx context.Context, projectID string, limit int) ([]domain.Message, error) {
	var out []domain.Message
	embedded := r.db.Model(&domain.MessageEmbedding{}).Select("message_id").Where("project_id = ?", projectID)
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND id NOT IN (?)", projectID, embedded).
		Order("created_at ASC").
		Limit(clampLimit(limit, 100, 1000)).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages without embedding: %w", err)
	}
	return out, nil
}

// UpsertEmbedding stores or replaces a message embedding
func (r *Repository) UpsertEmbedding(ctx context.Context, e *domain.MessageEmbedding) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"model", "dimensions", "vector", "created_at"}),
	}).Create(e).Error
	if err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}
	return nil
}

// GetEmbedding returns the stored embedding for a message
func (r *Repository) GetEmbedding(ctx context.Context, messageID string) (*domain.MessageEmbedding, error) {
	var e domain.MessageEmbedding
	if err := r.db.WithContext(ctx).First(&e, "message_id = ?", messageID).Error; err != nil {
		if isNotFound(err) {
			return nil, apperrors.NewNotFound("embedding", messageID)
		}
		return nil, fmt.Errorf("failed to get embedding: %w", err)
	}
	return &e, nil
}
