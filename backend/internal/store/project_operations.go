package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"projectbrain/backend/internal/domain"
	apperrors "projectbrain/backend/pkg/errors"
)

// ============================================================================
// Project Operations
// ============================================================================

// CreateProject inserts a project, assigning an id when absent
func (r *Repository) CreateProject(ctx context.Context, p *domain.Project) error {
	if strings.TrimSpace(p.Name) == "" {
		return apperrors.NewValidationError("name", "project name is required")
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	r.logger.Info("Project created", zap.String("project_id", p.ID), zap.String("name", p.Name))
	return nil
}

// GetProject loads a project by id
func (r *Repository) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	var p domain.Project
	if err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if isNotFound(err) {
			return nil, apperrors.NewNotFound("project", id)
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &p, nil
}

// ListProjects returns every project, oldest first
func (r *Repository) ListProjects(ctx context.Context) ([]domain.Project, error) {
	var out []domain.Project
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return out, nil
}

// ListProjectIDs returns the ids of every existing project
func (r *Repository) ListProjectIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&domain.Project{}).Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list project ids: %w", err)
	}
	return ids, nil
}

// DeleteProject removes a project and all relational data it owns. Its
// tenant graph becomes an orphan until cleanup.
func (r *Repository) DeleteProject(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		msgIDs := tx.Model(&domain.Message{}).Select("id").Where("project_id = ?", id)
		if err := tx.Where("message_id IN (?)", msgIDs).Delete(&domain.Recipient{}).Error; err != nil {
			return err
		}
		for _, model := range []interface{}{
			&domain.MessageEmbedding{},
			&domain.Message{},
			&domain.Contact{},
			&domain.Fact{},
			&domain.Decision{},
			&domain.Risk{},
			&domain.ActionItem{},
			&domain.Question{},
		} {
			if err := tx.Where("project_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		res := tx.Where("id = ?", id).Delete(&domain.Project{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.NewNotFound("project", id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	r.logger.Info("Project deleted", zap.String("project_id", id))
	return nil
}
