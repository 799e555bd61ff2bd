package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"projectbrain/backend/internal/domain"
)

// ============================================================================
// Contact Operations
// ============================================================================

// FindContactByEmail matches a project contact by address, ignoring case.
// Returns nil when no contact matches.
func (r *Repository) FindContactByEmail(ctx context.Context, projectID, email string) (*domain.Contact, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, nil
	}
	var c domain.Contact
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND LOWER(email) = ?", projectID, strings.ToLower(email)).
		Order("created_at ASC").
		First(&c).Error
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find contact by email: %w", err)
	}
	return &c, nil
}

// FindContactByName matches a project contact by display name, ignoring
// case. Returns nil when no contact matches.
func (r *Repository) FindContactByName(ctx context.Context, projectID, name string) (*domain.Contact, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	var c domain.Contact
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND LOWER(name) = ?", projectID, strings.ToLower(name)).
		Order("created_at ASC").
		First(&c).Error
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find contact by name: %w", err)
	}
	return &c, nil
}

// CreateContact inserts a new identity. Email is stored lowercased.
func (r *Repository) CreateContact(ctx context.Context, c *domain.Contact) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.Name = strings.TrimSpace(c.Name)
	if c.Source == "" {
		c.Source = domain.ContactManual
	}
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("failed to create contact: %w", err)
	}
	return nil
}

// ListContacts returns all identities of a project
func (r *Repository) ListContacts(ctx context.Context, projectID string) ([]domain.Contact, error) {
	var out []domain.Contact
	if err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	return out, nil
}
