package contacts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"projectbrain/backend/internal/domain"
	"projectbrain/backend/pkg/logger"
)

// Store is the slice of the relational store the resolver needs
type Store interface {
	FindContactByEmail(ctx context.Context, projectID, email string) (*domain.Contact, error)
	FindContactByName(ctx context.Context, projectID, name string) (*domain.Contact, error)
	CreateContact(ctx context.Context, c *domain.Contact) error
	LinkRecipientContact(ctx context.Context, messageID, address, contactID string) error
}

// Person is an identity candidate: a message participant or an extracted
// person.
type Person struct {
	Email        string
	Name         string
	Phone        string
	Role         string
	Organization string
}

// MatchReport says which identities a message was linked to
type MatchReport struct {
	Sender        *domain.Contact
	Recipients    []*domain.Contact
	NewIdentities int
}

// Resolver links message participants to project contacts. It only ever
// creates identities; it never merges or updates them.
type Resolver struct {
	store  Store
	logger *zap.Logger
}

// NewResolver creates a contact resolver
func NewResolver(store Store) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger.Named("contacts"),
	}
}

// Resolve matches the sender and every recipient of msg. The sender is
// enriched from the body's signature block when a new identity is created.
// A participant that fails to resolve is skipped; the report covers the
// rest and the failures are returned joined.
func (r *Resolver) Resolve(ctx context.Context, msg *domain.Message) (*MatchReport, error) {
	report := &MatchReport{}
	var errs []error

	if msg.FromAddress != "" || msg.FromName != "" {
		sig := ParseSignature(msg.BodyText, msg.FromName)
		sender, created, err := r.ResolvePerson(ctx, msg.ProjectID, Person{
			Email:        msg.FromAddress,
			Name:         msg.FromName,
			Phone:        sig.Phone,
			Role:         sig.Role,
			Organization: sig.Organization,
		}, domain.ContactFromMessage)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("failed to resolve sender: %w", err))
			r.logger.Warn("Failed to resolve sender",
				zap.String("message_id", msg.ID),
				zap.String("address", msg.FromAddress),
				zap.Error(err))
		default:
			report.Sender = sender
			if created {
				report.NewIdentities++
			}
		}
	}

	seen := make(map[string]bool, len(msg.Recipients))
	for _, rcpt := range msg.Recipients {
		key := strings.ToLower(rcpt.Address)
		if key == "" {
			key = "name:" + strings.ToLower(rcpt.Name)
		}
		if key == "name:" || seen[key] {
			continue
		}
		seen[key] = true

		contact, created, err := r.ResolvePerson(ctx, msg.ProjectID, Person{
			Email: rcpt.Address,
			Name:  rcpt.Name,
		}, domain.ContactFromMessage)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to resolve recipient %s: %w", rcpt.Address, err))
			r.logger.Warn("Failed to resolve recipient",
				zap.String("message_id", msg.ID),
				zap.String("address", rcpt.Address),
				zap.Error(err))
			continue
		}
		report.Recipients = append(report.Recipients, contact)
		if created {
			report.NewIdentities++
		}

		if rcpt.Address != "" && msg.ID != "" {
			if err := r.store.LinkRecipientContact(ctx, msg.ID, rcpt.Address, contact.ID); err != nil {
				r.logger.Warn("Failed to link recipient to contact",
					zap.String("message_id", msg.ID),
					zap.String("contact_id", contact.ID),
					zap.Error(err))
			}
		}
	}

	r.logger.Debug("Message participants resolved",
		zap.String("project_id", msg.ProjectID),
		zap.Int("recipients", len(report.Recipients)),
		zap.Int("new_identities", report.NewIdentities),
		zap.Int("failed", len(errs)))
	return report, errors.Join(errs...)
}

// ResolvePerson returns the project contact matching p by email, then by
// display name, creating one when neither matches. The boolean reports
// whether a new identity was created.
func (r *Resolver) ResolvePerson(ctx context.Context, projectID string, p Person, source domain.ContactSource) (*domain.Contact, bool, error) {
	p.Email = normalizeEmail(p.Email)
	p.Name = cleanName(p.Name)
	if p.Email == "" && p.Name == "" {
		return nil, false, fmt.Errorf("person has neither email nor name")
	}

	if p.Email != "" {
		existing, err := r.store.FindContactByEmail(ctx, projectID, p.Email)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	if p.Name != "" {
		existing, err := r.store.FindContactByName(ctx, projectID, p.Name)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	c := &domain.Contact{
		ProjectID:    projectID,
		Email:        p.Email,
		Name:         p.Name,
		Phone:        p.Phone,
		Role:         p.Role,
		Organization: p.Organization,
		Source:       source,
	}
	if c.Name == "" {
		c.Name = nameFromEmail(p.Email)
	}
	if err := r.store.CreateContact(ctx, c); err != nil {
		return nil, false, err
	}

	r.logger.Info("Contact created",
		zap.String("project_id", projectID),
		zap.String("contact_id", c.ID),
		zap.String("source", string(source)))
	return c, true, nil
}

func normalizeEmail(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "<>")
	if !strings.Contains(s, "@") {
		return ""
	}
	return strings.ToLower(s)
}

func cleanName(s string) string {
	s = strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `"'`))
	return strings.Join(strings.Fields(s), " ")
}

// nameFromEmail derives "Jane Doe" from "jane.doe@corp.com"
func nameFromEmail(email string) string {
	local, _, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return ""
	}
	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
