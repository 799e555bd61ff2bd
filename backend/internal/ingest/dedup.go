package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"go.uber.org/zap"

	"projectbrain/backend/internal/domain"
	apperrors "projectbrain/backend/pkg/errors"
	"projectbrain/backend/pkg/logger"
)

// FingerprintBodyPrefix is how many characters of the body feed the
// fingerprint. Messages that differ only after this prefix collide.
const FingerprintBodyPrefix = 1000

// Fingerprint derives the content fingerprint of a message from its
// sender, subject, body prefix and timestamp.
func Fingerprint(sender, subject, body string, ts time.Time) string {
	runes := []rune(body)
	if len(runes) > FingerprintBodyPrefix {
		runes = runes[:FingerprintBodyPrefix]
	}

	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(sender))))
	h.Write([]byte{'|'})
	h.Write([]byte(subject))
	h.Write([]byte{'|'})
	h.Write([]byte(string(runes)))
	h.Write([]byte{'|'})
	h.Write([]byte(ts.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(h.Sum(nil))
}

// FingerprintStore finds an existing message by fingerprint
type FingerprintStore interface {
	FindMessageByFingerprint(ctx context.Context, projectID, fingerprint string) (*domain.Message, error)
}

// DedupGate rejects messages already ingested into the same project. The
// check is not locked; the store's unique index catches concurrent races.
type DedupGate struct {
	store  FingerprintStore
	logger *zap.Logger
}

// NewDedupGate creates a deduplication gate
func NewDedupGate(store FingerprintStore) *DedupGate {
	return &DedupGate{
		store:  store,
		logger: logger.Named("dedup"),
	}
}

// Check computes msg's fingerprint, stores it on msg and returns a
// DuplicateError when the project already holds a message with it.
func (g *DedupGate) Check(ctx context.Context, projectID string, msg *domain.Message) error {
	msg.ContentFingerprint = Fingerprint(msg.FromAddress, msg.Subject, msg.BodyText, msg.Timestamp)

	existing, err := g.store.FindMessageByFingerprint(ctx, projectID, msg.ContentFingerprint)
	if err != nil {
		return err
	}
	if existing != nil {
		g.logger.Info("Duplicate message rejected",
			zap.String("project_id", projectID),
			zap.String("existing_id", existing.ID),
			zap.String("fingerprint", msg.ContentFingerprint))
		return apperrors.NewDuplicateError(existing.ID, msg.ContentFingerprint)
	}
	return nil
}
