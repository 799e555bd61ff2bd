package domain

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// SourceType tags where a canonical message came from
type SourceType string

const (
	SourceUpload   SourceType = "upload"
	SourcePaste    SourceType = "paste"
	SourceAPI      SourceType = "api"
	SourceOutbound SourceType = "outbound"
)

// ParseSourceType maps a wire value to a SourceType.
func ParseSourceType(s string) (SourceType, bool) {
	switch SourceType(strings.ToLower(strings.TrimSpace(s))) {
	case SourceUpload:
		return SourceUpload, true
	case SourcePaste:
		return SourcePaste, true
	case SourceAPI:
		return SourceAPI, true
	case SourceOutbound:
		return SourceOutbound, true
	}
	return "", false
}

// Project is the tenant boundary for data and for the dedicated graph.
type Project struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is the canonical record of one ingested communication item.
// ContentFingerprint is unique per project.
type Message struct {
	ID                 string      `gorm:"primaryKey;size:64" json:"id"`
	ProjectID          string      `gorm:"size:64;not null;uniqueIndex:idx_messages_project_fp,priority:1" json:"project_id"`
	SourceType         SourceType  `gorm:"size:16;not null" json:"source_type"`
	FromAddress        string      `gorm:"size:320;index" json:"from_address"`
	FromName           string      `gorm:"size:255" json:"from_name"`
	Recipients         []Recipient `gorm:"foreignKey:MessageID" json:"recipients"`
	Subject            string      `gorm:"size:1000" json:"subject"`
	BodyText           string      `gorm:"type:text" json:"body_text"`
	Timestamp          time.Time   `gorm:"index" json:"timestamp"`
	ContentFingerprint string      `gorm:"size:64;not null;uniqueIndex:idx_messages_project_fp,priority:2" json:"content_fingerprint"`
	ThreadID           string      `gorm:"size:255;index" json:"thread_id,omitempty"`
	RawPayloadRef      string      `gorm:"size:1000" json:"raw_payload_ref,omitempty"`

	// Extraction attachments
	Processed        bool       `gorm:"not null;default:false" json:"processed"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`
	Summary          string     `gorm:"type:text" json:"summary,omitempty"`
	Intent           string     `gorm:"size:64" json:"intent,omitempty"`
	Sentiment        string     `gorm:"size:32" json:"sentiment,omitempty"`
	RequiresResponse bool       `json:"requires_response"`
	ExtractionError  string     `gorm:"type:text" json:"extraction_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecipientKind is the addressing header a recipient appeared in
type RecipientKind string

const (
	RecipientTo  RecipientKind = "to"
	RecipientCc  RecipientKind = "cc"
	RecipientBcc RecipientKind = "bcc"
)

// Recipient is one addressee of a message. Owned by the message.
type Recipient struct {
	ID        uint          `gorm:"primaryKey" json:"-"`
	MessageID string        `gorm:"size:64;not null;index" json:"message_id"`
	Kind      RecipientKind `gorm:"size:8;not null" json:"kind"`
	Address   string        `gorm:"size:320" json:"address"`
	Name      string        `gorm:"size:255" json:"name"`
	ContactID string        `gorm:"size:64" json:"contact_id,omitempty"`
}

// MessageEmbedding holds the latest embedding for a message body.
type MessageEmbedding struct {
	MessageID  string         `gorm:"primaryKey;size:64" json:"message_id"`
	ProjectID  string         `gorm:"size:64;not null;index" json:"project_id"`
	Model      string         `gorm:"size:128" json:"model"`
	Dimensions int            `json:"dimensions"`
	Vector     datatypes.JSON `json:"vector"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ContactSource records who created an identity
type ContactSource string

const (
	ContactFromMessage    ContactSource = "message"
	ContactFromExtraction ContactSource = "extraction"
	ContactManual         ContactSource = "manual"
)

// Contact is a project-scoped identity, deduplicated by email then name.
type Contact struct {
	ID           string        `gorm:"primaryKey;size:64" json:"id"`
	ProjectID    string        `gorm:"size:64;not null;index:idx_contacts_project_email,priority:1;index:idx_contacts_project_name,priority:1" json:"project_id"`
	Email        string        `gorm:"size:320;index:idx_contacts_project_email,priority:2" json:"email,omitempty"`
	Name         string        `gorm:"size:255;index:idx_contacts_project_name,priority:2" json:"name,omitempty"`
	Phone        string        `gorm:"size:64" json:"phone,omitempty"`
	Role         string        `gorm:"size:255" json:"role,omitempty"`
	Organization string        `gorm:"size:255" json:"organization,omitempty"`
	Source       ContactSource `gorm:"size:16" json:"source"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// DisplayName returns the best human label for the contact.
func (c *Contact) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Email
}

// Origin is shared by every knowledge item: owning project, provenance
// string, weak back-reference to the source message and an optional
// grouping context (sprint, task, ...).
type Origin struct {
	ProjectID  string `gorm:"size:64;not null;index" json:"project_id"`
	Provenance string `gorm:"size:255" json:"provenance"`
	SourceRef  string `gorm:"size:64;index" json:"source_ref,omitempty"`
	GroupKind  string `gorm:"size:32" json:"group_kind,omitempty"`
	GroupID    string `gorm:"size:64" json:"group_id,omitempty"`
}

// FactStatus is the lifecycle of a fact
type FactStatus string

const (
	FactActive     FactStatus = "active"
	FactSuperseded FactStatus = "superseded"
)

// Fact is an extracted or manual statement of fact.
type Fact struct {
	ID         string     `gorm:"primaryKey;size:64" json:"id"`
	Origin     `gorm:"embedded"`
	Content    string     `gorm:"type:text;not null" json:"content"`
	Category   string     `gorm:"size:64" json:"category,omitempty"`
	Confidence float64    `json:"confidence"`
	Status     FactStatus `gorm:"size:16;not null" json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// DecisionStatus is the lifecycle of a decision
type DecisionStatus string

const (
	DecisionProposed DecisionStatus = "proposed"
	DecisionMade     DecisionStatus = "made"
	DecisionReversed DecisionStatus = "reversed"
)

// Decision records something the team decided.
type Decision struct {
	ID         string         `gorm:"primaryKey;size:64" json:"id"`
	Origin     `gorm:"embedded"`
	Content    string         `gorm:"type:text;not null" json:"content"`
	Rationale  string         `gorm:"type:text" json:"rationale,omitempty"`
	MadeBy     string         `gorm:"size:255" json:"made_by,omitempty"`
	Confidence float64        `json:"confidence"`
	Status     DecisionStatus `gorm:"size:16;not null" json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// RiskStatus is the lifecycle of a risk
type RiskStatus string

const (
	RiskOpen      RiskStatus = "open"
	RiskMitigated RiskStatus = "mitigated"
	RiskClosed    RiskStatus = "closed"
)

// Risk is a project risk.
type Risk struct {
	ID         string     `gorm:"primaryKey;size:64" json:"id"`
	Origin     `gorm:"embedded"`
	Content    string     `gorm:"type:text;not null" json:"content"`
	Severity   string     `gorm:"size:16" json:"severity,omitempty"`
	Likelihood string     `gorm:"size:16" json:"likelihood,omitempty"`
	Mitigation string     `gorm:"type:text" json:"mitigation,omitempty"`
	Owner      string     `gorm:"size:255" json:"owner,omitempty"`
	Confidence float64    `json:"confidence"`
	Status     RiskStatus `gorm:"size:16;not null" json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// ActionStatus is the lifecycle of an action item
type ActionStatus string

const (
	ActionOpen       ActionStatus = "open"
	ActionInProgress ActionStatus = "in_progress"
	ActionDone       ActionStatus = "done"
	ActionCancelled  ActionStatus = "cancelled"
)

// ActionItem is a task someone should do.
type ActionItem struct {
	ID             string       `gorm:"primaryKey;size:64" json:"id"`
	Origin         `gorm:"embedded"`
	Content        string       `gorm:"type:text;not null" json:"content"`
	Owner          string       `gorm:"size:255" json:"owner,omitempty"`
	OwnerContactID string       `gorm:"size:64" json:"owner_contact_id,omitempty"`
	DueDate        *time.Time   `json:"due_date,omitempty"`
	DueText        string       `gorm:"size:64" json:"due_text,omitempty"`
	Priority       string       `gorm:"size:16" json:"priority,omitempty"`
	Confidence     float64      `json:"confidence"`
	Status         ActionStatus `gorm:"size:16;not null" json:"status"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// QuestionStatus is the lifecycle of a question:
// pending -> assigned -> resolved | dismissed | reopened
type QuestionStatus string

const (
	QuestionPending   QuestionStatus = "pending"
	QuestionAssigned  QuestionStatus = "assigned"
	QuestionResolved  QuestionStatus = "resolved"
	QuestionDismissed QuestionStatus = "dismissed"
	QuestionReopened  QuestionStatus = "reopened"
)

// OpenQuestionStatuses are the statuses a question can still be answered in.
var OpenQuestionStatuses = []QuestionStatus{QuestionPending, QuestionAssigned, QuestionReopened}

// IsOpen reports whether the status still awaits an answer.
func (s QuestionStatus) IsOpen() bool {
	for _, open := range OpenQuestionStatuses {
		if s == open {
			return true
		}
	}
	return false
}

// Question is an open or answered project question.
type Question struct {
	ID               string         `gorm:"primaryKey;size:64" json:"id"`
	Origin           `gorm:"embedded"`
	Content          string         `gorm:"type:text;not null" json:"content"`
	AskedBy          string         `gorm:"size:255" json:"asked_by,omitempty"`
	Assignee         string         `gorm:"size:255" json:"assignee,omitempty"`
	Priority         string         `gorm:"size:16" json:"priority,omitempty"`
	Confidence       float64        `json:"confidence"`
	Status           QuestionStatus `gorm:"size:16;not null;index" json:"status"`
	Answer           string         `gorm:"type:text" json:"answer,omitempty"`
	AnswerProvenance string         `gorm:"size:255" json:"answer_provenance,omitempty"`
	AnswerSourceRef  string         `gorm:"size:64" json:"answer_source_ref,omitempty"`
	AutoResolved     bool           `json:"auto_resolved"`
	ResolvedAt       *time.Time     `json:"resolved_at,omitempty"`
	CreatedAt        time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Provenance builds the provenance string stored on knowledge items.
// Manual entries use the "manual" source.
func Provenance(source, sourceID string) string {
	if source == "" {
		source = "manual"
	}
	if sourceID == "" {
		return source
	}
	return source + ":" + sourceID
}
