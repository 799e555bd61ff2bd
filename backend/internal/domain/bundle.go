package domain

import (
	"strconv"
	"strings"
)

// Confidence is the closed set of confidence levels the extraction model
// may report.
type Confidence int

const (
	ConfidenceUnknown Confidence = iota
	ConfidenceLow
	ConfidenceMedium
	ConfidenceHigh
)

// Numeric scores stored on knowledge rows.
const (
	ScoreHigh    = 0.9
	ScoreMedium  = 0.7
	ScoreLow     = 0.4
	ScoreDefault = 0.7
)

// ParseConfidence maps "high"/"medium"/"low" (any case) to a level.
// Anything else is ConfidenceUnknown.
func ParseConfidence(s string) Confidence {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return ConfidenceHigh
	case "medium", "med":
		return ConfidenceMedium
	case "low":
		return ConfidenceLow
	}
	return ConfidenceUnknown
}

// Score returns the numeric value for the level; unknown maps to 0.7.
func (c Confidence) Score() float64 {
	switch c {
	case ConfidenceHigh:
		return ScoreHigh
	case ConfidenceMedium:
		return ScoreMedium
	case ConfidenceLow:
		return ScoreLow
	}
	return ScoreDefault
}

func (c Confidence) String() string {
	switch c {
	case ConfidenceHigh:
		return "high"
	case ConfidenceMedium:
		return "medium"
	case ConfidenceLow:
		return "low"
	}
	return "unknown"
}

// ConfidenceScore accepts either a level word or a number in [0,1].
func ConfidenceScore(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if f, err := strconv.ParseFloat(raw, 64); err == nil && f >= 0 && f <= 1 {
		return f
	}
	return ParseConfidence(raw).Score()
}

// EntityBundle is the ephemeral per-message result of extraction.
type EntityBundle struct {
	Facts            []ExtractedFact
	Decisions        []ExtractedDecision
	Risks            []ExtractedRisk
	ActionItems      []ExtractedActionItem
	Questions        []ExtractedQuestion
	People           []ExtractedPerson
	Summary          string
	Intent           string
	Sentiment        string
	RequiresResponse bool

	// Skipped counts items dropped for missing required fields.
	Skipped int
}

// Empty reports whether no entity of any kind was extracted.
func (b *EntityBundle) Empty() bool {
	return b == nil || len(b.Facts)+len(b.Decisions)+len(b.Risks)+len(b.ActionItems)+len(b.Questions)+len(b.People) == 0
}

type ExtractedFact struct {
	Content    string
	Category   string
	Confidence float64
}

type ExtractedDecision struct {
	Content    string
	Rationale  string
	MadeBy     string
	Confidence float64
}

type ExtractedRisk struct {
	Content    string
	Severity   string
	Likelihood string
	Mitigation string
	Owner      string
	Confidence float64
}

type ExtractedActionItem struct {
	Content    string
	Owner      string
	DueDate    string
	Priority   string
	Confidence float64
}

type ExtractedQuestion struct {
	Content    string
	AskedBy    string
	Assignee   string
	Priority   string
	Confidence float64
}

type ExtractedPerson struct {
	Name         string
	Email        string
	Role         string
	Organization string
	Phone        string
}

// EntityCounts reports how many rows of each type were persisted.
type EntityCounts struct {
	Facts       int `json:"facts"`
	Decisions   int `json:"decisions"`
	Risks       int `json:"risks"`
	ActionItems int `json:"action_items"`
	Questions   int `json:"questions"`
	People      int `json:"people"`
}

// Total sums all counts.
func (c EntityCounts) Total() int {
	return c.Facts + c.Decisions + c.Risks + c.ActionItems + c.Questions + c.People
}
