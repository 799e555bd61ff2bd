package extraction

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"projectbrain/backend/internal/domain"
)

// FindJSONObject returns the first balanced top-level {...} in text. Braces
// inside JSON strings are ignored, so prose and markdown fences around the
// object do not matter.
func FindJSONObject(text string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		ch := text[i]
		if start < 0 {
			if ch == '{' {
				start = i
				depth = 1
			}
			continue
		}

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := text[start : i+1]
				if json.Valid([]byte(candidate)) {
					return candidate, true
				}
				// Not JSON (e.g. a "{placeholder}" in prose); keep looking
				i = start
				start = -1
			}
		}
	}
	return "", false
}

// flexString accepts a JSON string, number or bool
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexString(n.String())
		return nil
	}
	var v bool
	if err := json.Unmarshal(b, &v); err == nil {
		*f = flexString(strconv.FormatBool(v))
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	return fmt.Errorf("unsupported value: %s", string(b))
}

func (f flexString) String() string {
	return strings.TrimSpace(string(f))
}

// flexBool accepts true/false, "yes"/"no" and "true"/"false"
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	switch strings.ToLower(s.String()) {
	case "true", "yes", "y", "1":
		*f = true
	default:
		*f = false
	}
	return nil
}

type rawResponse struct {
	Summary          flexString        `json:"summary"`
	Intent           flexString        `json:"intent"`
	Sentiment        flexString        `json:"sentiment"`
	RequiresResponse flexBool          `json:"requires_response"`
	Facts            []json.RawMessage `json:"facts"`
	Decisions        []json.RawMessage `json:"decisions"`
	Risks            []json.RawMessage `json:"risks"`
	ActionItems      []json.RawMessage `json:"action_items"`
	Questions        []json.RawMessage `json:"questions"`
	People           []json.RawMessage `json:"people"`
}

type rawItem struct {
	Content      flexString `json:"content"`
	Category     flexString `json:"category"`
	Confidence   flexString `json:"confidence"`
	Rationale    flexString `json:"rationale"`
	MadeBy       flexString `json:"made_by"`
	Severity     flexString `json:"severity"`
	Likelihood   flexString `json:"likelihood"`
	Mitigation   flexString `json:"mitigation"`
	Owner        flexString `json:"owner"`
	DueDate      flexString `json:"due_date"`
	Priority     flexString `json:"priority"`
	AskedBy      flexString `json:"asked_by"`
	Assignee     flexString `json:"assignee"`
	Name         flexString `json:"name"`
	Email        flexString `json:"email"`
	Role         flexString `json:"role"`
	Organization flexString `json:"organization"`
	Phone        flexString `json:"phone"`
}

// ParseBundle locates the JSON object in a model response and converts it
// to an entity bundle. Items that are malformed or lack their required
// field are skipped and counted in Bundle.Skipped.
func ParseBundle(text string) (*domain.EntityBundle, error) {
	obj, ok := FindJSONObject(text)
	if !ok {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var raw rawResponse
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode extraction JSON: %w", err)
	}

	b := &domain.EntityBundle{
		Summary:          raw.Summary.String(),
		Intent:           raw.Intent.String(),
		Sentiment:        raw.Sentiment.String(),
		RequiresResponse: bool(raw.RequiresResponse),
	}

	eachItem(raw.Facts, b, requireContent, func(it rawItem) {
		b.Facts = append(b.Facts, domain.ExtractedFact{
			Content:    it.Content.String(),
			Category:   it.Category.String(),
			Confidence: domain.ConfidenceScore(it.Confidence.String()),
		})
	})
	eachItem(raw.Decisions, b, requireContent, func(it rawItem) {
		b.Decisions = append(b.Decisions, domain.ExtractedDecision{
			Content:    it.Content.String(),
			Rationale:  it.Rationale.String(),
			MadeBy:     it.MadeBy.String(),
			Confidence: domain.ConfidenceScore(it.Confidence.String()),
		})
	})
	eachItem(raw.Risks, b, requireContent, func(it rawItem) {
		b.Risks = append(b.Risks, domain.ExtractedRisk{
			Content:    it.Content.String(),
			Severity:   strings.ToLower(it.Severity.String()),
			Likelihood: strings.ToLower(it.Likelihood.String()),
			Mitigation: it.Mitigation.String(),
			Owner:      it.Owner.String(),
			Confidence: domain.ConfidenceScore(it.Confidence.String()),
		})
	})
	eachItem(raw.ActionItems, b, requireContent, func(it rawItem) {
		b.ActionItems = append(b.ActionItems, domain.ExtractedActionItem{
			Content:    it.Content.String(),
			Owner:      it.Owner.String(),
			DueDate:    it.DueDate.String(),
			Priority:   strings.ToLower(it.Priority.String()),
			Confidence: domain.ConfidenceScore(it.Confidence.String()),
		})
	})
	eachItem(raw.Questions, b, requireContent, func(it rawItem) {
		b.Questions = append(b.Questions, domain.ExtractedQuestion{
			Content:    it.Content.String(),
			AskedBy:    it.AskedBy.String(),
			Assignee:   it.Assignee.String(),
			Priority:   strings.ToLower(it.Priority.String()),
			Confidence: domain.ConfidenceScore(it.Confidence.String()),
		})
	})
	eachItem(raw.People, b, requireIdentity, func(it rawItem) {
		b.People = append(b.People, domain.ExtractedPerson{
			Name:         it.Name.String(),
			Email:        it.Email.String(),
			Role:         it.Role.String(),
			Organization: it.Organization.String(),
			Phone:        it.Phone.String(),
		})
	})
	return b, nil
}

func requireContent(it rawItem) bool {
	return it.Content.String() != ""
}

func requireIdentity(it rawItem) bool {
	return it.Name.String() != "" || it.Email.String() != ""
}

func eachItem(items []json.RawMessage, b *domain.EntityBundle, valid func(rawItem) bool, add func(rawItem)) {
	for _, msg := range items {
		var it rawItem
		if err := json.Unmarshal(msg, &it); err != nil || !valid(it) {
			b.Skipped++
			continue
		}
		add(it)
	}
}
