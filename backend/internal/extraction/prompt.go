package extraction

import (
	"fmt"
	"strings"

	"projectbrain/backend/internal/domain"
)

const systemPrompt = `You extract structured project knowledge from communications.
Respond with a single JSON object and nothing else.`

const defaultInstructions = `Analyze the message below and extract project knowledge.

Return JSON with this exact shape:
{
  "summary": "one or two sentence summary",
  "intent": "inform | request | decide | escalate | question | other",
  "sentiment": "positive | neutral | negative",
  "requires_response": true,
  "facts": [{"content": "...", "category": "...", "confidence": "high|medium|low"}],
  "decisions": [{"content": "...", "rationale": "...", "made_by": "...", "confidence": "high|medium|low"}],
  "risks": [{"content": "...", "severity": "high|medium|low", "likelihood": "high|medium|low", "mitigation": "...", "owner": "...", "confidence": "high|medium|low"}],
  "action_items": [{"content": "...", "owner": "...", "due_date": "YYYY-MM-DD or text", "priority": "high|medium|low", "confidence": "high|medium|low"}],
  "questions": [{"content": "...", "asked_by": "...", "assignee": "...", "priority": "high|medium|low", "confidence": "high|medium|low"}],
  "people": [{"name": "...", "email": "...", "role": "...", "organization": "...", "phone": "..."}]
}

Rules:
- Only extract what the message states or clearly implies
- Do not repeat items already listed under PROJECT CONTEXT
- Use empty arrays when nothing applies
- Every item except people needs "content"; people need "name" or "email"`

// BuildPrompt renders the user prompt for one message. custom replaces the
// default instructions when non-empty.
func BuildPrompt(msg *domain.Message, contextBlock, custom string) string {
	var b strings.Builder

	instructions := defaultInstructions
	if strings.TrimSpace(custom) != "" {
		instructions = custom
	}
	b.WriteString(instructions)
	b.WriteString("\n\n")

	if strings.TrimSpace(contextBlock) != "" {
		b.WriteString("PROJECT CONTEXT:\n")
		b.WriteString(contextBlock)
		b.WriteString("\n\n")
	}

	b.WriteString("MESSAGE:\n")
	if msg.FromAddress != "" || msg.FromName != "" {
		fmt.Fprintf(&b, "From: %s\n", formatParty(msg.FromName, msg.FromAddress))
	}
	for _, h := range []struct {
		label string
		kind  domain.RecipientKind
	}{{"To", domain.RecipientTo}, {"Cc", domain.RecipientCc}} {
		var parties []string
		for _, r := range msg.Recipients {
			if r.Kind == h.kind {
				parties = append(parties, formatParty(r.Name, r.Address))
			}
		}
		if len(parties) > 0 {
			fmt.Fprintf(&b, "%s: %s\n", h.label, strings.Join(parties, ", "))
		}
	}
	if !msg.Timestamp.IsZero() {
		fmt.Fprintf(&b, "Date: %s\n", msg.Timestamp.UTC().Format("2006-01-02 15:04 MST"))
	}
	if msg.Subject != "" {
		fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	}
	b.WriteString("\n")
	b.WriteString(msg.BodyText)
	return b.String()
}

func formatParty(name, address string) string {
	switch {
	case name != "" && address != "":
		return fmt.Sprintf("%s <%s>", name, address)
	case address != "":
		return address
	}
	return name
}
