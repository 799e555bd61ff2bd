// Package correlate resolves open project questions answered by newly
// ingested content.
package correlate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"projectbrain/backend/internal/adapter"
	"projectbrain/backend/internal/domain"
	"projectbrain/backend/internal/extraction"
	"projectbrain/backend/internal/store"
	"projectbrain/backend/pkg/logger"
)

const (
	// DefaultBatchSize bounds the confirmation calls per message
	DefaultBatchSize = 10
	// OverlapThreshold is the share of a question's significant words that
	// must appear in the content before the model is asked
	OverlapThreshold = 0.5
	// minWordLength excludes short words from the overlap
	minWordLength = 5

	confirmMaxTokens   = 300
	confirmTemperature = 0.1
	answerPreviewLimit = 4000
)

// QuestionStore reads and resolves questions
type QuestionStore interface {
	ListOpenQuestionsExcluding(ctx context.Context, projectID, excludeSourceRef string, limit int) ([]domain.Question, error)
	ResolveQuestion(ctx context.Context, id string, res store.Resolution) (*domain.Question, bool, error)
}

// QuestionSyncer mirrors a changed question into the graph
type QuestionSyncer interface {
	SyncQuestion(ctx context.Context, q *domain.Question) error
}

// Invalidator is told when a project's open questions change
type Invalidator interface {
	Invalidate(projectID string)
}

// Report summarizes one correlation pass
type Report struct {
	Evaluated int      `json:"evaluated"`
	Escalated int      `json:"escalated"`
	Resolved  []string `json:"resolved"`
	Failed    int      `json:"failed"`
}

// Verdict is the model's answer to a confirmation call
type Verdict struct {
	Answered   bool
	Confidence domain.Confidence
	Answer     string
}

// Correlator auto-resolves open questions
type Correlator struct {
	llm       adapter.Generator
	questions QuestionStore
	graph     QuestionSyncer
	cache     Invalidator
	batchSize int
	logger    *zap.Logger
}

// NewCorrelator creates an answer correlator. graph and cache may be nil.
func NewCorrelator(llm adapter.Generator, questions QuestionStore, graph QuestionSyncer, cache Invalidator) *Correlator {
	return &Correlator{
		llm:       llm,
		questions: questions,
		graph:     graph,
		cache:     cache,
		batchSize: DefaultBatchSize,
		logger:    logger.Named("correlate"),
	}
}

// Correlate evaluates the project's most recent open questions against
// msg, leaving out the questions msg itself raised. A failed confirmation for one question does not stop the batch.
func (c *Correlator) Correlate(ctx context.Context, msg *domain.Message) (*Report, error) {
	report := &Report{Resolved: []string{}}

	open, err := c.questions.ListOpenQuestionsExcluding(ctx, msg.ProjectID, msg.ID, c.batchSize)
	if err != nil {
		return report, fmt.Errorf("failed to list open questions: %w", err)
	}
	if len(open) == 0 {
		return report, nil
	}

	content := msg.Subject + "\n" + msg.BodyText
	contentWords := wordSet(content)

	for i := range open {
		q := &open[i]
		report.Evaluated++

		if Overlap(q.Content, contentWords) < OverlapThreshold {
			continue
		}
		report.Escalated++

		verdict, err := c.confirm(ctx, q, content)
		if err != nil {
			report.Failed++
			c.logger.Warn("Answer confirmation failed",
				zap.String("question_id", q.ID),
				zap.String("message_id", msg.ID),
				zap.Error(err))
			continue
		}
		if !verdict.Answered || verdict.Confidence != domain.ConfidenceHigh {
			c.logger.Debug("Answer not confirmed",
				zap.String("question_id", q.ID),
				zap.Bool("answered", verdict.Answered),
				zap.Stringer("confidence", verdict.Confidence))
			continue
		}

		resolved, ok, err := c.questions.ResolveQuestion(ctx, q.ID, store.Resolution{
			Answer:     verdict.Answer,
			Provenance: domain.Provenance(string(msg.SourceType), msg.ID),
			SourceRef:  msg.ID,
			Auto:       true,
		})
		if err != nil {
			report.Failed++
			c.logger.Warn("Failed to resolve question", zap.String("question_id", q.ID), zap.Error(err))
			continue
		}
		if !ok {
			// Resolved concurrently by someone else
			continue
		}
		report.Resolved = append(report.Resolved, q.ID)

		if c.graph != nil {
			if err := c.graph.SyncQuestion(ctx, resolved); err != nil {
				c.logger.Warn("Resolved question graph sync failed", zap.String("question_id", q.ID), zap.Error(err))
			}
		}
	}

	if len(report.Resolved) > 0 && c.cache != nil {
		c.cache.Invalidate(msg.ProjectID)
	}
	if report.Escalated > 0 {
		c.logger.Info("Answer correlation completed",
			zap.String("message_id", msg.ID),
			zap.Int("evaluated", report.Evaluated),
			zap.Int("escalated", report.Escalated),
			zap.Int("resolved", len(report.Resolved)),
			zap.Int("failed", report.Failed))
	}
	return report, nil
}

const confirmSystemPrompt = `You decide whether a message answers a project question. Respond with a single JSON object and nothing else.`

func confirmPrompt(question, content string) string {
	if runes := []rune(content); len(runes) > answerPreviewLimit {
		content = string(runes[:answerPreviewLimit])
	}
	var b strings.Builder
	b.WriteString("QUESTION:\n")
	b.WriteString(question)
	b.WriteString("\n\nMESSAGE:\n")
	b.WriteString(content)
	b.WriteString("\n\nDoes this message answer the question, and with what confidence?\n")
	b.WriteString(`Reply as {"answered": true|false, "confidence": "high"|"medium"|"low", "answer": "the answer in one or two sentences"}`)
	return b.String()
}

func (c *Correlator) confirm(ctx context.Context, q *domain.Question, content string) (*Verdict, error) {
	res, err := c.llm.Generate(ctx, adapter.GenerateRequest{
		System:      confirmSystemPrompt,
		Prompt:      confirmPrompt(q.Content, content),
		Temperature: confirmTemperature,
		MaxTokens:   confirmMaxTokens,
	})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fmt.Errorf("confirmation call unsuccessful")
	}
	return ParseVerdict(res.Text)
}

// ParseVerdict reads the confirmation JSON. answered may be a bool or
// "yes"/"true"; confidence a level word or a number in [0,1].
func ParseVerdict(text string) (*Verdict, error) {
	obj, ok := extraction.FindJSONObject(text)
	if !ok {
		return nil, fmt.Errorf("no JSON object in confirmation response")
	}
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode confirmation: %w", err)
	}

	v := &Verdict{}
	switch a := raw["answered"].(type) {
	case bool:
		v.Answered = a
	case string:
		switch strings.ToLower(strings.TrimSpace(a)) {
		case "yes", "true", "y":
			v.Answered = true
		}
	}
	switch conf := raw["confidence"].(type) {
	case string:
		v.Confidence = domain.ParseConfidence(conf)
	case float64:
		switch {
		case conf >= domain.ScoreHigh:
			v.Confidence = domain.ConfidenceHigh
		case conf >= domain.ScoreMedium:
			v.Confidence = domain.ConfidenceMedium
		default:
			v.Confidence = domain.ConfidenceLow
		}
	}
	if s, ok := raw["answer"].(string); ok {
		v.Answer = strings.TrimSpace(s)
	}
	return v, nil
}

// Overlap is the share of the question's significant words present in
// contentWords. Questions without significant words score 0.
func Overlap(question string, contentWords map[string]bool) float64 {
	words := significantWords(question)
	if len(words) == 0 {
		return 0
	}
	hits := 0
	for _, w := range words {
		if contentWords[w] {
			hits++
		}
	}
	return float64(hits) / float64(len(words))
}

// significantWords returns the distinct lowercased words longer than four
// letters, in order of appearance.
func significantWords(text string) []string {
	seen := map[string]bool{}
	var out []string
	for _, w := range tokenize(text) {
		if len([]rune(w)) < minWordLength || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

func wordSet(text string) map[string]bool {
	set := map[string]bool{}
	for _, w := range tokenize(text) {
		set[w] = true
	}
	return set
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
