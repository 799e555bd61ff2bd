package extraction

import (
	"context"
	"time"

	"go.uber.org/zap"

	"projectbrain/backend/internal/adapter"
	"projectbrain/backend/internal/domain"
	apperrors "projectbrain/backend/pkg/errors"
	"projectbrain/backend/pkg/logger"
)

// ContextSource supplies the project context block for prompts
type ContextSource interface {
	ContextFor(ctx context.Context, projectID string) (string, error)
}

// DefaultTemperature applies when Options.Temperature is nil
const DefaultTemperature float32 = 0.3

// Options tunes the generation call
type Options struct {
	Model       string
	Temperature *float32 // nil means DefaultTemperature, 0 is deterministic
	MaxTokens   int
	// PromptOverrides maps project id to replacement instructions
	PromptOverrides map[string]string
}

// Engine turns one canonical message into an entity bundle with a single
// generation call.
type Engine struct {
	llm         adapter.Generator
	context     ContextSource
	opts        Options
	temperature float32
	logger      *zap.Logger
}

// NewEngine creates an extraction engine. ctxSource may be nil.
func NewEngine(llm adapter.Generator, ctxSource ContextSource, opts Options) *Engine {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2000
	}
	temperature := DefaultTemperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	return &Engine{
		llm:         llm,
		context:     ctxSource,
		opts:        opts,
		temperature: temperature,
		logger:      logger.Named("extraction"),
	}
}

// Extract runs extraction for msg. Any failure is returned as an
// *ExtractionSoftFailure; callers keep going without entities.
func (e *Engine) Extract(ctx context.Context, msg *domain.Message) (*domain.EntityBundle, error) {
	start := time.Now()

	contextBlock := ""
	if e.context != nil {
		block, err := e.context.ContextFor(ctx, msg.ProjectID)
		if err != nil {
			// Extraction still works without context
			e.logger.Warn("Failed to load project context",
				zap.String("project_id", msg.ProjectID),
				zap.Error(err))
		} else {
			contextBlock = block
		}
	}

	prompt := BuildPrompt(msg, contextBlock, e.opts.PromptOverrides[msg.ProjectID])
	res, err := e.llm.Generate(ctx, adapter.GenerateRequest{
		System:      systemPrompt,
		Prompt:      prompt,
		Temperature: e.temperature,
		MaxTokens:   e.opts.MaxTokens,
	})
	if err != nil {
		e.logger.Warn("Extraction generation failed",
			zap.String("message_id", msg.ID),
			zap.Error(err))
		return nil, apperrors.NewExtractionSoftFailure(e.opts.Model, "generation failed", "", err)
	}
	if !res.Success {
		e.logger.Warn("Extraction returned no content", zap.String("message_id", msg.ID))
		return nil, apperrors.NewExtractionSoftFailure(res.Model, "generation returned no content", res.Text, nil)
	}

	bundle, err := ParseBundle(res.Text)
	if err != nil {
		e.logger.Warn("Extraction response unparsable",
			zap.String("message_id", msg.ID),
			zap.Error(err))
		return nil, apperrors.NewExtractionSoftFailure(res.Model, "response not parsable", res.Text, err)
	}

	e.logger.Info("Message extracted",
		zap.String("message_id", msg.ID),
		zap.String("project_id", msg.ProjectID),
		zap.Int("facts", len(bundle.Facts)),
		zap.Int("decisions", len(bundle.Decisions)),
		zap.Int("risks", len(bundle.Risks)),
		zap.Int("action_items", len(bundle.ActionItems)),
		zap.Int("questions", len(bundle.Questions)),
		zap.Int("people", len(bundle.People)),
		zap.Int("skipped", bundle.Skipped),
		zap.Int("total_tokens", res.Usage.TotalTokens),
		zap.Duration("duration", time.Since(start)))
	return bundle, nil
}
