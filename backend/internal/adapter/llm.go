package adapter

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"projectbrain/backend/pkg/logger"
)

// Generator produces text from a prompt. The extraction engine and the
// answer correlator depend on this, not on a concrete client.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

// Embedder turns texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbeddingModel() string
}

// GenerateRequest is one text generation call. A zero Temperature asks
// for deterministic output.
type GenerateRequest struct {
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int
}

// Usage reports token accounting for a call
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GenerateResult is the outcome of a generation call. Success is false when
// the service answered but produced no usable text.
type GenerateResult struct {
	Success bool
	Text    string
	Model   string
	Usage   Usage
}

// LLMAdapter handles communication with an OpenAI-compatible endpoint
// (LiteLLM or the OpenAI API itself)
type LLMAdapter struct {
	client         *openai.Client
	model          string
	embeddingModel string
	maxRetries     int
	backoff        time.Duration
	logger         *zap.Logger
}

// NewLLMAdapter creates a new LLM adapter
func NewLLMAdapter(baseURL, apiKey, modelID, embeddingModelID string) *LLMAdapter {
	// LiteLLM accepts any key when none is configured
	if apiKey == "" {
		apiKey = "dummy-key"
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = strings.TrimRight(baseURL, "/") + "/v1"

	if embeddingModelID == "" {
		embeddingModelID = string(openai.SmallEmbedding3)
	}

	return &LLMAdapter{
		client:         openai.NewClientWithConfig(config),
		model:          modelID,
		embeddingModel: embeddingModelID,
		maxRetries:     3,
		backoff:        time.Second,
		logger:         logger.Named("llm"),
	}
}

// GetModel returns the current model
func (a *LLMAdapter) GetModel() string {
	return a.model
}

// EmbeddingModel returns the embedding model id
func (a *LLMAdapter) EmbeddingModel() string {
	return a.embeddingModel
}

// Generate sends a single chat completion request and returns the text
func (a *LLMAdapter) Generate(ctx context.Context, in GenerateRequest) (*GenerateResult, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if in.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: in.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: in.Prompt,
	})

	// go-openai drops a zero temperature from the request body
	temperature := in.Temperature
	if temperature <= 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	currentModel := a.GetModel()
	req := openai.ChatCompletionRequest{
		Model:       currentModel,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   in.MaxTokens,
	}

	var resp openai.ChatCompletionResponse
	err := a.withRetry(ctx, "chat completion", currentModel, func() error {
		var callErr error
		resp, callErr = a.client.CreateChatCompletion(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	result := &GenerateResult{
		Model: resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if result.Model == "" {
		result.Model = currentModel
	}
	if len(resp.Choices) == 0 {
		a.logger.Warn("No choices in LLM response", zap.String("model", currentModel))
		return result, nil
	}

	result.Text = resp.Choices[0].Message.Content
	result.Success = strings.TrimSpace(result.Text) != ""

	a.logger.Debug("LLM response generated",
		zap.String("model", result.Model),
		zap.Int("total_tokens", result.Usage.TotalTokens),
		zap.Bool("has_content", result.Success),
	)
	return result, nil
}

// Embed returns one vector per input text, in input order
func (a *LLMAdapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	model := a.EmbeddingModel()
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(model),
	}

	var resp openai.EmbeddingResponse
	err := a.withRetry(ctx, "embedding", model, func() error {
		var callErr error
		resp, callErr = a.client.CreateEmbeddings(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding index out of range: %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// withRetry runs call up to maxRetries times with linear backoff
func (a *LLMAdapter) withRetry(ctx context.Context, op, model string, call func() error) error {
	var err error
	for attempt := 0; attempt < a.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * a.backoff
			a.logger.Warn("Retrying LLM request",
				zap.String("operation", op),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err = call()
		if err == nil {
			return nil
		}

		errMsg := err.Error()
		a.logger.Error("LLM request failed",
			zap.Error(err),
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.String("model", model),
		)

		// Non-JSON bodies usually mean a proxy error page
		if strings.Contains(errMsg, "invalid character") {
			a.logger.Warn("LLM service returned non-JSON error response - this may be a transient server issue",
				zap.String("error", errMsg),
			)
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, a.maxRetries, err)
}
