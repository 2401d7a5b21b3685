// Package genai provides the AI provider used by ai-generated flow steps,
// implemented on top of the OpenAI API.
package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/FlowDeckHQ/FlowDeck/internal/models"
)

// DefaultMaxRetries bounds how many times a failed completion is retried
// before the caller falls back to typed fallback content.
const DefaultMaxRetries = 2

// DefaultModel is used when a step does not declare a model.
const DefaultModel = openai.ChatModelGPT4oMini

// Request describes one generation call made on behalf of a flow step.
type Request struct {
	Prompt      string
	Model       string
	Temperature float64
	OutputType  models.AIOutputType
	Variables   map[string]string
}

// Provider generates step content from a rendered prompt and the session's
// collected variables. The returned result is tagged; its type may differ
// from the requested output type.
type Provider interface {
	Generate(ctx context.Context, req Request) (*models.AIResult, error)
}

// chatService defines the minimal interface for chat completions.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey     string
	MaxRetries int
}

// Option configures the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithMaxRetries overrides the bounded retry count.
func WithMaxRetries(n int) Option {
	return func(o *Opts) { o.MaxRetries = n }
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat       chatService
	maxRetries int
}

// Compile-time check that Client implements Provider.
var _ Provider = (*Client)(nil)

// NewClient initializes a new GenAI client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{MaxRetries: DefaultMaxRetries}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("GenAI client created", "maxRetries", cfg.MaxRetries)
	return &Client{chat: &cli.Chat.Completions, maxRetries: cfg.MaxRetries}, nil
}

// Generate runs the chat completion with bounded retries and parses the
// tagged JSON result.
func (c *Client) Generate(ctx context.Context, req Request) (*models.AIResult, error) {
	model := req.Model
	if model == "" {
		model = DefaultModel
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt(req.OutputType, req.Variables)),
			openai.UserMessage(req.Prompt),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		resp, err := c.chat.New(ctx, params)
		if err != nil {
			lastErr = err
			slog.Warn("GenAI.Generate: completion failed", "attempt", attempt, "error", err)
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("no choices returned")
			slog.Warn("GenAI.Generate: empty completion", "attempt", attempt)
			continue
		}
		result := ParseResult(resp.Choices[0].Message.Content)
		slog.Debug("GenAI.Generate succeeded", "requestedType", req.OutputType, "returnedType", result.Type)
		return result, nil
	}
	return nil, fmt.Errorf("generation failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// systemPrompt instructs the model to answer with the tagged JSON protocol
// and exposes the session's collected variables as context.
func systemPrompt(outputType models.AIOutputType, vars map[string]string) string {
	var sb strings.Builder
	sb.WriteString("You are the content generator of a conversational flow. ")
	sb.WriteString("Answer with a single JSON object and nothing else.\n")

	switch outputType {
	case models.AIOutputButtons:
		sb.WriteString(`Shape: {"type":"buttons","content":"<message>","buttons":[{"label":"...","value":"..."}]}`)
	case models.AIOutputInput:
		sb.WriteString(`Shape: {"type":"input","content":"<message>","placeholder":"...","input_type":"text"}`)
	case models.AIOutputOptions:
		sb.WriteString(`Shape: {"type":"options","content":"<message>","options":["..."]}`)
	default:
		sb.WriteString(`Shape: {"type":"text","content":"<message>"}`)
	}

	if len(vars) > 0 {
		sb.WriteString("\nCollected conversation variables:\n")
		for k, v := range vars {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", k, v))
		}
	}
	return sb.String()
}

// ParseResult parses a model answer into a tagged AIResult. Non-JSON
// answers are treated as plain text rather than rejected.
func ParseResult(content string) *models.AIResult {
	trimmed := stripCodeFences(content)

	var result models.AIResult
	if err := json.Unmarshal([]byte(trimmed), &result); err != nil || !models.IsValidAIOutputType(result.Type) {
		return &models.AIResult{Type: models.AIOutputText, Content: strings.TrimSpace(content)}
	}
	return &result
}

// stripCodeFences removes a surrounding markdown code fence, if any.
func stripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
