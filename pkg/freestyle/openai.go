package freestyle

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/bypassforge/bypassforge/pkg/jsonutil"
	"github.com/bypassforge/bypassforge/templates"
)

// OpenAIClient is the production Suggester, backed by a chat-completion
// API. Works against any OpenAI-compatible endpoint via the base URL.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a collaborator client. baseURL may be empty for
// the public API; model may be empty for the default.
func NewOpenAIClient(apiKey, baseURL, model string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Suggest sends the brief and parses the reply strictly. Anything that is
// not the expected JSON object is ErrMalformedSuggestion; the engine
// converts that into a structured abandonment rather than retrying blind.
func (c *OpenAIClient) Suggest(ctx context.Context, brief Brief) (*Suggestion, error) {
	briefJSON, err := jsonutil.Marshal(brief)
	if err != nil {
		return nil, fmt.Errorf("freestyle: marshal brief: %w", err)
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0.7,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: templates.CollaboratorPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: string(briefJSON)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("freestyle: collaborator call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty completion", ErrMalformedSuggestion)
	}

	return ParseSuggestion(resp.Choices[0].Message.Content)
}

// ParseSuggestion parses a raw collaborator reply into a validated
// Suggestion. Markdown code fences are stripped; nothing else is repaired.
func ParseSuggestion(raw string) (*Suggestion, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var s Suggestion
	if err := jsonutil.Unmarshal([]byte(cleaned), &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSuggestion, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
