package tally

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	DefaultChatModel   = "gemini/gemini-1.5-flash"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000

	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Messages    []ChatMessage `json:"messages"`
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

// NewChatRequest fills in the backend defaults.
func NewChatRequest(messages []ChatMessage) ChatRequest {
	return ChatRequest{
		Messages:    messages,
		Model:       DefaultChatModel,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
}

// Validate applies the bounds the backend enforces.
func (r ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return errors.New("at least one message is required")
	}
	for i, m := range r.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("message %d: unknown role %q", i, m.Role)
		}
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return fmt.Errorf("temperature %.2f out of range [0, 2]", r.Temperature)
	}
	if r.MaxTokens < 1 {
		return errors.New("max_tokens must be at least 1")
	}
	if r.Stream {
		return errors.New("streaming chat completions are not supported")
	}
	return nil
}

type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ChatResponse struct {
	ID               string         `json:"id"`
	Object           string         `json:"object"`
	Created          int64          `json:"created"`
	Model            string         `json:"model"`
	Choices          []ChatChoice   `json:"choices"`
	Usage            ChatUsage      `json:"usage"`
	WorkflowMetadata map[string]any `json:"workflow_metadata,omitempty"`
}

// Content returns the first choice's text.
func (r *ChatResponse) Content() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return strings.TrimSpace(r.Choices[0].Message.Content)
}

type ChatModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ChatCompletion asks the backend assistant for a reply.
func (c *Client) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var resp ChatResponse
	if err := c.doJSON(ctx, http.MethodPost, c.endpoint(c.APIURL, "chat", "completions"), nil, req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

func (c *Client) ChatModels(ctx context.Context) ([]ChatModel, error) {
	var resp struct {
		Object string      `json:"object"`
		Data   []ChatModel `json:"data"`
	}

	if err := c.getJSON(ctx, c.endpoint(c.APIURL, "chat", "models"), nil, &resp); err != nil {
		return nil, err
	}

	return resp.Data, nil
}
