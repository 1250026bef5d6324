package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tally-ai/tally/internal/ai/gemini"
	"github.com/tally-ai/tally/internal/logger"
	"github.com/tally-ai/tally/internal/tally"
)

const (
	ProviderBackend = "backend"
	ProviderGemini  = "gemini"
)

// Reply is one assistant answer.
type Reply struct {
	Content  string
	Model    string
	Provider string
	// Metadata carries provider specific details such as the backend workflow trace.
	Metadata map[string]any
}

// Assistant answers a conversation. messages end with the user's latest turn.
type Assistant interface {
	Complete(ctx context.Context, messages []tally.ChatMessage) (*Reply, error)
	Provider() string
	Model() string
}

// Config selects and tunes the provider.
type Config struct {
	Provider     string  `mapstructure:"provider"`
	Model        string  `mapstructure:"model"`
	Temperature  float64 `mapstructure:"temperature"`
	MaxTokens    int     `mapstructure:"max-tokens"`
	MaxRetries   int     `mapstructure:"max-retries"`
	SystemPrompt string  `mapstructure:"system-prompt"`
}

// DefaultConfig mirrors the backend chat defaults.
func DefaultConfig() Config {
	return Config{
		Provider:    ProviderBackend,
		Model:       tally.DefaultChatModel,
		Temperature: tally.DefaultTemperature,
		MaxTokens:   tally.DefaultMaxTokens,
		MaxRetries:  3,
	}
}

// New builds the configured assistant. client is used by the backend provider;
// geminiKey by the gemini provider.
func New(ctx context.Context, cfg Config, client *tally.Client, geminiKey string, log *zap.Logger) (Assistant, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderBackend:
		if client == nil {
			return nil, errors.New("backend chat needs a tally client")
		}
		return NewBackendAssistant(client, cfg, log), nil
	case ProviderGemini:
		generator, err := gemini.NewGenerator(ctx, geminiKey, cfg.Model, gemini.Settings{
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			MaxRetries:  cfg.MaxRetries,
		}, log)
		if err != nil {
			return nil, err
		}
		return NewGeminiAssistant(generator, cfg.SystemPrompt, log), nil
	default:
		return nil, fmt.Errorf("unknown chat provider %q, expected %s or %s", cfg.Provider, ProviderBackend, ProviderGemini)
	}
}

type chatCompleter interface {
	ChatCompletion(ctx context.Context, req tally.ChatRequest) (*tally.ChatResponse, error)
}

// BackendAssistant delegates to the backend's chat endpoint, which can call resume tools.
type BackendAssistant struct {
	client chatCompleter
	cfg    Config
	logger *zap.Logger
}

func NewBackendAssistant(client chatCompleter, cfg Config, log *zap.Logger) *BackendAssistant {
	if cfg.Model == "" {
		cfg.Model = tally.DefaultChatModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = tally.DefaultMaxTokens
	}

	return &BackendAssistant{
		client: client,
		cfg:    cfg,
		logger: logger.WithChatFields(log, ProviderBackend, cfg.Model),
	}
}

func (a *BackendAssistant) Provider() string { return ProviderBackend }

func (a *BackendAssistant) Model() string { return a.cfg.Model }

func (a *BackendAssistant) Complete(ctx context.Context, messages []tally.ChatMessage) (*Reply, error) {
	req := tally.NewChatRequest(withSystemPrompt(a.cfg.SystemPrompt, messages))
	req.Model = a.cfg.Model
	req.Temperature = a.cfg.Temperature
	req.MaxTokens = a.cfg.MaxTokens

	resp, err := a.client.ChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}

	content := resp.Content()
	if content == "" {
		return nil, errors.New("assistant returned an empty reply")
	}

	a.logger.Debug("chat completion received",
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Int("choices", len(resp.Choices)),
	)

	return &Reply{
		Content:  content,
		Model:    resp.Model,
		Provider: ProviderBackend,
		Metadata: resp.WorkflowMetadata,
	}, nil
}

type chatGenerator interface {
	Chat(ctx context.Context, system string, history []gemini.Turn, message string) (string, error)
	Model() string
}

// GeminiAssistant talks to Gemini directly, without the backend's tools.
type GeminiAssistant struct {
	generator chatGenerator
	system    string
	logger    *zap.Logger
}

func NewGeminiAssistant(generator chatGenerator, system string, log *zap.Logger) *GeminiAssistant {
	return &GeminiAssistant{
		generator: generator,
		system:    system,
		logger:    logger.WithChatFields(log, ProviderGemini, generator.Model()),
	}
}

func (a *GeminiAssistant) Provider() string { return ProviderGemini }

func (a *GeminiAssistant) Model() string { return a.generator.Model() }

func (a *GeminiAssistant) Complete(ctx context.Context, messages []tally.ChatMessage) (*Reply, error) {
	system, history, last, err := splitConversation(a.system, messages)
	if err != nil {
		return nil, err
	}

	content, err := a.generator.Chat(ctx, system, history, last)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("gemini reply received", zap.Int("history", len(history)))

	return &Reply{Content: content, Model: a.generator.Model(), Provider: ProviderGemini}, nil
}

func withSystemPrompt(system string, messages []tally.ChatMessage) []tally.ChatMessage {
	system = strings.TrimSpace(system)
	if system == "" {
		return messages
	}
	for _, m := range messages {
		if m.Role == tally.RoleSystem {
			return messages
		}
	}
	return append([]tally.ChatMessage{{Role: tally.RoleSystem, Content: system}}, messages...)
}

// splitConversation separates system text, earlier turns and the final user message.
func splitConversation(system string, messages []tally.ChatMessage) (string, []gemini.Turn, string, error) {
	if len(messages) == 0 {
		return "", nil, "", errors.New("at least one message is required")
	}

	last := messages[len(messages)-1]
	if last.Role != tally.RoleUser {
		return "", nil, "", fmt.Errorf("last message must come from the user, got %q", last.Role)
	}

	systemParts := []string{}
	if s := strings.TrimSpace(system); s != "" {
		systemParts = append(systemParts, s)
	}

	history := make([]gemini.Turn, 0, len(messages)-1)
	for _, m := range messages[:len(messages)-1] {
		switch m.Role {
		case tally.RoleSystem:
			systemParts = append(systemParts, m.Content)
		case tally.RoleAssistant:
			history = append(history, gemini.Turn{Role: gemini.RoleModel, Text: m.Content})
		default:
			history = append(history, gemini.Turn{Role: gemini.RoleUser, Text: m.Content})
		}
	}

	return strings.Join(systemParts, "\n\n"), history, last.Content, nil
}
