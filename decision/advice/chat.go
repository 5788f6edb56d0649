package advice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"ecotrack/pkg/platform"
)

// =============================================================================
// OPENAI-COMPATIBLE CHAT GENERATOR
// =============================================================================

// ChatGenerator calls any OpenAI-compatible /chat/completions endpoint
type ChatGenerator struct {
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	client      *platform.HTTPClient
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewChatGenerator creates a chat generator posting to endpoint
func NewChatGenerator(endpoint, apiKey, model string, logger zerolog.Logger) (*ChatGenerator, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("chat endpoint is required")
	}
	if model == "" {
		return nil, fmt.Errorf("chat model is required")
	}
	return &ChatGenerator{
		endpoint:    endpoint,
		apiKey:      apiKey,
		model:       model,
		temperature: 0.4,
		client:      platform.NewHTTPClient(2, 60*time.Second).WithLogger(logger),
	}, nil
}

// HTTPClient exposes the retrying client, e.g. for transport mocking
func (g *ChatGenerator) HTTPClient() *platform.HTTPClient {
	return g.client
}

// Name identifies the provider
func (g *ChatGenerator) Name() string {
	return "chat/" + g.model
}

// Generate posts a two-message conversation and returns the first choice.
func (g *ChatGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	body, err := json.Marshal(chatRequest{Model: g.model, Messages: messages, Temperature: g.temperature})
	if err != nil {
		return "", err
	}

	headers := map[string]string{"Accept": "application/json"}
	if g.apiKey != "" {
		headers["Authorization"] = "Bearer " + g.apiKey
	}

	resp, err := g.client.PostJSON(ctx, g.endpoint, body, headers)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read chat response: %w", err)
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("failed to decode chat response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if out.Error != nil && out.Error.Message != "" {
			return "", fmt.Errorf("chat endpoint returned status %d: %s", resp.StatusCode, out.Error.Message)
		}
		return "", fmt.Errorf("chat endpoint returned status %d", resp.StatusCode)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyAnswer
	}
	return out.Choices[0].Message.Content, nil
}

// =============================================================================
// FACTORY
// =============================================================================

// Provider names accepted by NewGenerator
const (
	ProviderGemini = "gemini"
	ProviderChat   = "chat"
)

// Config selects and configures the generator
type Config struct {
	Provider     string
	GeminiAPIKey string
	GeminiModel  string
	ChatEndpoint string
	ChatAPIKey   string
	ChatModel    string
}

// NewGenerator builds the configured generator. It returns nil without
// error when the selected provider has no credentials.
func NewGenerator(ctx context.Context, cfg Config, logger zerolog.Logger) (Generator, error) {
	switch cfg.Provider {
	case ProviderGemini, "":
		if cfg.GeminiAPIKey == "" {
			return nil, nil
		}
		g, err := NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, nil)
		if err != nil {
			return nil, err
		}
		return g, nil
	case ProviderChat:
		if cfg.ChatEndpoint == "" {
			return nil, nil
		}
		g, err := NewChatGenerator(cfg.ChatEndpoint, cfg.ChatAPIKey, cfg.ChatModel, logger)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown advice provider %q", cfg.Provider)
	}
}
