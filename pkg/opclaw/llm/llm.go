// Package llm is the language-model boundary of opclaw.
//
// Three call shapes are exchanged with the model service:
//   - tool-calling classification through a Conversation (history kept by the handle)
//   - one-shot generation (no history) used for action synthesis
//   - multimodal description of a binary attachment
//
// Providers: Gemini (google/generative-ai-go) and any OpenAI-compatible
// endpoint (sashabaranov/go-openai).
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// PropertyType is a primitive JSON-schema type accepted in tool parameters.
type PropertyType string

const (
	TypeString  PropertyType = "string"
	TypeNumber  PropertyType = "number"
	TypeInteger PropertyType = "integer"
	TypeBoolean PropertyType = "boolean"
)

// Property describes a single tool parameter.
type Property struct {
	Type        PropertyType
	Description string
}

// Schema is the parameter schema of a tool: an object with primitive properties.
type Schema struct {
	Properties map[string]Property
	Required   []string
}

// ToolDefinition describes a callable capability exposed to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  Schema
}

// FunctionCall is a structured call returned by the model.
type FunctionCall struct {
	Name string
	Args map[string]any
}

// Response is the result of a conversation turn.
// Calls keeps the order in which the model emitted them.
type Response struct {
	Text  string
	Calls []FunctionCall
}

// Conversation is an ongoing, provider-specific chat with tools attached.
// Implementations are not safe for concurrent Send calls; callers serialize.
type Conversation interface {
	Send(ctx context.Context, text string) (*Response, error)
}

// Client is implemented by every provider.
type Client interface {
	// StartChat opens a new conversation with the given system prompt and tools.
	StartChat(systemPrompt string, tools []ToolDefinition) Conversation

	// Generate runs a single history-free completion.
	Generate(ctx context.Context, systemPrompt, prompt string) (string, error)

	// Describe sends a prompt together with a binary payload (e.g. an image).
	Describe(ctx context.Context, systemPrompt, prompt string, data []byte, mimeType string) (string, error)

	// Close releases provider resources.
	Close() error
}

// Config selects and configures a provider.
type Config struct {
	// Provider is "gemini" (default) or "openai".
	Provider string `yaml:"provider"`

	// Model is the model identifier (e.g. "gemini-1.5-pro-latest", "gpt-4o").
	Model string `yaml:"model"`

	// APIKey is the provider credential. Usually resolved from the environment.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the endpoint for OpenAI-compatible providers.
	BaseURL string `yaml:"base_url"`
}

// DefaultModel returns the model used when none is configured.
func DefaultModel(provider string) string {
	if strings.EqualFold(provider, "openai") {
		return "gpt-4o"
	}
	return "gemini-1.5-pro-latest"
}

// New builds the client for the configured provider.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel(cfg.Provider)
	}

	switch strings.ToLower(cfg.Provider) {
	case "", "gemini", "google":
		g, err := NewGemini(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return g, nil
	case "openai":
		return NewOpenAI(cfg, logger), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
