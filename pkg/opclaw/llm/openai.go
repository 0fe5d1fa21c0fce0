package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI implements Client for any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAI creates an OpenAI-compatible client. BaseURL is optional.
func NewOpenAI(cfg Config, logger *slog.Logger) *OpenAI {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
		logger: logger.With("component", "llm", "provider", "openai"),
	}
}

// StartChat opens a conversation that keeps its own message history.
func (o *OpenAI) StartChat(systemPrompt string, tools []ToolDefinition) Conversation {
	conv := &openaiConversation{o: o, tools: openaiTools(tools)}
	if strings.TrimSpace(systemPrompt) != "" {
		conv.messages = append(conv.messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	return conv
}

// Generate runs a single completion without history.
func (o *OpenAI) Generate(ctx context.Context, systemPrompt, prompt string) (string, error) {
	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}
	resp, err := o.complete(ctx, "generate", msgs, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// Describe sends the payload as a data URL image part.
func (o *OpenAI) Describe(ctx context.Context, systemPrompt, prompt string, data []byte, mimeType string) (string, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    dataURL,
						Detail: openai.ImageURLDetailAuto,
					},
				},
			},
		},
	}
	resp, err := o.complete(ctx, "describe", msgs, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// Close is a no-op; the HTTP client holds no dedicated resources.
func (o *OpenAI) Close() error { return nil }

// complete performs one chat completion and returns the first choice message.
func (o *OpenAI) complete(ctx context.Context, op string, msgs []openai.ChatCompletionMessage, tools []openai.Tool) (openai.ChatCompletionMessage, error) {
	start := time.Now()
	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: msgs,
	}
	if len(tools) > 0 {
		req.Tools = tools
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return openai.ChatCompletionMessage{}, o.wrap(op, err)
	}
	if len(resp.Choices) == 0 {
		return openai.ChatCompletionMessage{}, o.wrap(op, errMalformed)
	}

	o.logger.Debug("completion done",
		"op", op,
		"model", o.model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp.Choices[0].Message, nil
}

func (o *OpenAI) wrap(op string, err error) error {
	le := &Error{Op: op, Provider: "openai", Err: err}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		le.Status = apiErr.HTTPStatusCode
		le.Kind = classifyStatus(apiErr.HTTPStatusCode, apiErr.Message)
	case errors.As(err, &reqErr):
		le.Status = reqErr.HTTPStatusCode
		le.Kind = classifyStatus(reqErr.HTTPStatusCode, reqErr.Error())
	default:
		le.Kind = classifyTransport(err)
	}

	o.logger.Error("model call failed", "op", op, "kind", le.Kind.String(), "error", err)
	return le
}

type openaiConversation struct {
	o        *OpenAI
	tools    []openai.Tool
	messages []openai.ChatCompletionMessage
}

// Send appends the user turn, calls the model and records the assistant turn.
// Tool calls are acknowledged with a synthetic tool result so the history
// stays valid for the next request.
func (c *openaiConversation) Send(ctx context.Context, text string) (*Response, error) {
	msgs := append(c.messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})

	reply, err := c.o.complete(ctx, "chat", msgs, c.tools)
	if err != nil {
		// Failed turns are not kept so the history stays well-formed.
		return nil, err
	}

	out := &Response{Text: strings.TrimSpace(reply.Content)}
	for _, tc := range reply.ToolCalls {
		args := map[string]any{}
		if strings.TrimSpace(tc.Function.Arguments) != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, c.o.wrap("chat", fmt.Errorf("%w: tool %s arguments: %v", errMalformed, tc.Function.Name, err))
			}
		}
		out.Calls = append(out.Calls, FunctionCall{Name: tc.Function.Name, Args: args})
	}

	reply.Role = openai.ChatMessageRoleAssistant
	msgs = append(msgs, reply)
	for _, tc := range reply.ToolCalls {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    `{"status":"dispatched"}`,
			ToolCallID: tc.ID,
		})
	}
	c.messages = msgs

	c.o.logger.Info("chat turn done",
		"model", c.o.model,
		"history", len(c.messages),
		"calls", len(out.Calls),
	)
	return out, nil
}

// openaiTools converts tool definitions into function tools with JSON schemas.
func openaiTools(tools []ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		props := make(map[string]any, len(t.Parameters.Properties))
		for name, p := range t.Parameters.Properties {
			props[name] = map[string]any{
				"type":        string(p.Type),
				"description": p.Description,
			}
		}
		schema := map[string]any{
			"type":       "object",
			"properties": props,
		}
		if len(t.Parameters.Required) > 0 {
			schema["required"] = t.Parameters.Required
		}
		raw, _ := json.Marshal(schema)

		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  json.RawMessage(raw),
			},
		})
	}
	return out
}
