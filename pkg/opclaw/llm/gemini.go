package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Gemini implements Client on top of the Google Generative AI SDK.
type Gemini struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// NewGemini creates a Gemini client.
func NewGemini(ctx context.Context, cfg Config, logger *slog.Logger) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini init: %w", err)
	}
	return &Gemini{
		client: client,
		model:  cfg.Model,
		logger: logger.With("component", "llm", "provider", "gemini"),
	}, nil
}

// generativeModel builds a model handle carrying the system instruction.
func (g *Gemini) generativeModel(systemPrompt string) *genai.GenerativeModel {
	m := g.client.GenerativeModel(g.model)
	if strings.TrimSpace(systemPrompt) != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	}
	return m
}

// StartChat opens a chat session with the tool registry attached.
func (g *Gemini) StartChat(systemPrompt string, tools []ToolDefinition) Conversation {
	m := g.generativeModel(systemPrompt)
	if len(tools) > 0 {
		m.Tools = []*genai.Tool{geminiTool(tools)}
	}
	return &geminiConversation{session: m.StartChat(), g: g}
}

// Generate runs a single completion without history.
func (g *Gemini) Generate(ctx context.Context, systemPrompt, prompt string) (string, error) {
	start := time.Now()
	resp, err := g.generativeModel(systemPrompt).GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", g.wrap("generate", err)
	}
	out, err := geminiResponse(resp)
	if err != nil {
		return "", g.wrap("generate", err)
	}
	g.logger.Debug("generate done", "model", g.model, "duration_ms", time.Since(start).Milliseconds())
	return out.Text, nil
}

// Describe sends the prompt and an inline blob in the same request.
func (g *Gemini) Describe(ctx context.Context, systemPrompt, prompt string, data []byte, mimeType string) (string, error) {
	start := time.Now()
	resp, err := g.generativeModel(systemPrompt).GenerateContent(ctx,
		genai.Text(prompt),
		genai.Blob{MIMEType: mimeType, Data: data},
	)
	if err != nil {
		return "", g.wrap("describe", err)
	}
	out, err := geminiResponse(resp)
	if err != nil {
		return "", g.wrap("describe", err)
	}
	g.logger.Debug("describe done",
		"model", g.model,
		"mime_type", mimeType,
		"bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out.Text, nil
}

// Close releases the underlying gRPC connection.
func (g *Gemini) Close() error {
	return g.client.Close()
}

func (g *Gemini) wrap(op string, err error) error {
	le := &Error{Op: op, Provider: "gemini", Err: err}

	var gerr *googleapi.Error
	var blocked *genai.BlockedError
	switch {
	case errors.As(err, &gerr):
		le.Status = gerr.Code
		le.Kind = classifyStatus(gerr.Code, gerr.Message)
	case errors.As(err, &blocked):
		le.Kind = ErrorBlocked
	default:
		le.Kind = classifyTransport(err)
		if le.Kind == ErrorTransient {
			// The SDK surfaces gRPC errors as plain text; fall back to the message.
			if k := classifyStatus(0, err.Error()); k != ErrorFatal {
				le.Kind = k
			}
		}
	}

	g.logger.Error("model call failed", "op", op, "kind", le.Kind.String(), "error", err)
	return le
}

type geminiConversation struct {
	session *genai.ChatSession
	g       *Gemini
}

// Send appends the text to the session history and returns the model turn.
func (c *geminiConversation) Send(ctx context.Context, text string) (*Response, error) {
	start := time.Now()
	resp, err := c.session.SendMessage(ctx, genai.Text(text))
	if err != nil {
		return nil, c.g.wrap("chat", err)
	}
	out, err := geminiResponse(resp)
	if err != nil {
		return nil, c.g.wrap("chat", err)
	}
	c.g.logger.Info("chat turn done",
		"model", c.g.model,
		"history", len(c.session.History),
		"calls", len(out.Calls),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// geminiTool converts the registry into a single function-declaration tool.
func geminiTool(tools []ToolDefinition) *genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decl := &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
		}
		// Gemini rejects OBJECT schemas with no properties.
		if len(t.Parameters.Properties) > 0 {
			props := make(map[string]*genai.Schema, len(t.Parameters.Properties))
			for name, p := range t.Parameters.Properties {
				props[name] = &genai.Schema{Type: geminiType(p.Type), Description: p.Description}
			}
			decl.Parameters = &genai.Schema{
				Type:       genai.TypeObject,
				Properties: props,
				Required:   t.Parameters.Required,
			}
		}
		decls = append(decls, decl)
	}
	return &genai.Tool{FunctionDeclarations: decls}
}

func geminiType(t PropertyType) genai.Type {
	switch t {
	case TypeNumber:
		return genai.TypeNumber
	case TypeInteger:
		return genai.TypeInteger
	case TypeBoolean:
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}

// geminiResponse flattens the first candidate into text and calls.
func geminiResponse(resp *genai.GenerateContentResponse) (*Response, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errMalformed
	}

	out := &Response{}
	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			text.WriteString(string(p))
		case genai.FunctionCall:
			out.Calls = append(out.Calls, FunctionCall{Name: p.Name, Args: p.Args})
		case *genai.FunctionCall:
			out.Calls = append(out.Calls, FunctionCall{Name: p.Name, Args: p.Args})
		}
	}
	out.Text = strings.TrimSpace(text.String())
	return out, nil
}
