package copilot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jholhewres/opclaw/pkg/opclaw/llm"
	"github.com/jholhewres/opclaw/pkg/opclaw/metrics"
)

// Resolution is the outcome of classifying one utterance: a StructuredCall
// or FreeText, never both.
type Resolution interface {
	Kind() string
	isResolution()
}

// StructuredCall is a tool call chosen by the model.
type StructuredCall struct {
	Name string
	Args map[string]any
}

// FreeText is a conversational reply. It may be empty.
type FreeText struct {
	Text string
}

func (StructuredCall) Kind() string { return "structured_call" }
func (FreeText) Kind() string       { return "free_text" }

func (StructuredCall) isResolution() {}
func (FreeText) isResolution()       {}

// SystemPrompt is the conversational instruction given to the model.
func SystemPrompt(name string) string {
	if name == "" {
		name = "Gemini"
	}
	return fmt.Sprintf("You are a helpful and self-aware AI assistant named %s. "+
		"You have a full suite of music controls ('playMusic', 'skipTrack', 'stopPlayback', 'showQueue', 'togglePauseResume') "+
		"and a powerful server admin tool ('executeDiscordCommand'). "+
		"Use the correct tool to fulfill the user's request. "+
		"If they are just chatting, respond conversationally. Be concise unless asked for detail.", name)
}

// IntentRouter classifies utterances through the session's conversation.
type IntentRouter struct {
	store   *SessionStore
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewIntentRouter creates a router. A zero timeout leaves calls unbounded
// except by the caller's context.
func NewIntentRouter(store *SessionStore, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *IntentRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntentRouter{
		store:   store,
		timeout: timeout,
		metrics: m,
		logger:  logger.With("component", "intent"),
	}
}

// Classify records the utterance, asks the model and records its turn. Only
// the first structured call is honored.
func (r *IntentRouter) Classify(ctx context.Context, s *Session, utterance string) (Resolution, error) {
	r.store.AppendTurn(s, llm.RoleUser, utterance)

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := s.send(ctx, utterance)
	r.metrics.ObserveModel("classify", time.Since(start))
	if err != nil {
		r.metrics.ModelError("classify", llm.KindOf(err).String())
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}

	var res Resolution
	if len(resp.Calls) > 0 {
		call := resp.Calls[0]
		if extra := len(resp.Calls) - 1; extra > 0 {
			ignored := make([]string, 0, extra)
			for _, c := range resp.Calls[1:] {
				ignored = append(ignored, c.Name)
			}
			r.logger.Warn("model returned several tool calls, honoring the first",
				"operator", s.OperatorID, "honored", call.Name, "ignored", strings.Join(ignored, ","))
			r.metrics.IgnoredCalls(extra)
		}
		args := call.Args
		if args == nil {
			args = map[string]any{}
		}
		res = StructuredCall{Name: call.Name, Args: args}
		r.store.AppendTurn(s, llm.RoleModel, describeCall(call))
	} else {
		res = FreeText{Text: resp.Text}
		r.store.AppendTurn(s, llm.RoleModel, resp.Text)
	}

	r.metrics.Utterance(res.Kind())
	return res, nil
}

func describeCall(c llm.FunctionCall) string {
	if len(c.Args) == 0 {
		return c.Name + "()"
	}
	return fmt.Sprintf("%s(%v)", c.Name, c.Args)
}
