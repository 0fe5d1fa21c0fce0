package copilot

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/jholhewres/opclaw/pkg/opclaw/audit"
	"github.com/jholhewres/opclaw/pkg/opclaw/channels"
	"github.com/jholhewres/opclaw/pkg/opclaw/copilot/security"
	"github.com/jholhewres/opclaw/pkg/opclaw/llm"
	"github.com/jholhewres/opclaw/pkg/opclaw/metrics"
	"github.com/jholhewres/opclaw/pkg/opclaw/script"
)

// fencePattern matches a leading ```json / ```javascript / ```js / ``` line,
// in any case, and a trailing ``` fence.
var fencePattern = regexp.MustCompile("(?i)^```(?:json|javascript|js)?[ \\t]*\\r?\\n|```$")

// StripFences removes surrounding markdown code fences from model output.
func StripFences(s string) string {
	return strings.TrimSpace(fencePattern.ReplaceAllString(strings.TrimSpace(s), ""))
}

// synthesisPrompt instructs the model to write an action program.
func synthesisPrompt() string {
	return `You are a Discord server administration expert. Write an action program that accomplishes the user's request.
- Your ENTIRE output must be ONLY a JSON object of the form {"steps":[{"call":"<binding>.<name>","args":{...},"as":"<name>"}]}, without any markdown wrappers.
- You have access to the bindings 'client' (server administration), 'message' (the operator's message) and 'discord' (reference resolution).
- Channel, member and role arguments accept IDs, mentions or names.
- A later step may use a field of an earlier named step as "${name.field}" (fields: id, name, type, channelId, memberId, roleId, deleted, until, ownerId, memberCount, channels, roles).
- Argument values must be strings, numbers or booleans.
- The program must be safe and not perform destructive actions unless explicitly told to.
- Confirm completion by replying to the operator's message with message.reply.

Available calls:
` + script.Vocabulary()
}

// Synthesizer turns an action description into candidate program text.
// Each call is fresh: no history, no retry.
type Synthesizer struct {
	client  llm.Client
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewSynthesizer creates a synthesizer.
func NewSynthesizer(client llm.Client, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		client:  client,
		timeout: timeout,
		metrics: m,
		logger:  logger.With("component", "synth"),
	}
}

// Synthesize returns the untrusted candidate program for description.
func (s *Synthesizer) Synthesize(ctx context.Context, description string) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := s.client.Generate(ctx, synthesisPrompt(), description)
	s.metrics.ObserveModel("synthesize", time.Since(start))
	if err != nil {
		s.metrics.ModelError("synthesize", llm.KindOf(err).String())
		return "", fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	return StripFences(text), nil
}

// AuditRecorder stores a record of every synthesized program.
type AuditRecorder interface {
	Record(ctx context.Context, e audit.Entry)
}

// Binder supplies the capability handles a program runs against.
type Binder interface {
	Bindings(msg *channels.IncomingMessage) script.Bindings
}

// Actions synthesizes, filters and executes administrative actions.
type Actions struct {
	synth   *Synthesizer
	filter  *security.Filter
	engine  *script.Engine
	binder  Binder
	audit   AuditRecorder
	out     *replier
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewActions wires the action pipeline. audit may be nil.
func NewActions(synth *Synthesizer, filter *security.Filter, engine *script.Engine, binder Binder, ch channels.Channel, rec AuditRecorder, m *metrics.Metrics, logger *slog.Logger) *Actions {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "actions")
	return &Actions{
		synth:   synth,
		filter:  filter,
		engine:  engine,
		binder:  binder,
		audit:   rec,
		out:     &replier{ch: ch, logger: logger},
		metrics: m,
		logger:  logger,
	}
}

// Check runs the safety filter and validates the program against the
// vocabulary. Any failure wraps ErrSynthesisRejected.
func (a *Actions) Check(source string) (*script.Program, error) {
	if err := a.filter.Check(source); err != nil {
		return nil, err
	}
	prog, err := script.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSynthesisRejected, err)
	}
	return prog, nil
}

// Compile turns a candidate into an execution unit bound to msg.
func (a *Actions) Compile(description, source string, msg *channels.IncomingMessage) (*script.Unit, error) {
	prog, err := a.Check(source)
	if err != nil {
		return nil, err
	}
	return script.NewUnit(description, source, prog, a.binder.Bindings(msg)), nil
}

// Preview synthesizes and checks a program without executing it.
func (a *Actions) Preview(ctx context.Context, description string) (string, *script.Program, error) {
	source, err := a.synth.Synthesize(ctx, description)
	if err != nil {
		return "", nil, err
	}
	prog, err := a.Check(source)
	return source, prog, err
}

// Run synthesizes the program for description, checks it and executes it
// exactly once. Failures are reported to the operator before returning.
func (a *Actions) Run(ctx context.Context, msg *channels.IncomingMessage, description string) error {
	logger := a.logger.With("operator", msg.From, "guild_id", msg.GuildID)

	source, err := a.synth.Synthesize(ctx, description)
	if err != nil {
		logger.Error("synthesis failed", "description", description, "error", err)
		a.out.reply(ctx, msg, msgModelError)
		return err
	}

	logger.Info("synthesized action program", "description", description, "program", source)

	entry := audit.Entry{Operator: msg.From, Description: description, Source: source}

	unit, err := a.Compile(description, source, msg)
	if err != nil {
		logger.Warn("program rejected", "description", description, "error", err)
		a.metrics.Synthesis(string(audit.VerdictRejected))
		entry.Verdict, entry.Error = audit.VerdictRejected, err.Error()
		a.record(ctx, entry)
		a.out.reply(ctx, msg, executionErrorReply(err))
		return err
	}

	out := a.engine.Execute(ctx, unit)
	entry.ID, entry.Duration = unit.ID, out.Duration
	if out.Failed() {
		logger.Error("execution failed", "unit", unit.ID, "description", description, "error", out.Err)
		a.metrics.Synthesis(string(audit.VerdictFailed))
		entry.Verdict, entry.Error = audit.VerdictFailed, out.Err.Error()
		a.record(ctx, entry)
		a.out.reply(ctx, msg, executionErrorReply(out.Err))
		return fmt.Errorf("%w: %w", ErrExecutionFailed, out.Err)
	}

	a.metrics.Synthesis(string(audit.VerdictSucceeded))
	entry.Verdict = audit.VerdictSucceeded
	a.record(ctx, entry)
	return nil
}

func (a *Actions) record(ctx context.Context, e audit.Entry) {
	if a.audit != nil {
		a.audit.Record(context.WithoutCancel(ctx), e)
	}
}

// executionErrorReply formats err for the operator.
func executionErrorReply(err error) string {
	return "❌ **Execution Error:**\n```" + err.Error() + "```"
}
