package copilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jholhewres/opclaw/pkg/opclaw/channels"
	"github.com/jholhewres/opclaw/pkg/opclaw/copilot/security"
	"github.com/jholhewres/opclaw/pkg/opclaw/llm"
	"github.com/jholhewres/opclaw/pkg/opclaw/metrics"
	"github.com/jholhewres/opclaw/pkg/opclaw/script"
)

// msgModelError is the reply when the model cannot be reached.
const msgModelError = "I'm sorry, I encountered an error while trying to process your request."

// Deps are the collaborators of an Assistant.
type Deps struct {
	// Channel is the chat platform. Optional capabilities (voice lookups,
	// attachment downloads, typing) are detected by interface assertion.
	Channel channels.Channel

	// Binder supplies program bindings for a message.
	Binder Binder

	// LLM is the language-model client.
	LLM llm.Client

	// Media plays music. Nil disables music capabilities.
	Media MediaEngine

	// Audit records synthesized programs. Optional.
	Audit AuditRecorder

	// Metrics collects counters. Optional.
	Metrics *metrics.Metrics
}

// Assistant is the message pipeline:
// access check → typing → mention strip → image branch or
// session → intent → dispatch / reply.
type Assistant struct {
	config *Config

	channel    channels.Channel
	access     *AccessControl
	guard      *security.InputGuardrail
	sessions   *SessionStore
	router     *IntentRouter
	dispatcher *Dispatcher
	actions    *Actions
	vision     *VisionHandler
	out        *replier
	metrics    *metrics.Metrics
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires an Assistant.
func New(cfg *Config, deps Deps, logger *slog.Logger) (*Assistant, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Channel == nil || deps.LLM == nil || deps.Binder == nil {
		return nil, errors.New("copilot: channel, binder and llm are required")
	}

	m := deps.Metrics
	system := SystemPrompt(cfg.Name)
	tools := Tools()

	sessions := NewSessionStore(cfg.Session.TTL, func() llm.Conversation {
		return deps.LLM.StartChat(system, tools)
	}, logger)
	sessions.OnChange(m.SetSessions)

	synth := NewSynthesizer(deps.LLM, cfg.LLM.Timeout, m, logger)
	engine := script.NewEngine(cfg.Execution.Timeout, logger)
	actions := NewActions(synth, security.NewFilter(cfg.Execution.DenylistExtra), engine, deps.Binder, deps.Channel, deps.Audit, m, logger)

	return &Assistant{
		config:     cfg,
		channel:    deps.Channel,
		access:     NewAccessControl(cfg.OwnerID),
		guard:      security.NewInputGuardrail(cfg.Guard.MaxInputLength, cfg.Guard.RateLimitPerMinute),
		sessions:   sessions,
		router:     NewIntentRouter(sessions, cfg.LLM.Timeout, m, logger),
		dispatcher: NewDispatcher(deps.Channel, deps.Media, actions, m, logger),
		actions:    actions,
		vision:     NewVisionHandler(deps.LLM, deps.Channel, system, cfg.LLM.Timeout, m, logger),
		out:        &replier{ch: deps.Channel, logger: logger},
		metrics:    m,
		logger:     logger.With("component", "assistant"),
	}, nil
}

// Sessions returns the session store.
func (a *Assistant) Sessions() *SessionStore { return a.sessions }

// Router returns the intent router.
func (a *Assistant) Router() *IntentRouter { return a.router }

// Actions returns the action pipeline.
func (a *Assistant) Actions() *Actions { return a.actions }

// Dispatcher returns the capability dispatcher.
func (a *Assistant) Dispatcher() *Dispatcher { return a.dispatcher }

// Start begins consuming messages from the channel.
func (a *Assistant) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	a.logger.Info("starting opclaw",
		"name", a.config.Name,
		"provider", a.config.LLM.Provider,
		"model", a.config.LLM.Model,
		"operator", a.config.OwnerID,
	)

	a.wg.Add(1)
	go a.messageLoop()
	return nil
}

// Stop ends the message loop, waits for in-flight handlers and drops every
// session.
func (a *Assistant) Stop() {
	a.logger.Info("stopping opclaw...")
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.sessions.Close()
	a.logger.Info("opclaw stopped")
}

// messageLoop handles each incoming message on its own goroutine.
func (a *Assistant) messageLoop() {
	defer a.wg.Done()
	incoming := a.channel.Receive()
	for {
		select {
		case msg, ok := <-incoming:
			if !ok {
				return
			}
			a.wg.Add(1)
			go func() {
				defer a.wg.Done()
				a.HandleMessage(a.ctx, msg)
			}()
		case <-a.ctx.Done():
			return
		}
	}
}

// HandleMessage runs the full pipeline for one message. Every failure ends in
// at most one reply; panics are recovered and logged.
func (a *Assistant) HandleMessage(ctx context.Context, msg *channels.IncomingMessage) {
	start := time.Now()
	logger := a.logger.With(
		"channel", msg.Channel,
		"guild_id", msg.GuildID,
		"from", msg.From,
		"msg_id", msg.ID,
	)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while handling message", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if res := a.access.Check(msg); !res.Allowed {
		logger.Debug("message ignored", "reason", res.Reason)
		return
	}

	if pc, ok := a.channel.(channels.PresenceChannel); ok {
		if err := pc.SendTyping(ctx, msg.ChatID); err != nil {
			logger.Debug("typing indicator failed", "error", err)
		}
	}

	utterance := CleanUtterance(msg.Content)

	if err := a.guard.Validate(msg.From, utterance); err != nil {
		logger.Warn("input rejected", "error", err)
		a.out.reply(ctx, msg, fmt.Sprintf("Sorry, I can't process that: %v", err))
		return
	}

	if msg.HasImage() {
		_ = a.vision.Handle(ctx, msg, utterance)
		logger.Info("image query processed", "duration_ms", time.Since(start).Milliseconds())
		return
	}

	if utterance == "" {
		return
	}

	session := a.sessions.GetOrCreate(msg.From)

	res, err := a.router.Classify(ctx, session, utterance)
	if err != nil {
		logger.Error("intent analysis failed", "error", err)
		a.out.reply(ctx, msg, msgModelError)
		return
	}

	switch r := res.(type) {
	case StructuredCall:
		if err := a.dispatcher.Dispatch(ctx, msg, r); err != nil {
			logger.Warn("capability failed", "tool", r.Name, "error", err)
		}
	case FreeText:
		if r.Text != "" {
			a.out.reply(ctx, msg, r.Text)
		}
	}

	logger.Info("message processed",
		"kind", res.Kind(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
