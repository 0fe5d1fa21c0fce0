// Package copilot implements the natural-language command router: sessions,
// intent classification, capability dispatch, action synthesis and the
// message pipeline that ties them to a chat channel.
package copilot

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jholhewres/opclaw/pkg/opclaw/channels/discord"
	"github.com/jholhewres/opclaw/pkg/opclaw/llm"
	"github.com/jholhewres/opclaw/pkg/opclaw/media"
	"github.com/jholhewres/opclaw/pkg/opclaw/script"
)

// Config holds all router configuration.
type Config struct {
	// Name is the assistant name used in the conversational prompt.
	Name string `yaml:"name"`

	// OwnerID is the Discord user ID of the single privileged operator.
	OwnerID string `yaml:"owner_id"`

	// Discord configures the Discord channel.
	Discord discord.Config `yaml:"discord"`

	// LLM configures the language-model provider.
	LLM LLMConfig `yaml:"llm"`

	// Session configures conversation sessions.
	Session SessionConfig `yaml:"session"`

	// Execution configures synthesized action programs.
	Execution ExecutionConfig `yaml:"execution"`

	// Guard configures input limits.
	Guard GuardConfig `yaml:"guard"`

	// Media configures the music engine.
	Media media.Config `yaml:"media"`

	// Audit configures the program audit log.
	Audit AuditConfig `yaml:"audit"`

	// Metrics configures the metrics and health endpoint.
	Metrics MetricsConfig `yaml:"metrics"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig selects the provider and bounds each call.
type LLMConfig struct {
	llm.Config `yaml:",inline"`

	// Timeout bounds a single model call.
	Timeout time.Duration `yaml:"timeout"`
}

// SessionConfig configures conversation sessions.
type SessionConfig struct {
	// TTL is the sliding inactivity window after which a session is dropped.
	TTL time.Duration `yaml:"ttl"`
}

// ExecutionConfig configures the action synthesizer and engine.
type ExecutionConfig struct {
	// Timeout bounds one program run.
	Timeout time.Duration `yaml:"timeout"`

	// DenylistExtra adds safety filter patterns to the defaults.
	DenylistExtra []string `yaml:"denylist_extra"`
}

// GuardConfig bounds operator input.
type GuardConfig struct {
	// MaxInputLength is the max utterance size in characters.
	MaxInputLength int `yaml:"max_input_length"`

	// RateLimitPerMinute is the max utterances per minute per operator.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

// AuditConfig configures the SQLite audit log.
type AuditConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	PruneSchedule string `yaml:"prune_schedule"`
}

// MetricsConfig configures the metrics endpoint. Empty Address disables it.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the log format ("json", "text").
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "Gemini",
		Discord: discord.DefaultConfig(),
		LLM: LLMConfig{
			Config:  llm.Config{Provider: "gemini"},
			Timeout: 60 * time.Second,
		},
		Session: SessionConfig{TTL: 10 * time.Minute},
		Execution: ExecutionConfig{
			Timeout: script.DefaultTimeout,
		},
		Guard: GuardConfig{
			MaxInputLength:     4000,
			RateLimitPerMinute: 30,
		},
		Media: media.DefaultConfig(),
		Audit: AuditConfig{
			Enabled:       true,
			Path:          "./data/opclaw.db",
			RetentionDays: 30,
			PruneSchedule: "@daily",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate reports every missing secret and invalid setting at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.Discord.Token == "" {
		result = multierror.Append(result, fmt.Errorf("DISCORD_TOKEN is not set"))
	}
	if c.OwnerID == "" {
		result = multierror.Append(result, fmt.Errorf("OWNER_ID is not set"))
	}

	switch strings.ToLower(c.LLM.Provider) {
	case "", "gemini", "google":
		if c.LLM.APIKey == "" {
			result = multierror.Append(result, fmt.Errorf("GEMINI_API_KEY is not set"))
		}
	case "openai":
		if c.LLM.APIKey == "" {
			result = multierror.Append(result, fmt.Errorf("OPCLAW_LLM_API_KEY or OPENAI_API_KEY is not set"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("llm.provider %q is not supported (gemini, openai)", c.LLM.Provider))
	}

	if c.Session.TTL <= 0 {
		result = multierror.Append(result, fmt.Errorf("session.ttl must be positive, got %s", c.Session.TTL))
	}
	if c.Execution.Timeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("execution.timeout must be positive, got %s", c.Execution.Timeout))
	}
	if c.LLM.Timeout < 0 {
		result = multierror.Append(result, fmt.Errorf("llm.timeout must not be negative, got %s", c.LLM.Timeout))
	}
	if c.Audit.Enabled && c.Audit.RetentionDays <= 0 {
		result = multierror.Append(result, fmt.Errorf("audit.retention_days must be positive, got %d", c.Audit.RetentionDays))
	}

	return result.ErrorOrNil()
}
