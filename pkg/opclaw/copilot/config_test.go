package copilot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zalando/go-keyring"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Discord.Token = "discord-token"
	cfg.OwnerID = "owner"
	cfg.LLM.APIKey = "key"
	return cfg
}

func TestDefaultConfigNeedsOnlySecrets(t *testing.T) {
	t.Parallel()

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	cfg := DefaultConfig()
	if cfg.Session.TTL != 10*time.Minute || cfg.LLM.Timeout != 60*time.Second || cfg.Execution.Timeout <= 0 {
		t.Errorf("timeouts = %+v / %+v / %+v", cfg.Session, cfg.LLM.Timeout, cfg.Execution)
	}
	if cfg.Guard.MaxInputLength != 4000 || cfg.Guard.RateLimitPerMinute != 30 {
		t.Errorf("guard = %+v", cfg.Guard)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Session.TTL = 0
	cfg.Execution.Timeout = -time.Second
	cfg.Audit.RetentionDays = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{
		"DISCORD_TOKEN is not set",
		"OWNER_ID is not set",
		"GEMINI_API_KEY is not set",
		"session.ttl must be positive",
		"execution.timeout must be positive",
		"audit.retention_days must be positive",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestValidateProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		provider string
		apiKey   string
		wantErr  string
	}{
		{"gemini", "k", ""},
		{"openai", "k", ""},
		{"openai", "", "OPCLAW_LLM_API_KEY or OPENAI_API_KEY is not set"},
		{"claude", "k", `llm.provider "claude" is not supported`},
	}
	for _, tt := range tests {
		cfg := validConfig()
		cfg.LLM.Provider, cfg.LLM.APIKey = tt.provider, tt.apiKey
		err := cfg.Validate()
		switch {
		case tt.wantErr == "" && err != nil:
			t.Errorf("%s: unexpected error %v", tt.provider, err)
		case tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)):
			t.Errorf("%s: err = %v, want %q", tt.provider, err, tt.wantErr)
		}
	}
}

func TestParseConfigOverlaysDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := ParseConfig([]byte(`
name: Jarvis
owner_id: "123"
llm:
  provider: openai
  model: gpt-4o-mini
  timeout: 30s
session:
  ttl: 5m
execution:
  denylist_extra: ["webhook"]
media:
  leave_on_empty: false
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "Jarvis" || cfg.OwnerID != "123" || cfg.LLM.Provider != "openai" || cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.LLM.Timeout != 30*time.Second || cfg.Session.TTL != 5*time.Minute {
		t.Errorf("durations = %v, %v", cfg.LLM.Timeout, cfg.Session.TTL)
	}
	if len(cfg.Execution.DenylistExtra) != 1 || cfg.Media.LeaveOnEmpty {
		t.Errorf("execution = %+v, media = %+v", cfg.Execution, cfg.Media)
	}
	if cfg.Guard.MaxInputLength != 4000 || !cfg.Audit.Enabled {
		t.Error("unset sections lost their defaults")
	}

	if _, err := ParseConfig([]byte("session: [")); err == nil {
		t.Error("expected YAML error")
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("OPCLAW_TEST_SET", "value")
	t.Setenv("OPCLAW_TEST_EMPTY", "")

	tests := []struct {
		in, want string
	}{
		{"${OPCLAW_TEST_SET}", "value"},
		{"$OPCLAW_TEST_SET", "value"},
		{"${OPCLAW_TEST_UNSET}", "${OPCLAW_TEST_UNSET}"},
		{"$OPCLAW_TEST_UNSET", "$OPCLAW_TEST_UNSET"},
		{"${OPCLAW_TEST_UNSET:-fallback}", "fallback"},
		{"${OPCLAW_TEST_EMPTY:-fallback}", "fallback"},
		{"${OPCLAW_TEST_SET:-fallback}", "value"},
		{"${OPCLAW_TEST_SET:?missing}", "value"},
		{"a: ${OPCLAW_TEST_SET}\nb: ${OPCLAW_TEST_UNSET:-x}", "a: value\nb: x"},
	}
	for _, tt := range tests {
		got, err := expandEnvVars(tt.in)
		if err != nil {
			t.Errorf("expandEnvVars(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	_, err := expandEnvVars("token: ${OPCLAW_TEST_UNSET:?set the token}\nkey: ${OPCLAW_TEST_EMPTY:?}")
	if err == nil {
		t.Fatal("expected error for required variables")
	}
	for _, want := range []string{"OPCLAW_TEST_UNSET: set the token", "OPCLAW_TEST_EMPTY: required"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func clearSecretEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"DISCORD_TOKEN", "OWNER_ID", "GEMINI_API_KEY", "OPCLAW_LLM_API_KEY", "OPENAI_API_KEY"} {
		t.Setenv(k, "")
	}
}

func TestResolveSecretsPriority(t *testing.T) {
	keyring.MockInit()
	clearSecretEnv(t)

	if err := StoreKeyring(KeyringDiscordToken, "from-keyring"); err != nil {
		t.Fatal(err)
	}
	if err := StoreKeyring(KeyringOwnerID, "owner-from-keyring"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = DeleteKeyring(KeyringDiscordToken)
		_ = DeleteKeyring(KeyringOwnerID)
	})
	t.Setenv("OWNER_ID", "owner-from-env")

	cfg := DefaultConfig()
	cfg.Discord.Token = "from-file"
	cfg.LLM.APIKey = "${GEMINI_API_KEY}"
	resolveSecrets(cfg)

	if cfg.Discord.Token != "from-keyring" {
		t.Errorf("token = %q, keyring beats the file", cfg.Discord.Token)
	}
	if cfg.OwnerID != "owner-from-env" {
		t.Errorf("owner = %q, env beats the keyring", cfg.OwnerID)
	}
	if cfg.LLM.APIKey != "" {
		t.Errorf("api key = %q, unresolved references are cleared", cfg.LLM.APIKey)
	}
}

func TestResolveSecretsProviderEnv(t *testing.T) {
	keyring.MockInit()
	clearSecretEnv(t)
	t.Setenv("GEMINI_API_KEY", "gemini-key")
	t.Setenv("OPENAI_API_KEY", "openai-key")

	cfg := DefaultConfig()
	resolveSecrets(cfg)
	if cfg.LLM.APIKey != "gemini-key" {
		t.Errorf("gemini key = %q", cfg.LLM.APIKey)
	}

	cfg = DefaultConfig()
	cfg.LLM.Provider = "openai"
	resolveSecrets(cfg)
	if cfg.LLM.APIKey != "openai-key" {
		t.Errorf("openai key = %q", cfg.LLM.APIKey)
	}

	t.Setenv("OPCLAW_LLM_API_KEY", "generic-key")
	resolveSecrets(cfg)
	if cfg.LLM.APIKey != "generic-key" {
		t.Errorf("OPCLAW_LLM_API_KEY should win for openai, got %q", cfg.LLM.APIKey)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	keyring.MockInit()
	clearSecretEnv(t)
	t.Setenv("DISCORD_TOKEN", "env-token")
	t.Setenv("OPCLAW_TEST_OWNER", "42")

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "owner_id: \"${OPCLAW_TEST_OWNER}\"\nname: ${OPCLAW_TEST_NAME:-Friday}\ndiscord:\n  token: ${DISCORD_TOKEN}\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.OwnerID != "42" || cfg.Name != "Friday" || cfg.Discord.Token != "env-token" {
		t.Errorf("cfg = owner %q, name %q, token %q", cfg.OwnerID, cfg.Name, cfg.Discord.Token)
	}

	if _, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSaveConfigNeverWritesSecrets(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Discord.Token = "MTIz.real-discord-token"
	cfg.LLM.Provider = "openai"
	cfg.LLM.APIKey = "sk-real-key"

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := SaveConfigToFile(cfg, path); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	if strings.Contains(text, "real-discord-token") || strings.Contains(text, "sk-real-key") {
		t.Errorf("secret written to disk:\n%s", text)
	}
	for _, want := range []string{"${DISCORD_TOKEN}", "${OPENAI_API_KEY}"} {
		if !strings.Contains(text, want) {
			t.Errorf("config missing %s:\n%s", want, text)
		}
	}
	if cfg.Discord.Token != "MTIz.real-discord-token" {
		t.Error("SaveConfigToFile mutated its input")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %o, want 600", perm)
	}
}

func TestLooksLikeRealKey(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"":                           false,
		"${GEMINI_API_KEY}":          false,
		"sk-abc":                     true,
		"AIzaSyExample":              true,
		"short":                      false,
		"a-very-long-token-value-xx": true,
	}
	for in, want := range tests {
		if got := looksLikeRealKey(in); got != want {
			t.Errorf("looksLikeRealKey(%q) = %v, want %v", in, got, want)
		}
	}
}
