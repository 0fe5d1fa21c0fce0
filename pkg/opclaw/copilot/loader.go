package copilot

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR}, ${VAR:-default}, ${VAR:?message} and $VAR.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?:(:-|:\?)([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// LoadConfigFromFile reads and parses a YAML configuration file.
// .env files are loaded first, ${VAR} references are expanded and secrets are
// resolved from the environment and the OS keyring.
func LoadConfigFromFile(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := expandEnvVars(string(data))
	if err != nil {
		return nil, err
	}

	cfg, err := ParseConfig([]byte(expanded))
	if err != nil {
		return nil, err
	}

	resolveSecrets(cfg)
	checkFilePermissions(path)
	return cfg, nil
}

// LoadConfigFromEnv builds a configuration from defaults, .env files, the
// environment and the OS keyring, without a config file.
func LoadConfigFromEnv() *Config {
	loadEnvFiles()
	cfg := DefaultConfig()
	resolveSecrets(cfg)
	return cfg
}

// ParseConfig parses YAML bytes into a Config, starting from the defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// MarshalConfig renders cfg as YAML with secrets replaced by environment
// references.
func MarshalConfig(cfg *Config) ([]byte, error) {
	sanitized := *cfg
	sanitized.Discord.Token = sanitizeSecret(cfg.Discord.Token, "DISCORD_TOKEN")
	sanitized.LLM.APIKey = sanitizeSecret(cfg.LLM.APIKey, apiKeyEnv(cfg.LLM.Provider))

	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return data, nil
}

// SaveConfigToFile writes cfg as YAML. Secrets never land on disk.
func SaveConfigToFile(cfg *Config, path string) error {
	data, err := MarshalConfig(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile searches for config files in standard locations.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"opclaw.yaml",
		"opclaw.yml",
		"configs/config.yaml",
		"configs/opclaw.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// AuditSecrets warns about secrets written literally in the config file.
func AuditSecrets(cfg *Config, logger *slog.Logger) {
	if looksLikeRealKey(cfg.LLM.APIKey) && !fromStore(cfg.LLM.APIKey, KeyringLLMAPIKey, apiKeyEnv(cfg.LLM.Provider), "OPCLAW_LLM_API_KEY") {
		logger.Warn("LLM API key appears to be hardcoded in config",
			"hint", fmt.Sprintf("set 'api_key: ${%s}' or run 'opclaw setup'", apiKeyEnv(cfg.LLM.Provider)))
	}
	if looksLikeRealKey(cfg.Discord.Token) && !fromStore(cfg.Discord.Token, KeyringDiscordToken, "DISCORD_TOKEN") {
		logger.Warn("Discord token appears to be hardcoded in config",
			"hint", "set 'token: ${DISCORD_TOKEN}' or run 'opclaw setup'")
	}
}

// ---------- Internal ----------

// fromStore reports whether value came from the keyring or one of envs.
func fromStore(value, keyringKey string, envs ...string) bool {
	for _, e := range envs {
		if os.Getenv(e) == value {
			return true
		}
	}
	return GetKeyring(keyringKey) == value
}

func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		// godotenv.Load does not overwrite variables already set.
		_ = godotenv.Load(f)
	}
}

// expandEnvVars replaces environment references. Unset plain references are
// left in place; ${VAR:?msg} fails when VAR is unset or empty.
func expandEnvVars(input string) (string, error) {
	var errs *multierror.Error

	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		m := envVarPattern.FindStringSubmatch(match)
		if m[4] != "" {
			if val, ok := os.LookupEnv(m[4]); ok {
				return val
			}
			return match
		}

		name, op, arg := m[1], m[2], m[3]
		val, ok := os.LookupEnv(name)
		switch op {
		case ":-":
			if !ok || val == "" {
				return arg
			}
			return val
		case ":?":
			if !ok || val == "" {
				if arg == "" {
					arg = "required"
				}
				errs = multierror.Append(errs, fmt.Errorf("%s: %s", name, arg))
				return ""
			}
			return val
		default:
			if ok {
				return val
			}
			return match
		}
	})

	if err := errs.ErrorOrNil(); err != nil {
		return "", fmt.Errorf("expanding config: %w", err)
	}
	return out, nil
}

// secret is one credential resolved env → keyring → config file.
type secret struct {
	envs       []string
	keyringKey string
	value      *string
}

func configSecrets(cfg *Config) []secret {
	llmEnvs := []string{"GEMINI_API_KEY", "OPCLAW_LLM_API_KEY"}
	if strings.EqualFold(cfg.LLM.Provider, "openai") {
		llmEnvs = []string{"OPCLAW_LLM_API_KEY", "OPENAI_API_KEY"}
	}
	return []secret{
		{envs: []string{"DISCORD_TOKEN"}, keyringKey: KeyringDiscordToken, value: &cfg.Discord.Token},
		{envs: []string{"OWNER_ID"}, keyringKey: KeyringOwnerID, value: &cfg.OwnerID},
		{envs: llmEnvs, keyringKey: KeyringLLMAPIKey, value: &cfg.LLM.APIKey},
	}
}

func resolveSecrets(cfg *Config) {
	for _, s := range configSecrets(cfg) {
		if v := firstEnv(s.envs...); v != "" {
			*s.value = v
			continue
		}
		if v := GetKeyring(s.keyringKey); v != "" {
			*s.value = v
			continue
		}
		if IsEnvReference(*s.value) {
			*s.value = ""
		}
	}
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

func apiKeyEnv(provider string) string {
	if strings.EqualFold(provider, "openai") {
		return "OPENAI_API_KEY"
	}
	return "GEMINI_API_KEY"
}

// sanitizeSecret replaces a real secret with an env var reference.
func sanitizeSecret(value, envVar string) string {
	if value == "" || IsEnvReference(value) {
		return value
	}
	return "${" + envVar + "}"
}

// IsEnvReference checks if a string is an environment variable reference.
func IsEnvReference(s string) bool {
	return strings.HasPrefix(s, "$")
}

// looksLikeRealKey heuristically checks if a string looks like a real credential.
func looksLikeRealKey(s string) bool {
	if s == "" || IsEnvReference(s) {
		return false
	}
	return strings.HasPrefix(s, "sk-") || strings.HasPrefix(s, "AIza") || len(s) > 20
}

// checkFilePermissions warns if the config file is readable by others.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	mode := info.Mode().Perm()
	if mode&0o044 != 0 {
		slog.Warn("config file has open permissions, consider restricting",
			"path", path,
			"current", fmt.Sprintf("%04o", mode),
			"recommended", "0600",
			"fix", fmt.Sprintf("chmod 600 %s", path),
		)
	}
}
