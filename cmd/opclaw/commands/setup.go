package commands

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/jholhewres/opclaw/pkg/opclaw/copilot"
	"github.com/jholhewres/opclaw/pkg/opclaw/llm"
	"github.com/spf13/cobra"
)

var snowflakePattern = regexp.MustCompile(`^\d{15,21}$`)

// newSetupCmd creates the `opclaw setup` wizard.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard that writes config.yaml.
The Discord token and the model API key are stored in the OS keyring when
available; config.yaml only holds environment references.

Examples:
  opclaw setup
  opclaw setup --config ./configs/opclaw.yaml`,
		RunE: runSetup,
	}
}

// setupAnswers collects the wizard fields.
type setupAnswers struct {
	name     string
	ownerID  string
	token    string
	provider string
	apiKey   string
	model    string
	music    bool
	metrics  string
	save     bool
}

func runSetup(cmd *cobra.Command, _ []string) error {
	target, _ := cmd.Root().PersistentFlags().GetString("config")
	if target == "" {
		target = "config.yaml"
	}

	cfg := copilot.DefaultConfig()
	a := setupAnswers{
		name:     cfg.Name,
		provider: cfg.LLM.Provider,
		music:    cfg.Media.Enabled,
		save:     true,
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("opclaw setup").
				Description("Answer a few questions to create "+target+"."),
			huh.NewInput().
				Title("Assistant name").
				Description("Used in the conversational prompt.").
				Value(&a.name),
			huh.NewInput().
				Title("Operator user ID").
				Description("Your Discord user ID (Developer Mode → Copy User ID). Only this user is obeyed.").
				Value(&a.ownerID).
				Validate(func(s string) error {
					if !snowflakePattern.MatchString(strings.TrimSpace(s)) {
						return errors.New("expected a numeric Discord ID")
					}
					return nil
				}),
			huh.NewInput().
				Title("Discord bot token").
				EchoMode(huh.EchoModePassword).
				Value(&a.token).
				Validate(required("the bot token")),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Model provider").
				Options(
					huh.NewOption("Google Gemini", "gemini"),
					huh.NewOption("OpenAI-compatible", "openai"),
				).
				Value(&a.provider),
			huh.NewInput().
				Title("API key").
				EchoMode(huh.EchoModePassword).
				Value(&a.apiKey).
				Validate(required("the API key")),
			huh.NewInput().
				Title("Model").
				Description("Leave empty for the provider default.").
				Value(&a.model),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable music playback?").
				Description("Requires yt-dlp and ffmpeg on PATH.").
				Value(&a.music),
			huh.NewInput().
				Title("Metrics address").
				Description("host:port for /metrics and /healthz. Empty disables it.").
				Placeholder("127.0.0.1:9464").
				Value(&a.metrics),
			huh.NewConfirm().
				Title("Save configuration to "+target+"?").
				Value(&a.save),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("Setup cancelled.")
			return nil
		}
		return fmt.Errorf("setup form: %w", err)
	}
	if !a.save {
		fmt.Println("Setup cancelled.")
		return nil
	}

	if _, err := os.Stat(target); err == nil {
		overwrite := false
		if err := huh.NewConfirm().Title(target + " already exists. Overwrite?").Value(&overwrite).Run(); err != nil || !overwrite {
			fmt.Println("Setup cancelled. Existing file kept.")
			return nil
		}
	}

	cfg.Name = strings.TrimSpace(a.name)
	cfg.OwnerID = strings.TrimSpace(a.ownerID)
	cfg.LLM.Provider = a.provider
	cfg.LLM.Model = strings.TrimSpace(a.model)
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = llm.DefaultModel(a.provider)
	}
	cfg.Media.Enabled = a.music
	cfg.Metrics.Address = strings.TrimSpace(a.metrics)

	// Secrets go to the keyring; the file only references the environment.
	cfg.Discord.Token = strings.TrimSpace(a.token)
	cfg.LLM.APIKey = strings.TrimSpace(a.apiKey)
	stored := storeSecrets(cfg)

	if err := copilot.SaveConfigToFile(cfg, target); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\n%s created (permissions 600, no secrets inside).\n\n", target)
	if stored {
		fmt.Println("Secrets stored in the OS keyring.")
	} else {
		fmt.Println("The OS keyring is unavailable. Export the secrets before starting:")
		fmt.Println("  export DISCORD_TOKEN=...")
		fmt.Printf("  export %s=...\n", apiKeyEnvName(cfg.LLM.Provider))
	}
	fmt.Println()
	fmt.Println("Next: opclaw serve")
	return nil
}

// storeSecrets writes the token and API key to the OS keyring. It reports
// false when the keyring cannot be used.
func storeSecrets(cfg *copilot.Config) bool {
	if !copilot.KeyringAvailable() {
		return false
	}
	for key, value := range map[string]string{
		copilot.KeyringDiscordToken: cfg.Discord.Token,
		copilot.KeyringLLMAPIKey:    cfg.LLM.APIKey,
	} {
		if err := copilot.StoreKeyring(key, value); err != nil {
			fmt.Fprintf(os.Stderr, "[!] keyring: %v\n", err)
			return false
		}
	}
	return true
}

func apiKeyEnvName(provider string) string {
	if provider == "openai" {
		return "OPENAI_API_KEY"
	}
	return "GEMINI_API_KEY"
}

func required(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", what)
		}
		return nil
	}
}
