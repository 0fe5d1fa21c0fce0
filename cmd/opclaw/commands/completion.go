package commands

import (
	"io"

	"github.com/spf13/cobra"
)

// completionWriters maps each supported shell to its cobra generator.
var completionWriters = map[string]func(root *cobra.Command, w io.Writer) error{
	"bash":       func(root *cobra.Command, w io.Writer) error { return root.GenBashCompletionV2(w, true) },
	"zsh":        func(root *cobra.Command, w io.Writer) error { return root.GenZshCompletion(w) },
	"fish":       func(root *cobra.Command, w io.Writer) error { return root.GenFishCompletion(w, true) },
	"powershell": func(root *cobra.Command, w io.Writer) error { return root.GenPowerShellCompletionWithDesc(w) },
}

// newCompletionCmd creates `opclaw completion <shell>`.
func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion <bash|zsh|fish|powershell>",
		Short: "Print a shell completion script for opclaw",
		Long: `Print a completion script for the opclaw CLI to stdout.

Try it in the current shell:
  bash:       source <(opclaw completion bash)
  zsh:        source <(opclaw completion zsh)
  fish:       opclaw completion fish | source
  powershell: opclaw completion powershell | Out-String | Invoke-Expression

Install it for a bot host's service user:
  opclaw completion bash > /etc/bash_completion.d/opclaw
  opclaw completion fish > ~/.config/fish/completions/opclaw.fish`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return completionWriters[args[0]](cmd.Root(), cmd.OutOrStdout())
		},
	}
}
