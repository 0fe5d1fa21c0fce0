package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jholhewres/opclaw/pkg/opclaw/audit"
	"github.com/spf13/cobra"
)

// newAuditCmd creates the `opclaw audit` command group.
func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit log of synthesized action programs",
		Long: `Inspect the audit log of synthesized action programs.

Examples:
  opclaw audit list
  opclaw audit list --limit 50 --source
  opclaw audit prune --older-than 168h`,
	}
	cmd.AddCommand(newAuditListCmd(), newAuditPruneCmd())
	return cmd
}

func newAuditListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recent entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			showSource, _ := cmd.Flags().GetBool("source")

			store, err := openAudit(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(context.Background(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No audit entries.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tVERDICT\tDURATION\tDESCRIPTION\tERROR")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					e.CreatedAt.Local().Format(time.DateTime),
					e.Verdict,
					e.Duration,
					truncate(e.Description, 60),
					truncate(e.Error, 60),
				)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if showSource {
				for _, e := range entries {
					fmt.Printf("\n── %s (%s)\n%s\n", e.ID, e.Verdict, e.Source)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "number of entries")
	cmd.Flags().Bool("source", false, "print each program")
	return cmd
}

func newAuditPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete entries older than a duration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			olderThan, _ := cmd.Flags().GetDuration("older-than")
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}

			store, err := openAudit(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Prune(context.Background(), olderThan)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d entries.\n", n)
			return nil
		},
	}
	cmd.Flags().Duration("older-than", 30*24*time.Hour, "age threshold")
	return cmd
}

func openAudit(cmd *cobra.Command) (*audit.Store, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	cfg.Logging.Level = "warn"
	return audit.Open(cfg.Audit.Path, newLogger(cmd, cfg.Logging))
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
