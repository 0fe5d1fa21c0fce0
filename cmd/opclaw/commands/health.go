package commands

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// newHealthCmd creates the `opclaw health` command. It queries the /healthz
// endpoint of a running instance and fails unless it reports healthy, so it
// can back a container HEALTHCHECK.
func newHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the health endpoint of a running instance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				cfg, _, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				addr = cfg.Metrics.Address
			}
			if addr == "" {
				return fmt.Errorf("metrics.address is not set; pass --addr")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/healthz", nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("health check: %w", err)
			}
			defer resp.Body.Close()

			body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
			fmt.Println(string(body))
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unhealthy: %s", resp.Status)
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "", "host:port of the metrics endpoint (default metrics.address)")
	return cmd
}
