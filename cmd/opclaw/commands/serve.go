package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jholhewres/opclaw/pkg/opclaw/audit"
	"github.com/jholhewres/opclaw/pkg/opclaw/channels/discord"
	"github.com/jholhewres/opclaw/pkg/opclaw/copilot"
	"github.com/jholhewres/opclaw/pkg/opclaw/llm"
	"github.com/jholhewres/opclaw/pkg/opclaw/media"
	"github.com/jholhewres/opclaw/pkg/opclaw/metrics"
	"github.com/spf13/cobra"
)

// shutdownTimeout bounds the graceful stop.
const shutdownTimeout = 10 * time.Second

// newServeCmd creates the `opclaw serve` command that starts the bot.
func newServeCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to Discord and start handling the operator's messages",
		Long: `Start opclaw as a long-running service: connect to the Discord gateway,
open the audit log, start the music engine and the metrics endpoint, and
answer the operator's mentions until interrupted.

Examples:
  opclaw serve
  opclaw serve --config ./config.yaml
  opclaw serve --no-music`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, version)
		},
	}

	cmd.Flags().Bool("no-music", false, "disable the music engine")
	cmd.Flags().String("metrics-addr", "", "override metrics.address")
	return cmd
}

func runServe(cmd *cobra.Command, version string) error {
	// ── Load config ──
	cfg, source, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if noMusic, _ := cmd.Flags().GetBool("no-music"); noMusic {
		cfg.Media.Enabled = false
	}
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		cfg.Metrics.Address = addr
	}

	logger := newLogger(cmd, cfg.Logging)
	logger.Info("config loaded", "source", source)
	copilot.AuditSecrets(cfg, logger)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration (run 'opclaw setup'):\n%w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// ── Discord ──
	dc := discord.New(cfg.Discord, logger)
	dc.OnReady(func(botUser string) {
		logger.Info("ready", "bot", botUser, "operator", cfg.OwnerID)
	})
	if err := dc.Connect(ctx); err != nil {
		return err
	}
	defer dc.Disconnect()

	// ── Model ──
	client, err := llm.New(ctx, cfg.LLM.Config, logger)
	if err != nil {
		return fmt.Errorf("creating %s client: %w", cfg.LLM.Provider, err)
	}
	defer client.Close()

	deps := copilot.Deps{
		Channel: dc,
		Binder:  dc,
		LLM:     client,
		Metrics: m,
	}

	// ── Audit log ──
	if cfg.Audit.Enabled {
		store, err := audit.Open(cfg.Audit.Path, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		keep := time.Duration(cfg.Audit.RetentionDays) * 24 * time.Hour
		retention, err := store.StartRetention(ctx, cfg.Audit.PruneSchedule, keep)
		if err != nil {
			return err
		}
		defer retention.Stop()
		deps.Audit = store
	}

	// ── Music ──
	var player *media.Player
	if cfg.Media.Enabled {
		player = media.NewPlayer(
			media.NewYTDLP(cfg.Media.YTDLPPath, cfg.Media.SearchCacheTTL, logger),
			media.NewFFmpeg(cfg.Media.FFmpegPath, logger),
			dc.Voice(),
			cfg.Media,
			media.Events{},
			logger,
		)
		deps.Media = player
	}

	// ── Assistant ──
	assistant, err := copilot.New(cfg, deps, logger)
	if err != nil {
		return err
	}
	if player != nil {
		player.SetEvents(assistant.Dispatcher().MediaEvents())
	}

	// ── Metrics ──
	var server *metrics.Server
	if cfg.Metrics.Address != "" {
		server = metrics.NewServer(cfg.Metrics.Address, version, m, func() map[string]bool {
			return map[string]bool{dc.Name(): dc.IsConnected()}
		}, logger)
		if err := server.Start(ctx); err != nil {
			return err
		}
	}

	if err := assistant.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	logger.Info("opclaw running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"provider", cfg.LLM.Provider,
		"music", cfg.Media.Enabled,
		"audit", cfg.Audit.Enabled,
	)

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping...")
	shutdown(logger, assistant, player, server)
	return nil
}

// shutdown stops the assistant, the player and the metrics server, bounded by
// shutdownTimeout. Deferred closers in runServe run afterwards.
func shutdown(logger *slog.Logger, assistant *copilot.Assistant, player *media.Player, server *metrics.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		assistant.Stop()
		if player != nil {
			player.Close()
		}
		if server != nil {
			if err := server.Stop(ctx); err != nil {
				logger.Warn("metrics server shutdown failed", "error", err)
			}
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-ctx.Done():
		logger.Warn("shutdown timed out, forcing exit", "timeout", shutdownTimeout)
		os.Exit(1)
	}
}
