package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"qepo_backend/internal/config"
	"qepo_backend/internal/logger"
	"qepo_backend/internal/transport/http"
)

func main() {
	var (
		cfg        *config.Config
		withReaper bool
		reapFor    time.Duration
	)

	root := &cobra.Command{
		Use:           "qepo",
		Short:         "Qepo account and profile backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger.Init(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty, ServiceName: "qepo-backend"})
			return nil
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return http.Run(ctx, cfg, withReaper)
		},
	}
	serveCmd.Flags().BoolVar(&withReaper, "reaper", true, "also run the orphaned identity reaper (needs REDIS_URL)")

	reapCmd := &cobra.Command{
		Use:   "reap-orphans",
		Short: "Delete queued orphaned identity users once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, reapFor)
			defer cancel()

			n, err := http.ReapOrphans(ctx, cfg)
			logger.L().Info().Int("handled", n).Msg("orphan reap finished")
			return err
		},
	}
	reapCmd.Flags().DurationVar(&reapFor, "timeout", 5*time.Minute, "give up after this long")

	root.AddCommand(serveCmd, reapCmd)

	if err := root.ExecuteContext(context.Background()); err != nil {
		logger.L().Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
