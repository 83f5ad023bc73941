package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"laundry-sync-backend/internal/logging"
	"laundry-sync-backend/internal/server"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the laundry daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.FromConfig(cfg.Log))
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			logger.Info("configuration loaded", zap.String("path", ctx.configPath()))

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := server.New(runCtx, cfg, logger)
			if err != nil {
				return err
			}
			defer srv.Close()

			if err := srv.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
