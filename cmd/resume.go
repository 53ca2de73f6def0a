package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lexharvest/lexharvest/internal/app"
)

func newResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume the newest checkpoint for the configured source",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			a.Start()
			defer a.Stop()

			session, err := a.ResumeLatest(ctx, 10*time.Second)
			if err != nil {
				return fmt.Errorf("resume pipeline: %w", err)
			}
			logger.Info("crawl session resumed", zap.String("session_id", session.String()))

			state, err := a.WaitUntilDone(ctx, time.Second)
			if err != nil {
				return fmt.Errorf("crawl interrupted: %w", err)
			}
			logger.Info("crawl session finished", zap.String("state", string(state)))
			return nil
		},
	}
	return cmd
}
