package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lexharvest/lexharvest/internal/api"
	"github.com/lexharvest/lexharvest/internal/app"
)

func newServeCmd() *cobra.Command {
	var startNow bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline with its HTTP control API",
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

			if startNow {
				session, err := a.StartPipeline(10 * time.Second)
				if err != nil {
					return fmt.Errorf("start pipeline: %w", err)
				}
				logger.Info("crawl session started", zap.String("session_id", session.String()))
			}

			srv := api.NewServer(a.Coordinator(), cfg.Server, logger)
			httpSrv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("http server listening", zap.String("addr", cfg.Server.Addr))
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := httpSrv.Shutdown(shutdownCtx); err != nil {
					logger.Warn("http shutdown failed", zap.Error(err))
				}
				return nil
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("http server: %w", err)
			}
		},
	}
	cmd.Flags().BoolVar(&startNow, "start", false, "start a crawl session immediately")
	return cmd
}
