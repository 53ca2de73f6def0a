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

func newCrawlCmd() *cobra.Command {
	var (
		query      string
		maxResults int
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl session to completion",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			if query != "" {
				cfg.Crawler.Query = query
			}
			if maxResults > 0 {
				cfg.Crawler.MaxResults = maxResults
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			a.Start()
			defer a.Stop()

			session, err := a.StartPipeline(10 * time.Second)
			if err != nil {
				return fmt.Errorf("start pipeline: %w", err)
			}
			logger.Info("crawl session started",
				zap.String("session_id", session.String()),
				zap.String("source", cfg.Crawler.Source))

			state, err := a.WaitUntilDone(ctx, time.Second)
			if err != nil {
				return fmt.Errorf("crawl interrupted: %w", err)
			}
			logger.Info("crawl session finished", zap.String("state", string(state)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "search query (overrides config)")
	cmd.Flags().IntVarP(&maxResults, "max-results", "n", 0, "maximum items to harvest (overrides config)")
	return cmd
}
