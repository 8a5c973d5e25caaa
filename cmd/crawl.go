package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/channelcrawler/internal/app"
	"github.com/JakeFAU/channelcrawler/internal/config"
)

const shutdownTimeout = 15 * time.Second

// newCrawlCmd creates the 'crawl' subcommand. Its flags override the
// matching config keys only when set.
func newCrawlCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the configured channels until interrupted",
		Long: `Loads the channel list, runs the startup checks and then crawls every
channel once per interval in batches. Interrupt (Ctrl-C or SIGTERM) stops the
loop after the in-flight work is abandoned; stored records are never lost.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.Duration("interval", 30*time.Minute, "time between crawl cycles (minimum 1m)")
	f.Bool("use-proxies", false, "route requests through the validated proxy pool")
	f.Bool("require-proxies", false, "refuse to crawl without working proxies")
	f.Bool("broker", false, "forward saved records to the message broker")
	f.String("channels", "config/users.json", "JSON file with the channel list")
	f.Int("concurrency", 1, "channels fetched in parallel within a batch")
	f.String("metrics-addr", "", "listen address for /healthz, /readyz and /metrics (disabled when empty)")
	f.String("log-level", "info", "log level (debug, info, warn, error)")
	return cmd
}

func runCrawl(cmd *cobra.Command, opts *rootOptions) error {
	cfg, logger, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	channels, err := config.LoadChannels(cfg.Channels.File)
	if err != nil {
		return err
	}
	logger.Info("channel list loaded", zap.String("file", cfg.Channels.File), zap.Int("channels", len(channels)))

	a, err := app.Build(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if cerr := a.Close(ctx); cerr != nil {
			logger.Warn("shutdown incomplete", zap.Error(cerr))
		}
	}()

	if err := a.Run(cmd.Context(), channels); err != nil {
		return fmt.Errorf("run crawler: %w", err)
	}
	logger.Info("crawl command finished")
	return nil
}
