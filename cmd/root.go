// Package cmd defines the channelcrawler command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/channelcrawler/internal/config"
	"github.com/JakeFAU/channelcrawler/internal/logging"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configFile string
	envFile    string
}

// newRootCmd creates the root command and registers its subcommands.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "channelcrawler",
		Short: "Periodically harvests public Eitaa channel pages.",
		Long: `channelcrawler fetches the public web view of a list of channels on a
fixed interval, extracts new posts and channel bios, writes them to local
JSON files and optionally forwards them to a message broker.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadEnvFile(opts.envFile)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "",
		"config file (default: config.yaml in ., /etc/channelcrawler or $HOME/.channelcrawler)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "optional dotenv file with CRAWLER_* overrides")

	cmd.AddCommand(newCrawlCmd(opts))
	cmd.AddCommand(newCheckProxiesCmd(opts))
	return cmd
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// loadEnvFile exports the dotenv file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// loadConfig resolves the config file and builds the logger from it.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	path := o.configFile
	if path == "" {
		path = config.Discover()
	}
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	if path != "" {
		logger.Info("configuration loaded", zap.String("file", path))
	}
	return cfg, logger, nil
}
