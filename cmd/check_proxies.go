package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/channelcrawler/internal/clock/system"
	"github.com/JakeFAU/channelcrawler/internal/proxy"
)

// newCheckProxiesCmd creates the 'check-proxies' subcommand, which rebuilds
// the proxy pool once and reports its health.
func newCheckProxiesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-proxies",
		Short: "Fetch, validate and report on the proxy pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			pool, err := proxy.New(cfg.Proxy, system.New(), logger)
			if err != nil {
				return err
			}
			health, err := pool.CheckProxy(cmd.Context())
			if err != nil {
				return fmt.Errorf("proxy check failed: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "pool size:    %d\n", health.PoolSize)
			fmt.Fprintf(out, "sample proxy: %s\n", health.SampleProxy)
			fmt.Fprintf(out, "observed ip:  %s\n", health.SampleIP)
			return nil
		},
	}
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	return cmd
}
