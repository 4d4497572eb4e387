// Command aphdex operates an APH exchange ledger kept in local storage:
// replaying scripted invocations, inspecting balances and offers and
// reconciling custody.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"aphdex/config"
)

type rootOptions struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "aphdex",
		Short:         "APH exchange accounting core",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			logger, err := setupLogger(cfg.Logging)
			if err != nil {
				return err
			}
			opts.cfg, opts.logger = cfg, logger
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "./aphdex.toml", "path to the configuration file")

	cmd.AddCommand(
		newInitCommand(opts),
		newReplayCommand(opts),
		newBalanceCommand(opts),
		newContributionCommand(opts),
		newOfferCommand(opts),
		newReconCommand(opts),
		newDigestCommand(opts),
	)
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "aphdex:", err)
		os.Exit(1)
	}
}
