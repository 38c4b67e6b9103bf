package main

import (
	"fmt"

	"github.com/pevans/newsingest/config"
	"github.com/pevans/newsingest/logger"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	debug      bool
}

// load reads the configuration and builds the logger.
func (o *rootOptions) load() (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if o.debug {
		cfg.Logging.Level = "debug"
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return cfg, log, nil
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "newsingest",
		Short:         "Deduplicating news article ingester",
		Long:          `Fetches news headlines, skips ones already stored, and saves the rest with their images.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(
		&opts.configPath,
		"config",
		"",
		"config file (default is ~/.newsingest/config.yaml)",
	)
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(
		newRunCommand(opts),
		newListCommand(opts),
		newServeCommand(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "newsingest version %s\n", version)
			},
		},
	)

	return cmd
}
