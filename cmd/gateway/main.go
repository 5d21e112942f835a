package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"bingo_gateway/internal/config"
	"bingo_gateway/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serveCommand := serveCmd()

	root := &cobra.Command{
		Use:           "gateway",
		Short:         "Bingo payment and Telegram gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serveCommand.RunE,
	}

	root.AddCommand(serveCommand)
	root.AddCommand(configCmd())
	root.AddCommand(webhookCmd())

	return root
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Load and print the resolved configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadRuntime()
			if err != nil {
				return err
			}

			logging.Info("configuration check", logging.Fields{"event": "config_only"})
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "configuration check: ok")
			fmt.Fprintln(out, config.FormatRedacted(cfg))
			return nil
		},
	}
}

// loadRuntime resolves configuration and installs the logger.
func loadRuntime() (config.Config, *logrus.Entry, error) {
	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		return config.Config{}, nil, fmt.Errorf("configuration error: %w", err)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		return config.Config{}, nil, fmt.Errorf("logger setup error: %w", err)
	}

	return cfg, logger, nil
}
