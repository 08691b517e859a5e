package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orrn/thermal-spool/internal/config"
	"github.com/orrn/thermal-spool/internal/logger"
)

const configFlag = "config"

// RootCmd is the root Cobra command that gets called from the main func.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "thermal-spool",
		Short:         "thermal-spool queues and prints ESC/POS jobs on networked receipt printers.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String(configFlag, "config.yaml", "path to the YAML config file")

	cmd.AddCommand(
		serveCmd(),
		probeCmd(),
		encodeCmd(),
		printCmd(),
		hashKeyCmd(),
	)

	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString(configFlag)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}
