package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"cvdflow/config"
	"cvdflow/logger"
)

type rootOptions struct {
	configPath string
}

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("error loading .env file")
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "cvdflow",
		Short:         "Live price and cumulative volume delta charts for Upstox instruments",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to configuration file (default config/config.yml, or config/config.<APP_ENV>.yml)")

	cmd.AddCommand(
		newServeCmd(opts),
		newCandlesCmd(opts),
	)
	return cmd
}

// load reads the configuration and configures the global logger from it.
func (o *rootOptions) load() (*config.Config, *logger.Log, error) {
	log := logger.GetLogger()

	cfg, err := config.LoadConfig(config.ResolvePath(o.configPath))
	if err != nil {
		log.WithError(err).Error("failed to load configuration")
		return nil, nil, err
	}
	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("failed to configure logger")
		return nil, nil, err
	}
	return cfg, log, nil
}
