package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.pilab.hu/linksync/config"
	"go.pilab.hu/linksync/log"
)

const appName = "linksync"

var (
	cfgFile   string
	appConfig *config.Config
	appLogger log.Logger
)

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "linksync reconciles agencies and their connection links",
	Long: `linksync keeps one agency per user and one default view and manage
connection link per agency, reacting to OAuth sign-in events.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		appConfig = cfg
		appLogger = newLogger(cmd.Context(), cfg)
		return nil
	},
}

// newLogger builds the process logger, falling back to info on an unknown level.
func newLogger(ctx context.Context, cfg *config.Config) log.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		logger := log.NewZerologAdapter(zerolog.InfoLevel, cfg.LogPretty)
		logger.Warn(ctx, "Invalid log level in config, defaulting to info",
			map[string]interface{}{"configured_level": cfg.LogLevel})
		return logger
	}
	return log.NewZerologAdapter(level, cfg.LogPretty)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if appLogger != nil {
			appLogger.Error(context.Background(), "linksync failed", err)
		} else {
			fmt.Fprintln(os.Stderr, "linksync failed:", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		fmt.Sprintf("config file (default is ./%[1]s.yaml or $HOME/.%[1]s/%[1]s.yaml)", appName))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mergeCmd)
}
