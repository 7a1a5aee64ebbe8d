package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/upb/chat-relay/config"
	"github.com/upb/chat-relay/internal/observability"
)

var (
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Chat relay with single-shot retrieval augmentation",
	Long: `relay forwards prompts to an OpenAI-compatible completion server.
In RAG mode the prompt is first embedded, the closest stored chunk is
retrieved and the prompt is wrapped in that context.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")
}

// loadRuntime reads configuration from the environment and builds the logger.
// fallbackLevel applies when neither --log-level nor LOG_LEVEL is set.
func loadRuntime(ctx context.Context, fallbackLevel string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.New(ctx)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case logLevel != "":
		cfg.Observability.LogLevel = logLevel
	case fallbackLevel != "" && os.Getenv("LOG_LEVEL") == "":
		cfg.Observability.LogLevel = fallbackLevel
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, logger.With(zap.String("environment", cfg.Environment)), nil
}
