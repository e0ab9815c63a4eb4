// Package commands provides the CLI commands for runcoach.
package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ent0n29/runcoach/internal/app"
	"github.com/ent0n29/runcoach/internal/config"
	"github.com/ent0n29/runcoach/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

var (
	logLevel  string
	logPretty bool
)

var rootCmd = &cobra.Command{
	Use:   "runcoach",
	Short: "runcoach - conversational training plan assistant",
	Long: `runcoach keeps a versioned running plan per client and revises it
through conversation.

Run 'runcoach serve' to start the HTTP API, or 'runcoach chat' to talk to
the coach from the terminal.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error), overrides LOG_LEVEL")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "log-pretty", false, "Human-readable console logs")

	rootCmd.SetVersionTemplate(fmt.Sprintf("runcoach %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(resetCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads configuration and applies the global logging flags.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("config error: %w", err)
	}
	if level := strings.TrimSpace(logLevel); level != "" {
		cfg.LogLevel = strings.ToLower(level)
	}
	if logPretty {
		cfg.LogPretty = true
	}
	logging.Init(logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
	})
	return cfg, nil
}

// buildApp wires every component. Callers must run Cleanup.
func buildApp(ctx context.Context) (*app.BuildResult, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg)
}

func closeApp(res *app.BuildResult) {
	if err := res.Cleanup(); err != nil {
		logging.Warn().Err(err).Msg("cleanup failed")
	}
}
