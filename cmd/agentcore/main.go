// Command agentcore drives an agent session from the terminal: start a
// session, send prompts, cycle models, and inspect the journal.
//
// Basic usage:
//
//	agentcore prompt --config agentcore.yaml --session ./sessions/s1.jsonl "fix the failing test"
//	agentcore status --session ./sessions/s1.jsonl
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentcore/internal/config"
	"github.com/haasonsaas/agentcore/internal/observability"
)

var (
	configPath string
	logger     *observability.Logger
)

func main() {
	// A logger is available before flags are parsed (e.g. for flag-parse
	// errors themselves); it's replaced with one reflecting the loaded
	// config's logging section once PersistentPreRunE runs.
	logger = observability.NewLogger(observability.LogConfig{Output: os.Stderr})

	if err := buildRootCmd().Execute(); err != nil {
		logger.Error(context.Background(), "command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "agentcore",
		Short:        "Drive an agent session's prompt/continue/compact/model-cycle operations",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logCfg := config.LogConfigFrom(cfg.Logging)
			logCfg.Output = os.Stderr
			logger = observability.NewLogger(logCfg)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "agentcore.yaml", "Path to YAML configuration file")

	root.AddCommand(
		buildPromptCmd(),
		buildContinueCmd(),
		buildStatusCmd(),
		buildCompactCmd(),
		buildModelCmd(),
		buildCatalogCmd(),
	)
	return root
}

func loadConfig() (config.Config, error) {
	if _, err := os.Stat(configPath); err != nil {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

func mustSessionPath(flagPath string) (string, error) {
	if flagPath == "" {
		return "", fmt.Errorf("--session is required")
	}
	return flagPath, nil
}
