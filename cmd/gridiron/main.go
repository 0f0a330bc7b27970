// Package main is the gridiron CLI: a fantasy football assistant that runs
// tool-calling dialogue turns against a model, checkpoints every thread and
// drives pooled browser sessions for lineup changes.
//
// Start the HTTP server:
//
//	gridiron serve --config gridiron.yaml
//
// Chat from the terminal:
//
//	gridiron chat --league 1234 --user 5678
//
// Environment variables:
//
//   - GRIDIRON_CONFIG: path to the configuration file (default: gridiron.yaml)
//   - GRIDIRON_SLEEPER_<OWNER>_EMAIL / _PASSWORD: Sleeper credentials per owner
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/gridiron/internal/config"
)

// Build information, set with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigPath = "gridiron.yaml"

var configPath string

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gridiron",
		Short: "Gridiron - fantasy football assistant",
		Long: `Gridiron answers lineup questions with live Sleeper data, checkpoints
every conversation, and can drive a browser session to apply changes.

Supported models: Anthropic, OpenAI, Google Gemini, AWS Bedrock`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (or set GRIDIRON_CONFIG)")

	rootCmd.AddCommand(
		buildChatCmd(),
		buildStateCmd(),
		buildThreadsCmd(),
		buildSessionsCmd(),
		buildServeCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("GRIDIRON_CONFIG")); env != "" {
		return env
	}
	return defaultConfigPath
}

// loadConfig loads the resolved config file. A missing default file yields
// the built-in defaults so the CLI works without setup.
func loadConfig() (*config.Config, error) {
	path := resolveConfigPath(configPath)
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) && path == defaultConfigPath {
		return config.Default(), nil
	}
	return nil, fmt.Errorf("failed to load config: %w", err)
}
