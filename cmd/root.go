// Package cmd wires the planner's CLI: the gateway server, the terminal
// chat REPL, session management and database migrations.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jennifer88huang/gtplanner/internal/config"
	"github.com/jennifer88huang/gtplanner/internal/providers"
	"github.com/jennifer88huang/gtplanner/internal/store"
)

// Version is set at build time via -ldflags "-X github.com/jennifer88huang/gtplanner/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "gtplanner",
	Short: "gtplanner — LLM-driven planning agent",
	Long: "gtplanner turns vague product ideas into concrete implementation plans. " +
		"It runs a tool-using planning agent over streamed LLM turns, persists every " +
		"conversation in SQLite, and serves the event stream over SSE and WebSocket.",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json or $GTPLANNER_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gtplanner %s\n", Version)
		},
	}
}

func setupLogging() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("GTPLANNER_CONFIG"); v != "" {
		return v
	}
	return "config.json"
}

func loadConfig() (*config.Config, error) {
	return config.Load(resolveConfigPath())
}

// openStore opens the SQLite database, creating its directory first.
func openStore(cfg *config.Config) (*store.Store, error) {
	path := cfg.DatabasePath()
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	return store.Open(path, cfg.Storage.BusyTimeoutMS)
}

// registerProviders configures every provider with an API key present.
func registerProviders(reg *providers.Registry, cfg *config.Config) {
	if c := cfg.Providers.OpenAI; c.APIKey != "" {
		reg.Register(providers.NewOpenAIProvider("openai", c.APIKey, c.APIBase, c.Model))
	}
	if c := cfg.Providers.OpenRouter; c.APIKey != "" {
		base := c.APIBase
		if base == "" {
			base = "https://openrouter.ai/api/v1"
		}
		reg.Register(providers.NewOpenAIProvider("openrouter", c.APIKey, base, c.Model))
	}
	if c := cfg.Providers.DeepSeek; c.APIKey != "" {
		base := c.APIBase
		if base == "" {
			base = "https://api.deepseek.com"
		}
		reg.Register(providers.NewOpenAIProvider("deepseek", c.APIKey, base, c.Model))
	}
}

// resolveProvider returns the configured agent provider, with a clear
// message when no API key was supplied.
func resolveProvider(reg *providers.Registry, cfg *config.Config) (providers.Provider, error) {
	p, err := reg.Get(cfg.Agent.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w (set GTPLANNER_%s_API_KEY)", err,
			envName(cfg.Agent.Provider))
	}
	return p, nil
}

func envName(provider string) string {
	switch provider {
	case "openrouter":
		return "OPENROUTER"
	case "deepseek":
		return "DEEPSEEK"
	default:
		return "OPENAI"
	}
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
