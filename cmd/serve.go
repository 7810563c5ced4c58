package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jennifer88huang/gtplanner/internal/agent"
	"github.com/jennifer88huang/gtplanner/internal/compressor"
	"github.com/jennifer88huang/gtplanner/internal/config"
	"github.com/jennifer88huang/gtplanner/internal/httpapi"
	"github.com/jennifer88huang/gtplanner/internal/providers"
	"github.com/jennifer88huang/gtplanner/internal/sessions"
	"github.com/jennifer88huang/gtplanner/internal/stream"
	"github.com/jennifer88huang/gtplanner/internal/tools"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the planning gateway (HTTP + WebSocket)",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	providerReg := providers.NewRegistry()
	registerProviders(providerReg, cfg)
	provider, err := resolveProvider(providerReg, cfg)
	if err != nil {
		slog.Error("no usable provider", "error", err)
		os.Exit(1)
	}

	st, err := openStore(cfg)
	if err != nil {
		slog.Error("failed to open database", "path", cfg.DatabasePath(), "error", err)
		os.Exit(1)
	}
	defer st.Close()

	mgr := sessions.NewManager(st)

	comp := compressor.New(mgr, compressionProvider(providerReg, provider, cfg), cfg.Compressor)
	comp.Start()
	defer comp.Stop()

	registry := buildToolRegistry(provider, cfg)
	engine := agent.NewEngine(provider, registry, cfg.Agent)
	planner := agent.NewPlanner(engine, mgr, comp, cfg.Agent.Language)
	streams := stream.NewManager()
	defer streams.CloseAll()

	server := httpapi.NewServer(cfg, planner, mgr, streams)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		cancel()
	}()

	if shutdown, err := initTelemetry(ctx, cfg); err != nil {
		slog.Warn("telemetry disabled", "error", err)
	} else if shutdown != nil {
		defer shutdown()
	}

	// Hot reload covers the log level; everything else needs a restart.
	if stop, err := config.Watch(resolveConfigPath(), func(next *config.Config) {
		slog.Info("config changed on disk; most settings apply on restart")
	}); err != nil {
		slog.Debug("config watch unavailable", "error", err)
	} else {
		defer stop()
	}

	slog.Info("gtplanner starting",
		"version", Version,
		"provider", provider.Name(),
		"model", cfg.Agent.Model,
		"tools", registry.Names(),
		"db", cfg.DatabasePath(),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(ctx)
	})
	g.Go(func() error {
		runMaintenance(ctx, st, cfg.Maintenance)
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}
}

// buildToolRegistry registers the planning tool set.
func buildToolRegistry(provider providers.Provider, cfg *config.Config) *tools.Registry {
	reg := tools.NewRegistry()

	search := tools.NewWebSearchTool(cfg.Tools.WebSearch)
	reg.Register(search)
	reg.Register(tools.NewWebFetchTool(cfg.Tools.WebFetch))
	reg.Register(tools.NewToolRecommendTool(provider, cfg.Agent.Model))
	reg.Register(tools.NewResearchTool(provider, cfg.Agent.Model, search))
	reg.Register(tools.NewShortPlanningTool(provider, cfg.Agent.Model))

	return reg
}

// compressionProvider picks the provider for background compression, which
// may differ from the agent's.
func compressionProvider(reg *providers.Registry, fallback providers.Provider, cfg *config.Config) providers.Provider {
	if cfg.Compressor.Provider == "" {
		return fallback
	}
	p, err := reg.Get(cfg.Compressor.Provider)
	if err != nil {
		slog.Warn("compressor provider not configured, using agent provider",
			"requested", cfg.Compressor.Provider)
		return fallback
	}
	return p
}
