package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.MaxRecursionDepth != 5 {
		t.Errorf("MaxRecursionDepth = %d, want 5", cfg.Agent.MaxRecursionDepth)
	}
	if cfg.Compressor.MaxMessages != 50 || cfg.Compressor.PreserveRecentCount != 5 {
		t.Errorf("compressor defaults = %+v", cfg.Compressor)
	}
	if cfg.Stream.FlushChunkCount != 8 {
		t.Errorf("FlushChunkCount = %d, want 8", cfg.Stream.FlushChunkCount)
	}
}

func TestLoadJSON5WithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
		// planner settings
		agent: {
			provider: "deepseek",
			max_recursion_depth: 3,
		},
		gateway: { port: 9000 },
	}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Provider != "deepseek" {
		t.Errorf("Provider = %q", cfg.Agent.Provider)
	}
	if cfg.Agent.MaxRecursionDepth != 3 {
		t.Errorf("MaxRecursionDepth = %d", cfg.Agent.MaxRecursionDepth)
	}
	if cfg.Gateway.Port != 9000 {
		t.Errorf("Port = %d", cfg.Gateway.Port)
	}
	// Untouched sections keep defaults.
	if cfg.Gateway.Host != "0.0.0.0" {
		t.Errorf("Host = %q", cfg.Gateway.Host)
	}
}

func TestEnvOverridesTakePrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{agent: {provider: "openai"}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("GTPLANNER_PROVIDER", "openrouter")
	t.Setenv("GTPLANNER_OPENROUTER_API_KEY", "sk-test")
	t.Setenv("GTPLANNER_PORT", "7070")
	t.Setenv("GTPLANNER_MAX_RECURSION_DEPTH", "2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Provider != "openrouter" {
		t.Errorf("Provider = %q", cfg.Agent.Provider)
	}
	if cfg.Providers.OpenRouter.APIKey != "sk-test" {
		t.Errorf("APIKey = %q", cfg.Providers.OpenRouter.APIKey)
	}
	if cfg.Gateway.Port != 7070 {
		t.Errorf("Port = %d", cfg.Gateway.Port)
	}
	if cfg.Agent.MaxRecursionDepth != 2 {
		t.Errorf("MaxRecursionDepth = %d", cfg.Agent.MaxRecursionDepth)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	got := ExpandHome("~/.gtplanner/gtplanner.db")
	want := filepath.Join(home, ".gtplanner", "gtplanner.db")
	if got != want {
		t.Errorf("ExpandHome = %q, want %q", got, want)
	}
	if got := ExpandHome("/abs/path.db"); got != "/abs/path.db" {
		t.Errorf("absolute path changed: %q", got)
	}
}
