package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	// Secrets come from env only.
	envStr("GTPLANNER_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("GTPLANNER_OPENROUTER_API_KEY", &c.Providers.OpenRouter.APIKey)
	envStr("GTPLANNER_DEEPSEEK_API_KEY", &c.Providers.DeepSeek.APIKey)
	envStr("GTPLANNER_BRAVE_API_KEY", &c.Tools.WebSearch.BraveAPIKey)

	envStr("GTPLANNER_PROVIDER", &c.Agent.Provider)
	envStr("GTPLANNER_MODEL", &c.Agent.Model)
	envStr("GTPLANNER_LANGUAGE", &c.Agent.Language)
	if v := os.Getenv("GTPLANNER_MAX_RECURSION_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Agent.MaxRecursionDepth = n
		}
	}

	envStr("GTPLANNER_DB_PATH", &c.Storage.Path)

	envStr("GTPLANNER_HOST", &c.Gateway.Host)
	envStr("GTPLANNER_GATEWAY_TOKEN", &c.Gateway.Token)
	if v := os.Getenv("GTPLANNER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	envStr("GTPLANNER_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("GTPLANNER_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("GTPLANNER_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("GTPLANNER_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("GTPLANNER_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}
