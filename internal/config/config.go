// Package config holds the planner's file-backed configuration with env
// overlays and optional hot reload.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the root configuration for the planner.
type Config struct {
	Providers   ProvidersConfig   `json:"providers"`
	Agent       AgentConfig       `json:"agent"`
	Stream      StreamConfig      `json:"stream"`
	Storage     StorageConfig     `json:"storage"`
	Compressor  CompressorConfig  `json:"compressor"`
	Gateway     GatewayConfig     `json:"gateway"`
	Tools       ToolsConfig       `json:"tools"`
	Telemetry   TelemetryConfig   `json:"telemetry,omitempty"`
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
}

// ProviderConfig configures one OpenAI-compatible endpoint.
// API keys are NEVER read from the config file, only from env.
type ProviderConfig struct {
	APIKey  string `json:"-"`
	APIBase string `json:"api_base,omitempty"`
	Model   string `json:"model,omitempty"`
}

type ProvidersConfig struct {
	OpenAI     ProviderConfig `json:"openai,omitempty"`
	OpenRouter ProviderConfig `json:"openrouter,omitempty"`
	DeepSeek   ProviderConfig `json:"deepseek,omitempty"`
}

// AgentConfig tunes the orchestration loop.
type AgentConfig struct {
	Provider          string  `json:"provider"`
	Model             string  `json:"model,omitempty"`
	MaxRecursionDepth int     `json:"max_recursion_depth"`
	MaxTokens         int     `json:"max_tokens"`
	Temperature       float64 `json:"temperature"`
	ParallelToolCalls bool    `json:"parallel_tool_calls"`
	Language          string  `json:"language,omitempty"`
}

// StreamConfig tunes SSE delivery.
type StreamConfig struct {
	HeartbeatSeconds int  `json:"heartbeat_seconds"`
	BufferEvents     bool `json:"buffer_events"`
	FlushChunkCount  int  `json:"flush_chunk_count"`
	FlushIntervalMS  int  `json:"flush_interval_ms"`
	IncludeMetadata  bool `json:"include_metadata"`
}

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	Path          string `json:"path"`
	BusyTimeoutMS int    `json:"busy_timeout_ms"`
}

// CompressorConfig tunes conversation compression thresholds.
type CompressorConfig struct {
	MaxMessages         int    `json:"max_messages"`
	MaxTokens           int    `json:"max_tokens"`
	PreserveRecentCount int    `json:"preserve_recent_count"`
	QueueSize           int    `json:"queue_size"`
	Provider            string `json:"provider,omitempty"` // defaults to agent provider
	Model               string `json:"model,omitempty"`
}

// GatewayConfig configures the HTTP/WebSocket gateway. The bearer token
// is never read from the config file, only from env.
type GatewayConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	RateLimitRPM int    `json:"rate_limit_rpm"`
	Token        string `json:"-"`
}

type WebSearchConfig struct {
	Engine          string `json:"engine"` // "duckduckgo" or "brave"
	BraveAPIKey     string `json:"-"`
	MaxResults      int    `json:"max_results"`
	CacheTTLMinutes int    `json:"cache_ttl_minutes"`
}

type WebFetchConfig struct {
	MaxBytes   int `json:"max_bytes"`
	TimeoutSec int `json:"timeout_sec"`
}

type ToolsConfig struct {
	WebSearch WebSearchConfig `json:"web_search"`
	WebFetch  WebFetchConfig  `json:"web_fetch"`
}

// TelemetryConfig configures the optional OTLP trace exporter.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // "http" (default) or "grpc"
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// MaintenanceConfig schedules the periodic storage sweep.
type MaintenanceConfig struct {
	Enabled       bool   `json:"enabled"`
	Cron          string `json:"cron,omitempty"`
	RetentionDays int    `json:"retention_days"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Provider:          "openai",
			MaxRecursionDepth: 5,
			MaxTokens:         8192,
			Temperature:       0.7,
			ParallelToolCalls: true,
			Language:          "en",
		},
		Stream: StreamConfig{
			HeartbeatSeconds: 30,
			BufferEvents:     true,
			FlushChunkCount:  8,
			FlushIntervalMS:  100,
		},
		Storage: StorageConfig{
			Path:          "~/.gtplanner/gtplanner.db",
			BusyTimeoutMS: 5000,
		},
		Compressor: CompressorConfig{
			MaxMessages:         50,
			MaxTokens:           8000,
			PreserveRecentCount: 5,
			QueueSize:           16,
		},
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         18799,
			RateLimitRPM: 60,
		},
		Tools: ToolsConfig{
			WebSearch: WebSearchConfig{
				Engine:          "duckduckgo",
				MaxResults:      5,
				CacheTTLMinutes: 15,
			},
			WebFetch: WebFetchConfig{
				MaxBytes:   512 * 1024,
				TimeoutSec: 20,
			},
		},
		Telemetry: TelemetryConfig{
			Protocol:    "http",
			ServiceName: "gtplanner",
		},
		Maintenance: MaintenanceConfig{
			Cron:          "0 3 * * *",
			RetentionDays: 90,
		},
	}
}

// DatabasePath returns the storage path with a leading "~" expanded.
func (c *Config) DatabasePath() string {
	return ExpandHome(c.Storage.Path)
}

// FlushInterval returns the stream flush interval as a duration.
func (c *StreamConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMS) * time.Millisecond
}

// Heartbeat returns the stream heartbeat as a duration.
func (c *StreamConfig) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
