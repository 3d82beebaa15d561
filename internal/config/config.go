package config

import (
	"os"
	"strconv"
)

// Config holds all configuration for the Loom orchestration engine.
type Config struct {
	Port      int
	Version   string
	Backends  BackendConfig
	Telemetry TelemetryConfig
	Engine    EngineConfig
}

// BackendConfig configures the external generation/search/memory collaborators.
type BackendConfig struct {
	OpenAIEndpoint    string
	OpenAIKey         string
	AnthropicEndpoint string
	AnthropicKey      string
	OllamaEndpoint    string
	SearchEndpoint    string
	SearchKey         string
	MemorySinkURL     string
	RequestTimeoutMs  int
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// EngineConfig tunes the orchestration engines.
type EngineConfig struct {
	MaxAttempts          int
	BaseBackoffMs        int
	AttemptTimeoutMs     int
	ContextWindow        int
	MaxIterations        int
	ImprovementThreshold float64
	HistorySize          int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("LOOM_PORT", 8080),
		Version: envStr("LOOM_VERSION", "0.4.0"),
		Backends: BackendConfig{
			OpenAIEndpoint:    envStr("LOOM_OPENAI_ENDPOINT", "https://api.openai.com/v1"),
			OpenAIKey:         envStr("LOOM_OPENAI_API_KEY", ""),
			AnthropicEndpoint: envStr("LOOM_ANTHROPIC_ENDPOINT", "https://api.anthropic.com"),
			AnthropicKey:      envStr("LOOM_ANTHROPIC_API_KEY", ""),
			OllamaEndpoint:    envStr("LOOM_OLLAMA_ENDPOINT", "http://localhost:11434"),
			SearchEndpoint:    envStr("LOOM_SEARCH_ENDPOINT", "https://api.tavily.com"),
			SearchKey:         envStr("LOOM_SEARCH_API_KEY", ""),
			MemorySinkURL:     envStr("LOOM_MEMORY_SINK_URL", ""),
			RequestTimeoutMs:  envInt("LOOM_BACKEND_TIMEOUT_MS", 60000),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", true),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "loom-engine"),
		},
		Engine: EngineConfig{
			MaxAttempts:          envInt("LOOM_STEP_MAX_ATTEMPTS", 3),
			BaseBackoffMs:        envInt("LOOM_STEP_BACKOFF_MS", 1000),
			AttemptTimeoutMs:     envInt("LOOM_ATTEMPT_TIMEOUT_MS", 60000),
			ContextWindow:        envInt("LOOM_CONTEXT_WINDOW", 5),
			MaxIterations:        envInt("LOOM_REFLECTION_MAX_ITERATIONS", 3),
			ImprovementThreshold: envFloat("LOOM_REFLECTION_IMPROVEMENT_THRESHOLD", 0.1),
			HistorySize:          envInt("LOOM_ROUTING_HISTORY_SIZE", 100),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
