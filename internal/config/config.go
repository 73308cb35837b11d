// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// LLM backend names.
const (
	BackendAuto = "auto"
	BackendAPI  = "api"
	BackendCLI  = "cli"
	BackendGRPC = "grpc"
)

// Store backend names.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	Environment     string
	LogLevel        slog.Level
	AllowedOrigins  []string
	MaxRequestBody  int64
	SSEKeepalive    time.Duration
	RateLimit       RateLimitConfig
	LLM             LLMConfig
	Store           StoreConfig
	ConversationLog ConversationLogConfig
}

// LLMConfig selects and tunes the model gateway.
type LLMConfig struct {
	Backend       string
	APIKey        string
	Model         string
	BaseURL       string
	CLIPath       string
	GRPCAddr      string
	GRPCListen    string
	Timeout       time.Duration
	MaxConcurrent int64
	MaxTokens     int
	Temperature   float64
}

// StoreConfig selects the conversation context backend.
type StoreConfig struct {
	Backend    string
	DBPath     string
	SessionTTL time.Duration
}

// RateLimitConfig bounds turn requests per client.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// ConversationLogConfig controls NDJSON conversation logging.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:           getEnv("PORT", getEnv("SKILLS_PORT", "8001")),
		Environment:    getEnv("NODE_ENV", "local"),
		LogLevel:       parseLevel(getEnv("LOG_LEVEL", "info")),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "*")),
		MaxRequestBody: int64(getEnvInt("MAX_REQUEST_BODY", 1<<20)),
		SSEKeepalive:   getEnvDuration("SSE_KEEPALIVE", 10*time.Second),
		RateLimit: RateLimitConfig{
			RPS:   getEnvFloat("RATE_LIMIT_RPS", 2),
			Burst: getEnvInt("RATE_LIMIT_BURST", 10),
		},
		LLM: LLMConfig{
			Backend:       strings.ToLower(getEnv("LLM_BACKEND", BackendAuto)),
			APIKey:        getEnv("CLAUDE_API_KEY", ""),
			Model:         getEnv("CLAUDE_MODEL", "claude-opus-4-20250514"),
			BaseURL:       getEnv("CLAUDE_BASE_URL", "https://api.anthropic.com/v1"),
			CLIPath:       getEnv("CLAUDE_CLI_PATH", "claude"),
			GRPCAddr:      getEnv("LLM_GRPC_ADDR", ""),
			GRPCListen:    getEnv("LLM_GRPC_LISTEN", ":50061"),
			Timeout:       getEnvDuration("LLM_TIMEOUT", 5*time.Minute),
			MaxConcurrent: int64(getEnvInt("LLM_MAX_CONCURRENT", 4)),
			MaxTokens:     getEnvInt("LLM_MAX_TOKENS", 4096),
			Temperature:   getEnvFloat("LLM_TEMPERATURE", 0.7),
		},
		Store: StoreConfig{
			Backend:    strings.ToLower(getEnv("STORE_BACKEND", StoreMemory)),
			DBPath:     getEnv("DB_PATH", "./data/skills.db"),
			SessionTTL: getEnvDuration("SESSION_TTL", 24*time.Hour),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:   getEnvBool("CONVERSATION_LOG_ENABLED", false),
			Dir:       getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			QueueSize: queueSize,
		},
	}

	if cfg.LLM.Backend == BackendAuto {
		cfg.LLM.Backend = cfg.ResolveBackend()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ResolveBackend picks the local CLI when running locally without an API key
// and the hosted API otherwise.
func (c *Config) ResolveBackend() string {
	if c.IsLocal() && c.LLM.APIKey == "" {
		return BackendCLI
	}
	return BackendAPI
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.LLM.Backend {
	case BackendAPI:
		if c.LLM.APIKey == "" {
			return fmt.Errorf("CLAUDE_API_KEY is required for the api backend")
		}
	case BackendCLI:
		if c.LLM.CLIPath == "" {
			return fmt.Errorf("CLAUDE_CLI_PATH cannot be empty")
		}
	case BackendGRPC:
		if c.LLM.GRPCAddr == "" {
			return fmt.Errorf("LLM_GRPC_ADDR is required for the grpc backend")
		}
	default:
		return fmt.Errorf("unknown LLM_BACKEND %q", c.LLM.Backend)
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("LLM_MAX_TOKENS must be > 0")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		return fmt.Errorf("LLM_TEMPERATURE must be within [0, 1]")
	}
	switch c.Store.Backend {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be > 0")
	}
	if c.MaxRequestBody <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY must be > 0")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	return nil
}

// IsLocal returns true when running in a local development environment.
func (c *Config) IsLocal() bool {
	switch strings.ToLower(c.Environment) {
	case "", "local", "development", "dev":
		return true
	}
	return false
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
