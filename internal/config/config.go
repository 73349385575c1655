package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the hemalyze server and worker.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Uploads  UploadConfig
	Analysis AnalysisConfig
	Engine   EngineConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type UploadConfig struct {
	Dir         string
	MaxFileSize int64
}

// AnalysisConfig tunes the job lifecycle: dedup window, worker pool
// size, retry ceiling, and the processing deadline that bounds a
// single execution.
type AnalysisConfig struct {
	FreshnessWindow   time.Duration
	ProcessingTimeout time.Duration
	MaxAttempts       int
	RetryBaseDelay    time.Duration
	Workers           int
	Retention         time.Duration
	RateLimitPerMin   int
}

type EngineConfig struct {
	Provider         string
	InferenceTimeout time.Duration
	OpenAI           OpenAIConfig
	Anthropic        AnthropicConfig
	Ollama           OllamaConfig
}

type OpenAIConfig struct {
	APIKey string
	Model  string
}

type AnthropicConfig struct {
	APIKey string
	Model  string
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

var validProviders = map[string]bool{
	"openai":    true,
	"anthropic": true,
	"ollama":    true,
	"mock":      true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("HEMALYZE_PORT", 8080),
			Env:  envString("HEMALYZE_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Uploads: UploadConfig{
			Dir:         envString("HEMALYZE_UPLOAD_DIR", "data/uploads"),
			MaxFileSize: envInt64("HEMALYZE_MAX_FILE_SIZE", 10*1024*1024),
		},
		Analysis: AnalysisConfig{
			FreshnessWindow:   envDuration("HEMALYZE_FRESHNESS_WINDOW", 24*time.Hour),
			ProcessingTimeout: envDuration("HEMALYZE_PROCESSING_TIMEOUT", 10*time.Minute),
			MaxAttempts:       envInt("HEMALYZE_MAX_ATTEMPTS", 3),
			RetryBaseDelay:    envDuration("HEMALYZE_RETRY_BASE_DELAY", 60*time.Second),
			Workers:           envInt("HEMALYZE_WORKERS", 4),
			Retention:         envDuration("HEMALYZE_RETENTION", 30*24*time.Hour),
			RateLimitPerMin:   envInt("HEMALYZE_RATE_LIMIT_PER_MIN", 60),
		},
		Engine: EngineConfig{
			Provider:         os.Getenv("ENGINE_PROVIDER"),
			InferenceTimeout: envDurationSecs("ENGINE_INFERENCE_TIMEOUT_SECS", 120*time.Second),
			OpenAI: OpenAIConfig{
				APIKey: os.Getenv("OPENAI_API_KEY"),
				Model:  envString("OPENAI_MODEL", "gpt-4o"),
			},
			Anthropic: AnthropicConfig{
				APIKey: os.Getenv("ANTHROPIC_API_KEY"),
				Model:  envString("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
			},
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434"),
				Model:   envString("OLLAMA_MODEL", "llama3"),
			},
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Uploads.MaxFileSize <= 0 {
		return fmt.Errorf("HEMALYZE_MAX_FILE_SIZE must be positive, got %d", c.Uploads.MaxFileSize)
	}

	if c.Analysis.MaxAttempts < 1 {
		return fmt.Errorf("HEMALYZE_MAX_ATTEMPTS must be at least 1, got %d", c.Analysis.MaxAttempts)
	}
	if c.Analysis.FreshnessWindow <= 0 {
		return fmt.Errorf("HEMALYZE_FRESHNESS_WINDOW must be positive")
	}
	if c.Analysis.ProcessingTimeout <= 0 {
		return fmt.Errorf("HEMALYZE_PROCESSING_TIMEOUT must be positive")
	}

	if c.Engine.Provider == "" {
		return fmt.Errorf("ENGINE_PROVIDER is required")
	}
	if !validProviders[c.Engine.Provider] {
		return fmt.Errorf("ENGINE_PROVIDER must be one of openai, anthropic, ollama, mock; got %q", c.Engine.Provider)
	}

	if c.Engine.Provider == "openai" && c.Engine.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when ENGINE_PROVIDER is openai")
	}
	if c.Engine.Provider == "anthropic" && c.Engine.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when ENGINE_PROVIDER is anthropic")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
