package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Defaults for the text and image models driven by the worker.
const (
	DefaultTextModel  = "openai/gpt-5.1"
	DefaultImageModel = "google/imagen-4.0-ultra-generate-001"
)

// Config holds all configuration for a generator worker.
type Config struct {
	// Server
	StatusPort string
	Env        string

	// Database
	DatabaseURL string
	// KeysDatabaseURL is the credential pool database. Falls back to
	// DatabaseURL when unset, so small deployments can share one instance.
	KeysDatabaseURL string

	// Redis
	RedisURL string

	// Generator identity
	GeneratorName string

	// Chat
	ChatID    string
	ChatTitle string

	// Prompts
	PromptFileName string
	PromptsDir     string

	// Models
	TextModel      string
	ImageModel     string
	BackendBaseURL string

	// History trimming
	EnableHistoryTrimming bool
	MaxHistoryMessages    int
	MaxTokensLimit        int

	// Generation
	DelayBetweenGenerations int
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		StatusPort:              getEnv("STATUS_PORT", "9090"),
		Env:                     getEnv("ENV", "development"),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		KeysDatabaseURL:         getEnv("KEYS_DATABASE_URL", ""),
		RedisURL:                getEnv("REDIS_URL", "redis://localhost:6379"),
		GeneratorName:           getEnv("GENERATOR_NAME", "images-auto-generator"),
		ChatID:                  getEnv("CHAT_ID", ""),
		ChatTitle:               getEnv("CHAT_TITLE", ""),
		PromptFileName:          getEnv("PROMPT_FILE_NAME", "prompt.txt"),
		PromptsDir:              getEnv("PROMPTS_DIR", "prompts"),
		TextModel:               getEnv("TEXT_MODEL", DefaultTextModel),
		ImageModel:              getEnv("IMAGE_MODEL", DefaultImageModel),
		BackendBaseURL:          getEnv("BACKEND_BASE_URL", ""),
		EnableHistoryTrimming:   getEnvBool("ENABLE_HISTORY_TRIMMING", true),
		MaxHistoryMessages:      getEnvInt("MAX_HISTORY_MESSAGES", 400),
		MaxTokensLimit:          getEnvInt("MAX_TOKENS_LIMIT", 260000),
		DelayBetweenGenerations: getEnvInt("DELAY_BETWEEN_GENERATIONS", 2),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.KeysDatabaseURL == "" {
		cfg.KeysDatabaseURL = cfg.DatabaseURL
	}
	if cfg.PromptFileName == "" {
		return nil, fmt.Errorf("PROMPT_FILE_NAME is required")
	}

	return cfg, nil
}

// PromptFilePath returns the full path to the configured prompt file.
func (c *Config) PromptFilePath() string {
	return filepath.Join(c.PromptsDir, c.PromptFileName)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
