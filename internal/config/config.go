package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Generator names accepted in GENERATOR.
const (
	GeneratorGemini = "gemini"
	GeneratorGroq   = "groq"
	GeneratorOpenAI = "openai"
)

// State backends accepted in STATE_BACKEND.
const (
	BackendFile = "file"
	BackendSQL  = "sql"
)

// Config holds the configuration for the application.
type Config struct {
	Generator    string
	GeminiAPIKey string
	GeminiModel  string
	GroqAPIKey   string
	GroqModel    string
	OpenAIAPIKey string
	OpenAIModel  string

	DataDir      string
	StateBackend string
	DatabaseURL  string

	GenerationTimeout  time.Duration
	GenerationAttempts int
	HistoryDepth       int

	HTTPAddr  string
	JWTSecret string

	// Telegram Config
	TelegramBotToken       string
	TelegramWebhookURL     string
	TelegramAllowedUserIDs []int64
	AdminTelegramID        int64

	LogLevel slog.Level
}

// NewFromEnv creates a new Config object from environment variables.
func NewFromEnv() (*Config, error) {
	cfg := &Config{
		Generator:    strings.ToLower(getEnv("GENERATOR", GeneratorGemini)),
		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		GeminiModel:  os.Getenv("GEMINI_MODEL"),
		GroqAPIKey:   os.Getenv("GROQ_API_KEY"),
		GroqModel:    os.Getenv("GROQ_MODEL"),
		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:  os.Getenv("OPENAI_MODEL"),

		DataDir:      getEnv("DATA_DIR", "data"),
		StateBackend: strings.ToLower(getEnv("STATE_BACKEND", BackendFile)),

		HTTPAddr:  getEnv("HTTP_ADDR", ":8080"),
		JWTSecret: os.Getenv("JWT_SECRET"),

		TelegramBotToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramWebhookURL: os.Getenv("TELEGRAM_WEBHOOK_URL"),
	}
	cfg.DatabaseURL = getEnv("DATABASE_URL", "sqlite://"+filepath.Join(cfg.DataDir, "meal-calendar.db"))

	switch cfg.Generator {
	case GeneratorGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
		}
	case GeneratorGroq:
		if cfg.GroqAPIKey == "" {
			return nil, fmt.Errorf("GROQ_API_KEY environment variable not set")
		}
	case GeneratorOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	default:
		return nil, fmt.Errorf("GENERATOR must be one of gemini, groq, openai (got %q)", cfg.Generator)
	}

	if cfg.StateBackend != BackendFile && cfg.StateBackend != BackendSQL {
		return nil, fmt.Errorf("STATE_BACKEND must be file or sql (got %q)", cfg.StateBackend)
	}

	var err error
	if cfg.GenerationTimeout, err = time.ParseDuration(getEnv("GENERATION_TIMEOUT", "90s")); err != nil {
		return nil, fmt.Errorf("invalid GENERATION_TIMEOUT: %w", err)
	}
	if cfg.GenerationAttempts, err = positiveInt("GENERATION_ATTEMPTS", 2); err != nil {
		return nil, err
	}
	if cfg.HistoryDepth, err = positiveInt("HISTORY_DEPTH", 50); err != nil {
		return nil, err
	}

	if raw := os.Getenv("TELEGRAM_ALLOWED_USER_IDS"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid TELEGRAM_ALLOWED_USER_IDS entry %q: %w", part, err)
			}
			cfg.TelegramAllowedUserIDs = append(cfg.TelegramAllowedUserIDs, id)
		}
	}
	if raw := os.Getenv("ADMIN_TELEGRAM_ID"); raw != "" {
		if cfg.AdminTelegramID, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
		}
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	return cfg, nil
}

// TelegramUserAllowed reports whether id may talk to the bot. An empty allow
// list admits everyone.
func (c *Config) TelegramUserAllowed(id int64) bool {
	if len(c.TelegramAllowedUserIDs) == 0 || id == c.AdminTelegramID {
		return true
	}
	for _, allowed := range c.TelegramAllowedUserIDs {
		if allowed == id {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func positiveInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer (got %q)", key, raw)
	}
	return n, nil
}
