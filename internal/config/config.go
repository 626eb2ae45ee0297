package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration values loaded from environment variables.
type Config struct {
	HTTPPort      string
	DBDriver      string // sqlite3 | postgres
	DatabaseURL   string
	LogMode       string
	WebhookSecret string

	OpenAIKey   string
	OpenAIModel string

	AmoCRMDomain      string
	AmoCRMAccessToken string

	TemplatesPath string
	KnowledgePath string

	CleanupInterval time.Duration
	InactivityDays  int
	ActiveWindow    time.Duration
	HistoryWindow   int

	// Warnings lists values that were present but unusable; the caller logs
	// them once a logger exists.
	Warnings []string
}

// LoadConfig loads configuration from environment variables.
// It reads the given .env files first (".env" when none are given); missing
// files are not an error.
func LoadConfig(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	var warnings []string
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			warnings = append(warnings, fmt.Sprintf("could not load %s: %v", f, err))
		}
	}

	cfg := &Config{
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		DBDriver:          strings.ToLower(getEnv("DB_DRIVER", "sqlite3")),
		DatabaseURL:       getEnv("DATABASE_URL", "conversations.db"),
		LogMode:           getEnv("LOG_MODE", "dev"),
		WebhookSecret:     getEnv("WEBHOOK_SECRET", ""),
		OpenAIKey:         getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:       getEnv("OPENAI_MODEL", ""),
		AmoCRMDomain:      getEnv("AMOCRM_DOMAIN", ""),
		AmoCRMAccessToken: getEnv("AMOCRM_ACCESS_TOKEN", ""),
		TemplatesPath:     getEnv("TEMPLATES_PATH", ""),
		KnowledgePath:     getEnv("KNOWLEDGE_PATH", ""),
	}

	cfg.CleanupInterval = getDuration("CLEANUP_INTERVAL", time.Hour, &warnings)
	cfg.ActiveWindow = getDuration("ACTIVE_WINDOW", time.Hour, &warnings)
	cfg.InactivityDays = getPositiveInt("INACTIVITY_DAYS", 7, &warnings)
	cfg.HistoryWindow = getPositiveInt("HISTORY_WINDOW", 100, &warnings)
	cfg.Warnings = warnings

	switch cfg.DBDriver {
	case "sqlite3", "postgres":
	default:
		return nil, fmt.Errorf("DB_DRIVER must be sqlite3 or postgres, got %q", cfg.DBDriver)
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}
	return cfg, nil
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getDuration(key string, fallback time.Duration, warnings *[]string) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		*warnings = append(*warnings, fmt.Sprintf("invalid %s %q, using default %s", key, raw, fallback))
		return fallback
	}
	return d
}

func getPositiveInt(key string, fallback int, warnings *[]string) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		*warnings = append(*warnings, fmt.Sprintf("invalid %s %q, using default %d", key, raw, fallback))
		return fallback
	}
	return n
}
