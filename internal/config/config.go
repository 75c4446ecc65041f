package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseDriver string // mysql, postgres, sqlite
	DatabaseURL    string
	Port           string
	Environment    string

	LogLevel  string
	LogFormat string // text, json

	Refresh RefreshConfig
	LLM     LLMConfig

	// Central Bank of Russia daily rates endpoint
	CBRBaseURL string
}

type RefreshConfig struct {
	SourcesFile       string
	ScraperDelay      time.Duration
	ScraperTimeout    time.Duration
	RetentionDays     int
	PurgeAfterRefresh bool
	// batch: deactivate every key missing from the cycle
	// partition: only keys of (bank, category) partitions that scraped successfully
	Scope string
}

// LLMConfig configures the normalization gateway. An empty AuthKey disables it.
type LLMConfig struct {
	AuthKey        string
	AuthURL        string
	BaseURL        string
	Scope          string
	Model          string
	RequestsPerSec float64
	Timeout        time.Duration
}

func (c LLMConfig) Enabled() bool { return c.AuthKey != "" }

func Load() *Config {
	return &Config{
		DatabaseDriver: strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DatabaseURL:    getEnv("DATABASE_URL", "bank_products.db"),
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		Refresh: RefreshConfig{
			SourcesFile:       getEnv("SOURCES_FILE", "configs/sources.yaml"),
			ScraperDelay:      getEnvDuration("SCRAPER_DELAY", 2*time.Second),
			ScraperTimeout:    getEnvDuration("SCRAPER_TIMEOUT", 30*time.Second),
			RetentionDays:     getEnvInt("RETENTION_DAYS", 7),
			PurgeAfterRefresh: getEnvBool("PURGE_AFTER_REFRESH", true),
			Scope:             strings.ToLower(getEnv("RECONCILE_SCOPE", "batch")),
		},

		LLM: LLMConfig{
			AuthKey:        getEnv("GIGACHAT_AUTH_KEY", ""),
			AuthURL:        getEnv("GIGACHAT_AUTH_URL", "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"),
			BaseURL:        getEnv("GIGACHAT_BASE_URL", "https://gigachat.devices.sberbank.ru/api/v1"),
			Scope:          getEnv("GIGACHAT_SCOPE", "GIGACHAT_API_PERS"),
			Model:          getEnv("GIGACHAT_MODEL", "GigaChat"),
			RequestsPerSec: getEnvFloat("GIGACHAT_RPS", 1),
			Timeout:        getEnvDuration("GIGACHAT_TIMEOUT", 60*time.Second),
		},

		CBRBaseURL: getEnv("CBR_BASE_URL", "https://www.cbr.ru/scripts"),
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
