package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Env        string
	Port       string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	OllamaURL       string
	GenerationModel string
	EmbeddingModel  string

	SearxNGURL    string
	WebSearchRPS  float64
	WebSearchOn   bool
	SearchTimeout int
	EmbedTimeout  int
	GenTimeout    int

	TitleWorkerInterval int
}

func Load() *Config {
	return &Config{
		Env:        getEnv("ENV", "development"),
		Port:       getEnv("PORT", "9020"),
		DBHost:     getEnv("DB_HOST", "sourcemind-db"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "sourcemind_user"),
		DBPassword: getSecret("DB_PASSWORD", "DB_PASSWORD_FILE", "sourcemind_password"),
		DBName:     getEnv("DB_NAME", "sourcemind_db"),

		OllamaURL:       getEnvWithAlt("OLLAMA_URL", "OLLAMA_EXTERNAL_URL", "http://ollama:11434"),
		GenerationModel: getEnv("GENERATION_MODEL", "gemma3:4b"),
		EmbeddingModel:  getEnv("EMBEDDING_MODEL", "embeddinggemma"),

		SearxNGURL:    getEnv("SEARXNG_URL", "http://searxng:8080"),
		WebSearchRPS:  getEnvFloat("WEB_SEARCH_RPS", 2),
		WebSearchOn:   getEnvBool("WEB_SEARCH_ENABLED", true),
		SearchTimeout: getEnvInt("SEARCH_TIMEOUT_SECONDS", 30),
		EmbedTimeout:  getEnvInt("EMBED_TIMEOUT_SECONDS", 30),
		GenTimeout:    getEnvInt("GENERATE_TIMEOUT_SECONDS", 120),

		TitleWorkerInterval: getEnvInt("TITLE_WORKER_INTERVAL_SECONDS", 30),
	}
}

// DSN builds the postgres connection string from the DB fields.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// getSecret reads envKey directly, then falls back to the file named by
// fileEnvKey (for secrets mounted on disk), then the fallback.
func getSecret(envKey, fileEnvKey, fallback string) string {
	if value, ok := os.LookupEnv(envKey); ok {
		return value
	}

	if filePath, ok := os.LookupEnv(fileEnvKey); ok {
		content, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(content))
		}
	}

	return fallback
}

func getEnvWithAlt(key, altKey, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	if value, ok := os.LookupEnv(altKey); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
