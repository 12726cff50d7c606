// Package config provides configuration for the chat relay.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the server configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Completion provider
	GeminiBaseURL string
	GeminiAPIKey  string
	GeminiModel   string
	LLMTimeout    time.Duration

	// Turn validation
	MaxMessageChars int

	// Session resolution retries
	ResolveAttempts int
	ResolveDelay    time.Duration

	// Create-and-verify retries
	VerifyAttempts  int
	VerifyBaseDelay time.Duration
	VerifyMaxDelay  time.Duration

	// Delay before the read in POST /sessions/verify
	VerifyReadDelay time.Duration
}

// Load loads configuration from the environment, reading .env if present.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPPort:        getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:     getEnv("DATABASE_URL", "file:chatrelay.db?cache=shared&mode=rwc"),
		GeminiBaseURL:   getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		LLMTimeout:      time.Duration(getEnvInt("LLM_TIMEOUT_MS", 120000)) * time.Millisecond,
		MaxMessageChars: getEnvInt("MAX_MESSAGE_CHARS", 10000),
		ResolveAttempts: getEnvInt("RESOLVE_ATTEMPTS", 3),
		ResolveDelay:    time.Duration(getEnvInt("RESOLVE_DELAY_MS", 100)) * time.Millisecond,
		VerifyAttempts:  getEnvInt("VERIFY_ATTEMPTS", 5),
		VerifyBaseDelay: time.Duration(getEnvInt("VERIFY_BASE_DELAY_MS", 200)) * time.Millisecond,
		VerifyMaxDelay:  time.Duration(getEnvInt("VERIFY_MAX_DELAY_MS", 1000)) * time.Millisecond,
		VerifyReadDelay: time.Duration(getEnvInt("VERIFY_READ_DELAY_MS", 100)) * time.Millisecond,
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
