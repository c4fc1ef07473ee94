package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all client configuration. It follows the 12-factor
// methodology by prioritizing environment variables.
type Config struct {
	APIBaseURL  string
	StreamURL   string
	AuthToken   string
	LogMode     string
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// NearBottomPx is the distance from the viewport bottom within
	// which incoming messages auto-scroll instead of showing the
	// "new messages" affordance.
	NearBottomPx   int
	HistoryPage    int
	MemberCacheTTL time.Duration
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		APIBaseURL:     getEnv("API_BASE_URL", "http://localhost:8080/api/v1"),
		StreamURL:      getEnv("STREAM_URL", "ws://localhost:8080/ws"),
		AuthToken:      getEnv("AUTH_TOKEN", ""),
		LogMode:        getEnv("LOG_MODE", "development"),
		BackoffBase:    getEnvAsDuration("BACKOFF_BASE", time.Second),
		BackoffCap:     getEnvAsDuration("BACKOFF_CAP", 30*time.Second),
		NearBottomPx:   getEnvAsInt("NEAR_BOTTOM_PX", 100),
		HistoryPage:    getEnvAsInt("HISTORY_PAGE_SIZE", 50),
		MemberCacheTTL: getEnvAsDuration("MEMBER_CACHE_TTL", 5*time.Minute),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}
