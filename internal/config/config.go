package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database: postgres://... or sqlite:<path>
	DatabaseURL string

	// Redis (optional). Without it locks and spectator events stay in-process.
	RedisURL string

	// Frontend
	FrontendURL string

	// Dataset
	DatasetDir      string
	ImageResolution int
	NumClasses      int
	NumImages       int
	DatasetShuffle  bool
	DatasetSeed     uint64

	// Game rules
	ExposeLabel      bool
	StrictValidation bool

	// Per-game locking
	LockTTL  time.Duration
	LockWait time.Duration

	StartRateLimitPerMin int
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                 getEnvOrDefault("PORT", "8000"),
		Env:                  getEnvOrDefault("ENV", "development"),
		DatabaseURL:          mustGetEnv("DATABASE_URL"),
		RedisURL:             getEnvOrDefault("REDIS_URL", ""),
		FrontendURL:          getEnvOrDefault("FRONTEND_URL", "*"),
		DatasetDir:           getEnvOrDefault("DATASET_DIR", "./static_data"),
		ImageResolution:      getEnvAsIntOrDefault("IMAGE_RESOLUTION", 14),
		NumClasses:           getEnvAsIntOrDefault("NUM_CLASSES", 10),
		NumImages:            getEnvAsIntOrDefault("NUM_IMAGES", 0),
		DatasetShuffle:       getEnvAsBoolOrDefault("DATASET_SHUFFLE", false),
		DatasetSeed:          uint64(getEnvAsIntOrDefault("DATASET_SEED", 0)),
		ExposeLabel:          getEnvAsBoolOrDefault("EXPOSE_LABEL", true),
		StrictValidation:     getEnvAsBoolOrDefault("STRICT_VALIDATION", false),
		LockTTL:              time.Duration(getEnvAsIntOrDefault("LOCK_TTL_SECONDS", 30)) * time.Second,
		LockWait:             time.Duration(getEnvAsIntOrDefault("LOCK_WAIT_SECONDS", 5)) * time.Second,
		StartRateLimitPerMin: getEnvAsIntOrDefault("START_RATE_LIMIT_PER_MIN", 60),
	}

	return cfg
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsBoolOrDefault(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}
