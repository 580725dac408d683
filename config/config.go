package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort       string
	AppMode       string
	DBHost        string
	DBUser        string
	DBPassword    string
	DBName        string
	DBPort        string
	JWTSecret     string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// FlushBatchSize is the unflushed-message threshold that triggers a
	// batched write of a room's cached tail to the durable store.
	FlushBatchSize int
	// HistoryTailLimit bounds the cached per-room history tail. Must be
	// at least FlushBatchSize so unflushed messages are never trimmed.
	HistoryTailLimit int
	// InitialHistoryLimit is the page size used when hydrating rooms on
	// connect and when warming a cold room.
	InitialHistoryLimit int
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		AppPort:             getEnv("APP_PORT", "8080"),
		AppMode:             getEnv("APP_MODE", "debug"),
		DBHost:              getEnv("DB_HOST", "localhost"),
		DBUser:              getEnv("DB_USER", "postgres"),
		DBPassword:          getEnv("DB_PASSWORD", "postgres"),
		DBName:              getEnv("DB_NAME", "harbor_chat"),
		DBPort:              getEnv("DB_PORT", "5432"),
		JWTSecret:           getEnv("JWT_SECRET", "change-me"),
		RedisHost:           getEnv("REDIS_HOST", "localhost"),
		RedisPort:           getEnv("REDIS_PORT", "6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisDB:             getEnvAsInt("REDIS_DB", 0),
		FlushBatchSize:      getEnvAsInt("FLUSH_BATCH_SIZE", 100),
		HistoryTailLimit:    getEnvAsInt("HISTORY_TAIL_LIMIT", 200),
		InitialHistoryLimit: getEnvAsInt("INITIAL_HISTORY_LIMIT", 50),
	}

	// Trimming the tail below the flush batch would drop unflushed messages.
	if cfg.HistoryTailLimit < cfg.FlushBatchSize {
		cfg.HistoryTailLimit = cfg.FlushBatchSize
	}

	return cfg
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
