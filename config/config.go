package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DedupTTLDays  int

	MaxConcurrency  int
	RateLimitMs     int
	MaxRetries      int
	FetchTimeoutSec int
	BrowserTimeout  int
	ListMaxItems    int

	InstantFetchCount int
	InstantMatchAll   bool

	DayIntervalMin   int
	NightIntervalMin int
	NightStartHour   int
	NightEndHour     int

	RawDumpPath string
	ChromeBin   string
	LogDebug    bool
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "rent591"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "rent591"),
		PostgresDB:       getEnv("POSTGRES_DB", "rent591_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		DedupTTLDays:  getEnvInt("DEDUP_TTL_DAYS", 30),

		MaxConcurrency:  getEnvInt("MAX_CONCURRENCY", 3),
		RateLimitMs:     getEnvInt("RATE_LIMIT_MS", 2000),
		MaxRetries:      getEnvInt("MAX_RETRIES", 3),
		FetchTimeoutSec: getEnvInt("FETCH_TIMEOUT_SEC", 20),
		BrowserTimeout:  getEnvInt("BROWSER_TIMEOUT_SEC", 45),
		ListMaxItems:    getEnvInt("LIST_MAX_ITEMS", 30),

		InstantFetchCount: getEnvInt("INSTANT_FETCH_COUNT", 20),
		InstantMatchAll:   getEnvBool("INSTANT_MATCH_ALL_SUBS", false),

		DayIntervalMin:   getEnvInt("DAY_INTERVAL_MIN", 15),
		NightIntervalMin: getEnvInt("NIGHT_INTERVAL_MIN", 120),
		NightStartHour:   getEnvInt("NIGHT_START_HOUR", 1),
		NightEndHour:     getEnvInt("NIGHT_END_HOUR", 8),

		RawDumpPath: getEnv("RAW_DUMP_PATH", ""),
		ChromeBin:   getEnv("CHROME_BIN", ""),
		LogDebug:    getEnvBool("LOG_DEBUG", false),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}
