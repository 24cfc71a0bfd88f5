package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var validate = validator.New()

// Policy carries the numeric knobs the ledger and the miss scorer act on.
type Policy struct {
	MinPrice             int     `validate:"gte=0"`
	MaxPrice             int     `validate:"gtefield=MinPrice"`
	RetentionDays        int     `validate:"gte=1"`
	RecentWindowDays     int     `validate:"gte=1"`
	DropThresholdPercent float64 `validate:"gte=0,lte=100"`
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	LedgerDriver string `validate:"oneof=sqlite3 postgres"`
	LedgerPath   string

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	Policy      Policy
	AvoidCities []string
	HomeState   string

	MaxConcurrency int `validate:"gte=1"`
	RateLimitMs    int `validate:"gte=0"`
	MaxRetries     int `validate:"gte=1"`

	Schedule string `validate:"required"`
	Timezone string `validate:"required"`

	FeedPath        string
	SnapshotCSVPath string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		LedgerDriver: getEnv("LEDGER_DRIVER", "sqlite3"),
		LedgerPath:   getEnv("LEDGER_PATH", "./data/house_hunter.db"),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "hunter"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "hunter123"),
		PostgresDB:       getEnv("POSTGRES_DB", "house_hunter"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		Policy: Policy{
			MinPrice:             getEnvInt("HOUSE_HUNTER_MIN_PRICE", 200000),
			MaxPrice:             getEnvInt("HOUSE_HUNTER_MAX_PRICE", 350000),
			RetentionDays:        getEnvInt("HOUSE_HUNTER_RETENTION_DAYS", 90),
			RecentWindowDays:     getEnvInt("HOUSE_HUNTER_RECENT_DAYS", 7),
			DropThresholdPercent: getEnvFloat("HOUSE_HUNTER_DROP_THRESHOLD", 2.0),
		},
		AvoidCities: getEnvList("HOUSE_HUNTER_AVOID_CITIES"),
		HomeState:   getEnv("HOUSE_HUNTER_STATE", "OH"),

		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 3),
		RateLimitMs:    getEnvInt("RATE_LIMIT_MS", 0),
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),

		Schedule: getEnv("HOUSE_HUNTER_SCHEDULE", "0 9-23/2 * * *"),
		Timezone: getEnv("HOUSE_HUNTER_TIMEZONE", "America/New_York"),

		FeedPath:        getEnv("HOUSE_HUNTER_FEED_PATH", "./data/listings.json"),
		SnapshotCSVPath: getEnv("SNAPSHOT_CSV_PATH", "./output/observed_properties.csv"),
	}
}

// DefaultPolicy returns the policy values used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MinPrice:             200000,
		MaxPrice:             350000,
		RetentionDays:        90,
		RecentWindowDays:     7,
		DropThresholdPercent: 2.0,
	}
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// LedgerDSN returns the data source name for the configured ledger driver.
func (c *Config) LedgerDSN() string {
	if c.LedgerDriver == "postgres" {
		return c.PostgresDSN()
	}
	return c.LedgerPath
}

// PostgresDSN returns the PostgreSQL connection string.
func (c *Config) PostgresDSN() string {
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

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

// getEnvList splits a comma-separated variable, dropping blank entries.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
