package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Empty snapshot policies.
const (
	EmptySkip   = "skip"
	EmptyCommit = "commit"
)

// Storage backends.
const (
	BackendPostgres = "postgres"
	BackendBolt     = "bolt"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	StorageBackend string
	BoltPath       string

	Complexes     []string
	ComplexesFile string

	ScrollDelay         time.Duration
	StallLimit          int
	MaxAttempts         int
	EmptySnapshotPolicy string

	Schedule            string
	DigestWindow        time.Duration
	MarkReadAfterDigest bool

	MaxConcurrency int
	RateLimitMs    int
	MaxRetries     int

	ChangesCSVPath string
	ChromeBin      string
	Headless       bool

	LogLevel    string
	LogEncoding string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	cfg := &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "watcher"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "watcher123"),
		PostgresDB:       getEnv("POSTGRES_DB", "complex_watch"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", BackendPostgres)),
		BoltPath:       getEnv("BOLT_PATH", "./data/snapshots.db"),

		Complexes:     splitList(os.Getenv("COMPLEXES")),
		ComplexesFile: getEnv("COMPLEXES_FILE", ""),

		ScrollDelay:         time.Duration(getEnvInt("SCROLL_DELAY_MS", 1500)) * time.Millisecond,
		StallLimit:          getEnvInt("STALL_LIMIT", 5),
		MaxAttempts:         getEnvInt("MAX_ATTEMPTS", 100),
		EmptySnapshotPolicy: strings.ToLower(getEnv("EMPTY_SNAPSHOT_POLICY", EmptySkip)),

		Schedule:            getEnv("SCHEDULE", ""),
		DigestWindow:        time.Duration(getEnvInt("DIGEST_WINDOW_HOURS", 24)) * time.Hour,
		MarkReadAfterDigest: getEnvBool("MARK_READ_AFTER_DIGEST", false),

		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 1),
		RateLimitMs:    getEnvInt("RATE_LIMIT_MS", 5000),
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),

		ChangesCSVPath: getEnv("CHANGES_CSV_PATH", ""),
		ChromeBin:      getEnv("CHROME_BIN", ""),
		Headless:       getEnvBool("HEADLESS", true),

		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogEncoding: getEnv("LOG_ENCODING", "console"),
	}

	if cfg.EmptySnapshotPolicy != EmptyCommit {
		cfg.EmptySnapshotPolicy = EmptySkip
	}
	return cfg
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

// CommitEmpty reports whether empty sessions are committed as generations.
func (c *Config) CommitEmpty() bool {
	return c.EmptySnapshotPolicy == EmptyCommit
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
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
