package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the entity service configuration
type Config struct {
	// Server configuration
	Port string

	// Database configuration
	DBType            string // mysql, postgres, sqlite, sqlite3, sqlserver
	DBHost            string
	DBPort            string
	DBDatabase        string
	DBUser            string
	DBPassword        string
	DBConnectionLimit int

	// Model schema and seed data, embedded defaults when empty
	SchemaPath string
	SeedData   string

	// Authorizer configuration, change submission is open when AuthzURL is empty
	AuthzURL      string
	AuthzClientID string
}

// AuthEnabled reports whether change submission requires a session.
func (c *Config) AuthEnabled() bool {
	return c.AuthzURL != ""
}

// Load loads the service configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:              getEnv("PORT", "3000"),
		DBType:            strings.ToLower(getEnv("DB_TYPE", "sqlite")),
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "3306"),
		DBDatabase:        getEnv("DB_DATABASE", ""),
		DBUser:            getEnv("DB_USER", ""),
		DBPassword:        getEnv("DB_PASSWORD", ""),
		DBConnectionLimit: getEnvAsInt("DB_CONNECTION_LIMIT", 5),
		SchemaPath:        getEnv("SCHEMA_PATH", ""),
		SeedData:          getEnv("SEED_DATA", ""),
		AuthzURL:          getEnv("AUTHZ_URL", ""),
		AuthzClientID:     getEnv("AUTHZ_CLIENT_ID", ""),
	}

	// Validate required fields
	if cfg.DBDatabase == "" {
		return nil, fmt.Errorf("DB_DATABASE is required")
	}
	if !isFileDB(cfg.DBType) && cfg.DBUser == "" {
		return nil, fmt.Errorf("DB_USER is required for %s", cfg.DBType)
	}
	if cfg.AuthzURL != "" && cfg.AuthzClientID == "" {
		return nil, fmt.Errorf("AUTHZ_CLIENT_ID is required when AUTHZ_URL is set")
	}

	return cfg, nil
}

// ClientConfig holds the graph client configuration used by graphctl
type ClientConfig struct {
	URL         string
	Timeout     time.Duration
	Batch       bool
	ListLoading bool
	Session     string
}

// LoadClient loads the client configuration from environment variables
func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{
		URL:         getEnv("ENTITYGRAPH_URL", "http://localhost:3000"),
		Timeout:     getEnvAsDuration("ENTITYGRAPH_TIMEOUT", 30*time.Second),
		Batch:       getEnvAsBool("ENTITYGRAPH_BATCH_QUERIES", true),
		ListLoading: getEnvAsBool("ENTITYGRAPH_LIST_LAZY_LOADING", true),
		Session:     getEnv("ENTITYGRAPH_SESSION", ""),
	}
	if !strings.HasPrefix(cfg.URL, "http://") && !strings.HasPrefix(cfg.URL, "https://") {
		return nil, fmt.Errorf("ENTITYGRAPH_URL must be an http or https url, got %q", cfg.URL)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("ENTITYGRAPH_TIMEOUT must be positive")
	}
	return cfg, nil
}

// LoadEnvFile loads variables from a .env file into the environment. Variables
// that are already set win.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func isFileDB(dbType string) bool {
	return dbType == "sqlite" || dbType == "sqlite3"
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("5s") and plain seconds ("5")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if n, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultValue
}
