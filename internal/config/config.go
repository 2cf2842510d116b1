package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the orgagent server.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Storage    StorageConfig
	Queue      QueueConfig
	Approval   ApprovalConfig
	Classifier ClassifierConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type QueueConfig struct {
	Stream       string
	Group        string
	Consumer     string
	BatchSize    int
	Block        time.Duration
	ClaimMinIdle time.Duration
	MaxAttempts  int
}

type ApprovalConfig struct {
	Timeout time.Duration
}

type ClassifierConfig struct {
	Provider string
}

var validClassifiers = map[string]bool{
	"heuristic": true,
	"mock":      true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	hostname, _ := os.Hostname()

	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("ORGAGENT_PORT", 8080),
			Env:  envString("ORGAGENT_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Storage: StorageConfig{
			Endpoint:  os.Getenv("STORAGE_ENDPOINT"),
			AccessKey: os.Getenv("STORAGE_ACCESS_KEY"),
			SecretKey: os.Getenv("STORAGE_SECRET_KEY"),
			Bucket:    os.Getenv("STORAGE_BUCKET"),
			UseSSL:    envBool("STORAGE_USE_SSL", false),
		},
		Queue: QueueConfig{
			Stream:       envString("QUEUE_STREAM", "orgagent:notifications"),
			Group:        envString("QUEUE_GROUP", "orgagent"),
			Consumer:     envString("QUEUE_CONSUMER", hostname),
			BatchSize:    envInt("QUEUE_BATCH_SIZE", 16),
			Block:        envDuration("QUEUE_BLOCK", 5*time.Second),
			ClaimMinIdle: envDuration("QUEUE_CLAIM_MIN_IDLE", 30*time.Second),
			MaxAttempts:  envInt("QUEUE_MAX_ATTEMPTS", 5),
		},
		Approval: ApprovalConfig{
			Timeout: envDuration("APPROVAL_TIMEOUT", 7*24*time.Hour),
		},
		Classifier: ClassifierConfig{
			Provider: envString("CLASSIFIER_PROVIDER", "heuristic"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Storage.Endpoint == "" {
		return fmt.Errorf("STORAGE_ENDPOINT is required")
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("STORAGE_BUCKET is required")
	}

	if c.Queue.Consumer == "" {
		return fmt.Errorf("QUEUE_CONSUMER is required when the hostname cannot be determined")
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("QUEUE_MAX_ATTEMPTS must be at least 1, got %d", c.Queue.MaxAttempts)
	}

	if c.Approval.Timeout <= 0 {
		return fmt.Errorf("APPROVAL_TIMEOUT must be positive, got %s", c.Approval.Timeout)
	}

	if !validClassifiers[c.Classifier.Provider] {
		return fmt.Errorf("CLASSIFIER_PROVIDER must be one of heuristic, mock; got %q", c.Classifier.Provider)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
