// Package config resolves TaskForce configuration from the environment.
// Backend selection is decided here, once, and passed explicitly into the
// store; nothing reads ambient env state at call time.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Backend identifies a storage driver.
type Backend string

const (
	BackendGitHub Backend = "github"
	BackendRedis  Backend = "redis"
	BackendLocal  Backend = "local"
)

// Config is the top-level TaskForce configuration.
type Config struct {
	GitHub  GitHubConfig
	Redis   RedisConfig
	DataDir string // local driver root
	API     APIConfig
}

// GitHubConfig holds the remote-VCS driver settings. Tickets live on a
// dedicated branch of the given repository.
type GitHubConfig struct {
	Token    string
	Owner    string
	Repo     string
	Branch   string
	CacheTTL time.Duration // 0 = driver default
}

// RedisConfig holds the remote-KV driver settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Host string
	Port int
	Key  string // optional Bearer auth key
}

// FromEnv builds the configuration from environment variables.
func FromEnv() (*Config, error) {
	cfg := &Config{
		GitHub: GitHubConfig{
			Token:    os.Getenv("GITHUB_TOKEN"),
			Owner:    getenv("GITHUB_OWNER", "taskforce-io"),
			Repo:     getenv("GITHUB_REPO", "taskforce-board"),
			Branch:   getenv("GITHUB_BRANCH", "data"),
			CacheTTL: getenvMillis("TASKFORCE_CACHE_TTL_MS", 0),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getenvInt("REDIS_DB", 0),
		},
		DataDir: getenv("TASKFORCE_DATA_DIR", "taskforce_kanban"),
		API: APIConfig{
			Host: getenv("TASKFORCE_API_HOST", "0.0.0.0"),
			Port: getenvInt("TASKFORCE_API_PORT", 8080),
			Key:  os.Getenv("TASKFORCE_API_KEY"),
		},
	}
	return cfg, cfg.Validate()
}

// Backend returns the active driver under the configured precedence:
// GitHub when a token is present, Redis when an address is present,
// local files otherwise.
func (c *Config) Backend() Backend {
	if c.GitHub.Token != "" {
		return BackendGitHub
	}
	if c.Redis.Addr != "" {
		return BackendRedis
	}
	return BackendLocal
}

// Validate checks for required fields of the selected backend.
func (c *Config) Validate() error {
	switch c.Backend() {
	case BackendGitHub:
		if c.GitHub.Owner == "" || c.GitHub.Repo == "" {
			return fmt.Errorf("config: GITHUB_OWNER and GITHUB_REPO are required with GITHUB_TOKEN")
		}
		if c.GitHub.Branch == "" {
			return fmt.Errorf("config: GITHUB_BRANCH must not be empty")
		}
	case BackendLocal:
		if c.DataDir == "" {
			return fmt.Errorf("config: TASKFORCE_DATA_DIR must not be empty")
		}
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("config: invalid API port %d", c.API.Port)
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenvMillis(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return fallback
}
