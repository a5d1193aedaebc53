// Package config reads server settings from an optional YAML file, an
// optional .env file and the environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	// Rate limit backends. Empty means Redis when REDIS_URL is set and no
	// limiting otherwise.
	LimiterRedis  = "redis"
	LimiterMemory = "memory"
)

type Config struct {
	Port            string `yaml:"port"`
	LogLevel        string `yaml:"logLevel"`
	DatabaseURL     string `yaml:"databaseUrl"`
	RedisURL        string `yaml:"redisUrl"`
	EncryptionKey   string `yaml:"encryptionKey"`
	DefaultProvider string `yaml:"defaultProvider"`
	DefaultModel    string `yaml:"defaultModel"`
	OpenAIKey       string `yaml:"openaiApiKey"`
	OpenAIBaseURL   string `yaml:"openaiBaseUrl"`
	OllamaHost      string `yaml:"ollamaHost"`

	RateLimitPerMinute int    `yaml:"rateLimitPerMinute"`
	RateLimitPerDay    int    `yaml:"rateLimitPerDay"`
	RateLimitFailOpen  bool   `yaml:"rateLimitFailOpen"`
	RateLimitBackend   string `yaml:"rateLimitBackend"`

	SubmissionTimeout time.Duration `yaml:"submissionTimeout"`
	JudgingTimeout    time.Duration `yaml:"judgingTimeout"`
	SchedulerWorkers  int           `yaml:"schedulerWorkers"`

	ExportEnabled bool   `yaml:"exportEnabled"`
	ExportFile    string `yaml:"exportFile"`

	HTTPRateLimit float64 `yaml:"httpRateLimit"`
	HTTPRateBurst int     `yaml:"httpRateBurst"`
}

func Defaults() Config {
	return Config{
		Port:               "8080",
		LogLevel:           "info",
		DefaultProvider:    ProviderOpenAI,
		DefaultModel:       "gpt-4o-mini",
		OllamaHost:         "http://localhost:11434",
		RateLimitPerMinute: 10,
		RateLimitPerDay:    500,
		RateLimitFailOpen:  true,
		SubmissionTimeout:  60 * time.Second,
		JudgingTimeout:     60 * time.Second,
		SchedulerWorkers:   4,
		ExportFile:         "./ai-against-humanity-results.txt",
		HTTPRateLimit:      20,
		HTTPRateBurst:      40,
	}
}

// Load applies the YAML file at path (skipped when empty), then .env in the
// working directory if present, then the environment.
func Load(path string) (Config, error) {
	c := Defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return c, fmt.Errorf("load .env: %w", err)
	}
	if err := c.applyEnv(); err != nil {
		return c, err
	}
	return c, c.validate()
}

// FromEnv is Load without a config file.
func FromEnv() (Config, error) {
	return Load("")
}

func (c *Config) applyEnv() error {
	c.Port = getenv("PORT", c.Port)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.DatabaseURL = getenv("DATABASE_URL", c.DatabaseURL)
	c.RedisURL = getenv("REDIS_URL", c.RedisURL)
	c.EncryptionKey = getenv("ENCRYPTION_KEY", c.EncryptionKey)
	c.DefaultProvider = getenv("DEFAULT_PROVIDER", c.DefaultProvider)
	c.DefaultModel = getenv("DEFAULT_MODEL", c.DefaultModel)
	c.OpenAIKey = getenv("OPENAI_API_KEY", c.OpenAIKey)
	c.OpenAIBaseURL = getenv("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.OllamaHost = getenv("OLLAMA_HOST", c.OllamaHost)
	c.ExportFile = getenv("EXPORT_FILE", c.ExportFile)
	c.RateLimitBackend = getenv("RATE_LIMIT_BACKEND", c.RateLimitBackend)

	var errs []error
	setInt := func(k string, dst *int) {
		if v := os.Getenv(k); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", k, err))
				return
			}
			*dst = n
		}
	}
	setBool := func(k string, dst *bool) {
		if v := os.Getenv(k); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", k, err))
				return
			}
			*dst = b
		}
	}
	setDuration := func(k string, dst *time.Duration) {
		if v := os.Getenv(k); v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", k, err))
				return
			}
			*dst = d
		}
	}
	setInt("RATE_LIMIT_PER_MINUTE", &c.RateLimitPerMinute)
	setInt("RATE_LIMIT_PER_DAY", &c.RateLimitPerDay)
	setBool("RATE_LIMIT_FAIL_OPEN", &c.RateLimitFailOpen)
	setDuration("SUBMISSION_TIMEOUT", &c.SubmissionTimeout)
	setDuration("JUDGING_TIMEOUT", &c.JudgingTimeout)
	setInt("SCHEDULER_WORKERS", &c.SchedulerWorkers)
	setBool("EXPORT_ENABLED", &c.ExportEnabled)
	setInt("HTTP_RATE_BURST", &c.HTTPRateBurst)
	if v := os.Getenv("HTTP_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("HTTP_RATE_LIMIT: %w", err))
		} else {
			c.HTTPRateLimit = f
		}
	}
	return errors.Join(errs...)
}

// parseDuration accepts Go durations ("90s") and bare seconds ("90").
func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func (c Config) validate() error {
	switch c.DefaultProvider {
	case ProviderOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("DEFAULT_PROVIDER must be %q or %q, got %q", ProviderOpenAI, ProviderOllama, c.DefaultProvider)
	}
	switch c.RateLimitBackend {
	case "", LimiterMemory:
	case LimiterRedis:
		if c.RedisURL == "" {
			return errors.New("RATE_LIMIT_BACKEND=redis needs REDIS_URL")
		}
	default:
		return fmt.Errorf("RATE_LIMIT_BACKEND must be %q or %q, got %q", LimiterRedis, LimiterMemory, c.RateLimitBackend)
	}
	if c.SubmissionTimeout <= 0 || c.JudgingTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
