package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/felipepmaragno/sqlassist/internal/httputil"
)

type Config struct {
	Addr          string
	LogLevel      string
	RedisURL      string
	DatabaseURL   string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OTLPEndpoint  string
	AWSRegion     string

	// OpenAIAPIKeySecret names a Secrets Manager secret holding the default key.
	OpenAIAPIKeySecret  string
	BudgetAlertTopicARN string
	PricingFile         string

	// Request defaults
	DefaultModel              string
	DefaultTemperature        float64
	DefaultMaxTokens          int
	DefaultCertaintyThreshold float64

	SessionBudget float64
	EnforceBudget bool
	SessionTTL    time.Duration

	// SessionRateLimitRPM caps generation requests per session per minute; 0 disables it.
	SessionRateLimitRPM int

	// LLM circuit breaker
	BreakerFailureThreshold int
	BreakerCooldown         time.Duration

	LLMTimeout      time.Duration
	TeamLLMTimeout  time.Duration
	ShutdownTimeout time.Duration
}

func Load() (*Config, error) {
	return LoadWithEnvFile(".env")
}

// LoadWithEnvFile reads variables from envFile, when it exists, before the
// environment. Variables already set in the environment win.
func LoadWithEnvFile(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		Addr:                      getEnv("ADDR", ":5000"),
		LogLevel:                  getEnv("LOG_LEVEL", "info"),
		RedisURL:                  getEnv("REDIS_URL", ""),
		DatabaseURL:               getEnv("DATABASE_URL", ""),
		OpenAIAPIKey:              getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:             getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OTLPEndpoint:              getEnv("OTLP_ENDPOINT", ""),
		AWSRegion:                 getEnv("AWS_REGION", ""),
		OpenAIAPIKeySecret:        getEnv("OPENAI_API_KEY_SECRET", ""),
		BudgetAlertTopicARN:       getEnv("BUDGET_ALERT_TOPIC_ARN", ""),
		PricingFile:               getEnv("PRICING_FILE", ""),
		DefaultModel:              getEnv("DEFAULT_MODEL", "gpt-4o-mini"),
		DefaultTemperature:        getFloatEnv("DEFAULT_TEMPERATURE", 0.5),
		DefaultMaxTokens:          getIntEnv("DEFAULT_MAX_TOKENS", 100),
		DefaultCertaintyThreshold: getFloatEnv("DEFAULT_CERTAINTY_THRESHOLD", 0.95),
		SessionBudget:             getFloatEnv("SESSION_BUDGET", 1.0),
		EnforceBudget:             getEnv("ENFORCE_BUDGET", "false") == "true",
		SessionTTL:                getDurationEnv("SESSION_TTL", 24*time.Hour),
		SessionRateLimitRPM:       getIntEnv("SESSION_RATE_LIMIT_RPM", 30),
		BreakerFailureThreshold:   getIntEnv("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerCooldown:           getDurationEnv("BREAKER_COOLDOWN", 30*time.Second),
		LLMTimeout:                getDurationEnv("LLM_TIMEOUT", httputil.DefaultLLMTimeout),
		TeamLLMTimeout:            getDurationEnv("TEAM_LLM_TIMEOUT", httputil.DefaultTeamLLMTimeout),
		ShutdownTimeout:           getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.DefaultTemperature < 0 || c.DefaultTemperature > 1 {
		errs = append(errs, errors.New("DEFAULT_TEMPERATURE must be within [0, 1]"))
	}
	if c.DefaultMaxTokens <= 0 {
		errs = append(errs, errors.New("DEFAULT_MAX_TOKENS must be positive"))
	}
	if c.DefaultCertaintyThreshold <= 0 || c.DefaultCertaintyThreshold > 1 {
		errs = append(errs, errors.New("DEFAULT_CERTAINTY_THRESHOLD must be within (0, 1]"))
	}
	if c.SessionBudget < 0 {
		errs = append(errs, errors.New("SESSION_BUDGET must not be negative"))
	}
	if c.SessionRateLimitRPM < 0 {
		errs = append(errs, errors.New("SESSION_RATE_LIMIT_RPM must not be negative"))
	}
	if c.BreakerFailureThreshold <= 0 {
		errs = append(errs, errors.New("BREAKER_FAILURE_THRESHOLD must be positive"))
	}
	if c.OpenAIAPIKeySecret != "" && c.AWSRegion == "" {
		errs = append(errs, errors.New("AWS_REGION is required with OPENAI_API_KEY_SECRET"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
