package config

import (
	cryptoRand "crypto/rand"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	// Telegram
	TelegramToken string
	AdminIDs      []int64
	Language      string

	// Quotas
	MaxKeysPerUser  int
	MaxKeysPerAdmin int

	// Outline management API
	OutlineAPIURL      string
	OutlineTimeout     time.Duration
	OutlineInsecureTLS bool

	// Storage
	DatabaseURL     string // empty selects the in-memory store
	EnableAccessLog bool
	EncryptionKey   string // 64 hex chars = 32 bytes AES-256 key; empty = disabled

	// Background work
	SyncInterval        time.Duration
	ExpiryCheckInterval time.Duration
	ExpiryWarnDays      int
	FlowTTL             time.Duration
	FlowConflict        string // reject or replace

	// Chat throttling
	ActorRatePerMinute   int
	ActorBurst           int
	NotifyAdminsOnCreate bool

	// Operator HTTP API
	Port          int
	JWTSecret     string
	AdminUsername string
	AdminPassword string

	// PostHog Analytics settings
	PostHogAPIKey  string
	PostHogHost    string
	PostHogEnabled bool

	// Expiry digests by e-mail
	MailgunDomain    string
	MailgunAPIKey    string
	MailgunFromEmail string
	AlertEmail       string

	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables, reading .env first if present
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		TelegramToken: getEnv("TELEGRAM_TOKEN", ""),
		AdminIDs:      getEnvInt64List("ADMIN_IDS"),
		Language:      getEnv("LANGUAGE", "ru"),

		MaxKeysPerUser:  getEnvInt("MAX_KEYS_PER_USER", 1),
		MaxKeysPerAdmin: getEnvInt("MAX_KEYS_PER_ADMIN", 10),

		OutlineAPIURL:      getEnv("OUTLINE_API_URL", ""),
		OutlineTimeout:     getEnvDuration("OUTLINE_TIMEOUT", 10*time.Second),
		OutlineInsecureTLS: getEnvBool("OUTLINE_INSECURE_TLS", true),

		DatabaseURL:     getEnv("DATABASE_URL", ""),
		EnableAccessLog: getEnvBool("ENABLE_ACCESS_LOG", true),
		EncryptionKey:   getEnv("ENCRYPTION_KEY", ""),

		SyncInterval:        getEnvDuration("SYNC_INTERVAL", 5*time.Minute),
		ExpiryCheckInterval: getEnvDuration("EXPIRY_CHECK_INTERVAL", 12*time.Hour),
		ExpiryWarnDays:      getEnvInt("EXPIRY_WARN_DAYS", 3),
		FlowTTL:             getEnvDuration("FLOW_TTL", 15*time.Minute),
		FlowConflict:        getEnv("FLOW_CONFLICT", "reject"),

		ActorRatePerMinute:   getEnvInt("ACTOR_RATE_PER_MINUTE", 30),
		ActorBurst:           getEnvInt("ACTOR_BURST", 5),
		NotifyAdminsOnCreate: getEnvBool("NOTIFY_ADMINS_ON_CREATE", true),

		Port:          getEnvInt("PORT", 8080),
		JWTSecret:     getEnv("JWT_SECRET", ""),
		AdminUsername: getEnv("ADMIN_USERNAME", ""),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),

		PostHogAPIKey:  getEnv("POSTHOG_API_KEY", ""),
		PostHogHost:    getEnv("POSTHOG_HOST", "https://eu.i.posthog.com"),
		PostHogEnabled: getEnvBool("POSTHOG_ENABLED", false),

		MailgunDomain:    getEnv("MAILGUN_DOMAIN", ""),
		MailgunAPIKey:    getEnv("MAILGUN_API_KEY", ""),
		MailgunFromEmail: getEnv("MAILGUN_FROM_EMAIL", ""),
		AlertEmail:       getEnv("ALERT_EMAIL", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	// Generate JWT secret if not provided
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = generateRandomSecret(32)
	}

	return cfg
}

// Validate reports missing or inconsistent settings
func (c *Config) Validate() error {
	var errs []error
	if c.TelegramToken == "" {
		errs = append(errs, errors.New("TELEGRAM_TOKEN is required"))
	}
	if c.OutlineAPIURL == "" {
		errs = append(errs, errors.New("OUTLINE_API_URL is required"))
	}
	if c.MaxKeysPerUser < 0 || c.MaxKeysPerAdmin < 0 {
		errs = append(errs, errors.New("key limits cannot be negative"))
	}
	if c.FlowConflict != "reject" && c.FlowConflict != "replace" {
		errs = append(errs, fmt.Errorf("FLOW_CONFLICT must be reject or replace, got %q", c.FlowConflict))
	}
	if c.Language != "ru" && c.Language != "en" {
		errs = append(errs, fmt.Errorf("LANGUAGE must be ru or en, got %q", c.Language))
	}
	return errors.Join(errs...)
}

// IsAdmin reports whether the actor is listed in ADMIN_IDS
func (c *Config) IsAdmin(actorID int64) bool {
	for _, id := range c.AdminIDs {
		if id == actorID {
			return true
		}
	}
	return false
}

// EmailAlertsEnabled reports whether expiry digests can be mailed
func (c *Config) EmailAlertsEnabled() bool {
	return c.MailgunDomain != "" && c.MailgunAPIKey != "" && c.AlertEmail != ""
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvInt64List parses a comma-separated list, skipping malformed entries
func getEnvInt64List(key string) []int64 {
	value, exists := os.LookupEnv(key)
	if !exists {
		return nil
	}

	var ids []int64
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// generateRandomSecret generates a cryptographically secure random secret for JWT signing
func generateRandomSecret(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	result := make([]byte, length)
	if _, err := cryptoRand.Read(result); err != nil {
		panic("failed to generate random secret: " + err.Error())
	}
	for i := range result {
		result[i] = charset[result[i]%byte(len(charset))]
	}
	return string(result)
}
