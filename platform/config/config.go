// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
}

// WebhookConfig provides shared secrets for inbound webhook verification.
type WebhookConfig interface {
	GetMessagingWebhookSecret() string
	GetPaymentWebhookSecret() string
	GetSchedulerTriggerSecret() string
	GetPaymentMaxClockSkew() time.Duration
}

// AdminConfig provides the shared secret for admin read endpoints.
type AdminConfig interface {
	GetAdminAPISecret() string
}

// SchedulerConfig provides settings for the asynq scheduler.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetSweepInterval() time.Duration
}

// MessagingConfig provides settings for the outbound messaging provider.
type MessagingConfig interface {
	GetMessagingURL() string
	GetMessagingKey() string
	GetMessagingDeviceID() string
}

// NLPConfig provides settings for the conversation capability service.
type NLPConfig interface {
	GetNLPBaseURL() string
	GetNLPAPIKey() string
	GetNLPTimeout() time.Duration
}

// KnowledgeConfig provides settings for the knowledge vector store.
type KnowledgeConfig interface {
	GetQdrantURL() string
	GetQdrantAPIKey() string
	GetQdrantCollection() string
}

// DeliveryConfig provides settings for qualified-lead dispatch.
type DeliveryConfig interface {
	GetDeliveryTimeout() time.Duration
	GetDeliveryMaxAttempts() int
	GetDeliveryBackoffBase() time.Duration
}

// AlertConfig provides settings for operational alert emails.
type AlertConfig interface {
	GetAlertsEnabled() bool
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetAlertFromAddress() string
	GetAlertToAddress() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env      string
	HTTPAddr string

	DatabaseURL string

	CORSAllowAll bool
	CORSOrigins  []string

	MessagingWebhookSecret string
	PaymentWebhookSecret   string
	SchedulerTriggerSecret string
	PaymentMaxClockSkew    time.Duration
	AdminAPISecret         string

	RedisURL         string
	RedisTLSInsecure bool
	AsynqQueueName   string
	AsynqConcurrency int
	SweepInterval    time.Duration

	MessagingURL      string
	MessagingKey      string
	MessagingDeviceID string

	NLPBaseURL string
	NLPAPIKey  string
	NLPTimeout time.Duration

	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string

	DeliveryTimeout     time.Duration
	DeliveryMaxAttempts int
	DeliveryBackoffBase time.Duration

	AlertsEnabled    bool
	SMTPHost         string
	SMTPPort         int
	SMTPUsername     string
	SMTPPassword     string
	AlertFromAddress string
	AlertToAddress   string
}

// Load reads configuration from environment variables, loading a .env file
// first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("APP_ENV", "development"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		CORSAllowAll: getEnvBool("CORS_ALLOW_ALL", false),
		CORSOrigins:  splitList(os.Getenv("CORS_ORIGINS")),

		MessagingWebhookSecret: os.Getenv("MESSAGING_WEBHOOK_SECRET"),
		PaymentWebhookSecret:   os.Getenv("PAYMENT_WEBHOOK_SECRET"),
		SchedulerTriggerSecret: os.Getenv("SCHEDULER_TRIGGER_SECRET"),
		PaymentMaxClockSkew:    getEnvDuration("PAYMENT_MAX_CLOCK_SKEW", 5*time.Minute),
		AdminAPISecret:         os.Getenv("ADMIN_API_SECRET"),

		RedisURL:         os.Getenv("REDIS_URL"),
		RedisTLSInsecure: getEnvBool("REDIS_TLS_INSECURE", false),
		AsynqQueueName:   getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency: getEnvInt("ASYNQ_CONCURRENCY", 10),
		SweepInterval:    getEnvDuration("SWEEP_INTERVAL", 2*time.Hour),

		MessagingURL:      os.Getenv("MESSAGING_URL"),
		MessagingKey:      os.Getenv("MESSAGING_KEY"),
		MessagingDeviceID: os.Getenv("MESSAGING_DEVICE_ID"),

		NLPBaseURL: os.Getenv("NLP_BASE_URL"),
		NLPAPIKey:  os.Getenv("NLP_API_KEY"),
		NLPTimeout: getEnvDuration("NLP_TIMEOUT", 30*time.Second),

		QdrantURL:        os.Getenv("QDRANT_URL"),
		QdrantAPIKey:     os.Getenv("QDRANT_API_KEY"),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "knowledge"),

		DeliveryTimeout:     getEnvDuration("DELIVERY_TIMEOUT", 15*time.Second),
		DeliveryMaxAttempts: getEnvInt("DELIVERY_MAX_ATTEMPTS", 3),
		DeliveryBackoffBase: getEnvDuration("DELIVERY_BACKOFF_BASE", 30*time.Second),

		AlertsEnabled:    getEnvBool("ALERTS_ENABLED", false),
		SMTPHost:         os.Getenv("SMTP_HOST"),
		SMTPPort:         getEnvInt("SMTP_PORT", 587),
		SMTPUsername:     os.Getenv("SMTP_USERNAME"),
		SMTPPassword:     os.Getenv("SMTP_PASSWORD"),
		AlertFromAddress: os.Getenv("ALERT_FROM_ADDRESS"),
		AlertToAddress:   os.Getenv("ALERT_TO_ADDRESS"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

// Interface implementations.

func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }

func (c *Config) GetMessagingWebhookSecret() string     { return c.MessagingWebhookSecret }
func (c *Config) GetPaymentWebhookSecret() string       { return c.PaymentWebhookSecret }
func (c *Config) GetSchedulerTriggerSecret() string     { return c.SchedulerTriggerSecret }
func (c *Config) GetPaymentMaxClockSkew() time.Duration { return c.PaymentMaxClockSkew }
func (c *Config) GetAdminAPISecret() string             { return c.AdminAPISecret }

func (c *Config) GetRedisURL() string            { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool      { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string      { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int       { return c.AsynqConcurrency }
func (c *Config) GetSweepInterval() time.Duration { return c.SweepInterval }

func (c *Config) GetMessagingURL() string      { return c.MessagingURL }
func (c *Config) GetMessagingKey() string      { return c.MessagingKey }
func (c *Config) GetMessagingDeviceID() string { return c.MessagingDeviceID }

func (c *Config) GetNLPBaseURL() string        { return c.NLPBaseURL }
func (c *Config) GetNLPAPIKey() string         { return c.NLPAPIKey }
func (c *Config) GetNLPTimeout() time.Duration { return c.NLPTimeout }

func (c *Config) GetQdrantURL() string        { return c.QdrantURL }
func (c *Config) GetQdrantAPIKey() string     { return c.QdrantAPIKey }
func (c *Config) GetQdrantCollection() string { return c.QdrantCollection }

func (c *Config) GetDeliveryTimeout() time.Duration     { return c.DeliveryTimeout }
func (c *Config) GetDeliveryMaxAttempts() int           { return c.DeliveryMaxAttempts }
func (c *Config) GetDeliveryBackoffBase() time.Duration { return c.DeliveryBackoffBase }

func (c *Config) GetAlertsEnabled() bool      { return c.AlertsEnabled }
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetAlertFromAddress() string { return c.AlertFromAddress }
func (c *Config) GetAlertToAddress() string   { return c.AlertToAddress }

// Helpers.

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
