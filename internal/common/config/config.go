// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App          AppConfig             `mapstructure:"app"`
	Database     DatabaseConfig        `mapstructure:"database"`
	Queue        QueueConfig           `mapstructure:"queue"`
	Retry        RetryConfig           `mapstructure:"retry"`
	Recovery     RecoveryConfig        `mapstructure:"recovery"`
	Providers    ProvidersConfig       `mapstructure:"providers"`
	Integrations IntegrationConfig     `mapstructure:"integrations"`
	Tasks        map[string]TaskConfig `mapstructure:"tasks"`
	Logging      LoggingConfig         `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ElasticsearchConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	AuditIndex string   `mapstructure:"audit_index"`
}

// QueueConfig holds the settings for the polling job queue and its workers.
type QueueConfig struct {
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
	BatchSize           int `mapstructure:"batch_size"`
	LeaseMinutes        int `mapstructure:"lease_minutes"`
	ReapIntervalSeconds int `mapstructure:"reap_interval_seconds"`
	JobTimeoutSeconds   int `mapstructure:"job_timeout_seconds"`
}

// RetryConfig holds the fallback retry policy used when an org has no
// active policy of its own.
type RetryConfig struct {
	MaxRetries          int `mapstructure:"max_retries"`
	InitialDelayMinutes int `mapstructure:"initial_delay_minutes"`
	BackoffMultiplier   int `mapstructure:"backoff_multiplier"`
	MaxDelayMinutes     int `mapstructure:"max_delay_minutes"`
}

// RecoveryConfig holds the settings for customer-facing recovery links.
type RecoveryConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	DefaultTTLHours int    `mapstructure:"default_ttl_hours"`
}

// ProvidersConfig holds the credentials and webhook secrets per PSP.
type ProvidersConfig struct {
	Razorpay RazorpayConfig `mapstructure:"razorpay"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
}

type RazorpayConfig struct {
	WebhookSecret string `mapstructure:"webhook_secret"`
	KeyID         string `mapstructure:"key_id"`
	KeySecret     string `mapstructure:"key_secret"`
	BaseURL       string `mapstructure:"base_url"`
}

type StripeConfig struct {
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// IntegrationConfig holds settings for notification delivery services.
type IntegrationConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
		SES    struct {
			Enabled   bool   `mapstructure:"enabled"`
			FromEmail string `mapstructure:"from_email"`
		} `mapstructure:"ses"`
		SNS struct {
			Enabled            bool   `mapstructure:"enabled"`
			DefaultSMSSenderID string `mapstructure:"default_sms_sender_id"`
		} `mapstructure:"sns"`
	} `mapstructure:"aws"`
}

// TaskConfig holds the core settings applicable to every task handler.
type TaskConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	TimeoutSeconds int  `mapstructure:"timeout_seconds"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
