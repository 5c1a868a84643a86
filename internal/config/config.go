package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	Server      struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`
	Healthcheck struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"healthcheck"`
	Database struct {
		PostgresDSN         string `mapstructure:"postgresDSN"`
		PostgresAutoMigrate bool   `mapstructure:"postgresAutoMigrate"`
	} `mapstructure:"database"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Intake     IntakeConfig     `mapstructure:"intake"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Outreach   OutreachConfig   `mapstructure:"outreach"`
	Poller     PollerConfig     `mapstructure:"poller"`
	Migration  MigrationConfig  `mapstructure:"migration"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Metrics    struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	WorkerPools struct {
		Poller PollerWorkerPoolConfig `mapstructure:"poller"`
	} `mapstructure:"workerPools"`
}

// WebhookConfig holds the security-gate settings for the inbound webhook.
type WebhookConfig struct {
	// URLSecret is the path-embedded secret. Empty means deny everything.
	URLSecret string `mapstructure:"urlSecret"`
	// SignatureSecret is the shared secret for the optional HMAC signature.
	SignatureSecret string `mapstructure:"signatureSecret"`
	// TimestampSkew is the accepted clock drift for the timestamp header.
	TimestampSkew time.Duration `mapstructure:"timestampSkew"`
	// AllowedCIDRs is the caller IP allow-list, e.g. ["3.233.0.0/16"].
	AllowedCIDRs []string `mapstructure:"allowedCIDRs"`
	// BypassIPCheck disables the IP check regardless of environment.
	BypassIPCheck bool `mapstructure:"bypassIPCheck"`
}

// IntakeConfig holds the confidence-gate policy.
type IntakeConfig struct {
	// ConfidenceThreshold is the single, central pass mark (inclusive).
	ConfidenceThreshold float64 `mapstructure:"confidenceThreshold"`
}

// ExtractionConfig holds the AI extraction gateway settings.
type ExtractionConfig struct {
	APIKey    string        `mapstructure:"apiKey"`
	Model     string        `mapstructure:"model"`
	MaxTokens int64         `mapstructure:"maxTokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// OutreachConfig holds the outreach-provider API client settings.
type OutreachConfig struct {
	BaseURL string        `mapstructure:"baseURL"`
	APIKey  string        `mapstructure:"apiKey"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// PollerConfig holds the reply-poller settings.
type PollerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Schedule is a cron expression; empty disables the schedule (manual
	// trigger only).
	Schedule    string   `mapstructure:"schedule"`
	CampaignIDs []string `mapstructure:"campaignIDs"`
}

// MigrationConfig holds migration-engine policy.
type MigrationConfig struct {
	// DefaultTurnaroundDays fills offerings whose extraction carried no
	// turnaround.
	DefaultTurnaroundDays int `mapstructure:"defaultTurnaroundDays"`
	// RetentionDays is how long migrated shadow rows stay in the hot table
	// before the archive sweep moves them.
	RetentionDays int `mapstructure:"retentionDays"`
	// ArchiveSchedule is a cron expression for the archive sweep; empty
	// disables it.
	ArchiveSchedule string `mapstructure:"archiveSchedule"`
}

// NATSConfig holds the domain-event publisher settings.
type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	// Stream is the JetStream stream holding pipeline events.
	Stream string `mapstructure:"stream"`
	// SubjectPrefix prefixes every published subject (e.g. v1.publisher).
	SubjectPrefix string `mapstructure:"subjectPrefix"`
	MaxAgeDays    int    `mapstructure:"maxAgeDays"`
}

// PollerWorkerPoolConfig holds configuration for the campaign worker pool
type PollerWorkerPoolConfig struct {
	PoolSize   int           `mapstructure:"poolSize"`   // Number of workers
	QueueSize  int           `mapstructure:"queueSize"`  // Task queue buffer size
	MaxBlock   time.Duration `mapstructure:"maxBlock"`   // Max time to block when submitting if queue full
	ExpiryTime time.Duration `mapstructure:"expiryTime"` // Idle worker expiry time
}

// IsProduction reports whether the service runs in a production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "live"
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (*Config, error) {
	// Create new viper instance
	v := viper.New()

	// Set defaults
	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("healthcheck.port", 8081)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 2112)

	v.SetDefault("webhook.timestampSkew", 5*time.Minute)
	v.SetDefault("intake.confidenceThreshold", 0.7)
	v.SetDefault("extraction.model", "claude-haiku-4-5-20251001")
	v.SetDefault("extraction.maxTokens", 2048)
	v.SetDefault("extraction.timeout", 45*time.Second)
	v.SetDefault("outreach.timeout", 30*time.Second)
	v.SetDefault("poller.enabled", false)
	v.SetDefault("migration.defaultTurnaroundDays", 7)
	v.SetDefault("migration.retentionDays", 90)
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.stream", "publisher_events")
	v.SetDefault("nats.subjectPrefix", "v1.publisher")
	v.SetDefault("nats.maxAgeDays", 30)

	// WorkerPools Defaults
	v.SetDefault("workerPools.poller.poolSize", 4)
	v.SetDefault("workerPools.poller.queueSize", 64)
	v.SetDefault("workerPools.poller.maxBlock", time.Second)
	v.SetDefault("workerPools.poller.expiryTime", time.Minute)

	// Config file settings
	v.SetConfigName("default") // name of config file (without extension)
	v.SetConfigType("yaml")

	// Add lookup paths
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("$HOME/.publisher-intake-service")
	v.AddConfigPath("/etc/publisher-intake-service")

	// Try to read from config file
	if err := v.ReadInConfig(); err != nil {
		// It's ok if config file is not found, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Override with environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Map environment variables to config fields
	bindEnvs(v, Config{})

	// Read directly from ENV for critical values
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		v.Set("database.postgresDSN", dsn)
	}
	if lgLevel := os.Getenv("LOG_LEVEL"); lgLevel != "" {
		v.Set("logLevel", lgLevel)
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		v.Set("extraction.apiKey", key)
	}
	if secret := os.Getenv("WEBHOOK_URL_SECRET"); secret != "" {
		v.Set("webhook.urlSecret", secret)
	}
	if secret := os.Getenv("WEBHOOK_SIGNATURE_SECRET"); secret != "" {
		v.Set("webhook.signatureSecret", secret)
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		v.Set("nats.url", url)
	}
	if key := os.Getenv("OUTREACH_API_KEY"); key != "" {
		v.Set("outreach.apiKey", key)
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &config, nil
}

// bindEnvs recursively binds environment variables to config struct fields
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldVal := ifv.Field(i)
		fieldType := ift.Field(i)

		// Get the field tag value (mapstructure)
		tag := fieldType.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		// Build the env var path
		path := append(parts, tag)
		key := strings.Join(path, ".")

		// If it's a struct, recursively bind its fields
		if fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), path...)
			continue
		}

		// Bind the env var
		_ = v.BindEnv(key)
	}
}
