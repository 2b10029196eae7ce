package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// ChatwootConfig holds the Chatwoot connection and reconciliation settings.
type ChatwootConfig struct {
	Enabled                   bool
	BaseURL                   string `validate:"required,url"`
	AccessToken               string `validate:"required"`
	AccountID                 string `validate:"required,numeric"`
	InboxID                   string `validate:"omitempty,numeric"`
	WebhookSecret             string
	WebhookPath               string `validate:"required,startswith=/"`
	AutoCreateLead            bool
	AutoCreateCustomer        bool
	CustomerGroup             string
	SyncConversationsAsIssues bool
	IssueType                 string
	RetentionDays             int    `validate:"gte=0"`
}

// FormbricksConfig holds the Formbricks connection and lead settings.
type FormbricksConfig struct {
	Enabled        bool
	BaseURL        string `validate:"required,url"`
	APIKey         string `validate:"required"`
	EnvironmentID  string
	WebhookSecret  string
	WebhookPath    string `validate:"required,startswith=/"`
	AutoCreateLead bool
	LeadSurveyIDs  []string
	LeadSource     string
}

// RabbitConfig configures outcome publishing. Publishing is disabled when URL is empty.
type RabbitConfig struct {
	URL            string
	Queue          string
	QueuePrefix    string
	SpecificEvents []string
}

// S3Config configures the conversation archive used by retention cleanup.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PathStyle bool
	Prefix    string
}

// Config holds all configuration fields for the application.
type Config struct {
	Port              string
	LogLevel          string
	LogFormat         string
	DatabaseDriver    string `validate:"oneof=sqlite postgres"`
	DatabaseURL       string `validate:"required"`
	PublicURL         string `validate:"omitempty,url"`
	AdminToken        string
	RegisterWebhooks  bool
	SchedulerEnabled  bool
	SyncSchedule      string
	RetentionSchedule string

	Chatwoot   ChatwootConfig
	Formbricks FormbricksConfig
	RabbitMQ   RabbitConfig
	S3         S3Config
}

// LoadConfig loads configuration from environment variables.
// It attempts to load a .env file if present.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Err(err).Msg("No .env file found or error loading it, relying on environment variables")
	} else {
		log.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{
		Port:              envOr("PORT", "8080"),
		LogLevel:          os.Getenv("LOG_LEVEL"),
		LogFormat:         os.Getenv("LOG_FORMAT"),
		DatabaseDriver:    envOr("DATABASE_DRIVER", "sqlite"),
		DatabaseURL:       envOr("DATABASE_URL", "sync.db"),
		PublicURL:         strings.TrimRight(os.Getenv("PUBLIC_URL"), "/"),
		AdminToken:        os.Getenv("ADMIN_TOKEN"),
		RegisterWebhooks:  envBool("REGISTER_WEBHOOKS", false),
		SchedulerEnabled:  envBool("SCHEDULER_ENABLED", true),
		SyncSchedule:      envOr("SYNC_SCHEDULE", "@hourly"),
		RetentionSchedule: envOr("RETENTION_SCHEDULE", "@daily"),
		Chatwoot: ChatwootConfig{
			Enabled:                   envBool("CHATWOOT_ENABLED", false),
			BaseURL:                   strings.TrimRight(os.Getenv("CHATWOOT_BASE_URL"), "/"),
			AccessToken:               os.Getenv("CHATWOOT_ACCESS_TOKEN"),
			AccountID:                 os.Getenv("CHATWOOT_ACCOUNT_ID"),
			InboxID:                   os.Getenv("CHATWOOT_INBOX_ID"),
			WebhookSecret:             os.Getenv("CHATWOOT_WEBHOOK_SECRET"),
			WebhookPath:               envOr("CHATWOOT_WEBHOOK_PATH", "/webhooks/chatwoot"),
			AutoCreateLead:            envBool("CHATWOOT_AUTO_CREATE_LEAD", true),
			AutoCreateCustomer:        envBool("CHATWOOT_AUTO_CREATE_CUSTOMER", false),
			CustomerGroup:             os.Getenv("CHATWOOT_CUSTOMER_GROUP"),
			SyncConversationsAsIssues: envBool("CHATWOOT_SYNC_CONVERSATIONS_AS_ISSUES", false),
			IssueType:                 os.Getenv("CHATWOOT_ISSUE_TYPE"),
			RetentionDays:             envInt("CONVERSATION_RETENTION_DAYS", 90),
		},
		Formbricks: FormbricksConfig{
			Enabled:        envBool("FORMBRICKS_ENABLED", false),
			BaseURL:        strings.TrimRight(os.Getenv("FORMBRICKS_BASE_URL"), "/"),
			APIKey:         os.Getenv("FORMBRICKS_API_KEY"),
			EnvironmentID:  os.Getenv("FORMBRICKS_ENVIRONMENT_ID"),
			WebhookSecret:  os.Getenv("FORMBRICKS_WEBHOOK_SECRET"),
			WebhookPath:    envOr("FORMBRICKS_WEBHOOK_PATH", "/webhooks/formbricks"),
			AutoCreateLead: envBool("FORMBRICKS_AUTO_CREATE_LEAD", true),
			LeadSurveyIDs:  splitList(os.Getenv("FORMBRICKS_LEAD_SURVEY_IDS")),
			LeadSource:     envOr("FORMBRICKS_LEAD_SOURCE", "Survey"),
		},
		RabbitMQ: RabbitConfig{
			URL:            os.Getenv("RABBITMQ_URL"),
			Queue:          envOr("RABBITMQ_QUEUE", "sync_events"),
			QueuePrefix:    envOr("RABBITMQ_QUEUE_PREFIX", "crmsync"),
			SpecificEvents: splitList(os.Getenv("AMQP_SPECIFIC_EVENTS")),
		},
		S3: S3Config{
			Bucket:    os.Getenv("S3_BUCKET"),
			Region:    envOr("S3_REGION", "us-east-1"),
			Endpoint:  os.Getenv("S3_ENDPOINT"),
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
			PathStyle: envBool("S3_PATH_STYLE", false),
			Prefix:    envOr("S3_PREFIX", "crmsync"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info().
		Bool("chatwoot", cfg.Chatwoot.Enabled).
		Bool("formbricks", cfg.Formbricks.Enabled).
		Str("databaseDriver", cfg.DatabaseDriver).
		Msg("Configuration loaded")
	return cfg, nil
}

var validate = validator.New()

// Validate checks the top-level settings and the settings of every enabled vendor.
func (c *Config) Validate() error {
	if err := validate.StructExcept(c, "Chatwoot", "Formbricks"); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Chatwoot.Enabled {
		if err := validate.Struct(c.Chatwoot); err != nil {
			return fmt.Errorf("invalid Chatwoot configuration: %w", err)
		}
		if c.Chatwoot.AutoCreateLead && c.Chatwoot.AutoCreateCustomer {
			return errors.New("invalid Chatwoot configuration: CHATWOOT_AUTO_CREATE_LEAD and CHATWOOT_AUTO_CREATE_CUSTOMER cannot both be enabled")
		}
	}
	if c.Formbricks.Enabled {
		if err := validate.Struct(c.Formbricks); err != nil {
			return fmt.Errorf("invalid Formbricks configuration: %w", err)
		}
	}
	if c.RegisterWebhooks && c.PublicURL == "" {
		return errors.New("invalid configuration: REGISTER_WEBHOOKS requires PUBLIC_URL")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	log.Debug().Str("key", key).Str("default", fallback).Msg("Environment variable not set, using default")
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid boolean, using default")
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid integer, using default")
		return fallback
	}
	return n
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
