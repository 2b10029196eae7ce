package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("CHATWOOT_ENABLED", "")
	t.Setenv("FORMBRICKS_ENABLED", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, "@hourly", cfg.SyncSchedule)
	assert.Equal(t, "@daily", cfg.RetentionSchedule)
	assert.Equal(t, 90, cfg.Chatwoot.RetentionDays)
	assert.True(t, cfg.Chatwoot.AutoCreateLead)
	assert.Equal(t, "Survey", cfg.Formbricks.LeadSource)
	assert.Equal(t, "/webhooks/chatwoot", cfg.Chatwoot.WebhookPath)
}

func TestLoadConfigVendors(t *testing.T) {
	t.Setenv("CHATWOOT_ENABLED", "true")
	t.Setenv("CHATWOOT_BASE_URL", "https://chat.example.com/")
	t.Setenv("CHATWOOT_ACCESS_TOKEN", "token")
	t.Setenv("CHATWOOT_ACCOUNT_ID", "1")
	t.Setenv("CONVERSATION_RETENTION_DAYS", "30")
	t.Setenv("FORMBRICKS_ENABLED", "true")
	t.Setenv("FORMBRICKS_BASE_URL", "https://forms.example.com")
	t.Setenv("FORMBRICKS_API_KEY", "key")
	t.Setenv("FORMBRICKS_LEAD_SURVEY_IDS", "s1, s2,,")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com", cfg.Chatwoot.BaseURL)
	assert.Equal(t, 30, cfg.Chatwoot.RetentionDays)
	assert.Equal(t, []string{"s1", "s2"}, cfg.Formbricks.LeadSurveyIDs)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			DatabaseDriver: "sqlite",
			DatabaseURL:    "sync.db",
			Chatwoot: ChatwootConfig{
				Enabled:     true,
				BaseURL:     "https://chat.example.com",
				AccessToken: "token",
				AccountID:   "1",
				WebhookPath: "/webhooks/chatwoot",
			},
		}
	}
	require.NoError(t, base().Validate())

	cfg := base()
	cfg.Chatwoot.AutoCreateLead = true
	cfg.Chatwoot.AutoCreateCustomer = true
	assert.ErrorContains(t, cfg.Validate(), "cannot both be enabled")

	cfg = base()
	cfg.Chatwoot.AccessToken = ""
	assert.ErrorContains(t, cfg.Validate(), "invalid Chatwoot configuration")

	cfg = base()
	cfg.Chatwoot.Enabled = false
	cfg.Chatwoot.AccessToken = ""
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.DatabaseDriver = "mysql"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.RegisterWebhooks = true
	assert.ErrorContains(t, cfg.Validate(), "PUBLIC_URL")
}
