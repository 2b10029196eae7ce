package services

import (
	"context"
	"fmt"
	"slices"

	"chatwoot-formbricks-sync/internal/adapters/chatwoot"
	"chatwoot-formbricks-sync/internal/adapters/formbricks"

	"github.com/rs/zerolog/log"
)

// ChatwootWebhooks manages the account webhooks of Chatwoot.
type ChatwootWebhooks interface {
	ListWebhooks(ctx context.Context) ([]chatwoot.Webhook, error)
	RegisterWebhook(ctx context.Context, url string, events ...string) (*chatwoot.Webhook, error)
	DeleteWebhook(ctx context.Context, webhookID int) error
}

// FormbricksWebhooks manages the environment webhooks of Formbricks.
type FormbricksWebhooks interface {
	ListWebhooks(ctx context.Context) ([]formbricks.Webhook, error)
	RegisterWebhook(ctx context.Context, url string, surveyIDs []string) (*formbricks.Webhook, error)
	DeleteWebhook(ctx context.Context, webhookID string) error
}

func covers(have, want []string) bool {
	for _, w := range want {
		if !slices.Contains(have, w) {
			return false
		}
	}
	return true
}

// EnsureChatwootWebhook makes sure url receives every reconciled Chatwoot event. A webhook for url
// missing some of the events is replaced. It reports whether a webhook was created.
func EnsureChatwootWebhook(ctx context.Context, c ChatwootWebhooks, url string) (bool, error) {
	existing, err := c.ListWebhooks(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list Chatwoot webhooks: %w", err)
	}
	for _, wh := range existing {
		if wh.URL != url {
			continue
		}
		if covers(wh.Subscriptions, chatwoot.WebhookEvents) {
			log.Info().Int("webhookID", wh.ID).Str("url", url).Msg("Chatwoot webhook already registered")
			return false, nil
		}
		if err := c.DeleteWebhook(ctx, wh.ID); err != nil {
			return false, fmt.Errorf("failed to replace Chatwoot webhook %d: %w", wh.ID, err)
		}
		log.Info().Int("webhookID", wh.ID).Strs("subscriptions", wh.Subscriptions).Msg("Removed outdated Chatwoot webhook")
	}
	created, err := c.RegisterWebhook(ctx, url, chatwoot.WebhookEvents...)
	if err != nil {
		return false, fmt.Errorf("failed to register Chatwoot webhook: %w", err)
	}
	log.Info().Int("webhookID", created.ID).Str("url", url).Msg("Chatwoot webhook registered")
	return true, nil
}

// EnsureFormbricksWebhook does the same for Formbricks response triggers. surveyIDs limits the
// webhook to those surveys; empty means all surveys.
func EnsureFormbricksWebhook(ctx context.Context, c FormbricksWebhooks, url string, surveyIDs []string) (bool, error) {
	existing, err := c.ListWebhooks(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list Formbricks webhooks: %w", err)
	}
	for _, wh := range existing {
		if wh.URL != url {
			continue
		}
		if covers(wh.Triggers, formbricks.WebhookTriggers) {
			log.Info().Str("webhookID", wh.ID).Str("url", url).Msg("Formbricks webhook already registered")
			return false, nil
		}
		if err := c.DeleteWebhook(ctx, wh.ID); err != nil {
			return false, fmt.Errorf("failed to replace Formbricks webhook %s: %w", wh.ID, err)
		}
		log.Info().Str("webhookID", wh.ID).Strs("triggers", wh.Triggers).Msg("Removed outdated Formbricks webhook")
	}
	created, err := c.RegisterWebhook(ctx, url, surveyIDs)
	if err != nil {
		return false, fmt.Errorf("failed to register Formbricks webhook: %w", err)
	}
	log.Info().Str("webhookID", created.ID).Str("url", url).Msg("Formbricks webhook registered")
	return true, nil
}
