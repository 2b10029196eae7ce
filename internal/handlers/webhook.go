// Package handlers exposes the webhook receivers and the admin API over HTTP.
package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"chatwoot-formbricks-sync/internal/events"
	"chatwoot-formbricks-sync/internal/metrics"
	"chatwoot-formbricks-sync/internal/services"

	"github.com/rs/zerolog/log"
)

// Signature headers.
const (
	ChatwootSignatureHeader   = "X-Chatwoot-Webhook-Signature"
	FormbricksSignatureHeader = "X-Formbricks-Signature"
)

const maxWebhookBody = 1 << 20

// Reconciler is the engine entry point for normalised events.
type Reconciler interface {
	Apply(ctx context.Context, ev *events.Event) (*services.Outcome, error)
}

// WebhookHandler receives the webhooks of one vendor.
type WebhookHandler struct {
	vendor  events.Vendor
	enabled bool
	secret  string
	header  string
	parse   func([]byte) (*events.Event, error)
	engine  Reconciler
}

// NewChatwootWebhookHandler creates the Chatwoot receiver. With an empty secret signatures are not checked.
func NewChatwootWebhookHandler(engine Reconciler, enabled bool, secret string) *WebhookHandler {
	return &WebhookHandler{
		vendor:  events.VendorChatwoot,
		enabled: enabled,
		secret:  secret,
		header:  ChatwootSignatureHeader,
		parse:   events.ParseChatwoot,
		engine:  engine,
	}
}

// NewFormbricksWebhookHandler creates the Formbricks receiver.
func NewFormbricksWebhookHandler(engine Reconciler, enabled bool, secret string) *WebhookHandler {
	return &WebhookHandler{
		vendor:  events.VendorFormbricks,
		enabled: enabled,
		secret:  secret,
		header:  FormbricksSignatureHeader,
		parse:   events.ParseFormbricks,
		engine:  engine,
	}
}

// ValidSignature checks a hex HMAC-SHA256 of body. An optional "sha256=" prefix is accepted.
func ValidSignature(secret string, body []byte, signature string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if signature == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(got, digest(secret, body))
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret string, body []byte) string {
	return hex.EncodeToString(digest(secret, body))
}

func digest(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// ServeHTTP verifies, parses and reconciles one delivery.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	vendor := string(h.vendor)
	if !h.enabled {
		metrics.WebhookDeliveries.WithLabelValues(vendor, "", "disabled").Inc()
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		log.Error().Err(err).Str("vendor", vendor).Msg("Failed to read request body")
		metrics.WebhookDeliveries.WithLabelValues(vendor, "", "malformed").Inc()
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	if h.secret != "" && !ValidSignature(h.secret, body, r.Header.Get(h.header)) {
		log.Warn().Str("vendor", vendor).Str("remote", r.RemoteAddr).Msg("Invalid webhook signature")
		metrics.WebhookDeliveries.WithLabelValues(vendor, "", "unauthorized").Inc()
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	ev, err := h.parse(body)
	switch {
	case errors.Is(err, events.ErrUnknownEvent):
		log.Info().Err(err).Str("vendor", vendor).Msg("Ignoring unhandled webhook event")
		metrics.WebhookDeliveries.WithLabelValues(vendor, "", "unknown").Inc()
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	case err != nil:
		log.Warn().Err(err).Str("vendor", vendor).Int("size", len(body)).Msg("Rejected malformed webhook payload")
		metrics.WebhookDeliveries.WithLabelValues(vendor, "", "malformed").Inc()
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	eventType := string(ev.Type)
	log.Info().Str("vendor", vendor).Str("eventType", eventType).Str("externalID", ev.ExternalID).Msg("Received webhook event")

	out, err := h.engine.Apply(r.Context(), ev)
	if err != nil {
		status, result := http.StatusInternalServerError, "error"
		if upstreamError(err) {
			status, result = http.StatusBadGateway, "upstream_error"
		}
		log.Error().Err(err).Str("vendor", vendor).Str("eventType", eventType).Str("externalID", ev.ExternalID).Msg("Failed to reconcile webhook event")
		metrics.WebhookDeliveries.WithLabelValues(vendor, eventType, result).Inc()
		http.Error(w, http.StatusText(status), status)
		return
	}

	metrics.WebhookDeliveries.WithLabelValues(vendor, eventType, "success").Inc()
	respondWithJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"event":   eventType,
		"outcome": out,
	})
}
