package chatwoot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"chatwoot-formbricks-sync/pkg/httputil"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// WebhookEvents are the subscriptions requested when registering the sync webhook.
var WebhookEvents = []string{
	"conversation_created",
	"conversation_updated",
	"conversation_status_changed",
	"message_created",
	"contact_created",
	"contact_updated",
}

// APIError is returned for every failed Chatwoot call: transport errors and timeouts carry Err,
// non-2xx responses carry StatusCode and Body, malformed bodies carry both.
type APIError struct {
	Op         string
	Method     string
	Path       string
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("Chatwoot API %s (%s %s) status %d: %v", e.Op, e.Method, e.Path, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("Chatwoot API %s (%s %s) request failed: %v", e.Op, e.Method, e.Path, e.Err)
	}
	return fmt.Sprintf("Chatwoot API %s (%s %s) error: status %d, body: %s", e.Op, e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error { return e.Err }

// Client struct holds the configuration for the Chatwoot client.
type Client struct {
	httpClient *resty.Client
	baseURL    string
	accountID  string
	inboxID    int
}

// NewClient creates a new Chatwoot client. inboxID is optional and only used when creating contacts.
func NewClient(baseURL, accessToken, accountID, inboxID string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("Chatwoot baseURL cannot be empty")
	}
	if accessToken == "" {
		return nil, fmt.Errorf("Chatwoot accessToken cannot be empty")
	}
	if accountID == "" {
		return nil, fmt.Errorf("Chatwoot accountID cannot be empty")
	}
	var inbox int
	if inboxID != "" {
		n, err := strconv.Atoi(inboxID)
		if err != nil {
			return nil, fmt.Errorf("invalid Chatwoot inbox ID %q: %w", inboxID, err)
		}
		inbox = n
	}

	client := httputil.NewRestyClient(baseURL, timeout).
		SetHeader("api_access_token", accessToken)

	log.Info().Str("baseURL", baseURL).Str("accountID", accountID).Int("inboxID", inbox).Msg("Chatwoot client configured")

	return &Client{
		httpClient: client,
		baseURL:    baseURL,
		accountID:  accountID,
		inboxID:    inbox,
	}, nil
}

func (c *Client) accountPath(format string, args ...any) string {
	return fmt.Sprintf("/api/v1/accounts/%s", c.accountID) + fmt.Sprintf(format, args...)
}

// do runs one request and decodes the JSON body into result when result is non-nil.
func (c *Client) do(ctx context.Context, op, method, path string, query map[string]string, body, result any) error {
	req := c.httpClient.R().SetContext(ctx)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		log.Error().Err(err).Str("url", path).Msgf("Chatwoot API: %s request failed", op)
		return &APIError{Op: op, Method: method, Path: path, Err: err}
	}
	if resp.IsError() {
		log.Error().Str("url", path).Int("statusCode", resp.StatusCode()).Str("responseBody", string(resp.Body())).Msgf("Chatwoot API: %s returned an error", op)
		return &APIError{Op: op, Method: method, Path: path, StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	if result == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), result); err != nil {
		log.Error().Err(err).Str("url", path).Str("responseBody", string(resp.Body())).Msgf("Chatwoot API: %s returned a malformed body", op)
		return &APIError{Op: op, Method: method, Path: path, StatusCode: resp.StatusCode(), Body: resp.String(), Err: fmt.Errorf("malformed response body: %w", err)}
	}
	return nil
}

// TestConnection checks the token by fetching its profile.
func (c *Client) TestConnection(ctx context.Context) (*Profile, error) {
	var p Profile
	if err := c.do(ctx, "TestConnection", http.MethodGet, "/api/v1/profile", nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListContacts returns one page of contacts, pages start at 1.
func (c *Client) ListContacts(ctx context.Context, page int) (*ContactList, error) {
	var out ContactList
	q := map[string]string{"page": strconv.Itoa(page), "sort": "last_activity_at"}
	if err := c.do(ctx, "ListContacts", http.MethodGet, c.accountPath("/contacts"), q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchContacts runs Chatwoot's free-text contact search (name, email, phone, identifier).
func (c *Client) SearchContacts(ctx context.Context, query string) ([]Contact, error) {
	var out ContactList
	if err := c.do(ctx, "SearchContacts", http.MethodGet, c.accountPath("/contacts/search"), map[string]string{"q": query}, nil, &out); err != nil {
		return nil, err
	}
	return out.Payload, nil
}

// CreateContact creates a contact, defaulting the inbox to the configured one.
func (c *Client) CreateContact(ctx context.Context, payload ContactPayload) (*Contact, error) {
	if payload.InboxID == 0 {
		payload.InboxID = c.inboxID
	}
	var env createContactEnvelope
	if err := c.do(ctx, "CreateContact", http.MethodPost, c.accountPath("/contacts"), nil, payload, &env); err != nil {
		return nil, err
	}
	log.Info().Int("contactID", env.Payload.Contact.ID).Str("email", env.Payload.Contact.Email).Msg("Successfully created Chatwoot contact")
	return &env.Payload.Contact, nil
}

// UpdateContact updates a contact.
func (c *Client) UpdateContact(ctx context.Context, contactID int, payload ContactPayload) (*Contact, error) {
	var env contactEnvelope
	if err := c.do(ctx, "UpdateContact", http.MethodPut, c.accountPath("/contacts/%d", contactID), nil, payload, &env); err != nil {
		return nil, err
	}
	return &env.Payload, nil
}

// GetConversation fetches one conversation.
func (c *Client) GetConversation(ctx context.Context, conversationID int) (*Conversation, error) {
	var out Conversation
	if err := c.do(ctx, "GetConversation", http.MethodGet, c.accountPath("/conversations/%d", conversationID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetConversationMessages returns the messages of a conversation as Chatwoot orders them.
func (c *Client) GetConversationMessages(ctx context.Context, conversationID int) ([]Message, error) {
	var env messageListEnvelope
	if err := c.do(ctx, "GetConversationMessages", http.MethodGet, c.accountPath("/conversations/%d/messages", conversationID), nil, nil, &env); err != nil {
		return nil, err
	}
	return env.Payload, nil
}

// SendMessage posts a message into a conversation. An empty message type defaults to outgoing.
func (c *Client) SendMessage(ctx context.Context, conversationID int, payload MessagePayload) (*Message, error) {
	if payload.MessageType == "" {
		payload.MessageType = string(MessageOutgoing)
	}
	var out Message
	if err := c.do(ctx, "SendMessage", http.MethodPost, c.accountPath("/conversations/%d/messages", conversationID), nil, payload, &out); err != nil {
		return nil, err
	}
	log.Info().Int("messageID", out.ID).Int("conversationID", conversationID).Msg("Successfully sent Chatwoot message")
	return &out, nil
}

// ToggleStatus sets a conversation's status (open, pending, snoozed, resolved).
func (c *Client) ToggleStatus(ctx context.Context, conversationID int, status string) (*ToggleStatusResult, error) {
	var env toggleStatusEnvelope
	body := map[string]string{"status": status}
	if err := c.do(ctx, "ToggleStatus", http.MethodPost, c.accountPath("/conversations/%d/toggle_status", conversationID), nil, body, &env); err != nil {
		return nil, err
	}
	return &env.Payload, nil
}

// GetInbox fetches one inbox.
func (c *Client) GetInbox(ctx context.Context, inboxID int) (*Inbox, error) {
	var out Inbox
	if err := c.do(ctx, "GetInbox", http.MethodGet, c.accountPath("/inboxes/%d", inboxID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListWebhooks returns the account's webhook subscriptions.
func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	var env webhookListEnvelope
	if err := c.do(ctx, "ListWebhooks", http.MethodGet, c.accountPath("/webhooks"), nil, nil, &env); err != nil {
		return nil, err
	}
	return env.Payload.Webhooks, nil
}

// RegisterWebhook subscribes url to the given events, or to WebhookEvents when none are given.
func (c *Client) RegisterWebhook(ctx context.Context, url string, events ...string) (*Webhook, error) {
	if len(events) == 0 {
		events = WebhookEvents
	}
	body := map[string]any{"url": url, "subscriptions": events}
	var env webhookEnvelope
	if err := c.do(ctx, "RegisterWebhook", http.MethodPost, c.accountPath("/webhooks"), nil, body, &env); err != nil {
		return nil, err
	}
	log.Info().Int("webhookID", env.Payload.Webhook.ID).Str("url", url).Msg("Registered Chatwoot webhook")
	return &env.Payload.Webhook, nil
}

// DeleteWebhook removes a webhook subscription.
func (c *Client) DeleteWebhook(ctx context.Context, webhookID int) error {
	return c.do(ctx, "DeleteWebhook", http.MethodDelete, c.accountPath("/webhooks/%d", webhookID), nil, nil, nil)
}

// ConversationURL is the agent-facing link to a conversation.
func (c *Client) ConversationURL(conversationID string) string {
	return fmt.Sprintf("%s/app/accounts/%s/conversations/%s", c.baseURL, c.accountID, conversationID)
}
