package formbricks

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

// WebhookTriggers are the events requested when registering the sync webhook.
var WebhookTriggers = []string{"responseCreated", "responseUpdated", "responseFinished"}

// DefaultPageSize is the limit used by the pollers.
const DefaultPageSize = 100

// APIError is returned for every failed Formbricks call.
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
		return fmt.Sprintf("Formbricks API %s (%s %s) status %d: %v", e.Op, e.Method, e.Path, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("Formbricks API %s (%s %s) request failed: %v", e.Op, e.Method, e.Path, e.Err)
	}
	return fmt.Sprintf("Formbricks API %s (%s %s) error: status %d, body: %s", e.Op, e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error { return e.Err }

// Client talks to the Formbricks management API.
type Client struct {
	httpClient    *resty.Client
	environmentID string
}

// NewClient creates a new Formbricks client.
func NewClient(baseURL, apiKey, environmentID string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("Formbricks baseURL cannot be empty")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("Formbricks apiKey cannot be empty")
	}

	client := httputil.NewRestyClient(baseURL+"/api/v1", timeout).
		SetHeader("x-api-key", apiKey)

	log.Info().Str("baseURL", baseURL).Str("environmentID", environmentID).Msg("Formbricks client configured")
	return &Client{httpClient: client, environmentID: environmentID}, nil
}

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
		log.Error().Err(err).Str("url", path).Msgf("Formbricks API: %s request failed", op)
		return &APIError{Op: op, Method: method, Path: path, Err: err}
	}
	if resp.IsError() {
		log.Error().Str("url", path).Int("statusCode", resp.StatusCode()).Str("responseBody", string(resp.Body())).Msgf("Formbricks API: %s returned an error", op)
		return &APIError{Op: op, Method: method, Path: path, StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	if result == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), result); err != nil {
		log.Error().Err(err).Str("url", path).Str("responseBody", string(resp.Body())).Msgf("Formbricks API: %s returned a malformed body", op)
		return &APIError{Op: op, Method: method, Path: path, StatusCode: resp.StatusCode(), Body: resp.String(), Err: fmt.Errorf("malformed response body: %w", err)}
	}
	return nil
}

func page(limit, offset int) map[string]string {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	return map[string]string{"limit": strconv.Itoa(limit), "offset": strconv.Itoa(offset)}
}

// TestConnection fetches the first survey page as a credential check.
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.ListSurveys(ctx, 1, 0)
	return err
}

// ListSurveys returns one page of surveys.
func (c *Client) ListSurveys(ctx context.Context, limit, offset int) ([]Survey, error) {
	var env envelope[[]Survey]
	if err := c.do(ctx, "ListSurveys", http.MethodGet, "/management/surveys", page(limit, offset), nil, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// ListResponses returns one page of a survey's responses.
func (c *Client) ListResponses(ctx context.Context, surveyID string, limit, offset int) ([]Response, error) {
	var env envelope[[]Response]
	path := fmt.Sprintf("/management/surveys/%s/responses", surveyID)
	if err := c.do(ctx, "ListResponses", http.MethodGet, path, page(limit, offset), nil, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// ListContacts returns one page of contacts.
func (c *Client) ListContacts(ctx context.Context, limit, offset int) ([]Contact, error) {
	var env envelope[[]Contact]
	if err := c.do(ctx, "ListContacts", http.MethodGet, "/management/contacts", page(limit, offset), nil, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// ListWebhooks returns the registered webhooks.
func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	var env envelope[[]Webhook]
	if err := c.do(ctx, "ListWebhooks", http.MethodGet, "/webhooks", nil, nil, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// RegisterWebhook subscribes url to WebhookTriggers for the given surveys, or all surveys when none are given.
func (c *Client) RegisterWebhook(ctx context.Context, url string, surveyIDs []string) (*Webhook, error) {
	if surveyIDs == nil {
		surveyIDs = []string{}
	}
	payload := WebhookPayload{URL: url, Triggers: WebhookTriggers, SurveyIDs: surveyIDs}
	var env envelope[Webhook]
	if err := c.do(ctx, "RegisterWebhook", http.MethodPost, "/webhooks", nil, payload, &env); err != nil {
		return nil, err
	}
	log.Info().Str("webhookID", env.Data.ID).Str("url", url).Msg("Registered Formbricks webhook")
	return &env.Data, nil
}

// DeleteWebhook removes a webhook.
func (c *Client) DeleteWebhook(ctx context.Context, webhookID string) error {
	return c.do(ctx, "DeleteWebhook", http.MethodDelete, "/webhooks/"+webhookID, nil, nil, nil)
}
