package formbricks

import (
	"encoding/json"
	"fmt"
)

// Survey is a Formbricks survey definition.
type Survey struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Status        string          `json:"status"`
	Type          string          `json:"type"`
	EnvironmentID string          `json:"environmentId,omitempty"`
	Questions     json.RawMessage `json:"questions,omitempty"`
	CreatedAt     string          `json:"createdAt,omitempty"`
	UpdatedAt     string          `json:"updatedAt,omitempty"`
}

// ResponseContact is the contact reference embedded in a response.
type ResponseContact struct {
	ID     string `json:"id"`
	UserID string `json:"userId,omitempty"`
}

// Response is a survey response. Data holds the answers keyed by question ID or field key.
type Response struct {
	ID                string           `json:"id"`
	SurveyID          string           `json:"surveyId"`
	Finished          bool             `json:"finished"`
	Data              map[string]any   `json:"data"`
	Contact           *ResponseContact `json:"contact,omitempty"`
	ContactID         string           `json:"contactId,omitempty"`
	ContactAttributes map[string]any   `json:"contactAttributes,omitempty"`
	Meta              map[string]any   `json:"meta,omitempty"`
	CreatedAt         string           `json:"createdAt,omitempty"`
	UpdatedAt         string           `json:"updatedAt,omitempty"`
}

// ExternalContactID returns the Formbricks contact the response belongs to, if any.
func (r *Response) ExternalContactID() string {
	if r.Contact != nil && r.Contact.ID != "" {
		return r.Contact.ID
	}
	return r.ContactID
}

// Attributes are a contact's key/value attributes. The management API sends them either as an
// object or as a list of {attributeKey:{key}, value} items; both decode to a flat map.
type Attributes map[string]string

// UnmarshalJSON accepts both attribute encodings.
func (a *Attributes) UnmarshalJSON(b []byte) error {
	out := Attributes{}

	var obj map[string]any
	if err := json.Unmarshal(b, &obj); err == nil {
		for k, v := range obj {
			if v != nil {
				out[k] = fmt.Sprint(v)
			}
		}
		*a = out
		return nil
	}

	var items []struct {
		Key          string `json:"key"`
		AttributeKey struct {
			Key string `json:"key"`
		} `json:"attributeKey"`
		Value any `json:"value"`
	}
	if err := json.Unmarshal(b, &items); err != nil {
		return fmt.Errorf("contact attributes: %w", err)
	}
	for _, it := range items {
		key := it.AttributeKey.Key
		if key == "" {
			key = it.Key
		}
		if key != "" && it.Value != nil {
			out[key] = fmt.Sprint(it.Value)
		}
	}
	*a = out
	return nil
}

// Contact is a Formbricks contact (person).
type Contact struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId,omitempty"`
	EnvironmentID string     `json:"environmentId,omitempty"`
	Attributes    Attributes `json:"attributes,omitempty"`
	CreatedAt     string     `json:"createdAt,omitempty"`
	UpdatedAt     string     `json:"updatedAt,omitempty"`
}

// Webhook is a Formbricks webhook subscription.
type Webhook struct {
	ID        string   `json:"id"`
	URL       string   `json:"url"`
	Triggers  []string `json:"triggers"`
	SurveyIDs []string `json:"surveyIds"`
}

// WebhookPayload registers a webhook. An empty SurveyIDs list covers all surveys.
type WebhookPayload struct {
	URL       string   `json:"url"`
	Triggers  []string `json:"triggers"`
	SurveyIDs []string `json:"surveyIds"`
	Source    string   `json:"source,omitempty"`
}

type envelope[T any] struct {
	Data T `json:"data"`
}
