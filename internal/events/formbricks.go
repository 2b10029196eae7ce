package events

import (
	"encoding/json"
	"fmt"
	"strings"

	"chatwoot-formbricks-sync/internal/adapters/formbricks"
)

// Answer keys searched, in order, for the respondent's contact details.
var (
	EmailKeys = []string{"email", "e-mail", "emailAddress", "email_address", "contact_email"}
	NameKeys  = []string{"name", "fullName", "full_name", "firstName", "first_name", "contact_name"}
	PhoneKeys = []string{"phone", "phoneNumber", "phone_number", "mobile", "telephone", "contact_phone"}
)

type fbResponse struct {
	formbricks.Response
	ResponseID string          `json:"responseId"`
	FinishedAt json.RawMessage `json:"finishedAt"`
}

type fbEnvelope struct {
	WebhookEvent string          `json:"webhookEvent"`
	Event        string          `json:"event"`
	Data         json.RawMessage `json:"data"`
}

// ParseFormbricks normalises a Formbricks webhook body. The response sits under "data".
func ParseFormbricks(body []byte) (*Event, error) {
	var env fbEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	name := env.WebhookEvent
	if name == "" {
		name = env.Event
	}
	if name == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrMalformedPayload)
	}
	t := Type(name)
	if t == ContactSynced || !IsSupported(VendorFormbricks, t) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, name)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, fmt.Errorf("%w: %s without data", ErrMalformedPayload, t)
	}

	var r fbResponse
	if err := json.Unmarshal(env.Data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if r.ID == "" {
		r.ID = r.ResponseID
	}
	if r.ID == "" {
		return nil, fmt.Errorf("%w: %s without response id", ErrMalformedPayload, t)
	}

	ev := FromFormbricksResponse(r.Response)
	ev.Type = t
	ev.Source = SourceWebhook
	if t == ResponseFinished {
		ev.Response.Finished = true
		ev.setField(FieldFinished, "true")
	}
	if ts, ok := ParseTimestamp(r.FinishedAt); ok && ev.Response.Finished {
		ev.Response.FinishedAt = &ts
	}
	ev.Response.Raw = env.Data
	return ev, nil
}

// FromFormbricksResponse builds the event of a response. Polled responses are typed by their finished flag.
func FromFormbricksResponse(r formbricks.Response) *Event {
	t := ResponseUpdated
	if r.Finished {
		t = ResponseFinished
	}
	ev := &Event{
		Vendor:     VendorFormbricks,
		Type:       t,
		ExternalID: r.ID,
		Source:     SourcePoll,
		Answers:    r.Data,
		Response: &Response{
			ExternalID: r.ID,
			SurveyID:   r.SurveyID,
			Finished:   r.Finished,
		},
	}
	if ev.Answers == nil {
		ev.Answers = map[string]any{}
	}
	ev.Response.CreatedAt, _ = ParseTimestamp(r.CreatedAt)
	if ts, ok := ParseTimestamp(r.UpdatedAt); ok {
		ev.Timestamp = ts
	} else {
		ev.Timestamp = ev.Response.CreatedAt
	}

	contact := &Contact{ExternalID: r.ExternalContactID()}
	contact.Email = firstString(r.Data, EmailKeys, true)
	contact.Name = firstString(r.Data, NameKeys, false)
	contact.Phone = firstString(r.Data, PhoneKeys, false)
	if contact.Email == "" {
		contact.Email = firstString(r.ContactAttributes, EmailKeys, true)
	}
	if contact.Name == "" {
		contact.Name = firstString(r.ContactAttributes, NameKeys, false)
	}
	if contact.ExternalID != "" || contact.Email != "" || contact.Name != "" || contact.Phone != "" {
		ev.Contact = contact
	}

	ev.fillContactFields()
	ev.setField(FieldSurveyID, r.SurveyID)
	if r.Finished {
		ev.setField(FieldFinished, "true")
	}
	return ev
}

// FromFormbricksContact builds the event a polled Formbricks contact feeds into reconciliation.
func FromFormbricksContact(c formbricks.Contact) *Event {
	attrs := make(map[string]any, len(c.Attributes))
	for k, v := range c.Attributes {
		attrs[k] = v
	}
	name := firstString(attrs, NameKeys, false)
	if first, last := c.Attributes["firstName"], c.Attributes["lastName"]; first != "" && last != "" {
		name = first + " " + last
	}

	ev := &Event{
		Vendor:     VendorFormbricks,
		Type:       ContactSynced,
		ExternalID: c.ID,
		Source:     SourcePoll,
		Contact: &Contact{
			ExternalID: c.ID,
			Name:       name,
			Email:      firstString(attrs, EmailKeys, true),
			Phone:      firstString(attrs, PhoneKeys, false),
		},
	}
	ev.Timestamp, _ = ParseTimestamp(c.UpdatedAt)
	ev.fillContactFields()
	return ev
}

// firstString returns the first non-empty string value among keys. Email values must contain "@".
func firstString(data map[string]any, keys []string, email bool) string {
	for _, k := range keys {
		s, ok := data[k].(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" || (email && !strings.Contains(s, "@")) {
			continue
		}
		return s
	}
	return ""
}
