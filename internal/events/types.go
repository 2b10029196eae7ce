package events

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrMalformedPayload marks a body that is not valid JSON or lacks the fields its event type needs.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrUnknownEvent marks a well-formed body whose event type is not handled.
	ErrUnknownEvent = errors.New("unknown event type")
)

// Vendor names the external system an event came from.
type Vendor string

const (
	VendorChatwoot   Vendor = "chatwoot"
	VendorFormbricks Vendor = "formbricks"
)

// Type is the vendor-defined event name.
type Type string

// Chatwoot event types.
const (
	ConversationCreated       Type = "conversation_created"
	ConversationUpdated       Type = "conversation_updated"
	ConversationStatusChanged Type = "conversation_status_changed"
	MessageCreated            Type = "message_created"
	ContactCreated            Type = "contact_created"
	ContactUpdated            Type = "contact_updated"
)

// Formbricks event types.
const (
	ResponseCreated  Type = "responseCreated"
	ResponseUpdated  Type = "responseUpdated"
	ResponseFinished Type = "responseFinished"
)

// ContactSynced is produced by the pollers for contacts of either vendor.
const ContactSynced Type = "contact_synced"

// Event sources.
const (
	SourceWebhook = "webhook"
	SourcePoll    = "poll"
)

// List of supported event types per vendor
var supportedEventTypes = map[Vendor][]Type{
	VendorChatwoot: {
		ConversationCreated,
		ConversationUpdated,
		ConversationStatusChanged,
		MessageCreated,
		ContactCreated,
		ContactUpdated,
		ContactSynced,
	},
	VendorFormbricks: {
		ResponseCreated,
		ResponseUpdated,
		ResponseFinished,
		ContactSynced,
	},
}

// Map for quick validation
var eventTypeMap map[Vendor]map[Type]bool

func init() {
	eventTypeMap = make(map[Vendor]map[Type]bool)
	for vendor, types := range supportedEventTypes {
		eventTypeMap[vendor] = make(map[Type]bool, len(types))
		for _, t := range types {
			eventTypeMap[vendor][t] = true
		}
	}
}

// IsSupported reports whether the vendor's event type is handled.
func IsSupported(vendor Vendor, t Type) bool {
	return eventTypeMap[vendor][t]
}

// Normalised field keys of Event.Fields.
const (
	FieldName           = "name"
	FieldEmail          = "email"
	FieldPhone          = "phone"
	FieldStatus         = "status"
	FieldInboxID        = "inbox_id"
	FieldInboxName      = "inbox_name"
	FieldContactID      = "contact_id"
	FieldConversationID = "conversation_id"
	FieldSurveyID       = "survey_id"
	FieldFinished       = "finished"
)

// Contact is the contact data carried by an event.
type Contact struct {
	ExternalID string
	Name       string
	Email      string
	Phone      string
}

// Conversation is the conversation data carried by an event.
type Conversation struct {
	ExternalID string
	Status     string
	InboxID    string
	InboxName  string
	CreatedAt  time.Time
}

// Message is one conversation message carried by a message_created event.
type Message struct {
	ExternalID     string
	ConversationID string
	Content        string
	MessageType    string
	Private        bool
	SenderType     string
	SenderID       string
	SenderName     string
	CreatedAt      time.Time
}

// Response is the survey response carried by a Formbricks event.
type Response struct {
	ExternalID string
	SurveyID   string
	Finished   bool
	FinishedAt *time.Time
	CreatedAt  time.Time
	Raw        json.RawMessage
}

// Event is the normalised form of a webhook delivery or a polled item. ExternalID is the ID of the
// entity the type is about: a conversation, a message, a contact or a response.
type Event struct {
	Vendor     Vendor
	Type       Type
	ExternalID string
	Timestamp  time.Time
	Fields     map[string]string
	Source     string

	Contact      *Contact
	Conversation *Conversation
	Message      *Message
	Response     *Response
	Answers      map[string]any
}

func (e *Event) setField(key, value string) {
	if value == "" {
		return
	}
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	e.Fields[key] = value
}

func (e *Event) fillContactFields() {
	if e.Contact == nil {
		return
	}
	e.setField(FieldContactID, e.Contact.ExternalID)
	e.setField(FieldName, e.Contact.Name)
	e.setField(FieldEmail, e.Contact.Email)
	e.setField(FieldPhone, e.Contact.Phone)
}

// flexString decodes a JSON string, number or null into a string. Vendors send IDs as either.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// ParseTimestamp accepts unix seconds as a number or numeric string, RFC3339 and a few ISO layouts.
// A zero time and false are returned for empty or unparseable input.
func ParseTimestamp(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case nil:
		return time.Time{}, false
	case float64:
		if v <= 0 {
			return time.Time{}, false
		}
		sec := int64(v)
		return time.Unix(sec, int64((v-float64(sec))*1e9)).UTC(), true
	case int64:
		if v <= 0 {
			return time.Time{}, false
		}
		return time.Unix(v, 0).UTC(), true
	case int:
		return ParseTimestamp(int64(v))
	case json.Number:
		return ParseTimestamp(string(v))
	case json.RawMessage:
		return parseRawTimestamp(v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return ParseTimestamp(f)
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func parseRawTimestamp(b json.RawMessage) (time.Time, bool) {
	if len(b) == 0 {
		return time.Time{}, false
	}
	var v any
	d := json.NewDecoder(strings.NewReader(string(b)))
	d.UseNumber()
	if err := d.Decode(&v); err != nil {
		return time.Time{}, false
	}
	return ParseTimestamp(v)
}
