package chatwoot

import (
	"encoding/json"
	"strconv"
)

// Contact represents a contact in Chatwoot.
type Contact struct {
	ID                   int            `json:"id"`
	Name                 string         `json:"name"`
	Email                string         `json:"email"`
	PhoneNumber          string         `json:"phone_number"`
	Identifier           string         `json:"identifier,omitempty"`
	Thumbnail            string         `json:"thumbnail,omitempty"`
	AdditionalAttributes map[string]any `json:"additional_attributes,omitempty"`
	CustomAttributes     map[string]any `json:"custom_attributes,omitempty"`
	LastActivityAt       int64          `json:"last_activity_at,omitempty"`
	CreatedAt            int64          `json:"created_at,omitempty"`
}

// ContactPayload is used to create or update a contact.
type ContactPayload struct {
	InboxID          int            `json:"inbox_id,omitempty"`
	Name             string         `json:"name,omitempty"`
	Email            string         `json:"email,omitempty"`
	PhoneNumber      string         `json:"phone_number,omitempty"`
	Identifier       string         `json:"identifier,omitempty"`
	CustomAttributes map[string]any `json:"custom_attributes,omitempty"`
}

// PageMeta is the paging block of list endpoints. Chatwoot sends current_page as a number or a string.
type PageMeta struct {
	Count       int         `json:"count"`
	CurrentPage json.Number `json:"current_page,omitempty"`
	TotalPages  int         `json:"total_pages,omitempty"`
}

// ContactList is a page of contacts.
type ContactList struct {
	Meta    PageMeta  `json:"meta"`
	Payload []Contact `json:"payload"`
}

type contactEnvelope struct {
	Payload Contact `json:"payload"`
}

type createContactEnvelope struct {
	Payload struct {
		Contact Contact `json:"contact"`
	} `json:"payload"`
}

// ConversationMeta carries the sender and assignee of a conversation.
type ConversationMeta struct {
	Sender   *Contact `json:"sender,omitempty"`
	Assignee *Agent   `json:"assignee,omitempty"`
	Channel  string   `json:"channel,omitempty"`
}

// Agent is a Chatwoot user.
type Agent struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Conversation represents a conversation in Chatwoot.
type Conversation struct {
	ID                   int              `json:"id"`
	AccountID            int              `json:"account_id"`
	InboxID              int              `json:"inbox_id"`
	Status               string           `json:"status"`
	Meta                 ConversationMeta `json:"meta"`
	Messages             []Message        `json:"messages,omitempty"`
	AdditionalAttributes map[string]any   `json:"additional_attributes,omitempty"`
	Timestamp            int64            `json:"timestamp,omitempty"`
	CreatedAt            int64            `json:"created_at,omitempty"`
}

// MessageType is "incoming", "outgoing", "activity" or "template". The REST API encodes it as 0-3,
// webhooks as the name; both decode to the name.
type MessageType string

// Message types.
const (
	MessageIncoming MessageType = "incoming"
	MessageOutgoing MessageType = "outgoing"
	MessageActivity MessageType = "activity"
	MessageTemplate MessageType = "template"
)

var messageTypeCodes = []MessageType{MessageIncoming, MessageOutgoing, MessageActivity, MessageTemplate}

// UnmarshalJSON accepts both the numeric and the named form.
func (t *MessageType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = MessageType(s)
		return nil
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return err
	}
	if n >= 0 && n < len(messageTypeCodes) {
		*t = messageTypeCodes[n]
	} else {
		*t = MessageType(strconv.Itoa(n))
	}
	return nil
}

// Sender is the author of a message, a contact or an agent.
type Sender struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Type  string `json:"type,omitempty"`
}

// Message represents a message object in Chatwoot.
type Message struct {
	ID             int         `json:"id"`
	Content        string      `json:"content"`
	ConversationID int         `json:"conversation_id"`
	MessageType    MessageType `json:"message_type"`
	ContentType    string      `json:"content_type,omitempty"`
	Private        bool        `json:"private"`
	CreatedAt      int64       `json:"created_at"`
	Sender         *Sender     `json:"sender,omitempty"`
}

// MessagePayload is used to send a message into a conversation.
type MessagePayload struct {
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	Private     bool   `json:"private"`
}

type messageListEnvelope struct {
	Payload []Message `json:"payload"`
}

// ToggleStatusResult is the outcome of a status change.
type ToggleStatusResult struct {
	Success        bool   `json:"success"`
	CurrentStatus  string `json:"current_status"`
	ConversationID int    `json:"conversation_id"`
}

type toggleStatusEnvelope struct {
	Payload ToggleStatusResult `json:"payload"`
}

// Inbox is a Chatwoot inbox.
type Inbox struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	ChannelType string `json:"channel_type,omitempty"`
}

// Webhook is an account webhook subscription.
type Webhook struct {
	ID            int      `json:"id"`
	URL           string   `json:"url"`
	Subscriptions []string `json:"subscriptions"`
}

type webhookListEnvelope struct {
	Payload struct {
		Webhooks []Webhook `json:"webhooks"`
	} `json:"payload"`
}

type webhookEnvelope struct {
	Payload struct {
		Webhook Webhook `json:"webhook"`
	} `json:"payload"`
}

// Profile is the user owning the access token.
type Profile struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}
