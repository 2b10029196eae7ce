package events

import (
	"encoding/json"
	"fmt"
	"strings"

	"chatwoot-formbricks-sync/internal/adapters/chatwoot"
)

type cwContact struct {
	ID          flexString `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	PhoneNumber string     `json:"phone_number"`
	Type        string     `json:"type"`
}

func (c *cwContact) toContact() *Contact {
	if c == nil {
		return nil
	}
	return &Contact{
		ExternalID: string(c.ID),
		Name:       strings.TrimSpace(c.Name),
		Email:      strings.TrimSpace(c.Email),
		Phone:      strings.TrimSpace(c.PhoneNumber),
	}
}

type cwMeta struct {
	Sender  *cwContact      `json:"sender"`
	Channel json.RawMessage `json:"channel"`
	Inbox   json.RawMessage `json:"inbox"`
}

type cwConversation struct {
	ID        flexString      `json:"id"`
	Status    string          `json:"status"`
	InboxID   flexString      `json:"inbox_id"`
	Meta      cwMeta          `json:"meta"`
	CreatedAt json.RawMessage `json:"created_at"`
	UpdatedAt json.RawMessage `json:"updated_at"`
	Timestamp json.RawMessage `json:"timestamp"`
}

type cwEnvelope struct {
	Event        string               `json:"event"`
	ID           flexString           `json:"id"`
	Content      string               `json:"content"`
	MessageType  chatwoot.MessageType `json:"message_type"`
	Private      bool                 `json:"private"`
	CreatedAt    json.RawMessage      `json:"created_at"`
	Meta         cwMeta               `json:"meta"`
	Sender       *cwContact           `json:"sender"`
	Conversation *cwConversation      `json:"conversation"`
	Contact      *cwContact           `json:"contact"`
	Inbox        json.RawMessage      `json:"inbox"`
	Message      *struct {
		Content string `json:"content"`
	} `json:"message"`
}

// nameOf reads an inbox or channel reference that is either a plain string or an object with a name.
func nameOf(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Name
	}
	return ""
}

// ParseChatwoot normalises a Chatwoot webhook body. Conversation and contact events may carry
// their data at the root or under "conversation" / "contact".
func ParseChatwoot(body []byte) (*Event, error) {
	var env cwEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrMalformedPayload)
	}
	t := Type(env.Event)
	if t == ContactSynced || !IsSupported(VendorChatwoot, t) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, env.Event)
	}

	ev := &Event{Vendor: VendorChatwoot, Type: t, Source: SourceWebhook}

	switch t {
	case ConversationCreated, ConversationUpdated, ConversationStatusChanged:
		conv := env.Conversation
		if conv == nil || conv.ID == "" {
			var root cwConversation
			if err := json.Unmarshal(body, &root); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
			}
			conv = &root
		}
		if conv.ID == "" {
			return nil, fmt.Errorf("%w: %s without conversation id", ErrMalformedPayload, t)
		}
		if t == ConversationStatusChanged && conv.Status == "" {
			return nil, fmt.Errorf("%w: %s without status", ErrMalformedPayload, t)
		}

		ev.ExternalID = string(conv.ID)
		ev.Conversation = &Conversation{
			ExternalID: string(conv.ID),
			Status:     conv.Status,
			InboxID:    string(conv.InboxID),
			InboxName:  nameOf(conv.Meta.Inbox),
		}
		if ev.Conversation.InboxName == "" {
			ev.Conversation.InboxName = nameOf(env.Inbox)
		}
		if ev.Conversation.InboxName == "" {
			ev.Conversation.InboxName = nameOf(conv.Meta.Channel)
		}
		ev.Conversation.CreatedAt, _ = ParseTimestamp(conv.CreatedAt)
		if ts, ok := ParseTimestamp(conv.UpdatedAt); ok {
			ev.Timestamp = ts
		} else if ts, ok := ParseTimestamp(conv.Timestamp); ok && t != ConversationStatusChanged {
			ev.Timestamp = ts
		}

		sender := env.Sender
		if sender == nil || sender.ID == "" {
			sender = env.Meta.Sender
		}
		if sender == nil || sender.ID == "" {
			sender = conv.Meta.Sender
		}
		ev.Contact = sender.toContact()
		ev.fillContactFields()
		ev.setField(FieldStatus, conv.Status)
		ev.setField(FieldInboxID, ev.Conversation.InboxID)
		ev.setField(FieldInboxName, ev.Conversation.InboxName)

	case MessageCreated:
		if env.ID == "" {
			return nil, fmt.Errorf("%w: message_created without message id", ErrMalformedPayload)
		}
		if env.Conversation == nil || env.Conversation.ID == "" {
			return nil, fmt.Errorf("%w: message_created without conversation id", ErrMalformedPayload)
		}
		content := env.Content
		if content == "" && env.Message != nil {
			content = env.Message.Content
		}
		msgType := string(env.MessageType)
		if msgType == "" {
			msgType = string(chatwoot.MessageIncoming)
		}
		msg := &Message{
			ExternalID:     string(env.ID),
			ConversationID: string(env.Conversation.ID),
			Content:        content,
			MessageType:    msgType,
			Private:        env.Private,
			SenderType:     "contact",
		}
		if env.Sender != nil {
			msg.SenderID = string(env.Sender.ID)
			msg.SenderName = env.Sender.Name
			if env.Sender.Type != "" {
				msg.SenderType = env.Sender.Type
			}
		}
		msg.CreatedAt, _ = ParseTimestamp(env.CreatedAt)

		ev.ExternalID = msg.ExternalID
		ev.Timestamp = msg.CreatedAt
		ev.Message = msg
		ev.Conversation = &Conversation{
			ExternalID: msg.ConversationID,
			Status:     env.Conversation.Status,
			InboxID:    string(env.Conversation.InboxID),
			InboxName:  nameOf(env.Inbox),
		}
		// only a contact-authored message identifies the conversation's contact
		if env.Sender != nil && (env.Sender.Type == "" || env.Sender.Type == "contact") {
			ev.Contact = env.Sender.toContact()
		}
		ev.setField(FieldConversationID, msg.ConversationID)
		ev.setField(FieldInboxName, ev.Conversation.InboxName)

	case ContactCreated, ContactUpdated:
		contact := env.Contact
		if contact == nil || contact.ID == "" {
			var root cwContact
			if err := json.Unmarshal(body, &root); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
			}
			contact = &root
		}
		if contact.ID == "" {
			return nil, fmt.Errorf("%w: %s without contact id", ErrMalformedPayload, t)
		}
		ev.ExternalID = string(contact.ID)
		ev.Contact = contact.toContact()
		ev.fillContactFields()
	}

	return ev, nil
}

// FromChatwootContact builds the event a polled Chatwoot contact feeds into reconciliation.
func FromChatwootContact(c chatwoot.Contact) *Event {
	ev := &Event{
		Vendor:     VendorChatwoot,
		Type:       ContactSynced,
		ExternalID: fmt.Sprint(c.ID),
		Source:     SourcePoll,
		Contact: &Contact{
			ExternalID: fmt.Sprint(c.ID),
			Name:       strings.TrimSpace(c.Name),
			Email:      strings.TrimSpace(c.Email),
			Phone:      strings.TrimSpace(c.PhoneNumber),
		},
	}
	if c.LastActivityAt > 0 {
		ev.Timestamp, _ = ParseTimestamp(c.LastActivityAt)
	}
	ev.fillContactFields()
	return ev
}
