package services

import (
	"context"
	"errors"

	"chatwoot-formbricks-sync/internal/adapters/chatwoot"
	"chatwoot-formbricks-sync/internal/events"
	"chatwoot-formbricks-sync/internal/models"
)

var (
	// ErrDisabled is returned when an operation needs a vendor that is not configured.
	ErrDisabled = errors.New("integration disabled")
	// ErrConversionFailed wraps every failed lead conversion. Nothing of the conversion is kept.
	ErrConversionFailed = errors.New("lead conversion failed")
	// ErrInvalidInput marks a user request that cannot be carried out as given.
	ErrInvalidInput = errors.New("invalid input")
)

// Action is what reconciliation did with an event.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionLinked    Action = "linked"
	ActionAppended  Action = "appended"
	ActionDuplicate Action = "duplicate"
	ActionIgnored   Action = "ignored"
	ActionConverted Action = "converted"
)

// Entity kinds reported in outcomes.
const (
	KindParty        = "party"
	KindConversation = "conversation"
	KindMessage      = "message"
	KindResponse     = "response"
	KindSurvey       = "survey"
)

// Outcome describes the effect of one reconciled event or user action.
type Outcome struct {
	Vendor     events.Vendor       `json:"vendor,omitempty"`
	Event      events.Type         `json:"event,omitempty"`
	ExternalID string              `json:"external_id,omitempty"`
	Kind       string              `json:"kind"`
	Action     Action              `json:"action"`
	Party      *models.ContactLink `json:"party,omitempty"`
	PartyNew   bool                `json:"party_created,omitempty"`
	Issue      string              `json:"issue,omitempty"`
	Reason     string              `json:"reason,omitempty"`
}

// Publisher forwards outcomes to downstream consumers. Publishing is best effort.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload any) error
}

// InboxLookup resolves Chatwoot inboxes.
type InboxLookup interface {
	GetInbox(ctx context.Context, inboxID int) (*chatwoot.Inbox, error)
}

// ChatwootAPI is the part of the Chatwoot client the services call.
type ChatwootAPI interface {
	InboxLookup
	SendMessage(ctx context.Context, conversationID int, payload chatwoot.MessagePayload) (*chatwoot.Message, error)
	ToggleStatus(ctx context.Context, conversationID int, status string) (*chatwoot.ToggleStatusResult, error)
	GetConversation(ctx context.Context, conversationID int) (*chatwoot.Conversation, error)
	GetConversationMessages(ctx context.Context, conversationID int) ([]chatwoot.Message, error)
	SearchContacts(ctx context.Context, query string) ([]chatwoot.Contact, error)
	CreateContact(ctx context.Context, payload chatwoot.ContactPayload) (*chatwoot.Contact, error)
	UpdateContact(ctx context.Context, contactID int, payload chatwoot.ContactPayload) (*chatwoot.Contact, error)
	ConversationURL(conversationID string) string
}

// directionOf maps a Chatwoot message type to the message direction.
func directionOf(messageType string) models.Direction {
	if messageType == "" || messageType == string(chatwoot.MessageIncoming) {
		return models.DirectionInbound
	}
	return models.DirectionOutbound
}
