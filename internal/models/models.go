package models

import (
	"time"

	"gorm.io/datatypes"
)

// PartyType names the CRM record kind a contact is linked to.
type PartyType string

const (
	PartyCustomer PartyType = "Customer"
	PartyLead     PartyType = "Lead"
)

// Chatwoot conversation statuses.
const (
	StatusOpen     = "open"
	StatusPending  = "pending"
	StatusSnoozed  = "snoozed"
	StatusResolved = "resolved"
)

// Lead statuses.
const (
	LeadStatusLead      = "Lead"
	LeadStatusConverted = "Converted"
)

// Direction tags a message as coming from the contact or from an agent/the CRM.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Comment sources, used to keep mirrored Chatwoot messages from being sent back.
const (
	CommentSourceChatwoot = "chatwoot"
	CommentSourceLocal    = "local"
)

// Customer is a CRM customer carrying the external-ID custom fields.
type Customer struct {
	Name                   string    `gorm:"primaryKey;size:64" json:"name"`
	CustomerName           string    `json:"customer_name"`
	CustomerType           string    `json:"customer_type"`
	CustomerGroup          string    `json:"customer_group"`
	Territory              string    `json:"territory"`
	EmailID                string    `gorm:"index" json:"email_id,omitempty"`
	MobileNo               string    `gorm:"index" json:"mobile_no,omitempty"`
	ChatwootContactID      *string   `gorm:"uniqueIndex" json:"chatwoot_contact_id,omitempty"`
	FormbricksContactID    *string   `gorm:"uniqueIndex" json:"formbricks_contact_id,omitempty"`
	ChatwootConversationID *string   `gorm:"index" json:"chatwoot_conversation_id,omitempty"`
	FormbricksResponseID   *string   `gorm:"index" json:"formbricks_response_id,omitempty"`
	ConvertedFromLead      string    `gorm:"index" json:"converted_from_lead,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Lead is a CRM lead carrying the external-ID custom fields.
type Lead struct {
	Name                   string    `gorm:"primaryKey;size:64" json:"name"`
	LeadName               string    `json:"lead_name"`
	Source                 string    `json:"source"`
	Status                 string    `gorm:"index" json:"status"`
	EmailID                string    `gorm:"index" json:"email_id,omitempty"`
	MobileNo               string    `gorm:"index" json:"mobile_no,omitempty"`
	LeadScore              int       `json:"lead_score"`
	ChatwootContactID      *string   `gorm:"uniqueIndex" json:"chatwoot_contact_id,omitempty"`
	ChatwootConversationID *string   `gorm:"index" json:"chatwoot_conversation_id,omitempty"`
	FormbricksContactID    *string   `gorm:"uniqueIndex" json:"formbricks_contact_id,omitempty"`
	FormbricksResponseID   *string   `gorm:"index" json:"formbricks_response_id,omitempty"`
	ConvertedTo            string    `json:"converted_to,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Issue is a support ticket opened for a Chatwoot conversation.
type Issue struct {
	Name                   string    `gorm:"primaryKey;size:64" json:"name"`
	Subject                string    `json:"subject"`
	RaisedBy               string    `json:"raised_by,omitempty"`
	IssueType              string    `json:"issue_type,omitempty"`
	Description            string    `gorm:"type:text" json:"description"`
	Status                 string    `json:"status"`
	Customer               *string   `gorm:"index" json:"customer,omitempty"`
	Lead                   *string   `gorm:"index" json:"lead,omitempty"`
	ChatwootConversationID *string   `gorm:"uniqueIndex" json:"chatwoot_conversation_id,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// IssueComment is a comment on an Issue, either mirrored from Chatwoot or written locally.
type IssueComment struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	IssueName         string    `gorm:"index;size:64" json:"issue"`
	Content           string    `gorm:"type:text" json:"content"`
	Author            string    `json:"author"`
	Source            string    `json:"source"`
	ChatwootMessageID string    `gorm:"index" json:"chatwoot_message_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Conversation mirrors a Chatwoot conversation. Customer and Lead are mutually exclusive.
type Conversation struct {
	ID                uint      `gorm:"primaryKey" json:"-"`
	ConversationID    string    `gorm:"uniqueIndex;not null;size:64" json:"conversation_id"`
	Status            string    `gorm:"index" json:"status"`
	InboxID           string    `json:"inbox_id,omitempty"`
	InboxName         string    `json:"inbox_name,omitempty"`
	ContactName       string    `json:"contact_name,omitempty"`
	ContactEmail      string    `json:"contact_email,omitempty"`
	ChatwootContactID string    `gorm:"index" json:"chatwoot_contact_id,omitempty"`
	Customer          *string   `gorm:"index" json:"customer,omitempty"`
	Lead              *string   `gorm:"index" json:"lead,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime:false;index" json:"updated_at"`
}

// ConversationMessage is an append-only message of a conversation, keyed by the Chatwoot
// conversation ID so it outlives retention cleanup of the conversation record.
type ConversationMessage struct {
	ID             uint      `gorm:"primaryKey" json:"-"`
	ConversationID string    `gorm:"uniqueIndex:idx_conversation_message;not null;size:64" json:"conversation_id"`
	MessageID      string    `gorm:"uniqueIndex:idx_conversation_message;not null;size:64" json:"message_id"`
	Content        string    `gorm:"type:text" json:"content"`
	MessageType    string    `json:"message_type"`
	Direction      Direction `json:"direction"`
	SenderType     string    `json:"sender_type,omitempty"`
	SenderID       string    `json:"sender_id,omitempty"`
	SenderName     string    `json:"sender_name,omitempty"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

// Survey is a Formbricks survey definition.
type Survey struct {
	ID         uint           `gorm:"primaryKey" json:"-"`
	SurveyID   string         `gorm:"uniqueIndex;not null;size:64" json:"survey_id"`
	Name       string         `json:"name"`
	Status     string         `json:"status"`
	SurveyType string         `json:"type"`
	Questions  datatypes.JSON `json:"questions"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// SurveyResponse mirrors a Formbricks response. Customer and Lead are mutually exclusive.
type SurveyResponse struct {
	ID                  uint           `gorm:"primaryKey" json:"-"`
	ResponseID          string         `gorm:"uniqueIndex;not null;size:64" json:"response_id"`
	SurveyID            string         `gorm:"index" json:"survey_id,omitempty"`
	Data                datatypes.JSON `json:"data"`
	ContactEmail        string         `gorm:"index" json:"contact_email,omitempty"`
	ContactName         string         `json:"contact_name,omitempty"`
	ContactPhone        string         `json:"contact_phone,omitempty"`
	FormbricksContactID string         `gorm:"index" json:"formbricks_contact_id,omitempty"`
	Finished            bool           `json:"finished"`
	FinishedAt          *time.Time     `json:"finished_at,omitempty"`
	Customer            *string        `gorm:"index" json:"customer,omitempty"`
	Lead                *string        `gorm:"index" json:"lead,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// SyncState records the last run of a polling job.
type SyncState struct {
	Key       string    `gorm:"primaryKey;size:64" json:"key"`
	LastSync  time.Time `json:"last_sync"`
	LastCount int       `json:"last_count"`
	LastError string    `gorm:"type:text" json:"last_error,omitempty"`
}

// ContactLink is the view of one CRM party and the external contact IDs stamped on it.
type ContactLink struct {
	PartyType           PartyType `json:"party_type"`
	PartyName           string    `json:"party_name"`
	ChatwootContactID   string    `json:"chatwoot_contact_id,omitempty"`
	FormbricksContactID string    `json:"formbricks_contact_id,omitempty"`
}

// All lists every model for migrations.
func All() []any {
	return []any{
		&Customer{}, &Lead{}, &Issue{}, &IssueComment{},
		&Conversation{}, &ConversationMessage{},
		&Survey{}, &SurveyResponse{}, &SyncState{},
	}
}

// NullString returns nil for an empty string so unset external IDs never collide on unique indexes.
func NullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// LinkOfCustomer builds the ContactLink view of a customer.
func LinkOfCustomer(c *Customer) *ContactLink {
	return &ContactLink{
		PartyType:           PartyCustomer,
		PartyName:           c.Name,
		ChatwootContactID:   Deref(c.ChatwootContactID),
		FormbricksContactID: Deref(c.FormbricksContactID),
	}
}

// LinkOfLead builds the ContactLink view of a lead.
func LinkOfLead(l *Lead) *ContactLink {
	return &ContactLink{
		PartyType:           PartyLead,
		PartyName:           l.Name,
		ChatwootContactID:   Deref(l.ChatwootContactID),
		FormbricksContactID: Deref(l.FormbricksContactID),
	}
}
