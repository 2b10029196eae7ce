package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"chatwoot-formbricks-sync/internal/adapters/chatwoot"
	"chatwoot-formbricks-sync/internal/models"
	"chatwoot-formbricks-sync/internal/store"

	"github.com/rs/zerolog/log"
)

var conversationStatuses = map[string]bool{
	models.StatusOpen:     true,
	models.StatusPending:  true,
	models.StatusSnoozed:  true,
	models.StatusResolved: true,
}

// OutboundService carries user actions from the CRM side to Chatwoot. Every failure is returned to
// the caller; writes already committed on either side are kept.
type OutboundService struct {
	store    *store.Store
	chatwoot ChatwootAPI
}

// NewOutboundService creates a new OutboundService. cw may be nil when Chatwoot is disabled.
func NewOutboundService(st *store.Store, cw ChatwootAPI) *OutboundService {
	return &OutboundService{store: st, chatwoot: cw}
}

// ConversationURL returns the Chatwoot deep link of a conversation, or "" when Chatwoot is disabled.
func (s *OutboundService) ConversationURL(conversationID string) string {
	if s.chatwoot == nil {
		return ""
	}
	return s.chatwoot.ConversationURL(conversationID)
}

func (s *OutboundService) conversationNumber(conversationID string) (int, error) {
	if s.chatwoot == nil {
		return 0, fmt.Errorf("chatwoot: %w", ErrDisabled)
	}
	id, err := strconv.Atoi(conversationID)
	if err != nil {
		return 0, fmt.Errorf("%w: conversation id %q is not numeric", ErrInvalidInput, conversationID)
	}
	return id, nil
}

// SendReply posts an agent reply to the conversation and logs it as an outbound message.
func (s *OutboundService) SendReply(ctx context.Context, conversationID, content string, private bool) (*models.ConversationMessage, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: reply content is empty", ErrInvalidInput)
	}
	id, err := s.conversationNumber(conversationID)
	if err != nil {
		return nil, err
	}

	sent, err := s.chatwoot.SendMessage(ctx, id, chatwoot.MessagePayload{
		Content:     content,
		MessageType: string(chatwoot.MessageOutgoing),
		Private:     private,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send reply to conversation %s: %w", conversationID, err)
	}

	msg := messageRecord(conversationID, *sent)
	if msg.Content == "" {
		msg.Content = content
	}
	msg.MessageType = string(chatwoot.MessageOutgoing)
	msg.Direction = models.DirectionOutbound
	if _, err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}
	log.Info().Str("conversationID", conversationID).Int("messageID", sent.ID).Msg("Reply sent to Chatwoot")
	return msg, nil
}

// UpdateStatus sets the conversation status in Chatwoot and mirrors it locally.
func (s *OutboundService) UpdateStatus(ctx context.Context, conversationID, status string) (string, error) {
	if !conversationStatuses[status] {
		return "", fmt.Errorf("%w: unknown conversation status %q", ErrInvalidInput, status)
	}
	id, err := s.conversationNumber(conversationID)
	if err != nil {
		return "", err
	}
	res, err := s.chatwoot.ToggleStatus(ctx, id, status)
	if err != nil {
		return "", fmt.Errorf("failed to set status of conversation %s: %w", conversationID, err)
	}
	current := status
	if res != nil && res.CurrentStatus != "" {
		current = res.CurrentStatus
	}
	if _, err := s.store.SetConversationStatus(ctx, conversationID, current, time.Now()); err != nil {
		return "", err
	}
	log.Info().Str("conversationID", conversationID).Str("status", current).Msg("Conversation status changed from CRM")
	return current, nil
}

// RefreshMessages fetches the conversation's messages from Chatwoot and appends the ones not yet stored.
// The stored status follows Chatwoot's. It returns the number of new messages.
func (s *OutboundService) RefreshMessages(ctx context.Context, conversationID string) (int, error) {
	id, err := s.conversationNumber(conversationID)
	if err != nil {
		return 0, err
	}
	conv, err := s.chatwoot.GetConversation(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch conversation %s: %w", conversationID, err)
	}
	if conversationStatuses[conv.Status] {
		if _, err := s.store.SetConversationStatus(ctx, conversationID, conv.Status, time.Now()); err != nil {
			return 0, err
		}
	}
	msgs, err := s.chatwoot.GetConversationMessages(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch messages of conversation %s: %w", conversationID, err)
	}
	added := 0
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" || m.MessageType == chatwoot.MessageActivity {
			continue
		}
		ok, err := s.store.AppendMessage(ctx, messageRecord(conversationID, m))
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}
	log.Info().Str("conversationID", conversationID).Int("fetched", len(msgs)).Int("added", added).Msg("Conversation messages refreshed")
	return added, nil
}

// AddIssueComment stores a local comment and forwards it to the issue's Chatwoot conversation, which
// is then re-opened.
func (s *OutboundService) AddIssueComment(ctx context.Context, issueName, content, author string) (*models.IssueComment, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: comment content is empty", ErrInvalidInput)
	}
	issue, err := s.store.GetIssue(ctx, issueName)
	if err != nil {
		return nil, err
	}
	comment := &models.IssueComment{
		IssueName: issue.Name,
		Content:   content,
		Author:    author,
		Source:    models.CommentSourceLocal,
	}
	if err := s.store.AddIssueComment(ctx, comment); err != nil {
		return nil, err
	}

	conversationID := models.Deref(issue.ChatwootConversationID)
	if conversationID == "" || s.chatwoot == nil {
		return comment, nil
	}
	if _, err := s.SendReply(ctx, conversationID, content, false); err != nil {
		return comment, err
	}
	if _, err := s.UpdateStatus(ctx, conversationID, models.StatusOpen); err != nil {
		return comment, err
	}
	return comment, nil
}

// PushParty links a party to a Chatwoot contact: an existing contact with the same email or phone is
// reused, otherwise one is created. An already linked party updates its contact instead.
func (s *OutboundService) PushParty(ctx context.Context, partyType models.PartyType, name string) (*models.ContactLink, error) {
	if s.chatwoot == nil {
		return nil, fmt.Errorf("chatwoot: %w", ErrDisabled)
	}

	var link *models.ContactLink
	var displayName, email, phone string
	switch partyType {
	case models.PartyLead:
		lead, err := s.store.GetLead(ctx, name)
		if err != nil {
			return nil, err
		}
		link, displayName, email, phone = models.LinkOfLead(lead), lead.LeadName, lead.EmailID, lead.MobileNo
	case models.PartyCustomer:
		customer, err := s.store.GetCustomer(ctx, name)
		if err != nil {
			return nil, err
		}
		link, displayName, email, phone = models.LinkOfCustomer(customer), customer.CustomerName, customer.EmailID, customer.MobileNo
	default:
		return nil, fmt.Errorf("%w: unknown party type %q", ErrInvalidInput, partyType)
	}
	payload := chatwoot.ContactPayload{Name: displayName, Email: email, PhoneNumber: phone}
	if link.ChatwootContactID != "" {
		contactID, err := strconv.Atoi(link.ChatwootContactID)
		if err != nil {
			return link, nil
		}
		if _, err := s.chatwoot.UpdateContact(ctx, contactID, payload); err != nil {
			return nil, fmt.Errorf("failed to update Chatwoot contact %d for %s %s: %w", contactID, partyType, name, err)
		}
		log.Info().Str("partyType", string(partyType)).Str("party", name).Int("chatwootContactID", contactID).Msg("Chatwoot contact updated from party")
		return link, nil
	}
	if email == "" && phone == "" {
		return nil, fmt.Errorf("%w: %s %s has neither email nor phone", ErrInvalidInput, partyType, name)
	}

	contact, err := s.findContact(ctx, email, phone)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		contact, err = s.chatwoot.CreateContact(ctx, payload)
		if err != nil {
			return nil, fmt.Errorf("failed to create Chatwoot contact for %s %s: %w", partyType, name, err)
		}
	}

	contactID := strconv.Itoa(contact.ID)
	if err := s.store.UpdateParty(ctx, link, store.PartyFields{ChatwootContactID: contactID}); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("Chatwoot contact %s already belongs to another party: %w", contactID, err)
		}
		return nil, err
	}
	link.ChatwootContactID = contactID
	log.Info().Str("partyType", string(partyType)).Str("party", name).Str("chatwootContactID", contactID).Msg("Party linked to Chatwoot contact")
	return link, nil
}

func (s *OutboundService) findContact(ctx context.Context, email, phone string) (*chatwoot.Contact, error) {
	query := email
	if query == "" {
		query = phone
	}
	found, err := s.chatwoot.SearchContacts(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to search Chatwoot contacts: %w", err)
	}
	for i := range found {
		c := &found[i]
		if email != "" && strings.EqualFold(c.Email, email) {
			return c, nil
		}
		if email == "" && phone != "" && c.PhoneNumber == phone {
			return c, nil
		}
	}
	return nil, nil
}

func messageRecord(conversationID string, m chatwoot.Message) *models.ConversationMessage {
	msg := &models.ConversationMessage{
		ConversationID: conversationID,
		MessageID:      strconv.Itoa(m.ID),
		Content:        m.Content,
		MessageType:    string(m.MessageType),
		Direction:      directionOf(string(m.MessageType)),
	}
	if m.CreatedAt > 0 {
		msg.CreatedAt = time.Unix(m.CreatedAt, 0).UTC()
	}
	if m.Sender != nil {
		msg.SenderID = strconv.Itoa(m.Sender.ID)
		msg.SenderName = m.Sender.Name
		msg.SenderType = m.Sender.Type
	}
	return msg
}
