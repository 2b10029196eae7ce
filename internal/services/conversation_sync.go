package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatwoot-formbricks-sync/internal/events"
	"chatwoot-formbricks-sync/internal/models"
	"chatwoot-formbricks-sync/internal/store"

	"github.com/rs/zerolog/log"
)

// Issue statuses.
const (
	IssueStatusOpen = "Open"
)

// ConversationOptions controls issue creation for conversations.
type ConversationOptions struct {
	SyncAsIssues bool
	IssueType    string
}

// ConversationSyncService mirrors Chatwoot conversations into the record store.
type ConversationSyncService struct {
	store    *store.Store
	contacts *ContactSyncService
	inboxes  *InboxDirectory
	chatwoot ChatwootAPI
	opts     ConversationOptions
}

// NewConversationSyncService creates a new ConversationSyncService. cw may be nil, in which case
// issues carry no conversation link.
func NewConversationSyncService(st *store.Store, contacts *ContactSyncService, inboxes *InboxDirectory, cw ChatwootAPI, opts ConversationOptions) (*ConversationSyncService, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if contacts == nil {
		return nil, fmt.Errorf("contact sync service cannot be nil")
	}
	if inboxes == nil {
		inboxes = NewInboxDirectory(nil, time.Hour)
	}
	return &ConversationSyncService{
		store:    st,
		contacts: contacts,
		inboxes:  inboxes,
		chatwoot: cw,
		opts:     opts,
	}, nil
}

// Reconcile upserts the conversation record of a conversation event and links it to the
// contact's party, creating the party when auto-create is on and the contact has an email or phone.
func (s *ConversationSyncService) Reconcile(ctx context.Context, ev *events.Event) (*Outcome, error) {
	conv := ev.Conversation
	if conv == nil || conv.ExternalID == "" {
		return nil, fmt.Errorf("%w: conversation event without conversation", events.ErrMalformedPayload)
	}
	out := &Outcome{Kind: KindConversation, ExternalID: conv.ExternalID, Action: ActionUpdated}

	existing, err := s.store.GetConversation(ctx, conv.ExternalID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load conversation %s: %w", conv.ExternalID, err)
	}
	rec := &models.Conversation{ConversationID: conv.ExternalID}
	if existing != nil {
		*rec = *existing
		// the upsert conflicts on conversation_id, never on the surrogate key
		rec.ID = 0
	} else {
		out.Action = ActionCreated
		rec.Status = models.StatusOpen
		rec.CreatedAt = conv.CreatedAt
	}

	if conv.Status != "" {
		rec.Status = conv.Status
	}
	if conv.InboxID != "" {
		rec.InboxID = conv.InboxID
	}
	if name := conv.InboxName; name != "" {
		rec.InboxName = name
	} else if rec.InboxName == "" {
		rec.InboxName = s.inboxes.Name(ctx, rec.InboxID)
	}
	if c := ev.Contact; c != nil {
		if c.Name != "" {
			rec.ContactName = c.Name
		}
		if c.Email != "" {
			rec.ContactEmail = c.Email
		}
		if c.ExternalID != "" {
			rec.ChatwootContactID = c.ExternalID
		}
	}
	rec.UpdatedAt = ev.Timestamp
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}

	if ev.Contact != nil {
		var createAs models.PartyType
		if ev.Contact.Email != "" || ev.Contact.Phone != "" {
			createAs = s.contacts.AutoCreateType()
		}
		extra := store.PartyFields{ChatwootConversationID: conv.ExternalID}
		link, action, err := s.contacts.Reconcile(ctx, events.VendorChatwoot, ev.Contact, extra, createAs)
		if err != nil {
			return nil, err
		}
		if link != nil {
			setParty(&rec.Customer, &rec.Lead, link)
			out.Party = link
			out.PartyNew = action == ActionCreated
		}
	}

	if err := s.store.UpsertConversation(ctx, rec); err != nil {
		return nil, err
	}

	if s.opts.SyncAsIssues {
		name, err := s.ensureIssue(ctx, rec)
		if err != nil {
			return nil, err
		}
		out.Issue = name
	}

	log.Info().
		Str("conversationID", rec.ConversationID).
		Str("status", rec.Status).
		Str("action", string(out.Action)).
		Msg("Conversation record synced")
	return out, nil
}

// UpdateStatus applies a status change. A conversation without a record is synced in full.
func (s *ConversationSyncService) UpdateStatus(ctx context.Context, ev *events.Event) (*Outcome, error) {
	conv := ev.Conversation
	if conv == nil || conv.ExternalID == "" || conv.Status == "" {
		return nil, fmt.Errorf("%w: status change without conversation or status", events.ErrMalformedPayload)
	}
	at := ev.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	updated, err := s.store.SetConversationStatus(ctx, conv.ExternalID, conv.Status, at)
	if err != nil {
		return nil, err
	}
	if !updated {
		return s.Reconcile(ctx, ev)
	}
	log.Info().Str("conversationID", conv.ExternalID).Str("status", conv.Status).Msg("Conversation status updated")
	return &Outcome{Kind: KindConversation, ExternalID: conv.ExternalID, Action: ActionUpdated}, nil
}

// Ensure creates a minimal record for a conversation seen only through one of its messages.
func (s *ConversationSyncService) Ensure(ctx context.Context, ev *events.Event) error {
	if ev.Conversation == nil {
		return nil
	}
	_, err := s.store.GetConversation(ctx, ev.Conversation.ExternalID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to load conversation %s: %w", ev.Conversation.ExternalID, err)
	}
	_, err = s.Reconcile(ctx, ev)
	return err
}

// ensureIssue opens one issue per conversation.
func (s *ConversationSyncService) ensureIssue(ctx context.Context, rec *models.Conversation) (string, error) {
	issue, err := s.store.FindIssueByConversation(ctx, rec.ConversationID)
	if err == nil {
		return issue.Name, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("failed to look up issue of conversation %s: %w", rec.ConversationID, err)
	}

	issue = &models.Issue{
		Subject:                IssueSubject(rec.InboxName, rec.ContactName, rec.ContactEmail),
		RaisedBy:               rec.ContactEmail,
		IssueType:              s.opts.IssueType,
		Description:            s.issueDescription(rec),
		Status:                 IssueStatusOpen,
		Customer:               rec.Customer,
		Lead:                   rec.Lead,
		ChatwootConversationID: models.NullString(rec.ConversationID),
	}
	err = s.store.CreateIssue(ctx, issue)
	if errors.Is(err, store.ErrDuplicate) {
		existing, findErr := s.store.FindIssueByConversation(ctx, rec.ConversationID)
		if findErr != nil {
			return "", fmt.Errorf("failed to re-read issue of conversation %s: %w", rec.ConversationID, findErr)
		}
		return existing.Name, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to create issue for conversation %s: %w", rec.ConversationID, err)
	}
	log.Info().Str("conversationID", rec.ConversationID).Str("issue", issue.Name).Msg("Issue created for conversation")
	return issue.Name, nil
}

func (s *ConversationSyncService) issueDescription(rec *models.Conversation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Chatwoot conversation %s", rec.ConversationID)
	if s.chatwoot != nil {
		fmt.Fprintf(&b, "\n%s", s.chatwoot.ConversationURL(rec.ConversationID))
	}
	if rec.ContactName != "" || rec.ContactEmail != "" {
		fmt.Fprintf(&b, "\nContact: %s %s", rec.ContactName, rec.ContactEmail)
	}
	return strings.TrimSpace(b.String())
}

// IssueSubject formats "[inbox] Conversation with name (email)".
func IssueSubject(inbox, name, email string) string {
	if inbox == "" {
		inbox = "Chatwoot"
	}
	if name == "" {
		name = "Unknown"
	}
	subject := fmt.Sprintf("[%s] Conversation with %s", inbox, name)
	if email != "" {
		subject += fmt.Sprintf(" (%s)", email)
	}
	return subject
}

// setParty points exactly one of customer and lead at the party.
func setParty(customer, lead **string, link *models.ContactLink) {
	name := link.PartyName
	switch link.PartyType {
	case models.PartyCustomer:
		*customer, *lead = &name, nil
	case models.PartyLead:
		*customer, *lead = nil, &name
	}
}
