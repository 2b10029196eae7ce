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

// MessageSyncService appends Chatwoot messages to the record store.
type MessageSyncService struct {
	store         *store.Store
	conversations *ConversationSyncService
}

// NewMessageSyncService creates a new MessageSyncService.
func NewMessageSyncService(st *store.Store, conversations *ConversationSyncService) (*MessageSyncService, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if conversations == nil {
		return nil, fmt.Errorf("conversation sync service cannot be nil")
	}
	return &MessageSyncService{store: st, conversations: conversations}, nil
}

// Append stores a message_created event once per message ID. A conversation without a record gets a
// minimal open one first. A new message moves the conversation's updated_at forward and, when the
// conversation has an issue, is mirrored as a comment.
func (s *MessageSyncService) Append(ctx context.Context, ev *events.Event) (*Outcome, error) {
	msg := ev.Message
	if msg == nil || msg.ExternalID == "" || msg.ConversationID == "" {
		return nil, fmt.Errorf("%w: message event without message", events.ErrMalformedPayload)
	}
	out := &Outcome{Kind: KindMessage, ExternalID: msg.ExternalID}

	if strings.TrimSpace(msg.Content) == "" {
		log.Debug().Str("messageID", msg.ExternalID).Msg("Message has no text content, skipping")
		out.Action = ActionIgnored
		out.Reason = "empty content"
		return out, nil
	}

	if err := s.conversations.Ensure(ctx, ev); err != nil {
		return nil, err
	}

	added, err := s.store.AppendMessage(ctx, &models.ConversationMessage{
		ConversationID: msg.ConversationID,
		MessageID:      msg.ExternalID,
		Content:        msg.Content,
		MessageType:    msg.MessageType,
		Direction:      directionOf(msg.MessageType),
		SenderType:     msg.SenderType,
		SenderID:       msg.SenderID,
		SenderName:     msg.SenderName,
		CreatedAt:      msg.CreatedAt,
	})
	if err != nil {
		return nil, err
	}
	if !added {
		out.Action = ActionDuplicate
		return out, nil
	}
	out.Action = ActionAppended
	at := msg.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	if err := s.store.TouchConversation(ctx, msg.ConversationID, at); err != nil {
		return nil, err
	}

	if msg.Private {
		return out, nil
	}
	issue, err := s.store.FindIssueByConversation(ctx, msg.ConversationID)
	if errors.Is(err, store.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up issue of conversation %s: %w", msg.ConversationID, err)
	}
	author := msg.SenderName
	if author == "" {
		author = msg.SenderType
	}
	err = s.store.AddIssueComment(ctx, &models.IssueComment{
		IssueName:         issue.Name,
		Content:           msg.Content,
		Author:            author,
		Source:            models.CommentSourceChatwoot,
		ChatwootMessageID: msg.ExternalID,
		CreatedAt:         msg.CreatedAt,
	})
	if err != nil {
		return nil, err
	}
	out.Issue = issue.Name

	log.Debug().
		Str("conversationID", msg.ConversationID).
		Str("messageID", msg.ExternalID).
		Str("issue", issue.Name).
		Msg("Message mirrored as issue comment")
	return out, nil
}
