package jobs

import (
	"context"
	"fmt"
	"time"

	"chatwoot-formbricks-sync/internal/metrics"
	"chatwoot-formbricks-sync/internal/models"

	"github.com/rs/zerolog/log"
)

// RetentionStore is the part of the record store retention cleanup needs.
type RetentionStore interface {
	ListResolvedBefore(ctx context.Context, cutoff time.Time) ([]models.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.ConversationMessage, error)
	DeleteResolvedConversation(ctx context.Context, conversationID string, cutoff time.Time) (bool, error)
}

// Archiver keeps a copy of a conversation before it is deleted.
type Archiver interface {
	ArchiveConversation(ctx context.Context, conv models.Conversation, msgs []models.ConversationMessage) (string, error)
}

// RetentionJob deletes resolved conversation records older than the retention period.
// Messages, parties and issues are never deleted.
type RetentionJob struct {
	store    RetentionStore
	archiver Archiver
	days     int
	now      func() time.Time
}

// NewRetentionJob creates the cleanup job. days <= 0 keeps conversations forever; archiver may be nil.
func NewRetentionJob(store RetentionStore, archiver Archiver, days int) *RetentionJob {
	return &RetentionJob{store: store, archiver: archiver, days: days, now: time.Now}
}

// Name implements Job.
func (j *RetentionJob) Name() string { return JobRetention }

// Run deletes every resolved conversation last updated before now minus the retention period.
// A conversation that cannot be archived is kept for the next run.
func (j *RetentionJob) Run(ctx context.Context) (Result, error) {
	var res Result
	if j.days <= 0 {
		log.Debug().Msg("Conversation retention disabled, keeping all conversations")
		return res, nil
	}

	cutoff := j.now().UTC().AddDate(0, 0, -j.days)
	candidates, err := j.store.ListResolvedBefore(ctx, cutoff)
	if err != nil {
		return res, err
	}

	for _, conv := range candidates {
		if j.archiver != nil {
			msgs, err := j.store.ListMessages(ctx, conv.ConversationID)
			if err != nil {
				log.Error().Err(err).Str("conversationID", conv.ConversationID).Msg("Failed to load messages for archive, keeping conversation")
				res.Failed++
				continue
			}
			if _, err := j.archiver.ArchiveConversation(ctx, conv, msgs); err != nil {
				log.Error().Err(err).Str("conversationID", conv.ConversationID).Msg("Failed to archive conversation, keeping it")
				res.Failed++
				continue
			}
		}

		deleted, err := j.store.DeleteResolvedConversation(ctx, conv.ConversationID, cutoff)
		if err != nil {
			return res, fmt.Errorf("retention cleanup stopped: %w", err)
		}
		if deleted {
			res.Processed++
			metrics.RetentionDeleted.Inc()
		}
	}

	log.Info().
		Int("days", j.days).
		Time("cutoff", cutoff).
		Int("deleted", res.Processed).
		Int("kept", res.Failed).
		Msg("Conversation retention cleanup finished")
	return res, nil
}
