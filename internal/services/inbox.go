package services

import (
	"context"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
)

// InboxDirectory caches Chatwoot inbox names by inbox ID.
type InboxDirectory struct {
	lookup InboxLookup
	cache  *cache.Cache
}

// NewInboxDirectory creates an InboxDirectory. A nil lookup makes every miss resolve to "".
func NewInboxDirectory(lookup InboxLookup, ttl time.Duration) *InboxDirectory {
	return &InboxDirectory{
		lookup: lookup,
		cache:  cache.New(ttl, 2*ttl),
	}
}

// Name returns the inbox name. Lookup failures are logged and yield "".
func (d *InboxDirectory) Name(ctx context.Context, inboxID string) string {
	if inboxID == "" {
		return ""
	}
	if name, found := d.cache.Get(inboxID); found {
		return name.(string)
	}
	if d.lookup == nil {
		return ""
	}
	id, err := strconv.Atoi(inboxID)
	if err != nil {
		return ""
	}
	inbox, err := d.lookup.GetInbox(ctx, id)
	if err != nil {
		log.Warn().Err(err).Str("inboxID", inboxID).Msg("Could not resolve Chatwoot inbox name")
		return ""
	}
	d.cache.Set(inboxID, inbox.Name, cache.DefaultExpiration)
	return inbox.Name
}

