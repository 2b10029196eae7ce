package jobs

import (
	"context"
	"fmt"
	"time"

	"chatwoot-formbricks-sync/internal/adapters/chatwoot"
	"chatwoot-formbricks-sync/internal/adapters/formbricks"
	"chatwoot-formbricks-sync/internal/events"
	"chatwoot-formbricks-sync/internal/models"
	"chatwoot-formbricks-sync/internal/services"

	"github.com/rs/zerolog/log"
)

// Job names.
const (
	JobChatwootContacts = "chatwoot_contacts"
	JobFormbricksSync   = "formbricks_sync"
	JobRetention        = "conversation_retention"
)

// Reconciler is the engine entry point shared with the webhook handlers.
type Reconciler interface {
	Apply(ctx context.Context, ev *events.Event) (*services.Outcome, error)
}

// SyncStateStore persists the last run of each poller.
type SyncStateStore interface {
	SaveSyncState(ctx context.Context, st *models.SyncState) error
}

// ChatwootContacts lists Chatwoot contacts page by page.
type ChatwootContacts interface {
	ListContacts(ctx context.Context, page int) (*chatwoot.ContactList, error)
}

// FormbricksSource is the part of the Formbricks client the survey poller reads from.
type FormbricksSource interface {
	ListSurveys(ctx context.Context, limit, offset int) ([]formbricks.Survey, error)
	ListResponses(ctx context.Context, surveyID string, limit, offset int) ([]formbricks.Response, error)
	ListContacts(ctx context.Context, limit, offset int) ([]formbricks.Contact, error)
}

// SurveyUpserter stores polled survey definitions.
type SurveyUpserter interface {
	Upsert(ctx context.Context, survey formbricks.Survey) (*services.Outcome, error)
}

// ContactPoller pulls every Chatwoot contact through reconciliation.
type ContactPoller struct {
	client ChatwootContacts
	engine Reconciler
	state  SyncStateStore
}

// NewContactPoller creates the Chatwoot contact poller.
func NewContactPoller(client ChatwootContacts, engine Reconciler, state SyncStateStore) *ContactPoller {
	return &ContactPoller{client: client, engine: engine, state: state}
}

// Name implements Job.
func (p *ContactPoller) Name() string { return JobChatwootContacts }

// Run walks the contact pages until the last one: meta.total_pages when Chatwoot sends it, else
// meta.count contacts, else the first empty page. A page that cannot be fetched aborts the run;
// contacts already reconciled stay reconciled.
func (p *ContactPoller) Run(ctx context.Context) (Result, error) {
	var res Result
	var runErr error
	seen, prevFirst := 0, 0
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if page > maxPages {
			runErr = fmt.Errorf("stopped after %d contact pages", maxPages)
			break
		}
		list, err := p.client.ListContacts(ctx, page)
		if err != nil {
			runErr = fmt.Errorf("failed to fetch contact page %d: %w", page, err)
			break
		}
		if len(list.Payload) == 0 {
			break
		}
		first := list.Payload[0].ID
		if page > 1 && first == prevFirst {
			log.Warn().Int("page", page).Msg("Chatwoot returned the previous contact page again, stopping")
			break
		}
		prevFirst = first
		for _, c := range list.Payload {
			apply(ctx, p.engine, events.FromChatwootContact(c), &res)
		}
		seen += len(list.Payload)

		if total := list.Meta.TotalPages; total > 0 {
			if page >= total {
				break
			}
		} else if list.Meta.Count > 0 && seen >= list.Meta.Count {
			break
		}
	}
	saveState(ctx, p.state, JobChatwootContacts, res, runErr)
	return res, runErr
}

// SurveyPoller pulls Formbricks surveys, their responses and Formbricks contacts.
type SurveyPoller struct {
	client   FormbricksSource
	surveys  SurveyUpserter
	engine   Reconciler
	state    SyncStateStore
	pageSize int
}

// NewSurveyPoller creates the Formbricks poller.
func NewSurveyPoller(client FormbricksSource, surveys SurveyUpserter, engine Reconciler, state SyncStateStore) *SurveyPoller {
	return &SurveyPoller{
		client:   client,
		surveys:  surveys,
		engine:   engine,
		state:    state,
		pageSize: formbricks.DefaultPageSize,
	}
}

// Name implements Job.
func (p *SurveyPoller) Name() string { return JobFormbricksSync }

// Run syncs surveys first, then the responses of each survey, then contacts.
func (p *SurveyPoller) Run(ctx context.Context) (Result, error) {
	var res Result
	err := p.run(ctx, &res)
	saveState(ctx, p.state, JobFormbricksSync, res, err)
	return res, err
}

func (p *SurveyPoller) run(ctx context.Context, res *Result) error {
	var surveys []formbricks.Survey
	err := pages(ctx, p.pageSize,
		func(limit, offset int) ([]formbricks.Survey, error) { return p.client.ListSurveys(ctx, limit, offset) },
		func(s formbricks.Survey) string { return s.ID },
		func(s formbricks.Survey) { surveys = append(surveys, s) },
	)
	if err != nil {
		return fmt.Errorf("failed to fetch surveys: %w", err)
	}

	for _, s := range surveys {
		if _, err := p.surveys.Upsert(ctx, s); err != nil {
			log.Error().Err(err).Str("surveyID", s.ID).Msg("Failed to store survey")
			res.Failed++
			continue
		}
		res.Processed++

		err := pages(ctx, p.pageSize,
			func(limit, offset int) ([]formbricks.Response, error) {
				return p.client.ListResponses(ctx, s.ID, limit, offset)
			},
			func(r formbricks.Response) string { return r.ID },
			func(r formbricks.Response) { apply(ctx, p.engine, events.FromFormbricksResponse(r), res) },
		)
		if err != nil {
			return fmt.Errorf("failed to fetch responses of survey %s: %w", s.ID, err)
		}
	}

	err = pages(ctx, p.pageSize,
		func(limit, offset int) ([]formbricks.Contact, error) { return p.client.ListContacts(ctx, limit, offset) },
		func(c formbricks.Contact) string { return c.ID },
		func(c formbricks.Contact) { apply(ctx, p.engine, events.FromFormbricksContact(c), res) },
	)
	if err != nil {
		return fmt.Errorf("failed to fetch contacts: %w", err)
	}
	return nil
}

// maxPages bounds a single paged listing.
const maxPages = 1000

// pages calls fetch with increasing offsets and hands every item to each until a short page comes
// back. A page starting with the same item as the previous one means the endpoint ignored the offset;
// paging stops there without handling the repeated page.
func pages[T any](ctx context.Context, limit int, fetch func(limit, offset int) ([]T, error), id func(T) string, each func(T)) error {
	prevFirst := ""
	for page := 0; ; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if page >= maxPages {
			return fmt.Errorf("stopped after %d pages", maxPages)
		}
		batch, err := fetch(limit, page*limit)
		if err != nil {
			return err
		}
		if len(batch) > 0 {
			first := id(batch[0])
			if page > 0 && first == prevFirst {
				log.Warn().Int("offset", page*limit).Str("firstID", first).Msg("Paged listing repeated the previous page, stopping")
				return nil
			}
			prevFirst = first
		}
		for _, item := range batch {
			each(item)
		}
		if len(batch) < limit {
			return nil
		}
	}
}

// apply reconciles one polled item. Item failures are logged and counted, never fatal to the run.
func apply(ctx context.Context, engine Reconciler, ev *events.Event, res *Result) {
	if _, err := engine.Apply(ctx, ev); err != nil {
		log.Error().Err(err).
			Str("vendor", string(ev.Vendor)).
			Str("event", string(ev.Type)).
			Str("externalID", ev.ExternalID).
			Msg("Failed to reconcile polled item")
		res.Failed++
		return
	}
	res.Processed++
}

func saveState(ctx context.Context, state SyncStateStore, key string, res Result, runErr error) {
	if state == nil {
		return
	}
	st := &models.SyncState{Key: key, LastSync: time.Now().UTC(), LastCount: res.Processed}
	if runErr != nil {
		st.LastError = runErr.Error()
	}
	// the run's ctx may already be cancelled
	if err := state.SaveSyncState(context.WithoutCancel(ctx), st); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to record sync state")
	}
}
