package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"chatwoot-formbricks-sync/internal/events"
	"chatwoot-formbricks-sync/internal/models"
	"chatwoot-formbricks-sync/internal/store"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
)

// ResponseOptions controls lead creation from finished survey responses.
type ResponseOptions struct {
	AutoCreateLead bool
	// LeadSurveyIDs limits lead creation to these surveys. Empty allows every survey.
	LeadSurveyIDs []string
	LeadSource    string
}

// ResponseSyncService mirrors Formbricks responses into the record store.
type ResponseSyncService struct {
	store    *store.Store
	contacts *ContactSyncService
	opts     ResponseOptions
}

// NewResponseSyncService creates a new ResponseSyncService.
func NewResponseSyncService(st *store.Store, contacts *ContactSyncService, opts ResponseOptions) (*ResponseSyncService, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if contacts == nil {
		return nil, fmt.Errorf("contact sync service cannot be nil")
	}
	if opts.LeadSource == "" {
		opts.LeadSource = "Survey"
	}
	return &ResponseSyncService{store: st, contacts: contacts, opts: opts}, nil
}

func (s *ResponseSyncService) leadSurvey(surveyID string) bool {
	return len(s.opts.LeadSurveyIDs) == 0 || slices.Contains(s.opts.LeadSurveyIDs, surveyID)
}

// Reconcile upserts the response record, merging the incoming answers over the stored ones, and links
// it to the respondent's party. A finished response with an email creates and scores a Lead when
// enabled for its survey.
func (s *ResponseSyncService) Reconcile(ctx context.Context, ev *events.Event) (*Outcome, error) {
	r := ev.Response
	if r == nil || r.ExternalID == "" {
		return nil, fmt.Errorf("%w: response event without response", events.ErrMalformedPayload)
	}
	out := &Outcome{Kind: KindResponse, ExternalID: r.ExternalID, Action: ActionUpdated}

	existing, err := s.store.GetResponse(ctx, r.ExternalID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load response %s: %w", r.ExternalID, err)
	}
	rec := &models.SurveyResponse{ResponseID: r.ExternalID}
	answers := map[string]any{}
	if existing != nil {
		*rec = *existing
		rec.ID = 0
		if len(existing.Data) > 0 {
			if err := json.Unmarshal(existing.Data, &answers); err != nil {
				log.Warn().Err(err).Str("responseID", r.ExternalID).Msg("Stored answers are not a JSON object, replacing them")
				answers = map[string]any{}
			}
		}
	} else {
		out.Action = ActionCreated
		rec.CreatedAt = r.CreatedAt
	}
	for k, v := range ev.Answers {
		answers[k] = v
	}
	data, err := json.Marshal(answers)
	if err != nil {
		return nil, fmt.Errorf("failed to encode answers of response %s: %w", r.ExternalID, err)
	}
	rec.Data = datatypes.JSON(data)

	if r.SurveyID != "" {
		rec.SurveyID = r.SurveyID
	}
	if r.Finished && !rec.Finished {
		rec.Finished = true
		at := time.Now().UTC()
		if r.FinishedAt != nil {
			at = r.FinishedAt.UTC()
		}
		rec.FinishedAt = &at
	}
	if c := ev.Contact; c != nil {
		if c.Email != "" {
			rec.ContactEmail = c.Email
		}
		if c.Name != "" {
			rec.ContactName = c.Name
		}
		if c.Phone != "" {
			rec.ContactPhone = c.Phone
		}
		if c.ExternalID != "" {
			rec.FormbricksContactID = c.ExternalID
		}
	}
	rec.UpdatedAt = time.Now().UTC()

	if ev.Contact != nil {
		var createAs models.PartyType
		var extra store.PartyFields
		if rec.Finished && s.opts.AutoCreateLead && s.leadSurvey(rec.SurveyID) && ev.Contact.Email != "" {
			createAs = models.PartyLead
			score := ScoreLead(answers)
			extra = store.PartyFields{
				Source:               s.opts.LeadSource,
				FormbricksResponseID: r.ExternalID,
				LeadScore:            &score,
			}
		}
		link, action, err := s.contacts.Reconcile(ctx, events.VendorFormbricks, ev.Contact, extra, createAs)
		if err != nil {
			return nil, err
		}
		if link != nil {
			setParty(&rec.Customer, &rec.Lead, link)
			out.Party = link
			out.PartyNew = action == ActionCreated
		}
	}

	if err := s.store.UpsertResponse(ctx, rec); err != nil {
		return nil, err
	}

	log.Info().
		Str("responseID", rec.ResponseID).
		Str("surveyID", rec.SurveyID).
		Bool("finished", rec.Finished).
		Str("action", string(out.Action)).
		Msg("Survey response synced")
	return out, nil
}
