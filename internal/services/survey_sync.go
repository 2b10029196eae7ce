package services

import (
	"context"
	"fmt"
	"time"

	"chatwoot-formbricks-sync/internal/adapters/formbricks"
	"chatwoot-formbricks-sync/internal/events"
	"chatwoot-formbricks-sync/internal/models"
	"chatwoot-formbricks-sync/internal/store"

	"gorm.io/datatypes"
)

// SurveySyncService keeps the survey catalogue.
type SurveySyncService struct {
	store *store.Store
}

// NewSurveySyncService creates a new SurveySyncService.
func NewSurveySyncService(st *store.Store) *SurveySyncService {
	return &SurveySyncService{store: st}
}

// Upsert stores a polled survey definition.
func (s *SurveySyncService) Upsert(ctx context.Context, survey formbricks.Survey) (*Outcome, error) {
	if survey.ID == "" {
		return nil, fmt.Errorf("%w: survey without id", events.ErrMalformedPayload)
	}
	updated, ok := events.ParseTimestamp(survey.UpdatedAt)
	if !ok {
		updated = time.Now().UTC()
	}
	rec := &models.Survey{
		SurveyID:   survey.ID,
		Name:       survey.Name,
		Status:     survey.Status,
		SurveyType: survey.Type,
		Questions:  datatypes.JSON(survey.Questions),
		UpdatedAt:  updated,
	}
	if len(rec.Questions) == 0 {
		rec.Questions = datatypes.JSON("[]")
	}
	if err := s.store.UpsertSurvey(ctx, rec); err != nil {
		return nil, err
	}
	return &Outcome{
		Vendor:     events.VendorFormbricks,
		ExternalID: survey.ID,
		Kind:       KindSurvey,
		Action:     ActionUpdated,
	}, nil
}
