package services

import (
	"context"
	"fmt"

	"chatwoot-formbricks-sync/internal/metrics"
	"chatwoot-formbricks-sync/internal/models"
	"chatwoot-formbricks-sync/internal/store"

	"github.com/rs/zerolog/log"
)

// LeadConversionService turns leads into customers.
type LeadConversionService struct {
	store     *store.Store
	defaults  store.CustomerDefaults
	publisher Publisher
}

// NewLeadConversionService creates a new LeadConversionService. publisher may be nil.
func NewLeadConversionService(st *store.Store, defaults store.CustomerDefaults, publisher Publisher) *LeadConversionService {
	return &LeadConversionService{store: st, defaults: defaults, publisher: publisher}
}

// Convert creates a Customer carrying the lead's contact data and every external ID, and moves the
// lead's conversations, responses and issues to it. On failure nothing is changed and the error
// wraps ErrConversionFailed together with the cause.
func (s *LeadConversionService) Convert(ctx context.Context, leadName string) (*models.Customer, error) {
	customer, err := s.store.ConvertLead(ctx, leadName, s.defaults)
	if err != nil {
		log.Error().Err(err).Str("lead", leadName).Msg("Lead conversion failed")
		return nil, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}

	out := &Outcome{
		ExternalID: leadName,
		Kind:       KindParty,
		Action:     ActionConverted,
		Party:      models.LinkOfCustomer(customer),
		PartyNew:   true,
	}
	metrics.ReconcileOutcomes.WithLabelValues(out.Kind, string(out.Action)).Inc()
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, "lead_converted", out); err != nil {
			metrics.PublishFailures.Inc()
			log.Warn().Err(err).Str("lead", leadName).Msg("Failed to publish lead conversion")
		}
	}
	return customer, nil
}
