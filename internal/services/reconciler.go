package services

import (
	"context"
	"fmt"

	"chatwoot-formbricks-sync/internal/events"
	"chatwoot-formbricks-sync/internal/metrics"
	"chatwoot-formbricks-sync/internal/store"

	"github.com/rs/zerolog/log"
)

// Reconciler is the single entry point for webhook deliveries and polled items.
type Reconciler struct {
	contacts      *ContactSyncService
	conversations *ConversationSyncService
	messages      *MessageSyncService
	responses     *ResponseSyncService
	publisher     Publisher
}

// NewReconciler wires the sync services. publisher may be nil.
func NewReconciler(contacts *ContactSyncService, conversations *ConversationSyncService, messages *MessageSyncService, responses *ResponseSyncService, publisher Publisher) (*Reconciler, error) {
	if contacts == nil || conversations == nil || messages == nil || responses == nil {
		return nil, fmt.Errorf("reconciler needs every sync service")
	}
	return &Reconciler{
		contacts:      contacts,
		conversations: conversations,
		messages:      messages,
		responses:     responses,
		publisher:     publisher,
	}, nil
}

// Apply reconciles one event. Replaying an event leaves the store unchanged.
func (r *Reconciler) Apply(ctx context.Context, ev *events.Event) (*Outcome, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: nil event", events.ErrMalformedPayload)
	}
	if !events.IsSupported(ev.Vendor, ev.Type) {
		return nil, fmt.Errorf("%w: %s/%s", events.ErrUnknownEvent, ev.Vendor, ev.Type)
	}

	var (
		out *Outcome
		err error
	)
	switch ev.Type {
	case events.ContactCreated, events.ContactUpdated, events.ContactSynced:
		out, err = r.applyContact(ctx, ev)
	case events.ConversationCreated, events.ConversationUpdated:
		out, err = r.conversations.Reconcile(ctx, ev)
	case events.ConversationStatusChanged:
		out, err = r.conversations.UpdateStatus(ctx, ev)
	case events.MessageCreated:
		out, err = r.messages.Append(ctx, ev)
	case events.ResponseCreated, events.ResponseUpdated, events.ResponseFinished:
		out, err = r.responses.Reconcile(ctx, ev)
	default:
		return nil, fmt.Errorf("%w: %s/%s", events.ErrUnknownEvent, ev.Vendor, ev.Type)
	}
	if err != nil {
		log.Error().Err(err).
			Str("vendor", string(ev.Vendor)).
			Str("event", string(ev.Type)).
			Str("externalID", ev.ExternalID).
			Msg("Reconciliation failed")
		return nil, err
	}

	out.Vendor = ev.Vendor
	out.Event = ev.Type
	if out.ExternalID == "" {
		out.ExternalID = ev.ExternalID
	}
	metrics.ReconcileOutcomes.WithLabelValues(out.Kind, string(out.Action)).Inc()
	r.publish(ctx, out)
	return out, nil
}

// Chatwoot contacts follow the auto-create setting; Formbricks contacts only link to existing parties.
func (r *Reconciler) applyContact(ctx context.Context, ev *events.Event) (*Outcome, error) {
	createAs := r.contacts.AutoCreateType()
	if ev.Vendor == events.VendorFormbricks {
		createAs = ""
	}
	link, action, err := r.contacts.Reconcile(ctx, ev.Vendor, ev.Contact, store.PartyFields{}, createAs)
	if err != nil {
		return nil, err
	}
	return &Outcome{Kind: KindParty, Action: action, Party: link, PartyNew: action == ActionCreated}, nil
}

func (r *Reconciler) publish(ctx context.Context, out *Outcome) {
	if r.publisher == nil || out.Action == ActionIgnored || out.Action == ActionDuplicate {
		return
	}
	eventType := out.Kind + "_" + string(out.Action)
	if err := r.publisher.Publish(ctx, eventType, out); err != nil {
		metrics.PublishFailures.Inc()
		log.Warn().Err(err).Str("eventType", eventType).Msg("Failed to publish reconciliation outcome")
	}
}
